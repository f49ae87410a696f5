package resource

import (
	"context"

	"github.com/tphakala/audiostream/internal/decoder"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/fence"
	"github.com/tphakala/audiostream/internal/jobqueue"
	"github.com/tphakala/audiostream/internal/logger"
)

// RegisterFile loads path into a shared node ahead of use. Later buffered
// sources for the same path read the registered data. Each call must be
// balanced by Unregister.
func (m *Manager) RegisterFile(ctx context.Context, path string, flags Flags, notes *fence.PipelineNotifications) error {
	if flags.Has(FlagStream) {
		return errors.New(ErrInvalidArgs).
			Component(ComponentResource).
			Category(errors.CategoryValidation).
			Context("flags", flags.String()).
			Build()
	}
	_, err := m.acquireNode(ctx, path, flags, notes)
	return err
}

// RegisterDecodedData registers caller-owned PCM under name. The data is
// not copied and must stay valid until the last reference is released.
func (m *Manager) RegisterDecodedData(name string, data []byte, frames uint64, format decoder.DataFormat) error {
	bpf := uint64(format.BytesPerFrame())
	if bpf == 0 || uint64(len(data)) < frames*bpf {
		return errors.New(ErrInvalidArgs).
			Component(ComponentResource).
			Category(errors.CategoryValidation).
			Context("format", format.String()).
			Context("frames", frames).
			Context("bytes", len(data)).
			Build()
	}
	return m.registerData(name, func(n *assetNode) {
		n.supply = supplyDecoded
		n.format = format
		n.data = data[:frames*bpf]
		n.totalFrames.Store(frames)
		n.decodedFrames.Store(frames)
	})
}

// RegisterEncodedData registers a caller-owned encoded blob under name.
// Buffered sources decode it on read, each with its own decoder.
func (m *Manager) RegisterEncodedData(name string, data []byte) error {
	if len(data) == 0 {
		return ErrInvalidArgs
	}
	return m.registerData(name, func(n *assetNode) {
		n.supply = supplyEncoded
		n.encoded = data
	})
}

func (m *Manager) registerData(name string, fill func(*assetNode)) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	hash := hashName(name)

	m.treeMu.Lock()
	if n, found := m.tree.get(hash); found {
		n.refCount++
		m.treeMu.Unlock()
		m.warnCollision(n, name)
		return nil
	}
	n := newAssetNode(hash, name, supplyEncoded, false)
	fill(n)
	n.complete(nil)
	n.refCount = 1
	m.tree.insert(n)
	count := m.tree.len()
	m.treeMu.Unlock()

	m.metrics.AssetNodes(count)
	m.log.Debug("registered caller data",
		logger.String("asset", name),
		logger.String("supply", n.supply.String()))
	return nil
}

// Unregister drops one reference to name. The last reference frees the node.
func (m *Manager) Unregister(name string) error {
	m.treeMu.Lock()
	n, found := m.tree.get(hashName(name))
	if !found {
		m.treeMu.Unlock()
		return errors.New(ErrNotRegistered).
			Component(ComponentResource).
			Category(errors.CategoryNotFound).
			AssetContext(name, 0).
			Build()
	}
	last, count := m.dropRefLocked(n)
	m.treeMu.Unlock()

	if !last {
		return nil
	}
	return m.freeNode(n, count)
}

// UnregisterFile is Unregister for names registered with RegisterFile.
func (m *Manager) UnregisterFile(path string) error { return m.Unregister(path) }

// UnregisterData is Unregister for names registered from memory.
func (m *Manager) UnregisterData(name string) error { return m.Unregister(name) }

// NodeRefCount reports how many references name's node holds.
func (m *Manager) NodeRefCount(name string) (uint32, bool) {
	m.treeMu.Lock()
	defer m.treeMu.Unlock()
	n, found := m.tree.get(hashName(name))
	if !found {
		return 0, false
	}
	return n.refCount, true
}

func (m *Manager) warnCollision(n *assetNode, name string) {
	if n.name != name {
		m.log.Warn("asset name hash collision, sharing existing node",
			logger.String("asset", name),
			logger.String("existing", n.name),
			logger.Uint32("hash", n.hash))
	}
}

// acquireNode finds or creates the node for name and takes a reference.
// A new node's load order is reserved under the tree lock, so any job that
// another acquirer reserves later runs after the load.
func (m *Manager) acquireNode(ctx context.Context, name string, flags Flags, notes *fence.PipelineNotifications) (*assetNode, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	hash := hashName(name)
	supply := supplyEncoded
	if flags.Has(FlagDecode) {
		supply = supplyDecoded
	}

	m.treeMu.Lock()
	n, found := m.tree.get(hash)
	var order uint32
	if found {
		n.refCount++
	} else {
		n = newAssetNode(hash, name, supply, true)
		n.refCount = 1
		order = n.order.Reserve()
		m.tree.insert(n)
	}
	count := m.tree.len()
	m.treeMu.Unlock()

	notes.Begin()
	n.whenInit(notes.InitStage())
	n.whenDone(notes.DoneStage())

	async := flags.Has(FlagAsync)

	if found {
		m.warnCollision(n, name)
		m.log.Debug("asset node reused",
			logger.String("asset", name),
			logger.String("flags", flags.String()))
		if err := m.awaitNode(ctx, n, flags); err != nil {
			m.releaseNode(n)
			return nil, err
		}
		return n, nil
	}

	m.metrics.AssetNodes(count)
	job := jobqueue.Job{Order: order, Payload: loadNodeJob{node: n, path: name, flags: flags}}

	if !async {
		// A fresh node's first order is always ready
		err := m.runLoadNode(job.Payload.(loadNodeJob))
		job.Complete()
		if err != nil {
			m.releaseNode(n)
			return nil, err
		}
		return n, nil
	}

	if err := m.postJob(job); err != nil {
		job.Abandon()
		n.complete(err)
		m.releaseNode(n)
		return nil, err
	}
	if flags.Has(FlagWaitInit) {
		if err := m.wait(ctx, n.ready); err != nil {
			m.releaseNode(n)
			return nil, err
		}
	}
	return n, nil
}

// awaitNode applies the caller's wait policy to a node someone else is loading.
func (m *Manager) awaitNode(ctx context.Context, n *assetNode, flags Flags) error {
	switch {
	case !flags.Has(FlagAsync):
		if err := m.wait(ctx, n.done); err != nil {
			return err
		}
	case flags.Has(FlagWaitInit):
		if err := m.wait(ctx, n.ready); err != nil {
			return err
		}
	default:
		return nil
	}

	if err := n.result.get(); err != nil && !errors.Is(err, ErrBusy) {
		return err
	}
	return nil
}

// dropRefLocked releases a reference and unlinks the node on the last one.
func (m *Manager) dropRefLocked(n *assetNode) (last bool, count int) {
	if n.refCount == 0 {
		return false, m.tree.len()
	}
	n.refCount--
	if n.refCount == 0 {
		if cur, ok := m.tree.get(n.hash); ok && cur == n {
			m.tree.remove(n)
		}
		last = true
	}
	return last, m.tree.len()
}

// releaseNode drops a reference taken by acquireNode.
func (m *Manager) releaseNode(n *assetNode) {
	m.treeMu.Lock()
	last, count := m.dropRefLocked(n)
	m.treeMu.Unlock()

	if last {
		if err := m.freeNode(n, count); err != nil {
			m.log.Error("failed to free asset node", logger.String("asset", n.name), logger.Error(err))
		}
	}
}

// freeNode tears down a node that is no longer in the tree.
func (m *Manager) freeNode(n *assetNode, count int) error {
	m.metrics.AssetNodes(count)

	if !n.owned {
		n.result.setUnavailable()
		n.releaseData()
		return nil
	}

	if m.stopped.Load() {
		// No workers left and the queue has been drained
		return m.runFreeNode(freeNodeJob{node: n})
	}

	job := jobqueue.Job{Order: n.order.Reserve(), Payload: freeNodeJob{node: n}}
	if err := m.postRequired(job); err != nil {
		job.Abandon()
		return err
	}
	return nil
}
