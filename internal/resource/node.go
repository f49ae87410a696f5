package resource

import (
	"sync"
	"sync/atomic"

	"github.com/tphakala/audiostream/internal/decoder"
	"github.com/tphakala/audiostream/internal/fence"
	"github.com/tphakala/audiostream/internal/jobqueue"
)

type resultCode int32

const (
	resultBusy resultCode = iota
	resultSuccess
	resultFailed
	resultUnavailable
)

// result is the lock-free status shared between workers and readers.
type result struct {
	code atomic.Int32
	err  atomic.Pointer[error]
}

func (r *result) get() error {
	switch resultCode(r.code.Load()) {
	case resultBusy:
		return ErrBusy
	case resultSuccess:
		return nil
	case resultUnavailable:
		return ErrUnavailable
	}
	if p := r.err.Load(); p != nil {
		return *p
	}
	return ErrInvalidOperation
}

func (r *result) busy() bool        { return resultCode(r.code.Load()) == resultBusy }
func (r *result) unavailable() bool { return resultCode(r.code.Load()) == resultUnavailable }

// set stores the terminal outcome of a load, nil meaning success.
func (r *result) set(err error) {
	if err == nil {
		r.code.Store(int32(resultSuccess))
		return
	}
	r.err.Store(&err)
	r.code.Store(int32(resultFailed))
}

func (r *result) setUnavailable() { r.code.Store(int32(resultUnavailable)) }

type supplyKind int

const (
	supplyEncoded supplyKind = iota
	supplyDecoded
	supplyPaged
)

func (s supplyKind) String() string {
	switch s {
	case supplyEncoded:
		return "encoded"
	case supplyDecoded:
		return "decoded"
	default:
		return "paged"
	}
}

// page is one link of a paged node. next is published after data is written.
type page struct {
	frames uint64
	data   []byte
	next   atomic.Pointer[page]
}

// assetNode is the shared, reference counted data of one registered asset.
//
// Fields above the data section are immutable or guarded by the manager's
// tree lock. The data section is written by the load and page jobs; readers
// only touch it once initialized is true, and decoded frames only below
// decodedFrames.
type assetNode struct {
	hash     uint32
	name     string
	owned    bool
	refCount uint32 // guarded by Manager.treeMu

	order  jobqueue.ExecOrder
	result result

	// data section
	supply        supplyKind
	format        decoder.DataFormat
	encoded       []byte
	data          []byte
	totalFrames   atomic.Uint64
	decodedFrames atomic.Uint64
	head          atomic.Pointer[page]
	tail          *page           // worker only
	dec           decoder.Decoder // worker only, nil once decoding ended
	initialized   atomic.Bool

	mu         sync.Mutex
	loaded     bool
	initStages []*fence.PipelineStage
	doneStages []*fence.PipelineStage
	ready      *fence.Notification
	done       *fence.Notification
}

func newAssetNode(hash uint32, name string, supply supplyKind, owned bool) *assetNode {
	return &assetNode{
		hash:   hash,
		name:   name,
		supply: supply,
		owned:  owned,
		ready:  fence.NewNotification(),
		done:   fence.NewNotification(),
	}
}

// whenInit finishes stage once the node is readable.
func (n *assetNode) whenInit(stage *fence.PipelineStage) {
	if stage == nil {
		return
	}
	n.mu.Lock()
	if !n.initialized.Load() {
		n.initStages = append(n.initStages, stage)
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()
	stage.Finish()
}

// whenDone finishes stage once the node is fully loaded or failed.
func (n *assetNode) whenDone(stage *fence.PipelineStage) {
	if stage == nil {
		return
	}
	n.mu.Lock()
	if !n.loaded {
		n.doneStages = append(n.doneStages, stage)
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()
	stage.Finish()
}

// markInitialized publishes the data section to readers.
func (n *assetNode) markInitialized() {
	n.mu.Lock()
	if n.initialized.Load() {
		n.mu.Unlock()
		return
	}
	n.initialized.Store(true)
	stages := n.initStages
	n.initStages = nil
	n.mu.Unlock()

	for _, s := range stages {
		s.Finish()
	}
	n.ready.Signal()
}

// complete stores the final load result and fires every pending stage.
func (n *assetNode) complete(err error) {
	if !n.result.unavailable() {
		n.result.set(err)
	}
	n.markInitialized()

	n.mu.Lock()
	if n.loaded {
		n.mu.Unlock()
		return
	}
	n.loaded = true
	stages := n.doneStages
	n.doneStages = nil
	n.mu.Unlock()

	for _, s := range stages {
		s.Finish()
	}
	n.done.Signal()
}

// closeDecoder releases the node's decoder, if decoding was still running.
func (n *assetNode) closeDecoder() error {
	if n.dec == nil {
		return nil
	}
	err := n.dec.Close()
	n.dec = nil
	return err
}

// releaseData drops the node's sample data after teardown.
func (n *assetNode) releaseData() {
	n.encoded = nil
	n.data = nil
	n.head.Store(nil)
	n.tail = nil
}

// appendPage links a decoded page at the end of a paged node.
func (n *assetNode) appendPage(p *page) {
	if n.tail == nil {
		n.head.Store(p)
	} else {
		n.tail.next.Store(p)
	}
	n.tail = p
	n.decodedFrames.Add(p.frames)
}

// length returns the node's frame count as far as it is known.
func (n *assetNode) length() (uint64, error) {
	switch n.supply {
	case supplyDecoded:
		return n.totalFrames.Load(), nil
	case supplyPaged:
		if n.result.busy() {
			return 0, ErrBusy
		}
		return n.decodedFrames.Load(), nil
	}
	return 0, ErrNotImplemented
}
