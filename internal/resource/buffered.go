package resource

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tphakala/audiostream/internal/decoder"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/fence"
	"github.com/tphakala/audiostream/internal/jobqueue"
	"github.com/tphakala/audiostream/internal/logger"
)

// BufferedSource reads a shared asset node. Many buffered sources can read
// one node, each with its own cursor.
type BufferedSource struct {
	m     *Manager
	id    string
	node  *assetNode
	flags Flags
	log   logger.Logger

	state   result    // busy until conn is set
	conn    connector // written once before state leaves busy
	ready   *fence.Notification
	notes   *fence.PipelineNotifications
	looping atomic.Bool
	closed  atomic.Bool

	// A seek issued while loading, applied on the first read after
	seekPending bool
	seekTarget  uint64
}

// NewBufferedSource opens path through its shared node, loading the node
// if this is its first user.
func (m *Manager) NewBufferedSource(ctx context.Context, path string, flags Flags, notes *fence.PipelineNotifications) (*BufferedSource, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	s := &BufferedSource{
		m:     m,
		id:    uuid.NewString(),
		flags: flags &^ FlagStream,
		ready: fence.NewNotification(),
		notes: notes,
	}
	s.log = m.log.With(logger.String("source_id", s.id), logger.String("asset", path))
	s.looping.Store(flags.Has(FlagLooping))
	notes.Begin()

	node, err := m.acquireNode(ctx, path, s.flags&^FlagWaitInit, nil)
	if err != nil {
		s.fail(err)
		return nil, err
	}
	s.node = node

	if !s.flags.Has(FlagAsync) {
		if err := s.runLoad(); err != nil {
			m.releaseNode(node)
			return nil, err
		}
		m.metrics.ActiveSources("buffered", 1)
		return s, nil
	}

	job := jobqueue.Job{Order: node.order.Reserve(), Payload: loadBufferJob{src: s}}
	if err := m.postJob(job); err != nil {
		job.Abandon()
		s.fail(err)
		m.releaseNode(node)
		return nil, err
	}
	m.metrics.ActiveSources("buffered", 1)

	if s.flags.Has(FlagWaitInit) {
		if err := m.wait(ctx, s.ready); err != nil {
			_ = s.Close()
			return nil, err
		}
		if err := s.state.get(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// fail ends a source load that never produced a connector.
func (s *BufferedSource) fail(err error) {
	s.state.set(err)
	s.ready.Signal()
	s.notes.InitStage().Finish()
	s.notes.DoneStage().Finish()
}

// runLoad attaches the source to its node. The node's order guarantees its
// load job has run, so the node is initialized.
func (s *BufferedSource) runLoad() error {
	n := s.node
	if err := n.result.get(); err != nil && !errors.Is(err, ErrBusy) {
		s.fail(err)
		return err
	}

	var conn connector
	bpf := uint64(n.format.BytesPerFrame())
	switch n.supply {
	case supplyEncoded:
		dec, err := s.m.registry.OpenBytes(n.name, n.encoded, s.m.cfg.decoderConfig())
		if err != nil {
			s.fail(err)
			return err
		}
		conn = &encodedConnector{dec: dec}
	case supplyDecoded:
		conn = &decodedConnector{node: n, bpf: bpf}
	default:
		conn = &pagedConnector{node: n, bpf: bpf}
	}

	s.conn = conn
	s.state.set(nil)
	s.ready.Signal()
	s.notes.InitStage().Finish()
	n.whenDone(s.notes.DoneStage())

	s.log.Debug("buffered source ready",
		logger.String("supply", n.supply.String()),
		logger.String("format", conn.format().String()))
	return nil
}

func (s *BufferedSource) runFree() error {
	var err error
	if s.conn != nil {
		err = s.conn.close()
	}
	s.state.setUnavailable()
	s.m.releaseNode(s.node)
	s.log.Debug("buffered source freed")
	return err
}

// applySeek moves the connector to a seek recorded while loading.
func (s *BufferedSource) applySeek() error {
	if !s.seekPending {
		return nil
	}
	if err := s.conn.seek(s.seekTarget); err != nil {
		return err
	}
	s.seekPending = false
	return nil
}

// usable returns the error that prevents reading, nil once the connector is set.
func (s *BufferedSource) usable() error {
	if s.closed.Load() {
		return ErrInvalidOperation
	}
	if err := s.state.get(); err != nil {
		return err
	}
	return s.applySeek()
}

func (s *BufferedSource) ReadFrames(dst []byte, frameCount uint64) (uint64, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	if frameCount == 0 {
		return 0, nil
	}

	bpf := uint64(s.conn.format().BytesPerFrame())
	var (
		total   uint64
		lastErr error
		// set after wrapping, cleared by any progress
		wrapped bool
	)
loop:
	for total < frameCount {
		var out []byte
		if dst != nil {
			out = dst[total*bpf:]
		}
		n, err := s.conn.read(out, frameCount-total)
		total += n
		if n > 0 {
			wrapped = false
		}

		switch {
		case err == nil:
			if n == 0 {
				lastErr = ErrBusy
				break loop
			}
		case errors.Is(err, io.EOF):
			lastErr = io.EOF
			if !s.looping.Load() || wrapped {
				break loop
			}
			if err := s.conn.seek(0); err != nil {
				return total, err
			}
			wrapped = true
		case errors.Is(err, ErrBusy):
			lastErr = ErrBusy
			break loop
		default:
			return total, err
		}
	}

	if total > 0 {
		return total, nil
	}
	return 0, lastErr
}

// Seek moves the cursor. While the source is still loading the position is
// recorded and applied on the first read.
func (s *BufferedSource) Seek(frame uint64) error {
	if s.closed.Load() {
		return ErrInvalidOperation
	}
	if s.state.busy() {
		s.seekPending = true
		s.seekTarget = frame
		return nil
	}
	if err := s.state.get(); err != nil {
		return err
	}
	s.seekPending = false
	return s.conn.seek(frame)
}

func (s *BufferedSource) Cursor() (uint64, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	return s.conn.cursor(), nil
}

func (s *BufferedSource) Length() (uint64, error) {
	if err := s.state.get(); err != nil {
		return 0, err
	}
	return s.conn.length()
}

func (s *BufferedSource) DataFormat() (decoder.DataFormat, error) {
	if err := s.state.get(); err != nil {
		return decoder.DataFormat{}, err
	}
	return s.conn.format(), nil
}

func (s *BufferedSource) AvailableFrames() (uint64, error) {
	if err := s.usable(); err != nil {
		if errors.Is(err, ErrBusy) {
			return 0, nil
		}
		return 0, err
	}
	return s.conn.available(), nil
}

// Result is ErrBusy until the source is attached and its node fully loaded.
func (s *BufferedSource) Result() error {
	if err := s.state.get(); err != nil {
		return err
	}
	return s.node.result.get()
}

func (s *BufferedSource) SetLooping(looping bool) { s.looping.Store(looping) }
func (s *BufferedSource) IsLooping() bool         { return s.looping.Load() }

// ID identifies the source in logs.
func (s *BufferedSource) ID() string { return s.id }

// Close detaches the source and drops its node reference. An async source
// is torn down by a job ordered after its load.
func (s *BufferedSource) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.m.metrics.ActiveSources("buffered", -1)

	if !s.flags.Has(FlagAsync) || s.m.stopped.Load() {
		return s.runFree()
	}

	job := jobqueue.Job{Order: s.node.order.Reserve(), Payload: freeBufferJob{src: s}}
	if err := s.m.postRequired(job); err != nil {
		job.Abandon()
		s.log.Error("failed to post buffer teardown", logger.Error(err))
		return err
	}
	return nil
}
