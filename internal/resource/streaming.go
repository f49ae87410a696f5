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

const streamPageCount = 2

// streamPage is filled by a worker while invalid and read by the consumer
// while valid. valid is the hand-off in both directions.
type streamPage struct {
	data   []byte
	frames atomic.Uint64
	eof    atomic.Bool // no data follows this page
	valid  atomic.Bool
}

// StreamingSource decodes an asset into two alternating pages, so memory use
// is independent of the asset's length. Nothing is shared with other sources.
type StreamingSource struct {
	m     *Manager
	id    string
	path  string
	flags Flags
	log   logger.Logger
	notes *fence.PipelineNotifications

	order  jobqueue.ExecOrder
	result result
	ready  *fence.Notification

	// Set by the load job before result leaves busy
	format      decoder.DataFormat
	pageFrames  uint64
	length      uint64
	lengthKnown bool
	pages       [streamPageCount]streamPage

	// Worker only
	dec          decoder.Decoder
	decoderAtEnd bool

	cursor      atomic.Uint64 // absolute frame of the next read
	seekCounter atomic.Int32
	looping     atomic.Bool
	closed      atomic.Bool

	// Consumer only
	current  int
	relative uint64 // frames consumed from the current page
	repost   [streamPageCount]bool
}

// NewStreamingSource opens path for streaming. The decoder is opened on a
// worker unless FlagAsync is clear, in which case the first pages are decoded
// before returning.
func (m *Manager) NewStreamingSource(ctx context.Context, path string, flags Flags, notes *fence.PipelineNotifications) (*StreamingSource, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	s := &StreamingSource{
		m:     m,
		id:    uuid.NewString(),
		path:  path,
		flags: flags | FlagStream,
		notes: notes,
		ready: fence.NewNotification(),
	}
	s.log = m.log.With(logger.String("source_id", s.id), logger.String("asset", path))
	s.looping.Store(flags.Has(FlagLooping))
	notes.Begin()

	job := jobqueue.Job{Order: s.order.Reserve(), Payload: loadStreamJob{src: s}}
	if !flags.Has(FlagAsync) {
		err := s.runLoad()
		job.Complete()
		if err != nil {
			return nil, err
		}
		m.metrics.ActiveSources("stream", 1)
		return s, nil
	}

	if err := m.postJob(job); err != nil {
		job.Abandon()
		s.fail(err)
		return nil, err
	}
	m.metrics.ActiveSources("stream", 1)

	if flags.Has(FlagWaitInit) {
		if err := m.wait(ctx, s.ready); err != nil {
			_ = s.Close()
			return nil, err
		}
		if err := s.result.get(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *StreamingSource) fail(err error) {
	s.result.set(err)
	s.ready.Signal()
	s.notes.InitStage().Finish()
	s.notes.DoneStage().Finish()
}

func (s *StreamingSource) runLoad() error {
	if s.closed.Load() {
		s.fail(ErrUnavailable)
		return nil
	}

	dec, err := s.m.registry.OpenFile(s.m.cfg.FS, s.path, s.m.cfg.decoderConfig())
	if err != nil {
		s.fail(err)
		return err
	}
	s.dec = dec
	s.format = dec.DataFormat()
	if n, err := dec.Length(); err == nil {
		s.length, s.lengthKnown = n, true
	}

	s.pageFrames = s.m.cfg.pageFrames(s.format.SampleRate)
	bpf := uint64(s.format.BytesPerFrame())
	for i := range s.pages {
		s.pages[i].data = make([]byte, s.pageFrames*bpf)
	}

	for i := range s.pages {
		if err := s.fillPage(i); err != nil {
			_ = s.closeDecoder()
			s.fail(err)
			return err
		}
	}

	s.result.set(nil)
	s.ready.Signal()
	s.notes.InitStage().Finish()
	s.notes.DoneStage().Finish()

	s.log.Debug("stream ready",
		logger.String("format", s.format.String()),
		logger.Uint64("page_frames", s.pageFrames),
		logger.Bool("length_known", s.lengthKnown))
	return nil
}

// fillPage decodes into an invalid page and publishes it.
func (s *StreamingSource) fillPage(i int) error {
	p := &s.pages[i]
	bpf := uint64(s.format.BytesPerFrame())

	var (
		frames uint64
		eof    bool
		err    error
		// guards against looping an empty stream forever
		rewound bool
	)
	for frames < s.pageFrames && !s.decoderAtEnd {
		var n uint64
		n, err = s.dec.ReadFrames(p.data[frames*bpf:], s.pageFrames-frames)
		frames += n
		if n > 0 {
			rewound = false
		}

		if errors.Is(err, io.EOF) {
			err = nil
			if s.looping.Load() && !rewound {
				if err = s.dec.Seek(0); err != nil {
					break
				}
				rewound = true
				continue
			}
			s.decoderAtEnd = true
			break
		}
		if err != nil {
			break
		}
		if n == 0 {
			s.decoderAtEnd = true
		}
	}
	if s.decoderAtEnd {
		eof = true
	}

	if frames > 0 {
		s.m.metrics.PageDecoded("stream", frames)
	}
	p.frames.Store(frames)
	p.eof.Store(eof || err != nil)
	p.valid.Store(true)
	return err
}

func (s *StreamingSource) runPage(i int) error {
	if s.closed.Load() || s.dec == nil {
		return nil
	}
	if err := s.fillPage(i); err != nil {
		s.log.Warn("stream page decode failed", logger.Int("page", i), logger.Error(err))
		s.result.set(err)
		return err
	}
	return nil
}

func (s *StreamingSource) runSeek(frame uint64) error {
	defer s.seekCounter.Add(-1)
	if s.closed.Load() || s.dec == nil {
		return nil
	}
	if s.lengthKnown && frame > s.length {
		// Queued before the load knew the length
		frame = s.length
		s.cursor.Store(frame)
	}

	for i := range s.pages {
		s.pages[i].valid.Store(false)
	}
	if err := s.dec.Seek(frame); err != nil {
		s.result.set(err)
		return err
	}
	s.decoderAtEnd = false

	for i := range s.pages {
		if err := s.fillPage(i); err != nil {
			s.result.set(err)
			return err
		}
	}
	return nil
}

func (s *StreamingSource) runFree() error {
	s.result.setUnavailable()
	err := s.closeDecoder()
	for i := range s.pages {
		s.pages[i].valid.Store(false)
		s.pages[i].data = nil
	}
	s.log.Debug("stream freed")
	return err
}

func (s *StreamingSource) closeDecoder() error {
	if s.dec == nil {
		return nil
	}
	err := s.dec.Close()
	s.dec = nil
	return err
}

// requestPage asks a worker to refill page i. A full queue is retried on
// the next read instead of blocking the reader.
func (s *StreamingSource) requestPage(i int) {
	job := jobqueue.Job{Order: s.order.Reserve(), Payload: pageStreamJob{src: s, page: i}}
	if err := s.m.postJob(job); err != nil {
		job.Abandon()
		s.repost[i] = true
		return
	}
	s.repost[i] = false
}

func (s *StreamingSource) retryRequests() {
	for i, pending := range s.repost {
		if pending {
			s.requestPage(i)
		}
	}
}

func (s *StreamingSource) usable() error {
	if s.closed.Load() {
		return ErrInvalidOperation
	}
	if err := s.result.get(); err != nil {
		return err
	}
	if s.seekCounter.Load() > 0 {
		return ErrBusy
	}
	return nil
}

func (s *StreamingSource) ReadFrames(dst []byte, frameCount uint64) (uint64, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	if frameCount == 0 {
		return 0, nil
	}
	s.retryRequests()

	bpf := uint64(s.format.BytesPerFrame())
	var (
		total uint64
		atEnd bool
	)
	for total < frameCount {
		p := &s.pages[s.current]
		if !p.valid.Load() {
			break
		}

		frames := p.frames.Load()
		if s.relative < frames {
			n := min(frameCount-total, frames-s.relative)
			if dst != nil {
				copy(dst[total*bpf:(total+n)*bpf], p.data[s.relative*bpf:(s.relative+n)*bpf])
			}
			s.relative += n
			total += n
			s.advanceCursor(n)
			continue
		}

		if p.eof.Load() {
			atEnd = true
			break
		}

		// Page drained: hand it back and move to the other one
		p.valid.Store(false)
		s.relative = 0
		s.requestPage(s.current)
		s.current = (s.current + 1) % streamPageCount
	}

	if total > 0 {
		return total, nil
	}
	if atEnd {
		if s.looping.Load() && s.cursor.Load() > 0 {
			// Looping was enabled after the decoder reached the end
			if err := s.Seek(0); err != nil {
				return 0, err
			}
			return 0, ErrBusy
		}
		return 0, io.EOF
	}
	if err := s.result.get(); err != nil {
		return 0, err
	}
	return 0, ErrBusy
}

func (s *StreamingSource) advanceCursor(n uint64) {
	c := s.cursor.Load() + n
	if s.lengthKnown && s.length > 0 && s.looping.Load() {
		c %= s.length
	}
	s.cursor.Store(c)
}

// Seek repositions the stream. Reads return ErrBusy until a worker has
// refilled both pages from the new position. A seek issued while the stream
// is still loading runs right after the load.
func (s *StreamingSource) Seek(frame uint64) error {
	if s.closed.Load() {
		return ErrInvalidOperation
	}
	loading := s.result.busy()
	if !loading {
		if err := s.result.get(); err != nil {
			return err
		}
		if s.lengthKnown && frame > s.length {
			frame = s.length
		}
		if s.seekCounter.Load() == 0 && frame == s.cursor.Load() {
			return nil
		}
	}

	s.seekCounter.Add(1)
	if !loading {
		// The load job still owns the pages until it publishes the result
		for i := range s.pages {
			s.pages[i].valid.Store(false)
		}
	}
	s.repost = [streamPageCount]bool{}
	s.current = 0
	s.relative = 0
	s.cursor.Store(frame)

	job := jobqueue.Job{Order: s.order.Reserve(), Payload: seekStreamJob{src: s, frame: frame}}
	if err := s.m.postRequired(job); err != nil {
		job.Abandon()
		s.seekCounter.Add(-1)
		s.result.set(err)
		return err
	}
	return nil
}

func (s *StreamingSource) Cursor() (uint64, error) {
	if err := s.result.get(); err != nil {
		return 0, err
	}
	return s.cursor.Load(), nil
}

func (s *StreamingSource) Length() (uint64, error) {
	if err := s.result.get(); err != nil {
		return 0, err
	}
	if !s.lengthKnown {
		return 0, ErrNotImplemented
	}
	return s.length, nil
}

func (s *StreamingSource) DataFormat() (decoder.DataFormat, error) {
	if err := s.result.get(); err != nil {
		return decoder.DataFormat{}, err
	}
	return s.format, nil
}

// AvailableFrames counts frames in valid pages from the read position on.
func (s *StreamingSource) AvailableFrames() (uint64, error) {
	if err := s.usable(); err != nil {
		if errors.Is(err, ErrBusy) {
			return 0, nil
		}
		return 0, err
	}

	var avail uint64
	for k := range streamPageCount {
		p := &s.pages[(s.current+k)%streamPageCount]
		if !p.valid.Load() {
			break
		}
		frames := p.frames.Load()
		if k == 0 {
			frames -= min(frames, s.relative)
		}
		avail += frames
		if p.eof.Load() {
			break
		}
	}
	return avail, nil
}

func (s *StreamingSource) Result() error { return s.result.get() }

func (s *StreamingSource) SetLooping(looping bool) { s.looping.Store(looping) }
func (s *StreamingSource) IsLooping() bool         { return s.looping.Load() }

// ID identifies the source in logs.
func (s *StreamingSource) ID() string { return s.id }

// Close releases the decoder. The teardown job runs after any page or seek
// job the source already posted.
func (s *StreamingSource) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.m.metrics.ActiveSources("stream", -1)

	if s.m.stopped.Load() {
		return s.runFree()
	}
	job := jobqueue.Job{Order: s.order.Reserve(), Payload: freeStreamJob{src: s}}
	if err := s.m.postRequired(job); err != nil {
		job.Abandon()
		s.log.Error("failed to post stream teardown", logger.Error(err))
		return err
	}
	return nil
}
