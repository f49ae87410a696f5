package resource

import (
	"context"

	"github.com/tphakala/audiostream/internal/decoder"
	"github.com/tphakala/audiostream/internal/fence"
)

// Source is a readable audio asset, either buffered or streamed.
//
// All methods are non-blocking. Data that is not ready yet yields ErrBusy,
// the end of data yields zero frames and io.EOF. A source is read from one
// goroutine at a time.
type Source interface {
	// ReadFrames reads up to frameCount frames into dst, which may be nil
	// to skip frames.
	ReadFrames(dst []byte, frameCount uint64) (uint64, error)
	Seek(frame uint64) error
	Cursor() (uint64, error)
	// Length returns the total frame count, ErrNotImplemented when it
	// cannot be known.
	Length() (uint64, error)
	SetLooping(looping bool)
	IsLooping() bool
	DataFormat() (decoder.DataFormat, error)
	// Result is nil once the source is ready, ErrBusy while it loads, or
	// the load failure.
	Result() error
	// AvailableFrames is how many frames can be read right now.
	AvailableFrames() (uint64, error)
	Close() error
}

var (
	_ Source = (*BufferedSource)(nil)
	_ Source = (*StreamingSource)(nil)
)

// NewSource opens path as a streaming source when flags has FlagStream and
// as a buffered source otherwise.
func (m *Manager) NewSource(ctx context.Context, path string, flags Flags, notes *fence.PipelineNotifications) (Source, error) {
	if flags.Has(FlagStream) {
		s, err := m.NewStreamingSource(ctx, path, flags, notes)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := m.NewBufferedSource(ctx, path, flags, notes)
	if err != nil {
		return nil, err
	}
	return s, nil
}
