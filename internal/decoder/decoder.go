// Package decoder adapts third-party codec libraries to a frame-oriented
// PCM decoding interface used by the resource manager.
//
// Backends open encoded data and produce interleaved frames in their native
// sample format. Requested output sample formats are converted here; channel
// and sample rate conversion needs a DSP stage this package does not provide
// and is rejected with ErrUnsupportedFormat.
package decoder

import (
	"io"

	"github.com/tphakala/audiostream/internal/errors"
)

// ComponentDecoder identifies decoder errors
const ComponentDecoder = "decoder"

var (
	// ErrNotImplemented is returned by Length when the stream length is unknown
	ErrNotImplemented = errors.New(errors.NewStd("not implemented")).
				Component(ComponentDecoder).
				Category(errors.CategoryNotImplemented).
				Build()

	// ErrUnsupportedFormat is returned when a requested output format needs
	// channel or sample rate conversion, or the input encoding is unsupported
	ErrUnsupportedFormat = errors.New(errors.NewStd("unsupported audio format")).
				Component(ComponentDecoder).
				Category(errors.CategoryUnsupportedFormat).
				Build()

	// ErrNoBackend is returned when no registered backend accepts the data
	ErrNoBackend = errors.New(errors.NewStd("no decoding backend accepted the data")).
			Component(ComponentDecoder).
			Category(errors.CategoryDecode).
			Build()
)

// Decoder produces interleaved PCM frames.
type Decoder interface {
	// ReadFrames decodes up to frameCount frames into dst, which must hold
	// frameCount frames or be nil to discard them. It returns 0, io.EOF once
	// the end of the stream has been reached.
	ReadFrames(dst []byte, frameCount uint64) (uint64, error)
	// Seek moves the cursor to an absolute frame. Seeking past the end
	// positions the decoder at the end.
	Seek(frame uint64) error
	// DataFormat returns the output format.
	DataFormat() DataFormat
	// Length returns the total number of frames, or ErrNotImplemented.
	Length() (uint64, error)
	// Cursor returns the index of the next frame to be decoded.
	Cursor() uint64
	Close() error
}

// Config requests an output format. Zero fields keep the native value.
type Config struct {
	Format     Format
	Channels   uint32
	SampleRate uint32
}

// Backend opens one encoding.
type Backend interface {
	Name() string
	// Extensions lists lower-case file extensions without the dot
	Extensions() []string
	Open(r io.ReadSeeker, cfg Config) (Decoder, error)
}

// ExtensionMatcher is implemented by backends that cannot detect their
// encoding from the data and must only be chosen by extension.
type ExtensionMatcher interface {
	ExtensionOnly() bool
}

// source is what backends implement; pcmDecoder adds conversion and bookkeeping.
type source interface {
	// readNative reads up to frames native frames into dst
	readNative(dst []byte, frames uint64) (uint64, error)
	seekNative(frame uint64) error
	native() DataFormat
	// length returns the frame count and whether it is known
	length() (uint64, bool)
	close() error
}

// scratchFrames bounds the conversion buffer
const scratchFrames = 4096

type pcmDecoder struct {
	src     source
	in      DataFormat
	out     DataFormat
	cursor  uint64
	scratch []byte
	atEnd   bool
}

func newPCMDecoder(src source, cfg Config) (Decoder, error) {
	in := src.native()
	if in.Format == FormatUnknown || in.Channels == 0 || in.SampleRate == 0 {
		return nil, errors.New(ErrUnsupportedFormat).
			Component(ComponentDecoder).
			Category(errors.CategoryUnsupportedFormat).
			Context("native_format", in.String()).
			Build()
	}

	out := in
	if cfg.Format != FormatUnknown {
		out.Format = cfg.Format
	}
	if (cfg.Channels != 0 && cfg.Channels != in.Channels) || (cfg.SampleRate != 0 && cfg.SampleRate != in.SampleRate) {
		return nil, errors.New(ErrUnsupportedFormat).
			Component(ComponentDecoder).
			Category(errors.CategoryUnsupportedFormat).
			Context("native_format", in.String()).
			Context("requested_channels", cfg.Channels).
			Context("requested_sample_rate", cfg.SampleRate).
			Build()
	}

	return &pcmDecoder{src: src, in: in, out: out}, nil
}

func (d *pcmDecoder) ReadFrames(dst []byte, frameCount uint64) (uint64, error) {
	if frameCount == 0 {
		return 0, nil
	}
	if d.atEnd {
		return 0, io.EOF
	}

	var total uint64
	outBPF := uint64(d.out.BytesPerFrame())
	direct := dst != nil && d.in.Format == d.out.Format

	for total < frameCount {
		want := frameCount - total
		var buf []byte
		if direct {
			buf = dst[total*outBPF:]
		} else {
			want = min(want, scratchFrames)
			buf = d.scratchFor(want)
		}

		n, err := d.src.readNative(buf, want)
		if n > 0 && !direct && dst != nil {
			ConvertSamples(dst[total*outBPF:], d.out.Format, buf, d.in.Format, int(n)*int(d.in.Channels))
		}
		total += n
		d.cursor += n

		if err == io.EOF {
			d.atEnd = true
			break
		}
		if err != nil {
			return total, errors.New(err).
				Component(ComponentDecoder).
				Category(errors.CategoryDecode).
				Context("frame", d.cursor).
				Build()
		}
		if n == 0 {
			break
		}
	}

	if total == 0 && d.atEnd {
		return 0, io.EOF
	}
	return total, nil
}

func (d *pcmDecoder) scratchFor(frames uint64) []byte {
	size := int(frames) * d.in.BytesPerFrame()
	if cap(d.scratch) < size {
		d.scratch = make([]byte, size)
	}
	return d.scratch[:size]
}

func (d *pcmDecoder) Seek(frame uint64) error {
	if n, ok := d.src.length(); ok && frame > n {
		frame = n
	}
	if err := d.src.seekNative(frame); err != nil {
		return errors.New(err).
			Component(ComponentDecoder).
			Category(errors.CategoryDecode).
			Context("operation", "seek").
			Context("frame", frame).
			Build()
	}
	d.cursor = frame
	d.atEnd = false
	return nil
}

func (d *pcmDecoder) DataFormat() DataFormat { return d.out }

func (d *pcmDecoder) Length() (uint64, error) {
	if n, ok := d.src.length(); ok {
		return n, nil
	}
	return 0, ErrNotImplemented
}

func (d *pcmDecoder) Cursor() uint64 { return d.cursor }

func (d *pcmDecoder) Close() error { return d.src.close() }

// closerDecoder closes an owned reader after the decoder
type closerDecoder struct {
	Decoder
	closer io.Closer
}

func (c *closerDecoder) Close() error {
	return errors.Join(c.Decoder.Close(), c.closer.Close())
}
