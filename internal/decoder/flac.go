package decoder

import (
	"io"

	"github.com/tphakala/flac"

	"github.com/tphakala/audiostream/internal/errors"
)

// FLACBackend decodes FLAC streams with tphakala/flac.
type FLACBackend struct{}

func (FLACBackend) Name() string         { return "flac" }
func (FLACBackend) Extensions() []string { return []string{"flac"} }

func (FLACBackend) Open(r io.ReadSeeker, cfg Config) (Decoder, error) {
	src := &flacSource{r: r}
	if err := src.reopen(); err != nil {
		return nil, err
	}
	return newPCMDecoder(src, cfg)
}

type flacSource struct {
	r        io.ReadSeeker
	dec      *flac.Decoder
	format   DataFormat
	total    uint64
	pos      uint64
	leftover []byte
	discard  []byte
}

func (s *flacSource) reopen() error {
	if _, err := s.r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dec, err := flac.NewDecoder(s.r)
	if err != nil {
		return errors.New(err).
			Component(ComponentDecoder).
			Category(errors.CategoryDecode).
			Context("operation", "flac_open").
			Build()
	}

	var format Format
	switch dec.BitsPerSample {
	case 8:
		format = FormatU8
	case 16:
		format = FormatS16
	case 24:
		format = FormatS24
	case 32:
		format = FormatS32
	default:
		return errors.New(ErrUnsupportedFormat).
			Component(ComponentDecoder).
			Category(errors.CategoryUnsupportedFormat).
			Context("bit_depth", dec.BitsPerSample).
			Build()
	}

	s.dec = dec
	s.format = DataFormat{
		Format:     format,
		Channels:   uint32(dec.NChannels),
		SampleRate: uint32(dec.SampleRate),
	}
	s.total = uint64(dec.TotalSamples)
	s.pos = 0
	s.leftover = nil
	return nil
}

func (s *flacSource) readNative(dst []byte, frames uint64) (uint64, error) {
	bpf := uint64(s.format.BytesPerFrame())
	want := frames * bpf
	var written uint64

	for written < want {
		if len(s.leftover) == 0 {
			frame, err := s.dec.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return written / bpf, err
			}
			if s.format.Format == FormatU8 {
				// FLAC carries signed 8-bit samples
				for i := range frame {
					frame[i] ^= 0x80
				}
			}
			s.leftover = frame
		}
		n := copy(dst[written:want], s.leftover)
		s.leftover = s.leftover[n:]
		written += uint64(n)
	}

	got := written / bpf
	s.pos += got
	if got == 0 {
		return 0, io.EOF
	}
	return got, nil
}

// seekNative re-opens the stream when moving backwards and decodes forward
// to the target, since the decoder has no seek table support.
func (s *flacSource) seekNative(frame uint64) error {
	if frame < s.pos {
		if err := s.reopen(); err != nil {
			return err
		}
	}

	const chunk = 4096
	bpf := s.format.BytesPerFrame()
	if len(s.discard) < chunk*bpf {
		s.discard = make([]byte, chunk*bpf)
	}
	for s.pos < frame {
		n, err := s.readNative(s.discard, min(frame-s.pos, chunk))
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

func (s *flacSource) native() DataFormat { return s.format }

func (s *flacSource) length() (uint64, bool) { return s.total, s.total > 0 }

func (s *flacSource) close() error { return nil }
