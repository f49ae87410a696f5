package decoder

import (
	"fmt"
	"io"

	"github.com/go-audio/wav"

	"github.com/tphakala/audiostream/internal/errors"
)

const (
	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE
)

// WAVBackend decodes RIFF/WAVE files with integer or 32-bit float PCM.
type WAVBackend struct{}

func (WAVBackend) Name() string         { return "wav" }
func (WAVBackend) Extensions() []string { return []string{"wav", "wave"} }

// Open parses the header with go-audio/wav and positions r at the PCM data.
func (WAVBackend) Open(r io.ReadSeeker, cfg Config) (Decoder, error) {
	dec := wav.NewDecoder(r)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, errors.New(errors.NewStd("invalid WAV file format")).
			Component(ComponentDecoder).
			Category(errors.CategoryDecode).
			Build()
	}

	format, err := wavSampleFormat(dec.WavAudioFormat, dec.BitDepth)
	if err != nil {
		return nil, err
	}

	if err := dec.FwdToPCM(); err != nil {
		return nil, errors.New(fmt.Errorf("locate WAV data chunk: %w", err)).
			Component(ComponentDecoder).
			Category(errors.CategoryDecode).
			Build()
	}

	dataStart, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	dataSize := int64(dec.PCMSize)
	if dataSize <= 0 || dataSize == 0xFFFFFFFF {
		// Streamed WAV with no size in the header, use the rest of the data
		end, err := r.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, err
		}
		dataSize = end - dataStart
		if _, err := r.Seek(dataStart, io.SeekStart); err != nil {
			return nil, err
		}
	}

	src := &wavSource{
		r:         r,
		dataStart: dataStart,
		format: DataFormat{
			Format:     format,
			Channels:   uint32(dec.NumChans),
			SampleRate: dec.SampleRate,
		},
	}
	bpf := int64(src.format.BytesPerFrame())
	if bpf == 0 {
		return nil, ErrUnsupportedFormat
	}
	src.frames = uint64(dataSize / bpf)

	return newPCMDecoder(src, cfg)
}

func wavSampleFormat(audioFormat, bitDepth uint16) (Format, error) {
	switch audioFormat {
	case wavFormatPCM, wavFormatExtensible:
		switch bitDepth {
		case 8:
			return FormatU8, nil
		case 16:
			return FormatS16, nil
		case 24:
			return FormatS24, nil
		case 32:
			return FormatS32, nil
		}
	case wavFormatIEEEFloat:
		if bitDepth == 32 {
			return FormatF32, nil
		}
	}
	return FormatUnknown, errors.New(ErrUnsupportedFormat).
		Component(ComponentDecoder).
		Category(errors.CategoryUnsupportedFormat).
		Context("wav_format", audioFormat).
		Context("bit_depth", bitDepth).
		Build()
}

type wavSource struct {
	r         io.ReadSeeker
	dataStart int64
	frames    uint64
	pos       uint64
	format    DataFormat
}

func (s *wavSource) readNative(dst []byte, frames uint64) (uint64, error) {
	remaining := s.frames - s.pos
	if remaining == 0 {
		return 0, io.EOF
	}
	frames = min(frames, remaining)

	bpf := uint64(s.format.BytesPerFrame())
	n, err := io.ReadFull(s.r, dst[:frames*bpf])
	got := uint64(n) / bpf
	s.pos += got

	switch {
	case err == io.ErrUnexpectedEOF || err == io.EOF:
		// Truncated data chunk
		s.frames = s.pos
		if got == 0 {
			return 0, io.EOF
		}
		return got, nil
	case err != nil:
		return got, err
	}
	return got, nil
}

func (s *wavSource) seekNative(frame uint64) error {
	offset := s.dataStart + int64(frame)*int64(s.format.BytesPerFrame())
	if _, err := s.r.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	s.pos = frame
	return nil
}

func (s *wavSource) native() DataFormat { return s.format }

func (s *wavSource) length() (uint64, bool) { return s.frames, true }

func (s *wavSource) close() error { return nil }
