package decoder

import (
	"io"
)

// RawBackend reads headerless interleaved PCM in a fixed format.
type RawBackend struct {
	Format DataFormat
}

func (RawBackend) Name() string         { return "raw" }
func (RawBackend) Extensions() []string { return []string{"raw", "pcm"} }

// ExtensionOnly keeps raw PCM out of content probing, it would accept anything.
func (RawBackend) ExtensionOnly() bool { return true }

func (b RawBackend) Open(r io.ReadSeeker, cfg Config) (Decoder, error) {
	bpf := int64(b.Format.BytesPerFrame())
	if bpf == 0 {
		return nil, ErrUnsupportedFormat
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	// Reuses the WAV data-chunk reader with the chunk starting at offset 0
	src := &wavSource{r: r, frames: uint64(end / bpf), format: b.Format}
	return newPCMDecoder(src, cfg)
}
