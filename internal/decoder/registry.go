package decoder

import (
	"bytes"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/tphakala/audiostream/internal/errors"
)

// Registry selects a backend for encoded data.
type Registry struct {
	mu       sync.RWMutex
	backends []Backend
}

// NewRegistry returns a registry that tries backends in the given order.
func NewRegistry(backends ...Backend) *Registry {
	return &Registry{backends: slices.Clone(backends)}
}

// DefaultRegistry returns a registry with the built-in WAV and FLAC backends
// after any custom backends.
func DefaultRegistry(custom ...Backend) *Registry {
	return NewRegistry(append(slices.Clone(custom), WAVBackend{}, FLACBackend{})...)
}

// Register appends a backend.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = append(r.backends, b)
}

// Backends returns the registered backends in probing order.
func (r *Registry) Backends() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.backends)
}

// Open decodes rs. Backends claiming the name's extension are tried first,
// then every remaining backend that can probe content.
func (r *Registry) Open(name string, rs io.ReadSeeker, cfg Config) (Decoder, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	backends := r.Backends()

	var (
		tried   = make([]bool, len(backends))
		lastErr error
	)

	attempt := func(i int) (Decoder, bool) {
		tried[i] = true
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			lastErr = err
			return nil, false
		}
		dec, err := backends[i].Open(rs, cfg)
		if err != nil {
			lastErr = err
			return nil, false
		}
		return dec, true
	}

	if ext != "" {
		for i, b := range backends {
			if slices.Contains(b.Extensions(), ext) {
				if dec, ok := attempt(i); ok {
					return dec, nil
				}
				// A format mismatch is not something probing can fix
				if errors.Is(lastErr, ErrUnsupportedFormat) {
					return nil, lastErr
				}
			}
		}
	}

	for i, b := range backends {
		if tried[i] {
			continue
		}
		if m, ok := b.(ExtensionMatcher); ok && m.ExtensionOnly() {
			continue
		}
		if dec, ok := attempt(i); ok {
			return dec, nil
		}
	}

	builder := errors.New(ErrNoBackend).
		Component(ComponentDecoder).
		Category(errors.CategoryDecode).
		AssetContext(name, 0)
	if lastErr != nil {
		builder = builder.Context("last_error", lastErr.Error())
	}
	return nil, builder.Build()
}

// OpenBytes decodes an in-memory encoded blob.
func (r *Registry) OpenBytes(name string, data []byte, cfg Config) (Decoder, error) {
	return r.Open(name, bytes.NewReader(data), cfg)
}

// OpenFile opens path on fs and decodes it. The returned decoder owns the file.
func (r *Registry) OpenFile(fs afero.Fs, path string, cfg Config) (Decoder, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentDecoder).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}

	dec, err := r.Open(path, f, cfg)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &closerDecoder{Decoder: dec, closer: f}, nil
}

// ReadFile loads a whole encoded file from fs.
func ReadFile(fs afero.Fs, path string) ([]byte, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentDecoder).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	return data, nil
}
