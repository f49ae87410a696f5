package decoder

import (
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestWAV writes interleaved integer samples as a PCM WAV file
func writeTestWAV(t *testing.T, fs afero.Fs, path string, samples []int, bitDepth, channels, sampleRate int) {
	t.Helper()
	f, err := fs.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: bitDepth,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func rampSamples(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

func TestWAVDecodeNative(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWAV(t, fs, "ramp.wav", rampSamples(1000), 16, 1, 22050)

	dec, err := DefaultRegistry().OpenFile(fs, "ramp.wav", Config{})
	require.NoError(t, err)
	defer func() { require.NoError(t, dec.Close()) }()

	assert.Equal(t, DataFormat{Format: FormatS16, Channels: 1, SampleRate: 22050}, dec.DataFormat())
	length, err := dec.Length()
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), length)

	buf := make([]byte, 600*2)
	n, err := dec.ReadFrames(buf, 600)
	require.NoError(t, err)
	require.Equal(t, uint64(600), n)
	for i := range 600 {
		require.Equal(t, int16(i), int16(binary.LittleEndian.Uint16(buf[i*2:])))
	}

	n, err = dec.ReadFrames(buf, 600)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), n)
	assert.Equal(t, int16(600), int16(binary.LittleEndian.Uint16(buf)))

	n, err = dec.ReadFrames(buf, 600)
	assert.Equal(t, uint64(0), n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWAVSeekAndSkip(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWAV(t, fs, "ramp.wav", rampSamples(2000), 32, 2, 44100)

	dec, err := DefaultRegistry().OpenFile(fs, "ramp.wav", Config{})
	require.NoError(t, err)
	defer dec.Close()

	require.NoError(t, dec.Seek(500))
	assert.Equal(t, uint64(500), dec.Cursor())

	buf := make([]byte, 8)
	n, err := dec.ReadFrames(buf, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
	assert.Equal(t, int32(1000), int32(binary.LittleEndian.Uint32(buf)))
	assert.Equal(t, int32(1001), int32(binary.LittleEndian.Uint32(buf[4:])))

	// nil destination discards frames
	n, err = dec.ReadFrames(nil, 99)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), n)
	assert.Equal(t, uint64(600), dec.Cursor())

	// Past the end clamps
	require.NoError(t, dec.Seek(5000))
	_, err = dec.ReadFrames(buf, 1)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, dec.Seek(0), "seek after end must rewind")
	n, err = dec.ReadFrames(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestFormatConversionOnRead(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWAV(t, fs, "tone.wav", []int{0, 16384, -16384, 32767}, 16, 1, 48000)

	dec, err := DefaultRegistry().OpenFile(fs, "tone.wav", Config{Format: FormatF32})
	require.NoError(t, err)
	defer dec.Close()
	assert.Equal(t, FormatF32, dec.DataFormat().Format)

	buf := make([]byte, 4*4)
	n, err := dec.ReadFrames(buf, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(4), n)

	f := func(i int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
	}
	assert.InDelta(t, 0, f(0), 1e-6)
	assert.InDelta(t, 0.5, f(1), 1e-4)
	assert.InDelta(t, -0.5, f(2), 1e-4)
	assert.InDelta(t, 1, f(3), 1e-4)
}

func TestChannelOverrideRejected(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWAV(t, fs, "mono.wav", rampSamples(10), 16, 1, 44100)

	_, err := DefaultRegistry().OpenFile(fs, "mono.wav", Config{Channels: 2})
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = DefaultRegistry().OpenFile(fs, "mono.wav", Config{SampleRate: 48000})
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	dec, err := DefaultRegistry().OpenFile(fs, "mono.wav", Config{Channels: 1, SampleRate: 44100})
	require.NoError(t, err)
	require.NoError(t, dec.Close())
}

func TestRegistryProbesContent(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestWAV(t, fs, "mislabelled.flac", rampSamples(10), 16, 1, 44100)

	dec, err := DefaultRegistry().OpenFile(fs, "mislabelled.flac", Config{})
	require.NoError(t, err)
	defer dec.Close()
	assert.Equal(t, FormatS16, dec.DataFormat().Format)
}

func TestRegistryRejectsGarbage(t *testing.T) {
	_, err := DefaultRegistry().OpenBytes("noise.wav", []byte("definitely not audio data"), Config{})
	require.Error(t, err)

	_, err = DefaultRegistry().OpenFile(afero.NewMemMapFs(), "missing.wav", Config{})
	require.Error(t, err)
}

func TestRawBackend(t *testing.T) {
	data := make([]byte, 8*2)
	for i := range 8 {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(i*100))
	}

	raw := RawBackend{Format: DataFormat{Format: FormatS16, Channels: 2, SampleRate: 8000}}
	reg := DefaultRegistry(raw)

	dec, err := reg.OpenBytes("blob.raw", data, Config{Format: FormatS32})
	require.NoError(t, err)
	length, err := dec.Length()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), length)

	buf := make([]byte, 4*2*4)
	n, err := dec.ReadFrames(buf, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(4), n)
	assert.Equal(t, int32(700)<<16, int32(binary.LittleEndian.Uint32(buf[7*4:])))

	// Raw data is never chosen by probing
	_, err = reg.OpenBytes("blob.bin", data, Config{})
	require.Error(t, err)
}

func TestConvertSamplesRoundTrip(t *testing.T) {
	formats := []Format{FormatU8, FormatS16, FormatS24, FormatS32, FormatF32}
	src := make([]byte, 2)
	binary.LittleEndian.PutUint16(src, uint16(0x4000))

	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			mid := make([]byte, f.BytesPerSample())
			ConvertSamples(mid, f, src, FormatS16, 1)
			back := make([]byte, 2)
			ConvertSamples(back, FormatS16, mid, f, 1)
			assert.Equal(t, int16(0x4000), int16(binary.LittleEndian.Uint16(back)))
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("F32")
	require.NoError(t, err)
	assert.Equal(t, FormatF32, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatUnknown, f)

	_, err = ParseFormat("s12")
	require.Error(t, err)
}
