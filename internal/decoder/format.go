package decoder

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Format is a PCM sample encoding
type Format int

const (
	FormatUnknown Format = iota
	FormatU8
	FormatS16
	FormatS24
	FormatS32
	FormatF32
)

// BytesPerSample returns the size of one sample, 0 for FormatUnknown
func (f Format) BytesPerSample() int {
	switch f {
	case FormatU8:
		return 1
	case FormatS16:
		return 2
	case FormatS24:
		return 3
	case FormatS32, FormatF32:
		return 4
	default:
		return 0
	}
}

func (f Format) String() string {
	switch f {
	case FormatU8:
		return "u8"
	case FormatS16:
		return "s16"
	case FormatS24:
		return "s24"
	case FormatS32:
		return "s32"
	case FormatF32:
		return "f32"
	default:
		return "unknown"
	}
}

// ParseFormat parses the names produced by Format.String. An empty string
// or "native" yields FormatUnknown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "native", "unknown":
		return FormatUnknown, nil
	case "u8":
		return FormatU8, nil
	case "s16":
		return FormatS16, nil
	case "s24":
		return FormatS24, nil
	case "s32":
		return FormatS32, nil
	case "f32":
		return FormatF32, nil
	default:
		return FormatUnknown, fmt.Errorf("unknown sample format %q", s)
	}
}

// DataFormat describes interleaved PCM frames
type DataFormat struct {
	Format     Format
	Channels   uint32
	SampleRate uint32
}

// BytesPerFrame returns the size of one interleaved frame
func (d DataFormat) BytesPerFrame() int {
	return d.Format.BytesPerSample() * int(d.Channels)
}

func (d DataFormat) String() string {
	return fmt.Sprintf("%s %dch %dHz", d.Format, d.Channels, d.SampleRate)
}

// ConvertSamples converts count samples from src in srcFmt to dst in dstFmt.
// Samples pass through a left-justified 32-bit integer representation.
func ConvertSamples(dst []byte, dstFmt Format, src []byte, srcFmt Format, count int) {
	if dstFmt == srcFmt {
		copy(dst, src[:count*srcFmt.BytesPerSample()])
		return
	}

	sIn, sOut := srcFmt.BytesPerSample(), dstFmt.BytesPerSample()
	for i := range count {
		writeSample(dst[i*sOut:], dstFmt, readSample(src[i*sIn:], srcFmt))
	}
}

func readSample(b []byte, f Format) int32 {
	switch f {
	case FormatU8:
		return int32(int8(b[0]^0x80)) << 24
	case FormatS16:
		return int32(int16(binary.LittleEndian.Uint16(b))) << 16
	case FormatS24:
		return int32(uint32(b[0])<<8 | uint32(b[1])<<16 | uint32(b[2])<<24)
	case FormatS32:
		return int32(binary.LittleEndian.Uint32(b))
	case FormatF32:
		v := float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		v = max(-1, min(1, v))
		return int32(math.Round(v * math.MaxInt32))
	default:
		return 0
	}
}

func writeSample(b []byte, f Format, v int32) {
	switch f {
	case FormatU8:
		b[0] = uint8(v>>24) + 128
	case FormatS16:
		binary.LittleEndian.PutUint16(b, uint16(v>>16))
	case FormatS24:
		u := uint32(v)
		b[0], b[1], b[2] = byte(u>>8), byte(u>>16), byte(u>>24)
	case FormatS32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case FormatF32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(float64(v)/(math.MaxInt32+1))))
	}
}
