package resource

import "strings"

// Flags select how an asset is loaded.
type Flags uint32

const (
	// FlagStream reads the asset through a two-page streaming source with no
	// shared node.
	FlagStream Flags = 1 << iota
	// FlagDecode stores decoded PCM in the node instead of the encoded bytes.
	FlagDecode
	// FlagAsync loads on the worker goroutines instead of the caller's.
	FlagAsync
	// FlagWaitInit makes an async load return once the source is readable.
	FlagWaitInit
	// FlagLooping starts the source in looping mode.
	FlagLooping
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagStream, "stream"},
	{FlagDecode, "decode"},
	{FlagAsync, "async"},
	{FlagWaitInit, "wait_init"},
	{FlagLooping, "looping"},
}

// Has reports whether every bit of f2 is set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}
