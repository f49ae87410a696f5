package resource

import (
	"math"

	"github.com/shirou/gopsutil/v3/mem"
)

// availableMemory reports the bytes the OS can hand out without swapping.
// Replaced in tests.
var availableMemory = func() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// fitsInMemory reports whether frames of bpf bytes each can be allocated as
// one decoded buffer. When the OS cannot be queried only the address space
// limit applies.
func fitsInMemory(frames, bpf uint64) bool {
	if bpf == 0 {
		return true
	}
	if frames > math.MaxInt/bpf {
		return false
	}
	avail, err := availableMemory()
	if err != nil {
		return true
	}
	return frames*bpf <= avail
}
