// Package slotalloc implements a lock-free, fixed-capacity index allocator.
//
// Each allocation returns a 64-bit handle combining a 32-bit slot index with
// the slot's generation at allocation time. Freeing a slot bumps its
// generation, so handles held past a free are rejected even after the index
// is reused.
package slotalloc

import (
	"math/bits"
	"sync/atomic"

	"github.com/tphakala/audiostream/internal/errors"
)

// ComponentSlotAlloc identifies slot allocator errors
const ComponentSlotAlloc = "slotalloc"

const groupBits = 32

var (
	// ErrOutOfSlots is returned when every slot is occupied
	ErrOutOfSlots = errors.New(errors.NewStd("no free slots")).
			Component(ComponentSlotAlloc).
			Category(errors.CategoryOutOfSlots).
			Build()

	// ErrInvalidHandle is returned when a handle is stale, out of range or already freed
	ErrInvalidHandle = errors.New(errors.NewStd("invalid slot handle")).
				Component(ComponentSlotAlloc).
				Category(errors.CategoryInvalidHandle).
				Build()

	// ErrInvalidCapacity is returned by New for a zero capacity
	ErrInvalidCapacity = errors.New(errors.NewStd("slot capacity must be greater than zero")).
				Component(ComponentSlotAlloc).
				Category(errors.CategoryValidation).
				Build()
)

// Allocator hands out slot handles. All methods are safe for concurrent use.
type Allocator struct {
	groups      []atomic.Uint32
	generations []atomic.Uint32
	count       atomic.Uint32
	capacity    uint32
}

// New creates an allocator with the given number of slots.
func New(capacity uint32) (*Allocator, error) {
	if capacity == 0 {
		return nil, ErrInvalidCapacity
	}

	groupCount := (capacity + groupBits - 1) / groupBits
	a := &Allocator{
		groups:      make([]atomic.Uint32, groupCount),
		generations: make([]atomic.Uint32, capacity),
		capacity:    capacity,
	}

	// Bits past capacity in the last group stay permanently occupied
	if tail := capacity % groupBits; tail != 0 {
		a.groups[groupCount-1].Store(^uint32(0) << tail)
	}
	return a, nil
}

// MakeHandle packs a generation and index into a handle.
func MakeHandle(generation, index uint32) uint64 {
	return uint64(generation)<<32 | uint64(index)
}

// Index extracts the slot index from a handle.
func Index(handle uint64) uint32 {
	return uint32(handle)
}

// Generation extracts the generation from a handle.
func Generation(handle uint64) uint32 {
	return uint32(handle >> 32)
}

// Alloc reserves a free slot and returns its handle.
func (a *Allocator) Alloc() (uint64, error) {
	// Two passes so a slot freed behind the scan cursor is still found
	for range 2 {
		for g := range a.groups {
			group := &a.groups[g]
			for {
				old := group.Load()
				if old == ^uint32(0) {
					break
				}
				bit := uint32(bits.TrailingZeros32(^old))
				if !group.CompareAndSwap(old, old|1<<bit) {
					continue
				}
				index := uint32(g)*groupBits + bit
				a.count.Add(1)
				return MakeHandle(a.generations[index].Load(), index), nil
			}
		}
	}
	return 0, ErrOutOfSlots
}

// Free releases the slot referenced by handle. Stale or repeated frees
// return ErrInvalidHandle and leave the allocator unchanged.
func (a *Allocator) Free(handle uint64) error {
	index := Index(handle)
	if index >= a.capacity {
		return ErrInvalidHandle
	}

	group := &a.groups[index/groupBits]
	mask := uint32(1) << (index % groupBits)
	if group.Load()&mask == 0 {
		return ErrInvalidHandle
	}

	// Winning the generation CAS grants exclusive right to clear the bit
	gen := Generation(handle)
	if !a.generations[index].CompareAndSwap(gen, gen+1) {
		return ErrInvalidHandle
	}

	for {
		old := group.Load()
		if group.CompareAndSwap(old, old&^mask) {
			break
		}
	}
	a.count.Add(^uint32(0))
	return nil
}

// Valid reports whether handle refers to a currently allocated slot.
func (a *Allocator) Valid(handle uint64) bool {
	index := Index(handle)
	if index >= a.capacity {
		return false
	}
	if a.groups[index/groupBits].Load()&(1<<(index%groupBits)) == 0 {
		return false
	}
	return a.generations[index].Load() == Generation(handle)
}

// Count returns the number of allocated slots.
func (a *Allocator) Count() uint32 {
	return a.count.Load()
}

// Capacity returns the total number of slots.
func (a *Allocator) Capacity() uint32 {
	return a.capacity
}
