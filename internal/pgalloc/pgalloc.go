// Package pgalloc implements the kernel's physical page allocator: a
// singly-linked free-list of 4 KiB frames covering [kernelEnd, physStop)
// (spec §4.2). It is the leaf resource every other subsystem in this
// kernel ultimately allocates from: page tables, kernel stacks,
// trapframes, and buffer-cache slots.
package pgalloc

import (
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/lock"
)

// PageSize is the frame size this allocator hands out (spec §3 "Physical
// frame").
const PageSize = 4096

// poisonByte is written across a freed page so dangling reads after
// free are visible garbage rather than quietly-still-valid data, per
// spec §4.2 "zero-or-poison memory to catch dangling use".
const poisonByte = 0x5a

// run chains free frames by index rather than by pointer arithmetic
// into physical memory: this kernel simulates RAM as a byte-addressable
// slice rather than running on an address space it can point into
// directly, but the free-list's shape matches the source's
// pointer-linked list exactly.
type run struct {
	idx  int
	next *run
}

// Frame is a handle to one allocated physical page: its frame number
// plus a byte-addressable view for callers that need to read or write
// through it directly (page-table pages, trapframes, cache blocks).
type Frame struct {
	Index int
	Bytes *[PageSize]byte
}

// Allocator_t owns the free-list for one contiguous physical range.
type Allocator_t struct {
	mu       *lock.Spinlock_t
	freelist *run
	nfree    int

	backing [][PageSize]byte
	used    []bool
}

// New creates an allocator managing nframes page-sized frames, modeling
// the range [kernelEnd, physStop) from spec §4.2. Every frame starts
// free.
func New(nframes int) *Allocator_t {
	a := &Allocator_t{
		mu:      lock.MkSpinlock("pgalloc"),
		backing: make([][PageSize]byte, nframes),
		used:    make([]bool, nframes),
	}
	for i := nframes - 1; i >= 0; i-- {
		a.pushFree(i)
	}
	return a
}

func (a *Allocator_t) pushFree(i int) {
	for j := range a.backing[i] {
		a.backing[i][j] = poisonByte
	}
	a.used[i] = false
	a.freelist = &run{idx: i, next: a.freelist}
	a.nfree++
}

// Alloc removes one frame from the free-list and returns it zeroed.
// Returns ok=false when the allocator is exhausted (spec §7 "Resource
// exhaustion").
func (a *Allocator_t) Alloc(h *cpu.Hart_t) (Frame, bool) {
	a.mu.Acquire(h)
	defer a.mu.Release(h)
	if a.freelist == nil {
		return Frame{}, false
	}
	node := a.freelist
	a.freelist = node.next
	a.nfree--
	a.used[node.idx] = true
	for j := range a.backing[node.idx] {
		a.backing[node.idx][j] = 0
	}
	return Frame{Index: node.idx, Bytes: &a.backing[node.idx]}, true
}

// Free returns a frame to the free-list, poisoning its contents. Panics
// on a double free, an integrity violation per spec §7.
func (a *Allocator_t) Free(h *cpu.Hart_t, f Frame) {
	a.mu.Acquire(h)
	defer a.mu.Release(h)
	if !a.used[f.Index] {
		panic("pgalloc: double free")
	}
	a.pushFree(f.Index)
}

// NFree reports the number of frames currently on the free-list, for
// tests and diagnostics.
func (a *Allocator_t) NFree(h *cpu.Hart_t) int {
	a.mu.Acquire(h)
	defer a.mu.Release(h)
	return a.nfree
}

// PA returns the (simulated) physical address of an allocated frame:
// its index scaled by the page size, matching how a real frame number
// would be shifted into a physical address.
func (a *Allocator_t) PA(f Frame) uintptr {
	return uintptr(f.Index) * PageSize
}

// Deref maps a physical address back to its backing byte page, the way
// the teacher's mem.Physmem_t.Dmap maps a physical page number to a
// *Pg_t. It does not take the allocator lock: callers must already hold
// whatever lock protects the page table or buffer referencing pa, same
// discipline as the source kernel's direct map.
func (a *Allocator_t) Deref(pa uintptr) *[PageSize]byte {
	idx := pa / PageSize
	return &a.backing[idx]
}
