package vm

import (
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/pgalloc"
)

// Table is a pointer to one level of page-table entries: a single
// physical page holding 512 PTEs (spec §3 "Address space": "A root
// page-table frame plus the tree reachable from it").
type Table = *[EntriesPer]PTE

// AddrSpace_t is one process's or the kernel's address space: the root
// page-table frame plus the declared size of the mapped image (spec §3
// "Address space"). Every AddrSpace_t draws its page-table pages and
// leaf data pages from the same physical allocator, mirroring the
// teacher's Vm_t.Pmap/P_pmap pair generalized to three Sv39 levels
// instead of four x86-64 levels.
type AddrSpace_t struct {
	pages *pgalloc.Allocator_t
	root  Table
	rootPA uintptr

	// Size is the declared size in bytes of the mapped user image,
	// starting at address 0 (spec §3 "User" address space). Unused for
	// kernel address spaces.
	Size int
}

// NewAddrSpace allocates a fresh, empty root page-table page.
func NewAddrSpace(h *cpu.Hart_t, pages *pgalloc.Allocator_t) (*AddrSpace_t, defs.Err_t) {
	f, ok := pages.Alloc(h)
	if !ok {
		return nil, -defs.ENOMEM
	}
	as := &AddrSpace_t{
		pages:  pages,
		root:   tableAt(f),
		rootPA: pages.PA(f),
	}
	return as, 0
}

// RootPA returns the physical address of the root page-table page (the
// value make_satp packs into satp).
func (as *AddrSpace_t) RootPA() uintptr { return as.rootPA }

// Satp formats this address space's root for the hardware satp
// register (spec §4.3 "make_satp").
func (as *AddrSpace_t) Satp() uint64 { return MakeSatp(as.rootPA) }

// Pages returns the physical frame allocator this address space draws
// its pages from, so a new address space built for e.g. a forked child
// can share the same pool (spec §4.5 "fork allocates from the same
// allocator as its parent").
func (as *AddrSpace_t) Pages() *pgalloc.Allocator_t { return as.pages }

func tableAt(f pgalloc.Frame) Table {
	// A page-table page is exactly one physical frame reinterpreted as
	// 512 eight-byte PTEs; PageSize (4096) / 8 == EntriesPer (512).
	return (*[EntriesPer]PTE)(ptrOf(f.Bytes))
}

// Walk returns a pointer to the leaf PTE for va, creating interior
// tables on demand when alloc is true (spec §4.3 "walk"). ok is false
// when the path doesn't exist and alloc was false, or allocation failed.
func (as *AddrSpace_t) Walk(h *cpu.Hart_t, va uintptr, alloc bool) (*PTE, bool) {
	if va >= MaxVA {
		panic("vm: Walk: va out of range")
	}
	table := as.root
	for level := Levels - 1; level > 0; level-- {
		pte := &table[pxIndex(va, level)]
		if *pte&PteV != 0 {
			table = tableFromPTE(as, *pte)
		} else {
			if !alloc {
				return nil, false
			}
			f, ok := as.pages.Alloc(h)
			if !ok {
				return nil, false
			}
			child := tableAt(f)
			*pte = pa2pte(as.pages.PA(f)) | PteV
			table = child
		}
	}
	return &table[pxIndex(va, 0)], true
}

func tableFromPTE(as *AddrSpace_t, pte PTE) Table {
	pa := pte2pa(pte)
	return (*[EntriesPer]PTE)(ptrOf(as.pages.Deref(pa)))
}

// Map installs size/PageSize mappings starting at va to consecutive
// physical frames starting at pa, with the given permissions (spec
// §4.3 "map"). va, pa, and size must be page-aligned; mapping over an
// already-valid leaf is an error (spec invariant: no silent remap).
func (as *AddrSpace_t) Map(h *cpu.Hart_t, va, pa uintptr, size int, perm Perm) defs.Err_t {
	if va%PageSize != 0 || pa%PageSize != 0 || size%PageSize != 0 || size == 0 {
		panic("vm: Map: unaligned argument")
	}
	n := size / PageSize
	for i := 0; i < n; i++ {
		cva := va + uintptr(i)*PageSize
		cpa := pa + uintptr(i)*PageSize
		pte, ok := as.Walk(h, cva, true)
		if !ok {
			return -defs.ENOMEM
		}
		if *pte&PteV != 0 {
			panic("vm: Map: remap of already-valid leaf")
		}
		*pte = pa2pte(cpa) | PTE(perm) | PteV
	}
	return 0
}

// Unmap removes npages leaf mappings starting at va. A missing entry
// along the way is not an error (spec §4.3 "unmap"); if freeFrames is
// set, the frame each valid leaf referenced is returned to the
// allocator.
func (as *AddrSpace_t) Unmap(h *cpu.Hart_t, va uintptr, npages int, freeFrames bool) {
	if va%PageSize != 0 {
		panic("vm: Unmap: unaligned va")
	}
	for i := 0; i < npages; i++ {
		cva := va + uintptr(i)*PageSize
		pte, ok := as.Walk(h, cva, false)
		if !ok || pte == nil || *pte&PteV == 0 {
			continue
		}
		if freeFrames {
			pa := pte2pa(*pte)
			as.pages.Free(h, pgalloc.Frame{Index: int(pa / PageSize), Bytes: as.pages.Deref(pa)})
		}
		*pte = 0
	}
}

// Grow extends the user image from oldsz to newsz, rounding up to a
// page boundary and mapping freshly zeroed frames with perm (spec §4.3
// "grow"). Returns the new size and 0, or the unchanged oldsz and an
// error.
func (as *AddrSpace_t) Grow(h *cpu.Hart_t, oldsz, newsz int, perm Perm) (int, defs.Err_t) {
	if newsz < oldsz {
		return oldsz, 0
	}
	oldTop := roundup(oldsz)
	newTop := roundup(newsz)
	for va := oldTop; va < newTop; va += PageSize {
		f, ok := as.pages.Alloc(h)
		if !ok {
			as.Unmap(h, uintptr(oldTop), (va-oldTop)/PageSize, true)
			return oldsz, -defs.ENOMEM
		}
		if err := as.Map(h, uintptr(va), as.pages.PA(f), PageSize, perm|PermU); err != 0 {
			as.pages.Free(h, f)
			as.Unmap(h, uintptr(oldTop), (va-oldTop)/PageSize, true)
			return oldsz, err
		}
	}
	return newsz, 0
}

// Shrink retracts the user image from oldsz to newsz, unmapping and
// freeing the pages no longer covered (spec §4.3 "shrink").
func (as *AddrSpace_t) Shrink(h *cpu.Hart_t, oldsz, newsz int) int {
	if newsz >= oldsz {
		return oldsz
	}
	oldTop := roundup(oldsz)
	newTop := roundup(newsz)
	if newTop < oldTop {
		as.Unmap(h, uintptr(newTop), (oldTop-newTop)/PageSize, true)
	}
	return newsz
}

func roundup(v int) int {
	return (v + PageSize - 1) &^ (PageSize - 1)
}
