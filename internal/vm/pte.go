// Package vm implements the Sv39 three-level page table: per-address-space
// mapping, walk, map, unmap, grow/shrink, the page-fault handler, and the
// bounded user/kernel copy primitives (spec §4.3). It is the direct
// generalization of the teacher's vm.Vm_t, translated from the teacher's
// x86-64 four-level format to RISC-V's three-level Sv39 format (spec
// §2 glossary "Sv39").
package vm

import (
	"github.com/oichkatz/sv39kernel/internal/pgalloc"
)

// Sv39 geometry: three levels, 9 bits of index per level, 12-bit page
// offset (spec §4.3).
const (
	PageSize   = pgalloc.PageSize
	PgShift    = 12
	PxMask     = 0x1ff
	PxBits     = 9
	Levels     = 3
	EntriesPer = 512
)

// PTE is a single packed Sv39 page-table entry (spec §3 "Page-table
// entry"): a 44-bit physical page number plus permission/status flags.
type PTE uint64

// Flag bits. Sv39 packs flags into the low 10 bits; the PPN occupies
// bits 10-53.
const (
	PteV PTE = 1 << 0 /// valid
	PteR PTE = 1 << 1 /// readable
	PteW PTE = 1 << 2 /// writable
	PteX PTE = 1 << 3 /// executable
	PteU PTE = 1 << 4 /// user-accessible
	PteG PTE = 1 << 5 /// global
	PteA PTE = 1 << 6 /// accessed
	PteD PTE = 1 << 7 /// dirty
)

const pteFlagBits = 10

// Perm is the subset of PTE flags callers of Map/Grow choose from; it
// deliberately excludes V/A/D, which the page-table code manages itself.
type Perm PTE

const (
	PermR Perm = Perm(PteR)
	PermW Perm = Perm(PteW)
	PermX Perm = Perm(PteX)
	PermU Perm = Perm(PteU)
)

// pa2pte packs a physical address into the PPN field of a PTE.
func pa2pte(pa uintptr) PTE {
	return PTE(pa>>PgShift) << pteFlagBits
}

// pte2pa extracts the physical address a leaf PTE refers to.
func pte2pa(pte PTE) uintptr {
	return uintptr(pte>>pteFlagBits) << PgShift
}

// Valid reports whether the entry's valid bit is set.
func (pte PTE) Valid() bool { return pte&PteV != 0 }

// Leaf reports whether the entry is a leaf (carries any of R/W/X) as
// opposed to an interior entry pointing at the next table level. Spec
// §3 invariant: "an interior entry never carries R/W/X bits."
func (pte PTE) Leaf() bool {
	return pte&(PteR|PteW|PteX) != 0
}

// pxIndex extracts the 9-bit index for page-table level (0 = leaf, 2 =
// root) from a virtual address.
func pxIndex(va uintptr, level int) int {
	shift := PgShift + PxBits*level
	return int((va >> shift) & PxMask)
}
