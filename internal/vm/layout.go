package vm

// MaxVA is the largest valid Sv39 virtual address plus one: 2^(9+9+9+12-1),
// one bit shy of the full 39 bits so a valid virtual address's top bit
// matches bit 38 without requiring sign extension (spec §4.3, following
// xv6-riscv's MAXVA convention).
const MaxVA = 1 << 38

// Trampoline is mapped at the same virtual address in every address
// space (kernel and every process) so satp can be switched without
// changing the program counter's mapping mid-instruction (spec §3
// "trampoline page at the highest virtual address", glossary
// "Trampoline").
const Trampoline = MaxVA - PageSize

// Trapframe sits one page below the trampoline in every user address
// space (spec §3 "the per-process trapframe page at TRAMPOLINE - PAGE").
const Trapframe = Trampoline - PageSize

// SatpModeSv39 is the mode field value selecting Sv39 paging.
const SatpModeSv39 = 8

// MakeSatp packs a root page-table physical address into the value the
// satp register expects: mode bits in the high nibble, PPN in the low
// 44 bits (spec §4.3 "make_satp").
func MakeSatp(rootPA uintptr) uint64 {
	return uint64(SatpModeSv39)<<60 | uint64(rootPA>>PgShift)
}
