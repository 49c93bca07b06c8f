// Package cpu models per-hart state: the pieces of a real CPU core that
// xv6 reaches through register tp (mycpu()). Go gives us no per-thread
// register file, so every function that would implicitly read mycpu() in
// the source kernel instead takes a *Hart_t explicitly — the hart the
// caller is running on. This also sidesteps the proc/lock import cycle
// that an implicit global mycpu() would otherwise force (spec §9's
// "break cycles with index-based references", generalized from inode/proc
// pointers to hart-local proc references).
package cpu

// Hart_t is one scheduler's worth of per-CPU state (spec §3 "Process
// slot" note on the scheduler's cpu.proc, §5 "Interrupt discipline").
type Hart_t struct {
	ID int /// hart (logical CPU) identifier

	// noff is the push_off/pop_off nesting depth; interrupts are
	// disabled for as long as noff > 0.
	noff int

	// intenaBefore records whether interrupts were enabled before the
	// first push_off in the current nesting run, so pop_off can
	// restore the correct state rather than unconditionally
	// re-enabling interrupts.
	intenaBefore bool

	// intsEnabled simulates the hart's interrupt-enable CSR bit. Real
	// xv6 reads/writes sstatus.SIE; this kernel is not handed real
	// hardware, so the bit is just a field toggled by PushOff/PopOff
	// and read by whatever stands in for the trap path.
	intsEnabled bool

	// CurProcIdx is the pid of the process this hart is currently
	// running, or -1 if it is idling in the scheduler. A bare int
	// rather than a *Proc_t so this package never needs to import the
	// proc package (spec §9 cycle-breaking note).
	CurProcIdx int
}

// NewHart returns a hart with interrupts enabled and no process running.
func NewHart(id int) *Hart_t {
	return &Hart_t{ID: id, intsEnabled: true, CurProcIdx: -1}
}

// PushOff disables interrupts on this hart, remembering the prior
// enabled state the first time the nesting depth goes from 0 to 1 (spec
// §4.1, §5 "Interrupt discipline").
func (h *Hart_t) PushOff() {
	before := h.intsEnabled
	h.intsEnabled = false
	if h.noff == 0 {
		h.intenaBefore = before
	}
	h.noff++
}

// PopOff restores the interrupt-enable state remembered by the
// outermost PushOff once the nesting depth returns to zero.
func (h *Hart_t) PopOff() {
	if h.noff < 1 {
		panic("cpu: PopOff without PushOff")
	}
	h.noff--
	if h.noff == 0 && h.intenaBefore {
		h.intsEnabled = true
	}
}

// IntrEnabled reports whether this hart currently accepts interrupts.
func (h *Hart_t) IntrEnabled() bool {
	return h.intsEnabled
}

// Idle reports whether the hart has no process assigned.
func (h *Hart_t) Idle() bool {
	return h.CurProcIdx < 0
}
