// Package proc implements the process table, scheduler, and process
// lifecycle (spec §4.5 "Process / scheduler"). A process's "user code"
// has no real machine instructions to fetch in this simulated kernel
// (spec §1 Non-goals: no real hardware, no assembly); instead each
// Proc_t carries an Entry func it runs on its own goroutine, and the
// scheduler hands that goroutine the CPU by signalling a channel
// rather than restoring a register file — see Scheduler in sched.go for
// the reasoning spelled out in full. Everything above this substitution
// (process states, the ptable lock, sleep/wakeup, wait/exit semantics)
// follows the teacher's concurrency discipline directly.
package proc

import (
	"time"

	"github.com/oichkatz/sv39kernel/internal/accnt"
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/file"
	"github.com/oichkatz/sv39kernel/internal/lock"
	"github.com/oichkatz/sv39kernel/internal/param"
	"github.com/oichkatz/sv39kernel/internal/trapframe"
	"github.com/oichkatz/sv39kernel/internal/vm"
)

// State_t enumerates a process's scheduling state (spec §3 "Process
// slot").
type State_t int

const (
	UNUSED State_t = iota
	EMBRYO
	SLEEPING
	RUNNABLE
	RUNNING
	ZOMBIE
)

// KernelPid (0) is the pid kernel-internal users of sleeplocks (the
// buffer cache, the log) pass when they run outside any process
// context. No process has pid 0, so Sched_t.Sleep panics if such a
// caller ever has to block.
const KernelPid = 0

// Entry is a process's "user program": since this kernel never
// executes real RISC-V instructions, a process's code is a Go closure
// run on its own goroutine, scheduled the way Scheduler describes.
type Entry func(h *cpu.Hart_t, p *Proc_t)

// Proc_t is one process-table slot (spec §3 "Process slot", §4.5
// "Process lifecycle").
type Proc_t struct {
	Pid    int
	Ppid   int
	State  State_t
	Killed bool
	Doomed bool

	waitChan lock.Chan // valid while State == SLEEPING

	resume chan struct{} // scheduler -> process: run now
	yield  chan struct{} // process -> scheduler: I've stopped running
	done   chan struct{} // closed when the goroutine has exited

	Entry      Entry
	ExitStatus int
	As         *vm.AddrSpace_t
	Cwd        *file.Cwd_t
	Ofile      [param.NOFILE]*file.Fd_t
	Accnt      accnt.Accnt_t

	// Tf and Ctx hold the trapframe and callee-saved context a real
	// trap/swtch implementation would save and restore (spec §3). This
	// kernel's "context switch" is a channel handoff between goroutines
	// (see sched.go), so Ctx is never read by Go code; it is kept so
	// the types these fields are spec-named after still have a home.
	// Tf carries a syscall's arguments and return value: syscall.Dispatch
	// reads and writes it.
	Tf  *trapframe.Trapframe_t
	Ctx *trapframe.Context_t
}

// Table_t is the fixed-size, globally shared process table (spec §3
// "Process table", param.NPROC).
type Table_t struct {
	mu       *lock.Spinlock_t
	waitMu   *lock.Spinlock_t // separate lock for parent/child wait rendezvous
	procs    []*Proc_t
	nextPid  int
	bootTime time.Time
}

// NewTable allocates an empty process table.
func NewTable() *Table_t {
	t := &Table_t{mu: lock.MkSpinlock("ptable"), waitMu: lock.MkSpinlock("ptable.wait"), nextPid: 1, bootTime: time.Now()}
	t.procs = make([]*Proc_t, param.NPROC)
	for i := range t.procs {
		t.procs[i] = &Proc_t{State: UNUSED}
	}
	return t
}

// Uptime reports ticks (100ms, xv6's HZ) elapsed since this table was
// created (spec §4.10 "uptime"), standing in for a real timer-interrupt
// counter since this kernel has no simulated hardware clock.
func (t *Table_t) Uptime() uint64 {
	return uint64(time.Since(t.bootTime) / (100 * time.Millisecond))
}

// Find returns the process with the given pid, or nil.
func (t *Table_t) Find(h *cpu.Hart_t, pid int) *Proc_t {
	t.mu.Acquire(h)
	defer t.mu.Release(h)
	for _, p := range t.procs {
		if p.State != UNUSED && p.Pid == pid {
			return p
		}
	}
	return nil
}

// alloc reserves a free slot, assigns it a pid, and leaves it in
// EMBRYO state for the caller to finish initializing.
func (t *Table_t) alloc(h *cpu.Hart_t) (*Proc_t, defs.Err_t) {
	t.mu.Acquire(h)
	defer t.mu.Release(h)
	for _, p := range t.procs {
		if p.State == UNUSED {
			p.State = EMBRYO
			p.Pid = t.nextPid
			t.nextPid++
			p.Killed = false
			p.Doomed = false
			p.resume = make(chan struct{})
			p.yield = make(chan struct{})
			p.done = make(chan struct{})
			p.Tf = &trapframe.Trapframe_t{}
			p.Ctx = &trapframe.Context_t{}
			return p, 0
		}
	}
	return nil, -defs.ENOMEM
}
