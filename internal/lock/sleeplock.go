package lock

import (
	"reflect"

	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
)

// Chan is an opaque wait-channel token (spec §3, §9 "Sleep channels as
// integer tokens"). sleep and wakeup agree only on equality of the
// token; no other semantics attach. ChanOf derives one from the address
// of any pointer, exactly as the source kernel uses a condition
// variable's own address.
type Chan uintptr

// ChanOf returns the wait-channel token for a pointer-typed value.
func ChanOf(p any) Chan {
	v := reflect.ValueOf(p)
	if v.Kind() != reflect.Ptr {
		panic("lock: ChanOf needs a pointer")
	}
	return Chan(v.Pointer())
}

// Sleeper is implemented by the scheduler (package proc) and injected
// here to break the lock/proc import cycle: sleeplocks need to put the
// calling process to sleep, but the process table lives in a package
// that itself embeds Spinlock_t and Sleeplock_t values.
type Sleeper interface {
	// Sleep atomically releases mu and blocks the process identified
	// by callerPid until something calls Wakeup(ch). mu is reacquired
	// before Sleep returns (spec §4.5 "Sleep/wakeup"). The pid,
	// rather than an implicit "current process on this hart", is what
	// lets a sleeplock held deep in the fs/bio layers put the right
	// process to sleep without this package importing proc.Proc_t.
	Sleep(h *cpu.Hart_t, callerPid int, ch Chan, mu *Spinlock_t)
	// Wakeup moves every process sleeping on ch to runnable.
	Wakeup(h *cpu.Hart_t, ch Chan)
	// Killed reports whether pid has been marked killed. Kill() only
	// flips this flag and reschedules a SLEEPING victim; it never
	// signals the channel the victim was waiting on, so every loop that
	// sleeps on a condition must re-check Killed itself on each wakeup
	// instead of blindly re-evaluating the (possibly still-true)
	// condition and sleeping again forever.
	Killed(h *cpu.Hart_t, pid int) bool
}

// Sched is installed by proc.init so sleeplocks can block. It must be
// set before any Sleeplock_t is used; boot wires this up in phase 1.
var Sched Sleeper

// Sleeplock_t wraps a Spinlock_t protecting a held flag and owner, so
// that contended acquisition sleeps instead of spinning (spec §4.1).
type Sleeplock_t struct {
	mu     Spinlock_t
	held   bool
	holder int // pid of the current holder, 0 if unheld
	name   string
}

// MkSleeplock returns a named, unheld sleep-lock.
func MkSleeplock(name string) *Sleeplock_t {
	return &Sleeplock_t{mu: *MkSpinlock(name + ".mu"), name: name}
}

// Acquire blocks the caller (on h) until the sleep-lock is free, then
// claims it for pid. Returns EKILLED without claiming the lock if pid
// is killed while waiting.
func (sl *Sleeplock_t) Acquire(h *cpu.Hart_t, pid int) defs.Err_t {
	sl.mu.Acquire(h)
	for sl.held {
		if Sched.Killed(h, pid) {
			sl.mu.Release(h)
			return -defs.EKILLED
		}
		Sched.Sleep(h, pid, ChanOf(sl), &sl.mu)
	}
	sl.held = true
	sl.holder = pid
	sl.mu.Release(h)
	return 0
}

// Release frees the sleep-lock and wakes anyone waiting on it (spec
// §4.1 "On release, the holder wakes that channel").
func (sl *Sleeplock_t) Release(h *cpu.Hart_t) {
	sl.mu.Acquire(h)
	sl.held = false
	sl.holder = 0
	sl.mu.Release(h)
	Sched.Wakeup(h, ChanOf(sl))
}

// Holding reports whether the sleep-lock is currently held by pid. This
// is a best-effort diagnostic read, not synchronized against concurrent
// Acquire/Release, matching how the teacher's debug helpers peek at
// state without taking the lock.
func (sl *Sleeplock_t) Holding(pid int) bool {
	return sl.held && sl.holder == pid
}

// AssertHeld panics if the sleep-lock is not currently held by anyone.
// Used the way the teacher's Lockassert_pmap guards pmap mutation.
func (sl *Sleeplock_t) AssertHeld() {
	if !sl.held {
		panic("sleeplock: " + sl.name + ": not held")
	}
}
