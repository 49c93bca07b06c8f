package lock

import (
	"testing"

	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
)

func TestSpinlockAcquireRelease(t *testing.T) {
	h := cpu.NewHart(0)
	sl := MkSpinlock("test")
	sl.Acquire(h)
	if !sl.Holding(h) {
		t.Fatal("expected lock held")
	}
	if h.IntrEnabled() {
		t.Fatal("interrupts should be disabled while holding a spinlock")
	}
	sl.Release(h)
	if sl.Holding(h) {
		t.Fatal("expected lock released")
	}
	if !h.IntrEnabled() {
		t.Fatal("interrupts should be restored after release")
	}
}

func TestSpinlockRecursivePanics(t *testing.T) {
	h := cpu.NewHart(0)
	sl := MkSpinlock("test")
	sl.Acquire(h)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on recursive acquire")
		}
	}()
	sl.Acquire(h)
}

// fakeSched is a minimal Sleeper that immediately "wakes" without ever
// actually blocking, sufficient to exercise Sleeplock_t's protocol.
type fakeSched struct {
	woke []Chan
}

func (f *fakeSched) Sleep(h *cpu.Hart_t, callerPid int, ch Chan, mu *Spinlock_t) {
	mu.Release(h)
	mu.Acquire(h)
}

func (f *fakeSched) Wakeup(h *cpu.Hart_t, ch Chan) {
	f.woke = append(f.woke, ch)
}

func (f *fakeSched) Killed(h *cpu.Hart_t, pid int) bool { return false }

func TestSleeplock(t *testing.T) {
	Sched = &fakeSched{}
	h := cpu.NewHart(0)
	sl := MkSleeplock("test")
	if err := sl.Acquire(h, 7); err != 0 {
		t.Fatalf("acquire failed: %d", err)
	}
	if !sl.Holding(7) {
		t.Fatal("expected held by pid 7")
	}
	sl.Release(h)
	if sl.Holding(7) {
		t.Fatal("expected released")
	}
}

// killedSched reports every pid as killed without ever actually waking
// the channel, exercising the same "killed while sleeping" unwind path
// a real scheduler drives through Kill().
type killedSched struct{ fakeSched }

func (killedSched) Killed(h *cpu.Hart_t, pid int) bool { return true }

func TestSleeplockAcquireUnwindsOnKill(t *testing.T) {
	Sched = &killedSched{}
	h := cpu.NewHart(0)
	sl := MkSleeplock("test")
	sl.held = true // force Acquire(h, 7) to find it already held and block
	if err := sl.Acquire(h, 7); err != -defs.EKILLED {
		t.Fatalf("expected EKILLED, got %d", err)
	}
	if sl.Holding(7) {
		t.Fatal("killed waiter must not end up holding the lock")
	}
}

func TestChanOfStable(t *testing.T) {
	x := &Spinlock_t{}
	if ChanOf(x) != ChanOf(x) {
		t.Fatal("ChanOf must be stable for the same pointer")
	}
}
