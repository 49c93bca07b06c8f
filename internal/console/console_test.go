package console

import (
	"testing"

	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/lock"
)

type inlineSched struct{}

func (inlineSched) Sleep(h *cpu.Hart_t, pid int, ch lock.Chan, mu *lock.Spinlock_t) {
	mu.Release(h)
	mu.Acquire(h)
}
func (inlineSched) Wakeup(h *cpu.Hart_t, ch lock.Chan)  {}
func (inlineSched) Killed(h *cpu.Hart_t, pid int) bool { return false }

func init() { lock.Sched = inlineSched{} }

func TestTypeLineThenRead(t *testing.T) {
	h := cpu.NewHart(0)
	c := New()
	for _, b := range []byte("hi\n") {
		c.Intr(h, b)
	}
	buf := make([]byte, 16)
	n, err := c.Read(h, 1, buf)
	if err != 0 || string(buf[:n]) != "hi\n" {
		t.Fatalf("got %q err=%d", buf[:n], err)
	}
}

type killedSched struct{ inlineSched }

func (killedSched) Killed(h *cpu.Hart_t, pid int) bool { return true }

func TestReadUnwindsOnKill(t *testing.T) {
	old := lock.Sched
	lock.Sched = killedSched{}
	defer func() { lock.Sched = old }()

	h := cpu.NewHart(0)
	c := New()
	buf := make([]byte, 16)
	n, err := c.Read(h, 7, buf)
	if err != -defs.EKILLED {
		t.Fatalf("expected EKILLED, got n=%d err=%d", n, err)
	}
}

func TestBackspaceRemovesLastByte(t *testing.T) {
	h := cpu.NewHart(0)
	c := New()
	for _, b := range []byte("hix") {
		c.Intr(h, b)
	}
	c.Intr(h, ctrlH)
	c.Intr(h, '\n')
	buf := make([]byte, 16)
	n, _ := c.Read(h, 1, buf)
	if string(buf[:n]) != "hi\n" {
		t.Fatalf("expected %q, got %q", "hi\n", buf[:n])
	}
}
