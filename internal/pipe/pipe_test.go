package pipe

import (
	"testing"
	"time"

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

func TestWriteThenRead(t *testing.T) {
	h := cpu.NewHart(0)
	p := New()
	n, err := p.Write(h, 1, []byte("hi"))
	if err != 0 || n != 2 {
		t.Fatalf("write: n=%d err=%d", n, err)
	}
	buf := make([]byte, 2)
	n, err = p.Read(h, 1, buf)
	if err != 0 || n != 2 || string(buf) != "hi" {
		t.Fatalf("read: n=%d err=%d buf=%q", n, err, buf)
	}
}

func TestWriteAfterReadersGoneFails(t *testing.T) {
	h := cpu.NewHart(0)
	p := New()
	p.CloseRead(h)
	_, err := p.Write(h, 1, []byte("x"))
	if err != -defs.EPIPE {
		t.Fatalf("expected EPIPE, got %d", err)
	}
}

type killedSched struct{ inlineSched }

func (killedSched) Killed(h *cpu.Hart_t, pid int) bool { return true }

func TestReadUnwindsOnKill(t *testing.T) {
	old := lock.Sched
	lock.Sched = killedSched{}
	defer func() { lock.Sched = old }()

	h := cpu.NewHart(0)
	p := New()
	buf := make([]byte, 4)
	n, err := p.Read(h, 7, buf)
	if err != -defs.EKILLED {
		t.Fatalf("expected EKILLED, got n=%d err=%d", n, err)
	}
}

func TestWriteUnwindsOnKill(t *testing.T) {
	h := cpu.NewHart(0)
	p := New()
	if _, err := p.Write(h, 7, make([]byte, Cap)); err != 0 {
		t.Fatalf("filling the pipe failed: %d", err)
	}

	old := lock.Sched
	lock.Sched = killedSched{}
	defer func() { lock.Sched = old }()

	n, err := p.Write(h, 7, []byte("x"))
	if err != -defs.EKILLED {
		t.Fatalf("expected EKILLED, got n=%d err=%d", n, err)
	}
}

func TestReadBlocksThenWriterCloses(t *testing.T) {
	h := cpu.NewHart(0)
	p := New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		p.CloseWrite(cpu.NewHart(1))
	}()
	buf := make([]byte, 4)
	n, err := p.Read(h, 1, buf)
	if err != 0 || n != 0 {
		t.Fatalf("expected EOF-style 0,0 got n=%d err=%d", n, err)
	}
}
