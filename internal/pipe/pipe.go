// Package pipe implements anonymous pipes (spec §4.8 "Pipes"): a fixed
// capacity ring buffer with blocking read and write ends, closed
// independently so a reader sees EOF once every writer is gone and a
// writer gets EPIPE once every reader is gone.
package pipe

import (
	"github.com/oichkatz/sv39kernel/internal/circbuf"
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/lock"
)

// Cap is the fixed pipe buffer capacity in bytes.
const Cap = 4096

// Pipe_t is shared between a pipe's read and write file descriptors.
type Pipe_t struct {
	mu         *lock.Spinlock_t
	buf        *circbuf.Circbuf_t
	readOpen   int // number of open read ends
	writeOpen  int // number of open write ends
}

// New creates a pipe with one open reader and one open writer, the
// state immediately after pipe(2) returns its two file descriptors.
func New() *Pipe_t {
	return &Pipe_t{mu: lock.MkSpinlock("pipe"), buf: circbuf.MkCircbuf(Cap), readOpen: 1, writeOpen: 1}
}

// CloseRead drops one reference to the read end; once the last one
// closes, blocked writers are woken to observe EPIPE.
func (p *Pipe_t) CloseRead(h *cpu.Hart_t) {
	p.mu.Acquire(h)
	p.readOpen--
	p.mu.Release(h)
	lock.Sched.Wakeup(h, lock.ChanOf(p))
}

// CloseWrite drops one reference to the write end; once the last one
// closes, blocked readers are woken to observe EOF.
func (p *Pipe_t) CloseWrite(h *cpu.Hart_t) {
	p.mu.Acquire(h)
	p.writeOpen--
	p.mu.Release(h)
	lock.Sched.Wakeup(h, lock.ChanOf(p))
}

// Read blocks while the pipe is empty and at least one writer remains
// open, then drains whatever is available (spec §4.8 "read returns
// whatever is buffered, short of len(dst), rather than waiting to fill
// it"). Unwinds with EKILLED, without draining anything, if pid is
// killed while waiting: Kill only flips a SLEEPING process back to
// RUNNABLE, it never changes the pipe state being waited on, so the
// loop condition is still true on wakeup and would otherwise sleep
// forever.
func (p *Pipe_t) Read(h *cpu.Hart_t, pid int, dst []byte) (int, defs.Err_t) {
	p.mu.Acquire(h)
	for p.buf.Empty() && p.writeOpen > 0 {
		if lock.Sched.Killed(h, pid) {
			p.mu.Release(h)
			return 0, -defs.EKILLED
		}
		lock.Sched.Sleep(h, pid, lock.ChanOf(p), p.mu)
	}
	n := p.buf.Read(dst)
	p.mu.Release(h)
	lock.Sched.Wakeup(h, lock.ChanOf(p))
	return n, 0
}

// Write blocks while the pipe is full and at least one reader remains
// open, writing in chunks until all of src is delivered. It fails with
// EPIPE if the last reader closes mid-write, or EKILLED (short, if any
// bytes were already delivered) if pid is killed while blocked waiting
// for buffer space to free up.
func (p *Pipe_t) Write(h *cpu.Hart_t, pid int, src []byte) (int, defs.Err_t) {
	total := 0
	p.mu.Acquire(h)
	for total < len(src) {
		if p.readOpen == 0 {
			p.mu.Release(h)
			return total, -defs.EPIPE
		}
		if p.buf.Left() == 0 {
			if lock.Sched.Killed(h, pid) {
				p.mu.Release(h)
				return total, -defs.EKILLED
			}
			lock.Sched.Sleep(h, pid, lock.ChanOf(p), p.mu)
			continue
		}
		n := p.buf.Write(src[total:])
		total += n
		p.mu.Release(h)
		lock.Sched.Wakeup(h, lock.ChanOf(p))
		p.mu.Acquire(h)
	}
	p.mu.Release(h)
	return total, 0
}
