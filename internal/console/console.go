// Package console implements the line-disciplined character device
// backing stdin/stdout (spec §4.9 "Console: a line-buffered char
// device"). Raw input bytes accumulate until a newline, at which point
// the whole line becomes available to Read; output bytes are written
// straight through.
package console

import (
	"fmt"
	"os"

	"github.com/oichkatz/sv39kernel/internal/circbuf"
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/lock"
)

const bufCap = 4096

// backspace and kill-line match the teacher's line-editing keys.
const (
	ctrlH    = 0x08
	ctrlU    = 0x15
	ctrlD    = 0x04
)

// Console_t is the system console's single instance, registered into
// the device-switch table under defs.D_CONSOLE.
type Console_t struct {
	mu  *lock.Spinlock_t
	raw *circbuf.Circbuf_t // bytes typed, not yet delivered to a reader
}

// New creates an empty console.
func New() *Console_t {
	return &Console_t{mu: lock.MkSpinlock("console"), raw: circbuf.MkCircbuf(bufCap)}
}

// Intr is called from the UART/keyboard interrupt handler (spec §4.4
// "external interrupts") with each typed byte; it applies the minimal
// line discipline (backspace, kill-line) and wakes a blocked reader
// once a full line is available.
func (c *Console_t) Intr(h *cpu.Hart_t, b byte) {
	c.mu.Acquire(h)
	switch b {
	case ctrlH, 0x7f:
		if !c.raw.Empty() {
			// Drop the last buffered byte: read back, shrink by one, put back.
			pending := c.raw.Peek(c.raw.Bufsz())
			if n := len(pending); n > 0 {
				c.raw.Discard(n)
				c.raw.Write(pending[:n-1])
			}
		}
	case ctrlU:
		c.raw.Discard(c.raw.Used())
	default:
		c.raw.Write([]byte{b})
	}
	c.mu.Release(h)
	if b == '\n' || b == '\r' || b == ctrlD {
		lock.Sched.Wakeup(h, lock.ChanOf(c))
	}
}

// Read blocks until a newline-terminated line (or EOF marker) is
// available, then delivers up to len(dst) bytes of it. Unwinds with
// EKILLED if pid is killed while waiting for a line: Kill doesn't wake
// this channel, so without this check the loop would just go back to
// sleep on the same never-satisfied condition.
func (c *Console_t) Read(h *cpu.Hart_t, pid int, dst []byte) (int, defs.Err_t) {
	c.mu.Acquire(h)
	var line []byte
	for {
		var ok bool
		if line, ok = c.peekLine(); ok {
			break
		}
		if lock.Sched.Killed(h, pid) {
			c.mu.Release(h)
			return 0, -defs.EKILLED
		}
		lock.Sched.Sleep(h, pid, lock.ChanOf(c), c.mu)
	}
	if len(dst) > len(line) {
		dst = dst[:len(line)]
	}
	n := c.raw.Read(dst)
	c.mu.Release(h)
	return n, 0
}

func (c *Console_t) peekLine() ([]byte, bool) {
	pending := c.raw.Peek(c.raw.Used())
	for i, b := range pending {
		if b == '\n' || b == '\r' || b == ctrlD {
			return pending[:i+1], true
		}
	}
	return nil, false
}

func containsCtrlD(b []byte) bool {
	for _, c := range b {
		if c == ctrlD {
			return true
		}
	}
	return false
}

// Write sends bytes straight to the host terminal. A real UART driver
// would instead program transmit-FIFO registers; simulated hardware
// has nothing to program, so this writes through to the process's
// stdout directly.
func (c *Console_t) Write(h *cpu.Hart_t, pid int, src []byte) (int, defs.Err_t) {
	n, err := fmt.Fprint(os.Stdout, string(src))
	if err != nil {
		return n, -defs.EFAULT
	}
	return n, 0
}
