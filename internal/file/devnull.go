package file

import (
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
)

// DevNull_t is the /dev/null sink: reads return EOF immediately,
// writes are accepted and discarded.
type DevNull_t struct{}

func (DevNull_t) Read(h *cpu.Hart_t, pid int, dst []byte) (int, defs.Err_t) { return 0, 0 }
func (DevNull_t) Write(h *cpu.Hart_t, pid int, src []byte) (int, defs.Err_t) {
	return len(src), 0
}
