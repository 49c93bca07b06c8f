// Package file implements the unified file-descriptor layer: a file
// descriptor is a permissions word plus an interface value that
// dispatches to whichever backing object — an inode, a pipe end, or a
// character device — actually knows how to satisfy read/write/close
// (spec §4.9 "fd is an interface over inode/device/pipe").
package file

import (
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/hashtable"
)

// Devsw_i is implemented by every character device registered in the
// device-switch table (spec §4.9 "devsw"), keyed by major number.
type Devsw_i interface {
	Read(h *cpu.Hart_t, pid int, dst []byte) (int, defs.Err_t)
	Write(h *cpu.Hart_t, pid int, src []byte) (int, defs.Err_t)
}

// Devsw_t maps device major numbers to their Devsw_i, backed by the
// teacher's lock-striped hashtable rather than a fixed array so the
// same structure could grow to non-contiguous majors without code
// changes.
type Devsw_t struct {
	ht *hashtable.Hashtable_t
}

// NewDevsw creates an empty device-switch table.
func NewDevsw() *Devsw_t {
	return &Devsw_t{ht: hashtable.MkHash(defs.D_LAST - defs.D_FIRST + 1)}
}

// Register installs dev under major, panicking on a duplicate
// registration (a kernel bug, not a runtime condition).
func (d *Devsw_t) Register(major int, dev Devsw_i) {
	if _, inserted := d.ht.Set(major, dev); !inserted {
		panic("file: duplicate devsw registration")
	}
}

// Lookup returns the device registered under major, or ENXIO if none.
func (d *Devsw_t) Lookup(major int) (Devsw_i, defs.Err_t) {
	v, ok := d.ht.Get(major)
	if !ok {
		return nil, -defs.ENXIO
	}
	return v.(Devsw_i), 0
}
