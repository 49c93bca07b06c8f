package proc

import "github.com/oichkatz/sv39kernel/internal/lock"

// Install wires this table's Sleep/Wakeup into the package-level
// lock.Sched var, so every sleeplock- and wait-channel-based primitive
// elsewhere in the kernel (internal/fslog, internal/pipe,
// internal/console) blocks and wakes real processes instead of the
// test-local fakes those packages use on their own. Boot must call this
// once, before starting any process that touches a Sleeplock_t.
func (t *Table_t) Install() {
	lock.Sched = Sched_t{Table: t}
}
