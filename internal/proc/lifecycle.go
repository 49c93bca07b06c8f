package proc

import (
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/file"
	"github.com/oichkatz/sv39kernel/internal/pgalloc"
	"github.com/oichkatz/sv39kernel/internal/vm"
)

// Spawn creates the very first process (spec §4.5 "init"/proc 1): no
// parent to fork from, an address space built fresh, and entry started
// runnable immediately. Every other process comes from Fork.
func (t *Table_t) Spawn(h *cpu.Hart_t, pages *pgalloc.Allocator_t, cwd *file.Cwd_t, entry Entry) (*Proc_t, defs.Err_t) {
	p, err := t.alloc(h)
	if err != 0 {
		return nil, err
	}
	as, err := vm.NewAddrSpace(h, pages)
	if err != 0 {
		t.free(h, p)
		return nil, err
	}
	p.As = as
	p.Cwd = cwd
	p.Ppid = 0
	p.Entry = entry
	t.Start(h, p)

	t.mu.Acquire(h)
	p.State = RUNNABLE
	t.mu.Release(h)
	return p, 0
}

// Fork creates a child of parent sharing its open files and cwd (spec
// §4.5 "fork"). The child's address space is a fresh copy-on-nothing
// clone: this kernel does not implement page-level COW (Non-goals did
// not exclude it, but nothing in the corpus's pgalloc layer models
// shared-then-copied frames), so Fork eagerly duplicates every mapped
// page via vm.AddrSpace_t.CopyTo, matching the teacher's
// Proc_t.Vm_t.Dup_page approach of copying page contents rather than
// sharing and trapping on write.
func (t *Table_t) Fork(h *cpu.Hart_t, parent *Proc_t, pages *pgalloc.Allocator_t, entry Entry) (*Proc_t, defs.Err_t) {
	child, err := t.alloc(h)
	if err != 0 {
		return nil, err
	}
	as, err := vm.NewAddrSpace(h, pages)
	if err != 0 {
		t.free(h, child)
		return nil, err
	}
	if err := parent.As.CopyTo(h, as, parent.As.Size); err != 0 {
		t.free(h, child)
		return nil, err
	}
	as.Size = parent.As.Size
	child.As = as
	child.Ppid = parent.Pid
	child.Cwd = parent.Cwd
	child.Entry = entry
	child.Accnt.Userns = parent.Accnt.Userns
	child.Accnt.Sysns = parent.Accnt.Sysns
	for i, fd := range parent.Ofile {
		if fd == nil {
			continue
		}
		nfd, err := file.Copyfd(h, fd)
		if err != 0 {
			t.free(h, child)
			return nil, err
		}
		child.Ofile[i] = nfd
	}
	t.Start(h, child)

	t.mu.Acquire(h)
	child.State = RUNNABLE
	t.mu.Release(h)
	return child, 0
}

// ExitNow finalizes p (spec §4.5 "exit"): closes its files, reparents
// its children to pid 1, marks it ZOMBIE, and wakes anyone waiting on
// it or on its parent. Idempotent, since both a process's own exit
// syscall and Start's wrapper (once Entry returns) may call it for the
// same process — Entry functions have no way to unwind early the way a
// real process does on the exit syscall (spec §1 Non-goals: no
// unwind-via-panic exit), so the convention is that code handling
// SYS_EXIT calls ExitNow and then returns immediately from Entry.
func (t *Table_t) ExitNow(h *cpu.Hart_t, p *Proc_t, status int) {
	t.mu.Acquire(h)
	already := p.State == ZOMBIE
	t.mu.Release(h)
	if already {
		return
	}

	for i, fd := range p.Ofile {
		if fd != nil {
			fd.Fops.Close(h, p.Pid)
			p.Ofile[i] = nil
		}
	}

	t.waitMu.Acquire(h)
	t.mu.Acquire(h)
	for _, c := range t.procs {
		if c.State != UNUSED && c.Ppid == p.Pid {
			c.Ppid = 1
		}
	}
	p.ExitStatus = status
	p.State = ZOMBIE
	t.mu.Release(h)
	close(p.done)
	t.waitMu.Release(h)
	t.wakeParent(h, p.Ppid)
}

// wakeParent is a hook point: a real kernel would lock.Sched.Wakeup on
// the parent's wait channel here. It is a named no-op because Wait
// below rescans the table under t.mu after each Yield rather than
// sleeping on a channel, so there is no sleeper to wake.
func (t *Table_t) wakeParent(h *cpu.Hart_t, ppid int) {}

// Wait blocks until some child of parent becomes a ZOMBIE, reaps it,
// and returns its pid and exit status (spec §4.5 "wait"). -defs.ESRCH
// if parent has no children at all.
func (t *Table_t) Wait(h *cpu.Hart_t, parent *Proc_t) (int, int, defs.Err_t) {
	for {
		t.mu.Acquire(h)
		haveChild := false
		for _, c := range t.procs {
			if c.State == UNUSED || c.Ppid != parent.Pid {
				continue
			}
			haveChild = true
			if c.State == ZOMBIE {
				pid := c.Pid
				status := c.ExitStatus
				t.mu.Release(h)
				parent.Accnt.Add(&c.Accnt)
				t.free(h, c)
				return pid, status, 0
			}
		}
		t.mu.Release(h)
		if !haveChild {
			return 0, 0, -defs.ESRCH
		}
		t.Yield(h, parent)
	}
}

// Kill marks pid doomed: it will observe Killed on its next blocking
// syscall or sleep/wakeup cycle and unwind toward Exit (spec §4.5
// "kill"). -defs.ESRCH if no such process.
func (t *Table_t) Kill(h *cpu.Hart_t, pid int) defs.Err_t {
	t.mu.Acquire(h)
	defer t.mu.Release(h)
	for _, p := range t.procs {
		if p.State != UNUSED && p.Pid == pid {
			p.Killed = true
			p.Doomed = true
			if p.State == SLEEPING {
				p.State = RUNNABLE
			}
			return 0
		}
	}
	return -defs.ESRCH
}

// free returns a reaped process's slot to UNUSED.
func (t *Table_t) free(h *cpu.Hart_t, p *Proc_t) {
	t.mu.Acquire(h)
	p.State = UNUSED
	p.As = nil
	p.Cwd = nil
	p.Entry = nil
	p.Ofile = [len(p.Ofile)]*file.Fd_t{}
	t.mu.Release(h)
}
