// Package syscall dispatches a trapped ecall to the numbered handler
// its a7 register selects (spec §6 "ABI", §4.10 "syscall table"),
// fetching arguments out of the caller's address space and packing the
// handler's result back into the all-ones ErrAll sentinel on failure —
// the one place a nonzero Err_t becomes the single bit pattern user
// space actually sees.
package syscall

import (
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/file"
	"github.com/oichkatz/sv39kernel/internal/fs"
	"github.com/oichkatz/sv39kernel/internal/param"
	"github.com/oichkatz/sv39kernel/internal/pgalloc"
	"github.com/oichkatz/sv39kernel/internal/pipe"
	"github.com/oichkatz/sv39kernel/internal/proc"
	"github.com/oichkatz/sv39kernel/internal/ustr"
	"github.com/oichkatz/sv39kernel/internal/vm"
)

// Sys_t bundles the subsystems a syscall handler needs to reach:
// the process table (for fork/wait/kill/exit), the mounted file system
// (for every path-taking call), the device-switch table (for mknod'd
// special files), and the compiled-in program table exec dispatches
// into — the same trio the teacher's Syscall_t carries, plus Progs
// since this kernel has no ELF loader to stand in for the teacher's
// disk-backed binaries.
type Sys_t struct {
	Procs *proc.Table_t
	FS    *fs.FS_t
	Devsw *file.Devsw_t
	// Progs maps a program name (as exec's first argument names it) to
	// the Entry that runs in its place. A name absent here behaves
	// exactly like a missing binary on a real file system: ENOEXEC.
	Progs map[string]proc.Entry
}

// handler is one syscall's implementation; it returns the ABI's raw
// a0-bound result value and a kernel-internal Err_t used only for
// Dispatch's own bookkeeping.
type handler func(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t)

var table = map[int]handler{
	defs.SYS_FORK:      sysFork,
	defs.SYS_EXIT:      sysExit,
	defs.SYS_WAIT:      sysWait,
	defs.SYS_PIPE:      sysPipe,
	defs.SYS_READ:      sysRead,
	defs.SYS_KILL:      sysKill,
	defs.SYS_EXEC:      sysExec,
	defs.SYS_FSTAT:     sysFstat,
	defs.SYS_CHDIR:     sysChdir,
	defs.SYS_DUP:       sysDup,
	defs.SYS_GETPID:    sysGetpid,
	defs.SYS_SBRK:      sysSbrk,
	defs.SYS_PAUSE:     sysPause,
	defs.SYS_UPTIME:    sysUptime,
	defs.SYS_OPEN:      sysOpen,
	defs.SYS_WRITE:     sysWrite,
	defs.SYS_MKNOD:     sysMknod,
	defs.SYS_UNLINK:    sysUnlink,
	defs.SYS_LINK:      sysLink,
	defs.SYS_MKDIR:     sysMkdir,
	defs.SYS_CLOSE:     sysClose,
	defs.SYS_GETRUSAGE: sysGetrusage,
}

// Dispatch is the trap path's single entry point into this package
// (spec §4.10, §6 "a7 selects the call, a0-a5 are arguments, a0 holds
// the result"). p.Tf must already hold the trapframe the ecall
// trapped with.
func Dispatch(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) {
	entry := p.Accnt.Now()
	defer p.Accnt.Finish(entry)

	num := int(p.Tf.A7)
	fn, ok := table[num]
	if !ok {
		p.Tf.SetReturn(defs.ErrAll)
		return
	}
	ret, err := fn(s, h, p)
	if err != 0 {
		p.Tf.SetReturn(defs.ErrAll)
		return
	}
	p.Tf.SetReturn(ret)
}

// fdAlloc installs fd in the lowest-numbered free slot of p's open-file
// table, or -defs.EMFILE if it is full (spec §4.9).
func fdAlloc(p *proc.Proc_t, fd *file.Fd_t) (int, defs.Err_t) {
	for i := 0; i < param.NOFILE; i++ {
		if p.Ofile[i] == nil {
			p.Ofile[i] = fd
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

// fdGet fetches descriptor n from p's table, or -defs.EBADF.
func fdGet(p *proc.Proc_t, n int) (*file.Fd_t, defs.Err_t) {
	if n < 0 || n >= param.NOFILE || p.Ofile[n] == nil {
		return nil, -defs.EBADF
	}
	return p.Ofile[n], 0
}

// copyPath pulls a NUL-terminated path string out of user memory at
// va, bounded by param.MAXPATH (spec §4.2 "CopyInStr").
func copyPath(h *cpu.Hart_t, p *proc.Proc_t, va uint64) (ustr.Ustr, defs.Err_t) {
	buf := make([]byte, param.MAXPATH)
	n, err := p.As.CopyInStr(h, buf, uintptr(va))
	if err != 0 {
		return nil, err
	}
	return ustr.Ustr(buf[:n]), 0
}

func sysGetpid(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	return uint64(p.Pid), 0
}

func sysDup(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	old, err := fdGet(p, int(p.Tf.Arg(0)))
	if err != 0 {
		return 0, err
	}
	nfd, err := file.Copyfd(h, old)
	if err != 0 {
		return 0, err
	}
	fdno, err := fdAlloc(p, nfd)
	if err != 0 {
		return 0, err
	}
	return uint64(fdno), 0
}

func sysClose(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	n := int(p.Tf.Arg(0))
	fd, err := fdGet(p, n)
	if err != 0 {
		return 0, err
	}
	p.Ofile[n] = nil
	return 0, fd.Fops.Close(h, p.Pid)
}

func sysRead(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	fd, err := fdGet(p, int(p.Tf.Arg(0)))
	if err != 0 {
		return 0, err
	}
	n := int(p.Tf.Arg(2))
	buf := make([]byte, n)
	nread, err := fd.Fops.Read(h, p.Pid, buf)
	if err != 0 {
		return 0, err
	}
	if err := p.As.CopyOut(h, uintptr(p.Tf.Arg(1)), buf[:nread]); err != 0 {
		return 0, err
	}
	return uint64(nread), 0
}

func sysWrite(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	fd, err := fdGet(p, int(p.Tf.Arg(0)))
	if err != 0 {
		return 0, err
	}
	n := int(p.Tf.Arg(2))
	buf := make([]byte, n)
	if err := p.As.CopyIn(h, buf, uintptr(p.Tf.Arg(1))); err != 0 {
		return 0, err
	}
	nwrote, err := fd.Fops.Write(h, p.Pid, buf)
	if err != 0 {
		return 0, err
	}
	return uint64(nwrote), 0
}

func sysPipe(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	pp := pipe.New()
	rfd := &file.Fd_t{Fops: file.OpenPipeEnd(pp, true), Perms: file.FD_READ}
	wfd := &file.Fd_t{Fops: file.OpenPipeEnd(pp, false), Perms: file.FD_WRITE}
	rno, err := fdAlloc(p, rfd)
	if err != 0 {
		return 0, err
	}
	wno, err := fdAlloc(p, wfd)
	if err != 0 {
		p.Ofile[rno] = nil
		return 0, err
	}
	fds := [2]int32{int32(rno), int32(wno)}
	buf := make([]byte, 8)
	buf[0], buf[1], buf[2], buf[3] = byte(fds[0]), byte(fds[0]>>8), byte(fds[0]>>16), byte(fds[0]>>24)
	buf[4], buf[5], buf[6], buf[7] = byte(fds[1]), byte(fds[1]>>8), byte(fds[1]>>16), byte(fds[1]>>24)
	if err := p.As.CopyOut(h, uintptr(p.Tf.Arg(0)), buf); err != 0 {
		return 0, err
	}
	return 0, 0
}

func sysFork(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	child, err := s.Procs.Fork(h, p, p.As.Pages(), p.Entry)
	if err != 0 {
		return 0, err
	}
	return uint64(child.Pid), 0
}

func sysExit(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	s.Procs.ExitNow(h, p, int(p.Tf.Arg(0)))
	return 0, 0
}

func sysWait(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	pid, _, err := s.Procs.Wait(h, p)
	if err != 0 {
		return 0, err
	}
	return uint64(pid), 0
}

func sysKill(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	return 0, s.Procs.Kill(h, int(p.Tf.Arg(0)))
}

func sysChdir(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	path, err := copyPath(h, p, p.Tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	dir, err := s.FS.Namei(h, p.Pid, p.Cwd.Dir, path)
	if err != 0 {
		return 0, err
	}
	if err := s.FS.ILock(h, p.Pid, dir); err != 0 {
		s.FS.Iput(h, p.Pid, dir)
		return 0, err
	}
	if dir.Type() != defs.T_DIR {
		s.FS.IUnlock(h, dir)
		s.FS.Iput(h, p.Pid, dir)
		return 0, -defs.ENOTDIR
	}
	s.FS.IUnlock(h, dir)
	p.Cwd.Chdir(h, dir, p.Cwd.Fullpath(path))
	return 0, 0
}

func sysOpen(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	path, err := copyPath(h, p, p.Tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	flags := int(p.Tf.Arg(1))
	up := path

	var ip *fs.Inode_t
	if flags&defs.O_CREATE != 0 {
		ip, err = s.FS.Create(h, p.Pid, p.Cwd.Dir, up, defs.T_FILE, 0, 0)
		if err != 0 {
			return 0, err
		}
	} else {
		ip, err = s.FS.Namei(h, p.Pid, p.Cwd.Dir, up)
		if err != 0 {
			return 0, err
		}
		if err := s.FS.ILock(h, p.Pid, ip); err != 0 {
			s.FS.Iput(h, p.Pid, ip)
			return 0, err
		}
	}

	writable := flags&0x3 != defs.O_RDONLY
	if flags&defs.O_TRUNC != 0 && writable && ip.Type() == defs.T_FILE {
		if err := s.FS.Truncate(h, p.Pid, ip); err != 0 {
			s.FS.IUnlock(h, ip)
			s.FS.Iput(h, p.Pid, ip)
			return 0, err
		}
	}

	var backing file.File_i
	if ip.Type() == defs.T_DEV {
		backing = &file.DevFile_t{Devsw: s.Devsw, Major: ip.Major()}
	} else {
		backing = file.OpenInode(s.FS, ip, flags&0x3 != defs.O_WRONLY, writable)
	}
	s.FS.IUnlock(h, ip)

	fdno, err := fdAlloc(p, &file.Fd_t{Fops: backing, Perms: file.FD_READ | file.FD_WRITE})
	if err != 0 {
		s.FS.Iput(h, p.Pid, ip)
		return 0, err
	}
	return uint64(fdno), 0
}

func sysMknod(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	path, err := copyPath(h, p, p.Tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	major := int(p.Tf.Arg(1))
	minor := int(p.Tf.Arg(2))
	ip, err := s.FS.Create(h, p.Pid, p.Cwd.Dir, path, defs.T_DEV, major, minor)
	if err != 0 {
		return 0, err
	}
	s.FS.IUnlock(h, ip)
	s.FS.Iput(h, p.Pid, ip)
	return 0, 0
}

func sysMkdir(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	path, err := copyPath(h, p, p.Tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	ip, err := s.FS.Create(h, p.Pid, p.Cwd.Dir, path, defs.T_DIR, 0, 0)
	if err != 0 {
		return 0, err
	}
	s.FS.IUnlock(h, ip)
	s.FS.Iput(h, p.Pid, ip)
	return 0, 0
}

func sysUnlink(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	path, err := copyPath(h, p, p.Tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	return 0, s.FS.Unlink(h, p.Pid, p.Cwd.Dir, path)
}

func sysFstat(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	fd, err := fdGet(p, int(p.Tf.Arg(0)))
	if err != 0 {
		return 0, err
	}
	inf, ok := fd.Fops.(*file.InodeFile_t)
	if !ok {
		return 0, -defs.EINVAL
	}
	st := make([]byte, 32)
	if err := s.FS.ILock(h, p.Pid, inf.Ip); err != 0 {
		return 0, err
	}
	s.FS.Stat(inf.Ip,
		func(v uint) { putLe64(st[0:8], uint64(v)) },
		func(v uint) { putLe64(st[8:16], uint64(v)) },
		func(v uint) { putLe64(st[16:24], uint64(v)) },
		func(v uint) { putLe64(st[24:32], uint64(v)) },
		func(v uint) {})
	s.FS.IUnlock(h, inf.Ip)
	return 0, p.As.CopyOut(h, uintptr(p.Tf.Arg(1)), st)
}

// sysGetrusage copies the calling process's accumulated user/system
// time (spec-supplemented accounting, teacher accnt.Accnt_t) out to the
// rusage buffer named by its first argument, in the two-timeval layout
// To_rusage packs.
func sysGetrusage(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	ru := p.Accnt.Fetch()
	return 0, p.As.CopyOut(h, uintptr(p.Tf.Arg(0)), ru)
}

// sysExec replaces the calling process's image with the program named
// by its first argument (spec §4.10 "exec"): a fresh, empty address
// space stands in for the freshly-built page table a real loader would
// populate from an ELF image, and s.Progs stands in for the file
// system's directory of binaries, since this kernel hosts a process's
// program as a fixed Go closure rather than machine code loaded into
// pages. A name absent from the table fails exactly like a missing
// binary on disk, -defs.ENOEXEC, leaving the caller's current image
// untouched (spec "Fails leave the current image intact"); a name
// present in it succeeds, builds the new image, and frees the old one
// only once the new one is in place.
func sysExec(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	path, err := copyPath(h, p, p.Tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	return 0, Exec(s, h, p, string(path))
}

// Exec is sysExec's body, factored out so boot code (which has no
// trapframe to fetch a path out of) can exec a compiled-in program by
// name directly, the way it would invoke sysExec through a real ecall.
func Exec(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t, name string) defs.Err_t {
	entry, ok := s.Progs[name]
	if !ok {
		return -defs.ENOEXEC
	}
	as, err := vm.NewAddrSpace(h, p.As.Pages())
	if err != 0 {
		return err
	}
	old := p.As
	p.As = as
	p.Entry = entry
	if npages := (old.Size + pgalloc.PageSize - 1) / pgalloc.PageSize; npages > 0 {
		old.Unmap(h, 0, npages, true)
	}
	return 0
}

// sysSbrk grows or shrinks the caller's user image by n bytes (signed)
// and returns the address of the image's old end, glibc/xv6 sbrk
// semantics (spec §4.10 "sbrk").
func sysSbrk(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	n := int64(p.Tf.Arg(0))
	old := p.As.Size
	if n >= 0 {
		newsz, err := p.As.Grow(h, old, old+int(n), vm.PermR|vm.PermW)
		if err != 0 {
			return 0, err
		}
		p.As.Size = newsz
	} else {
		p.As.Size = p.As.Shrink(h, old, old+int(n))
	}
	return uint64(old), 0
}

// sysPause sleeps the caller until uptime has advanced by n ticks
// (spec §4.10 "pause (sleep n ticks)"), yielding the CPU on each
// pass until then rather than busy-waiting. Unwinds early with -defs.EKILLED if the
// caller is killed while waiting (spec §9 "unwind cleanly" poll at
// every sleep wake-up).
func sysPause(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	n := p.Tf.Arg(0)
	target := s.Procs.Uptime() + n
	for s.Procs.Uptime() < target {
		if p.Killed {
			return 0, -defs.EKILLED
		}
		s.Procs.Yield(h, p)
	}
	return 0, 0
}

// sysUptime returns ticks elapsed since boot (spec §4.10 "uptime").
func sysUptime(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	return s.Procs.Uptime(), 0
}

func sysLink(s *Sys_t, h *cpu.Hart_t, p *proc.Proc_t) (uint64, defs.Err_t) {
	oldpath, err := copyPath(h, p, p.Tf.Arg(0))
	if err != 0 {
		return 0, err
	}
	newpath, err := copyPath(h, p, p.Tf.Arg(1))
	if err != 0 {
		return 0, err
	}
	return 0, s.FS.Link(h, p.Pid, p.Cwd.Dir, oldpath, newpath)
}

func putLe64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
