package file

import (
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/fs"
	"github.com/oichkatz/sv39kernel/internal/lock"
	"github.com/oichkatz/sv39kernel/internal/pipe"
	"github.com/oichkatz/sv39kernel/internal/ustr"
)

// File_i is whatever a file descriptor's Fops points at.
type File_i interface {
	Read(h *cpu.Hart_t, pid int, dst []byte) (int, defs.Err_t)
	Write(h *cpu.Hart_t, pid int, src []byte) (int, defs.Err_t)
	Close(h *cpu.Hart_t, pid int) defs.Err_t
	Reopen(h *cpu.Hart_t) defs.Err_t
}

// Fd_t is one entry in a process's open-file table (spec §4.9 "open
// file descriptor = permissions + backing object").
type Fd_t struct {
	Fops  File_i
	Perms int
}

const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Copyfd duplicates a descriptor for dup/dup2/fork, reopening (bumping
// the shared refcount of) the backing object.
func Copyfd(h *cpu.Hart_t, fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	if err := nfd.Fops.Reopen(h); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// Cwd_t tracks a process's current working directory inode and its
// canonical path string (used to answer getcwd-style queries).
type Cwd_t struct {
	mu   *lock.Spinlock_t
	Dir  *fs.Inode_t
	Path ustr.Ustr
}

// MkRootCwd builds a Cwd_t rooted at "/".
func MkRootCwd(root *fs.Inode_t) *Cwd_t {
	return &Cwd_t{mu: lock.MkSpinlock("cwd"), Dir: root, Path: ustr.MkUstrRoot()}
}

// Fullpath joins cwd with p unless p is already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	return cwd.Path.Extend(p)
}

// Chdir atomically replaces the working directory (serialized against
// concurrent Fullpath/Chdir calls on the same process).
func (cwd *Cwd_t) Chdir(h *cpu.Hart_t, dir *fs.Inode_t, path ustr.Ustr) {
	cwd.mu.Acquire(h)
	cwd.Dir = dir
	cwd.Path = path
	cwd.mu.Release(h)
}

// InodeFile_t is a file descriptor backed by a regular file or
// directory inode, with a private read/write cursor and a refcounted
// handle shared across dup'd descriptors (spec §4.9 "dup shares the
// offset").
type InodeFile_t struct {
	mu       *lock.Spinlock_t
	fsys     *fs.FS_t
	Ip       *fs.Inode_t
	off      int
	readable bool
	writable bool
	ref      int
}

// OpenInode wraps an already-gotten inode as a file descriptor's
// backing object.
func OpenInode(fsys *fs.FS_t, ip *fs.Inode_t, readable, writable bool) *InodeFile_t {
	return &InodeFile_t{mu: lock.MkSpinlock("inodefile"), fsys: fsys, Ip: ip, readable: readable, writable: writable, ref: 1}
}

func (f *InodeFile_t) Read(h *cpu.Hart_t, pid int, dst []byte) (int, defs.Err_t) {
	if !f.readable {
		return 0, -defs.EBADF
	}
	f.mu.Acquire(h)
	defer f.mu.Release(h)
	if err := f.fsys.ILock(h, pid, f.Ip); err != 0 {
		return 0, err
	}
	n, err := f.fsys.Readi(h, pid, f.Ip, dst, f.off)
	f.fsys.IUnlock(h, f.Ip)
	f.off += n
	return n, err
}

func (f *InodeFile_t) Write(h *cpu.Hart_t, pid int, src []byte) (int, defs.Err_t) {
	if !f.writable {
		return 0, -defs.EBADF
	}
	f.mu.Acquire(h)
	defer f.mu.Release(h)
	if err := f.fsys.ILock(h, pid, f.Ip); err != 0 {
		return 0, err
	}
	n, err := f.fsys.Writei(h, pid, f.Ip, src, f.off)
	f.fsys.IUnlock(h, f.Ip)
	f.off += n
	return n, err
}

func (f *InodeFile_t) Close(h *cpu.Hart_t, pid int) defs.Err_t {
	f.mu.Acquire(h)
	f.ref--
	last := f.ref == 0
	f.mu.Release(h)
	if last {
		f.fsys.Iput(h, pid, f.Ip)
	}
	return 0
}

func (f *InodeFile_t) Reopen(h *cpu.Hart_t) defs.Err_t {
	f.mu.Acquire(h)
	f.ref++
	f.mu.Release(h)
	return 0
}

// PipeFile_t is a file descriptor backed by one end of a pipe.
type PipeFile_t struct {
	P         *pipe.Pipe_t
	readEnd   bool
	ref       int
	mu        *lock.Spinlock_t
}

// OpenPipeEnd wraps p's read or write end as a file descriptor.
func OpenPipeEnd(p *pipe.Pipe_t, readEnd bool) *PipeFile_t {
	return &PipeFile_t{P: p, readEnd: readEnd, ref: 1, mu: lock.MkSpinlock("pipefile")}
}

func (f *PipeFile_t) Read(h *cpu.Hart_t, pid int, dst []byte) (int, defs.Err_t) {
	if !f.readEnd {
		return 0, -defs.EBADF
	}
	return f.P.Read(h, pid, dst)
}

func (f *PipeFile_t) Write(h *cpu.Hart_t, pid int, src []byte) (int, defs.Err_t) {
	if f.readEnd {
		return 0, -defs.EBADF
	}
	return f.P.Write(h, pid, src)
}

func (f *PipeFile_t) Close(h *cpu.Hart_t, pid int) defs.Err_t {
	f.mu.Acquire(h)
	f.ref--
	last := f.ref == 0
	f.mu.Release(h)
	if last {
		if f.readEnd {
			f.P.CloseRead(h)
		} else {
			f.P.CloseWrite(h)
		}
	}
	return 0
}

func (f *PipeFile_t) Reopen(h *cpu.Hart_t) defs.Err_t {
	f.mu.Acquire(h)
	f.ref++
	f.mu.Release(h)
	return 0
}

// DevFile_t is a file descriptor backed by a character device looked
// up in the device-switch table by major number.
type DevFile_t struct {
	Devsw *Devsw_t
	Major int
}

func (f *DevFile_t) Read(h *cpu.Hart_t, pid int, dst []byte) (int, defs.Err_t) {
	dev, err := f.Devsw.Lookup(f.Major)
	if err != 0 {
		return 0, err
	}
	return dev.Read(h, pid, dst)
}

func (f *DevFile_t) Write(h *cpu.Hart_t, pid int, src []byte) (int, defs.Err_t) {
	dev, err := f.Devsw.Lookup(f.Major)
	if err != 0 {
		return 0, err
	}
	return dev.Write(h, pid, src)
}

func (f *DevFile_t) Close(h *cpu.Hart_t, pid int) defs.Err_t   { return 0 }
func (f *DevFile_t) Reopen(h *cpu.Hart_t) defs.Err_t            { return 0 }
