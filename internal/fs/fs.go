package fs

import (
	"github.com/oichkatz/sv39kernel/internal/bio"
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/fslog"
	"github.com/oichkatz/sv39kernel/internal/lock"
	"github.com/oichkatz/sv39kernel/internal/ustr"
)

// RootInum is the inode number reserved for the root directory, by
// convention inode 1 (inode 0 marks "no entry" in a directory listing,
// spec §4.6 "inode 0 is never a valid file").
const RootInum = 1

// FS_t bundles everything mounted for one file system: the block
// cache, the write-ahead log, the derived on-disk layout, and the
// in-memory inode table (spec §4.6 top-level "File system").
type FS_t struct {
	Cache    *bio.Cache_t
	Log      *fslog.Log_t
	Layout   Layout_t
	Icache   *ICache_t
	RootInum int
	ballocMu *lock.Spinlock_t
}

// Mount reads the superblock from disk block 1, derives the rest of
// the layout, recovers any pending log transaction, and returns a
// ready-to-use FS_t (spec §4.6 "mount").
func Mount(h *cpu.Hart_t, disk bio.Disk_i) (*FS_t, defs.Err_t) {
	cache := bio.NewCache(disk)
	sbBlock, err := cache.Read(h, 0, 1)
	if err != 0 {
		return nil, err
	}
	sb := &Superblock_t{Data: sbBlock.Data}
	layout := NewLayout(sb)
	cache.Release(h, sbBlock)

	log := fslog.New(h, cache, layout.LogStart, layout.LogLen)
	fs := &FS_t{Cache: cache, Log: log, Layout: layout, RootInum: RootInum, ballocMu: lock.MkSpinlock("fs.balloc")}
	fs.Icache = newICache(fs)
	return fs, 0
}

// Create resolves path's parent, allocates a new inode of itype (or
// reuses the file if O_CREAT raced with a concurrent creator), links
// it into the parent directory, and returns it locked — the shared
// core of open(O_CREAT), mkdir, and mknod (spec §4.6 "create").
func (fs *FS_t) Create(h *cpu.Hart_t, pid int, cwd *Inode_t, path ustr.Ustr, itype, major, minor int) (*Inode_t, defs.Err_t) {
	if err := fs.Log.Begin(h, pid); err != 0 {
		return nil, err
	}
	defer fs.Log.End(h, pid)

	dp, name, err := fs.Nameiparent(h, pid, cwd, path)
	if err != 0 {
		return nil, err
	}
	if len(name) > ustr.DIRSIZ {
		fs.Iput(h, pid, dp)
		return nil, -defs.ENAMETOOLONG
	}
	if err := fs.ILock(h, pid, dp); err != 0 {
		fs.Iput(h, pid, dp)
		return nil, err
	}
	if existing, _, eerr := fs.Dirlookup(h, pid, dp, name); eerr == 0 {
		fs.IUnlock(h, dp)
		fs.Iput(h, pid, dp)
		if err := fs.ILock(h, pid, existing); err != 0 {
			fs.Iput(h, pid, existing)
			return nil, err
		}
		if itype == defs.T_FILE && existing.itype == defs.T_FILE {
			return existing, 0
		}
		fs.IUnlock(h, existing)
		fs.Iput(h, pid, existing)
		return nil, -defs.EEXIST
	}

	ip, err := fs.Ialloc(h, pid, itype)
	if err != 0 {
		fs.IUnlock(h, dp)
		fs.Iput(h, pid, dp)
		return nil, err
	}
	ip.major = major
	ip.minor = minor
	ip.nlink = 1
	fs.Iupdate(h, pid, ip)

	if itype == defs.T_DIR {
		dp.nlink++
		fs.Iupdate(h, pid, dp)
		if derr := fs.Dirlink(h, pid, ip, ustr.MkUstrDot(), ip.Inum); derr != 0 {
			panic("fs: create: dirlink . failed")
		}
		if derr := fs.Dirlink(h, pid, ip, ustr.DotDot, dp.Inum); derr != 0 {
			panic("fs: create: dirlink .. failed")
		}
	}
	if derr := fs.Dirlink(h, pid, dp, name, ip.Inum); derr != 0 {
		panic("fs: create: dirlink failed")
	}
	fs.IUnlock(h, dp)
	fs.Iput(h, pid, dp)
	return ip, 0
}

// Unlink removes name from its parent directory, decrementing the
// target's link count (and freeing it once both nlink and the
// in-memory refcount hit zero, via Iput). Refuses to remove a
// non-empty directory (spec §4.6 "unlink").
func (fs *FS_t) Unlink(h *cpu.Hart_t, pid int, cwd *Inode_t, path ustr.Ustr) defs.Err_t {
	if err := fs.Log.Begin(h, pid); err != 0 {
		return err
	}
	defer fs.Log.End(h, pid)

	dp, name, err := fs.Nameiparent(h, pid, cwd, path)
	if err != 0 {
		return err
	}
	if name.Isdot() || name.Isdotdot() {
		fs.Iput(h, pid, dp)
		return -defs.EPERM
	}
	if err := fs.ILock(h, pid, dp); err != 0 {
		fs.Iput(h, pid, dp)
		return err
	}
	ip, off, err := fs.Dirlookup(h, pid, dp, name)
	if err != 0 {
		fs.IUnlock(h, dp)
		fs.Iput(h, pid, dp)
		return err
	}
	if err := fs.ILock(h, pid, ip); err != 0 {
		fs.Iput(h, pid, ip)
		fs.IUnlock(h, dp)
		fs.Iput(h, pid, dp)
		return err
	}
	if ip.itype == defs.T_DIR && !fs.Dirempty(h, pid, ip) {
		fs.IUnlock(h, ip)
		fs.Iput(h, pid, ip)
		fs.IUnlock(h, dp)
		fs.Iput(h, pid, dp)
		return -defs.ENOTEMPTY
	}
	if derr := fs.Dirunlink(h, pid, dp, off); derr != 0 {
		fs.IUnlock(h, ip)
		fs.Iput(h, pid, ip)
		fs.IUnlock(h, dp)
		fs.Iput(h, pid, dp)
		return derr
	}
	if ip.itype == defs.T_DIR {
		dp.nlink--
		fs.Iupdate(h, pid, dp)
	}
	fs.IUnlock(h, dp)
	fs.Iput(h, pid, dp)

	ip.nlink--
	fs.Iupdate(h, pid, ip)
	fs.IUnlock(h, ip)
	fs.Iput(h, pid, ip)
	return 0
}

// Link creates a second directory entry, newpath, naming the same
// inode as oldpath (spec §4.6 "link", classic xv6 sys_link): it bumps
// the target's nlink before linking it into the new parent so a crash
// mid-operation never leaves an inode with a dangling too-low link
// count, and undoes the bump if the new directory entry can't be made.
func (fs *FS_t) Link(h *cpu.Hart_t, pid int, cwd *Inode_t, oldpath, newpath ustr.Ustr) defs.Err_t {
	if err := fs.Log.Begin(h, pid); err != 0 {
		return err
	}
	defer fs.Log.End(h, pid)

	ip, err := fs.Namei(h, pid, cwd, oldpath)
	if err != 0 {
		return err
	}
	if err := fs.ILock(h, pid, ip); err != 0 {
		fs.Iput(h, pid, ip)
		return err
	}
	if ip.itype == defs.T_DIR {
		fs.IUnlock(h, ip)
		fs.Iput(h, pid, ip)
		return -defs.EPERM
	}
	ip.nlink++
	fs.Iupdate(h, pid, ip)
	fs.IUnlock(h, ip)

	dp, name, err := fs.Nameiparent(h, pid, cwd, newpath)
	if err != 0 {
		fs.ILock(h, pid, ip)
		ip.nlink--
		fs.Iupdate(h, pid, ip)
		fs.IUnlock(h, ip)
		fs.Iput(h, pid, ip)
		return err
	}
	if len(name) > ustr.DIRSIZ {
		fs.Iput(h, pid, dp)
		fs.ILock(h, pid, ip)
		ip.nlink--
		fs.Iupdate(h, pid, ip)
		fs.IUnlock(h, ip)
		fs.Iput(h, pid, ip)
		return -defs.ENAMETOOLONG
	}
	if err := fs.ILock(h, pid, dp); err != 0 {
		fs.Iput(h, pid, dp)
		fs.ILock(h, pid, ip)
		ip.nlink--
		fs.Iupdate(h, pid, ip)
		fs.IUnlock(h, ip)
		fs.Iput(h, pid, ip)
		return err
	}
	derr := fs.Dirlink(h, pid, dp, name, ip.Inum)
	fs.IUnlock(h, dp)
	fs.Iput(h, pid, dp)
	if derr != 0 {
		fs.ILock(h, pid, ip)
		ip.nlink--
		fs.Iupdate(h, pid, ip)
		fs.IUnlock(h, ip)
		fs.Iput(h, pid, ip)
		return derr
	}
	fs.Iput(h, pid, ip)
	return 0
}

// Stat fills out st from ip's cached fields (spec §4.10
// "sys_stat/sys_fstat").
func (fs *FS_t) Stat(ip *Inode_t, wdev func(uint), wino func(uint), wmode func(uint), wsize func(uint), wrdev func(uint)) {
	wdev(0)
	wino(uint(ip.Inum))
	wmode(uint(ip.itype))
	wsize(uint(ip.size))
	wrdev(uint(defs.Mkdev(ip.major, ip.minor)))
}
