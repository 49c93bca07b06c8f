package fs

import (
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/ustr"
)

// namex walks path one component at a time from cwd (or the root if
// path is absolute), returning the final inode gotten but unlocked. If
// nameiparent is true it stops one component early and also returns
// that last component's name, for callers (create, unlink) that need
// to modify the parent directory themselves (spec §4.6 "namei /
// nameiparent").
func (fs *FS_t) namex(h *cpu.Hart_t, pid int, cwd *Inode_t, path ustr.Ustr, nameiparent bool) (*Inode_t, ustr.Ustr, defs.Err_t) {
	var ip *Inode_t
	if path.IsAbsolute() {
		ip = fs.Icache.Iget(h, fs.RootInum)
	} else {
		ip = fs.Idup(h, cwd)
	}

	rest := path
	for {
		var elem ustr.Ustr
		var ok bool
		elem, rest, ok = rest.Skipelem()
		if !ok {
			break
		}
		if err := fs.ILock(h, pid, ip); err != 0 {
			fs.Iput(h, pid, ip)
			return nil, nil, err
		}
		if ip.itype != defs.T_DIR {
			fs.IUnlock(h, ip)
			fs.Iput(h, pid, ip)
			return nil, nil, -defs.ENOTDIR
		}
		if nameiparent && len(rest) == 0 {
			// ip is the parent; stop before resolving elem itself.
			fs.IUnlock(h, ip)
			return ip, elem, 0
		}
		next, _, err := fs.Dirlookup(h, pid, ip, elem)
		fs.IUnlock(h, ip)
		if err != 0 {
			fs.Iput(h, pid, ip)
			return nil, nil, err
		}
		fs.Iput(h, pid, ip)
		ip = next
	}
	if nameiparent {
		fs.Iput(h, pid, ip)
		return nil, nil, -defs.ENOENT
	}
	return ip, nil, 0
}

// Namei resolves path to its inode (gotten, unlocked).
func (fs *FS_t) Namei(h *cpu.Hart_t, pid int, cwd *Inode_t, path ustr.Ustr) (*Inode_t, defs.Err_t) {
	ip, _, err := fs.namex(h, pid, cwd, path, false)
	return ip, err
}

// Nameiparent resolves all but the last component of path, returning
// the parent directory inode and the final component's name.
func (fs *FS_t) Nameiparent(h *cpu.Hart_t, pid int, cwd *Inode_t, path ustr.Ustr) (*Inode_t, ustr.Ustr, defs.Err_t) {
	return fs.namex(h, pid, cwd, path, true)
}
