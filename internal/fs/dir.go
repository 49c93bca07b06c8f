package fs

import (
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/ustr"
)

// dirEntSz is the on-disk size of one directory entry: a 2-byte inode
// number followed by a fixed-width, NUL-padded name (spec §4.6
// "directories are files containing fixed-size entries").
const dirEntSz = 2 + ustr.DIRSIZ

func readDirEnt(b []byte) (inum int, name ustr.Ustr) {
	inum = int(b[0]) | int(b[1])<<8
	n := 0
	for n < ustr.DIRSIZ && b[2+n] != 0 {
		n++
	}
	name = ustr.Ustr(append([]byte{}, b[2:2+n]...))
	return
}

func writeDirEnt(b []byte, inum int, name ustr.Ustr) {
	b[0] = byte(inum)
	b[1] = byte(inum >> 8)
	for i := 2; i < dirEntSz; i++ {
		b[i] = 0
	}
	n := len(name)
	if n > ustr.DIRSIZ {
		n = ustr.DIRSIZ
	}
	copy(b[2:2+n], name[:n])
}

// Dirlookup searches directory inode dp for name, returning the
// matching inode (gotten, not locked) and the byte offset of its
// entry within dp.
func (fs *FS_t) Dirlookup(h *cpu.Hart_t, pid int, dp *Inode_t, name ustr.Ustr) (*Inode_t, int, defs.Err_t) {
	if dp.itype != defs.T_DIR {
		return nil, 0, -defs.ENOTDIR
	}
	buf := make([]byte, dirEntSz)
	for off := 0; off < dp.size; off += dirEntSz {
		n, err := fs.Readi(h, pid, dp, buf, off)
		if err != 0 || n != dirEntSz {
			break
		}
		inum, ename := readDirEnt(buf)
		if inum != 0 && ename.Eq(name) {
			return fs.Icache.Iget(h, inum), off, 0
		}
	}
	return nil, 0, -defs.ENOENT
}

// Dirlink adds an entry (name -> inum) to directory dp, reusing a free
// slot if one exists or appending otherwise. Returns EEXIST if name is
// already present, ENAMETOOLONG if name exceeds DIRSIZ (spec §8 "15+ is
// rejected at link time").
func (fs *FS_t) Dirlink(h *cpu.Hart_t, pid int, dp *Inode_t, name ustr.Ustr, inum int) defs.Err_t {
	if len(name) > ustr.DIRSIZ {
		return -defs.ENAMETOOLONG
	}
	if ip, _, err := fs.Dirlookup(h, pid, dp, name); err == 0 {
		fs.Iput(h, pid, ip)
		return -defs.EEXIST
	}
	buf := make([]byte, dirEntSz)
	off := 0
	for ; off < dp.size; off += dirEntSz {
		n, err := fs.Readi(h, pid, dp, buf, off)
		if err != 0 || n != dirEntSz {
			break
		}
		if inum0, _ := readDirEnt(buf); inum0 == 0 {
			break
		}
	}
	writeDirEnt(buf, inum, name)
	if _, err := fs.Writei(h, pid, dp, buf, off); err != 0 {
		return err
	}
	return 0
}

// Dirunlink clears the entry at byte offset off within dp, used by
// unlink/rmdir (spec §4.6 "unlink clears the entry, decrements nlink").
func (fs *FS_t) Dirunlink(h *cpu.Hart_t, pid int, dp *Inode_t, off int) defs.Err_t {
	buf := make([]byte, dirEntSz)
	writeDirEnt(buf, 0, ustr.MkUstr())
	_, err := fs.Writei(h, pid, dp, buf, off)
	return err
}

// Dirempty reports whether directory dp contains only "." and "..".
func (fs *FS_t) Dirempty(h *cpu.Hart_t, pid int, dp *Inode_t) bool {
	buf := make([]byte, dirEntSz)
	for off := 2 * dirEntSz; off < dp.size; off += dirEntSz {
		n, err := fs.Readi(h, pid, dp, buf, off)
		if err != 0 || n != dirEntSz {
			return false
		}
		if inum, _ := readDirEnt(buf); inum != 0 {
			return false
		}
	}
	return true
}
