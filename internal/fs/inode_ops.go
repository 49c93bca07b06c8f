package fs

import (
	"github.com/oichkatz/sv39kernel/internal/bio"
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
)

// ILock reads the inode's fields from disk into the in-memory cache
// entry (if not already cached), returning it locked for pid. Returns
// EKILLED without reading if pid is killed while waiting for the lock.
func (fs *FS_t) ILock(h *cpu.Hart_t, pid int, ip *Inode_t) defs.Err_t {
	if err := ip.Lock(h, pid); err != 0 {
		return err
	}
	if ip.valid {
		return 0
	}
	block, idx := inodeOffset(fs.Layout, ip.Inum)
	b, err := fs.Cache.Read(h, pid, block)
	if err != 0 {
		ip.Unlock(h)
		return err
	}
	ip.dinode = readDinode(b.Data, idx)
	fs.Cache.Release(h, b)
	ip.valid = true
	return 0
}

// IUnlock releases the inode's lock without touching its refcount.
func (fs *FS_t) IUnlock(h *cpu.Hart_t, ip *Inode_t) {
	ip.Unlock(h)
}

// Iupdate writes the in-memory inode's fields back to its disk block
// within the caller's active transaction (spec §4.6 "every inode
// mutation goes through the log").
func (fs *FS_t) Iupdate(h *cpu.Hart_t, pid int, ip *Inode_t) {
	block, idx := inodeOffset(fs.Layout, ip.Inum)
	b, err := fs.Cache.Read(h, pid, block)
	if err != 0 {
		panic("fs: iupdate read failed")
	}
	writeDinode(b.Data, idx, ip.dinode)
	fs.Log.Write(h, b)
	fs.Cache.Release(h, b)
}

// Iput drops a reference to ip; when the refcount and link count both
// reach zero the inode's blocks are freed and its slot marked free on
// disk (spec §4.6 "delete on last close of a fully-unlinked file").
func (fs *FS_t) Iput(h *cpu.Hart_t, pid int, ip *Inode_t) {
	ip.refmu.Acquire(h)
	if ip.ref == 1 && ip.valid && ip.nlink == 0 {
		ip.refmu.Release(h)
		fs.ILock(h, pid, ip)
		fs.itrunc(h, pid, ip)
		ip.itype = defs.T_FREE
		fs.Iupdate(h, pid, ip)
		ip.valid = false
		fs.IUnlock(h, ip)
		ip.refmu.Acquire(h)
	}
	ip.ref--
	ip.refmu.Release(h)
}

// Idup bumps ip's refcount and returns ip (namex uses it to take its
// own reference on the starting directory).
func (fs *FS_t) Idup(h *cpu.Hart_t, ip *Inode_t) *Inode_t {
	ip.refmu.Acquire(h)
	ip.ref++
	ip.refmu.Release(h)
	return ip
}

// Ialloc finds a free inode slot of the given type, marks it in use,
// and returns it locked for pid. It scans the inode table linearly
// rather than through the superblock's inode bitmap, matching the
// teacher's preference for the simplest correct allocator over a more
// elaborate one (spec §9 Non-goals: "no defragmentation or clever
// placement policy").
func (fs *FS_t) Ialloc(h *cpu.Hart_t, pid int, itype int) (*Inode_t, defs.Err_t) {
	for inum := 1; inum < fs.Layout.InodeLen*IPB; inum++ {
		block, idx := inodeOffset(fs.Layout, inum)
		b, err := fs.Cache.Read(h, pid, block)
		if err != 0 {
			return nil, err
		}
		di := readDinode(b.Data, idx)
		if di.itype == defs.T_FREE {
			di = dinode{itype: itype}
			writeDinode(b.Data, idx, di)
			fs.Log.Write(h, b)
			fs.Cache.Release(h, b)
			ip := fs.Icache.Iget(h, inum)
			if err := fs.ILock(h, pid, ip); err != 0 {
				fs.Iput(h, pid, ip)
				return nil, err
			}
			return ip, 0
		}
		fs.Cache.Release(h, b)
	}
	return nil, -defs.ENOMEM
}

// bmap returns the disk block backing the bn'th block of ip's file,
// allocating it (and, for bn >= NDIRECT, the indirect block) on first
// use.
func (fs *FS_t) bmap(h *cpu.Hart_t, pid int, ip *Inode_t, bn int) (int, defs.Err_t) {
	if bn < NDIRECT {
		if ip.addrs[bn] == 0 {
			blk, err := fs.balloc(h, pid)
			if err != 0 {
				return 0, err
			}
			ip.addrs[bn] = blk
		}
		return ip.addrs[bn], 0
	}
	bn -= NDIRECT
	if bn >= NINDIRECT {
		return 0, -defs.EINVAL
	}
	if ip.addrs[NDIRECT] == 0 {
		blk, err := fs.balloc(h, pid)
		if err != 0 {
			return 0, err
		}
		ip.addrs[NDIRECT] = blk
	}
	ib, err := fs.Cache.Read(h, pid, ip.addrs[NDIRECT])
	if err != 0 {
		return 0, err
	}
	defer fs.Cache.Release(h, ib)
	off := bn * 4
	addr := le32(ib.Data[off : off+4])
	if addr == 0 {
		blk, err := fs.balloc(h, pid)
		if err != 0 {
			return 0, err
		}
		putLe32(ib.Data[off:off+4], uint32(blk))
		fs.Log.Write(h, ib)
		return blk, 0
	}
	return int(addr), 0
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLe32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Truncate resets ip to zero length and frees its data blocks (spec
// §4.10 "open ... O_TRUNC"). ip must already be locked for pid; unlike
// itrunc's other caller (Iput, which runs inside its own caller's
// transaction), Truncate opens its own log transaction since nothing
// else is guaranteed to be holding one at the open() syscall boundary.
func (fs *FS_t) Truncate(h *cpu.Hart_t, pid int, ip *Inode_t) defs.Err_t {
	if err := fs.Log.Begin(h, pid); err != 0 {
		return err
	}
	fs.itrunc(h, pid, ip)
	fs.Log.End(h, pid)
	return 0
}

// itrunc frees every block reachable from ip, direct and indirect, and
// resets its size to zero.
func (fs *FS_t) itrunc(h *cpu.Hart_t, pid int, ip *Inode_t) {
	for i := 0; i < NDIRECT; i++ {
		if ip.addrs[i] != 0 {
			fs.bfree(h, pid, ip.addrs[i])
			ip.addrs[i] = 0
		}
	}
	if ip.addrs[NDIRECT] != 0 {
		ib, err := fs.Cache.Read(h, pid, ip.addrs[NDIRECT])
		if err == 0 {
			for off := 0; off < bio.BSIZE; off += 4 {
				addr := le32(ib.Data[off : off+4])
				if addr != 0 {
					fs.bfree(h, pid, int(addr))
				}
			}
			fs.Cache.Release(h, ib)
		}
		fs.bfree(h, pid, ip.addrs[NDIRECT])
		ip.addrs[NDIRECT] = 0
	}
	ip.size = 0
	fs.Iupdate(h, pid, ip)
}

// Readi copies up to len(dst) bytes from ip starting at off into dst,
// returning the number of bytes actually read (short at EOF).
func (fs *FS_t) Readi(h *cpu.Hart_t, pid int, ip *Inode_t, dst []byte, off int) (int, defs.Err_t) {
	if off > ip.size {
		return 0, 0
	}
	n := len(dst)
	if off+n > ip.size {
		n = ip.size - off
	}
	total := 0
	for total < n {
		bn := (off + total) / bio.BSIZE
		boff := (off + total) % bio.BSIZE
		blk, err := fs.bmap(h, pid, ip, bn)
		if err != 0 {
			return total, err
		}
		b, err := fs.Cache.Read(h, pid, blk)
		if err != 0 {
			return total, err
		}
		m := bio.BSIZE - boff
		if m > n-total {
			m = n - total
		}
		copy(dst[total:total+m], b.Data[boff:boff+m])
		fs.Cache.Release(h, b)
		total += m
	}
	return total, 0
}

// Writei writes src into ip starting at off, growing the file (and its
// size field) as needed, up to MaxFileBlocks blocks.
func (fs *FS_t) Writei(h *cpu.Hart_t, pid int, ip *Inode_t, src []byte, off int) (int, defs.Err_t) {
	if off+len(src) > MaxFileBlocks*bio.BSIZE {
		return 0, -defs.EFBIG
	}
	total := 0
	for total < len(src) {
		bn := (off + total) / bio.BSIZE
		boff := (off + total) % bio.BSIZE
		blk, err := fs.bmap(h, pid, ip, bn)
		if err != 0 {
			return total, err
		}
		b, err := fs.Cache.Read(h, pid, blk)
		if err != 0 {
			return total, err
		}
		m := bio.BSIZE - boff
		if m > len(src)-total {
			m = len(src) - total
		}
		copy(b.Data[boff:boff+m], src[total:total+m])
		fs.Log.Write(h, b)
		fs.Cache.Release(h, b)
		total += m
	}
	if off+total > ip.size {
		ip.size = off + total
	}
	fs.Iupdate(h, pid, ip)
	return total, 0
}
