package fs

import (
	"github.com/oichkatz/sv39kernel/internal/bio"
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/lock"
	"github.com/oichkatz/sv39kernel/internal/param"
	"github.com/oichkatz/sv39kernel/internal/util"
)

// NDIRECT is the number of direct block pointers in a dinode; one
// further pointer is indirect, giving a max file size of NDIRECT +
// NINDIRECT blocks (spec §4.6 "inode addressing: direct + single
// indirect").
const NDIRECT = 10
const NINDIRECT = bio.BSIZE / 4
const MaxFileBlocks = NDIRECT + NINDIRECT

// dinodeSz is the on-disk size of one inode record; IPB inodes fit per
// block.
const dinodeSz = 64
const IPB = bio.BSIZE / dinodeSz

// dinode is the on-disk inode layout: fixed-width fields packed at the
// start of a dinodeSz-byte record, matching the teacher's Readn/Writen
// word-at-a-time field access used for the superblock.
type dinode struct {
	itype int
	major int
	minor int
	nlink int
	size  int
	addrs [NDIRECT + 1]int
}

func inodeOffset(layout Layout_t, inum int) (block int, idx int) {
	block = layout.InodeStart + inum/IPB
	idx = (inum % IPB) * dinodeSz
	return
}

func readDinode(d *[bio.BSIZE]byte, idx int) dinode {
	var di dinode
	di.itype = util.Readn(d[:], 2, idx+0)
	di.major = util.Readn(d[:], 2, idx+2)
	di.minor = util.Readn(d[:], 2, idx+4)
	di.nlink = util.Readn(d[:], 2, idx+6)
	di.size = util.Readn(d[:], 4, idx+8)
	for i := 0; i < NDIRECT+1; i++ {
		di.addrs[i] = util.Readn(d[:], 4, idx+12+4*i)
	}
	return di
}

func writeDinode(d *[bio.BSIZE]byte, idx int, di dinode) {
	util.Writen(d[:], 2, idx+0, di.itype)
	util.Writen(d[:], 2, idx+2, di.major)
	util.Writen(d[:], 2, idx+4, di.minor)
	util.Writen(d[:], 2, idx+6, di.nlink)
	util.Writen(d[:], 4, idx+8, di.size)
	for i := 0; i < NDIRECT+1; i++ {
		util.Writen(d[:], 4, idx+12+4*i, di.addrs[i])
	}
}

// Inode_t is the in-memory image of one inode, cached across opens so
// concurrent file descriptors on the same file observe each other's
// writes immediately (spec §4.6 "one in-memory inode per inum, shared
// and refcounted").
type Inode_t struct {
	sl    *lock.Sleeplock_t
	refmu *lock.Spinlock_t
	Inum  int
	ref   int
	valid bool
	dinode
}

// Type/Nlink/Size expose the cached fields; callers must hold the
// inode locked (via Lock) to read a value written concurrently.
func (ip *Inode_t) Type() int  { return ip.itype }
func (ip *Inode_t) Major() int { return ip.major }
func (ip *Inode_t) Minor() int { return ip.minor }
func (ip *Inode_t) Nlink() int { return ip.nlink }
func (ip *Inode_t) Size() int  { return ip.size }

func (ip *Inode_t) Lock(h *cpu.Hart_t, pid int) defs.Err_t { return ip.sl.Acquire(h, pid) }
func (ip *Inode_t) Unlock(h *cpu.Hart_t)                   { ip.sl.Release(h) }

// ICache_t is the fixed-size in-memory inode table (spec §4.6 "inode
// cache bounds the number of inodes active at once", param.NINODE).
type ICache_t struct {
	mu     *lock.Spinlock_t
	fs     *FS_t
	inodes []*Inode_t
}

func newICache(fs *FS_t) *ICache_t {
	c := &ICache_t{mu: lock.MkSpinlock("fs.icache"), fs: fs}
	c.inodes = make([]*Inode_t, param.NINODE)
	for i := range c.inodes {
		c.inodes[i] = &Inode_t{sl: lock.MkSleeplock("inode"), refmu: lock.MkSpinlock("inode.ref")}
	}
	return c
}

// Iget returns the in-memory inode for inum, bumping its refcount. The
// inode's fields are not guaranteed populated from disk until the
// caller locks it (spec §4.6 "iget is cheap; disk reads are deferred
// to ilock").
func (c *ICache_t) Iget(h *cpu.Hart_t, inum int) *Inode_t {
	c.mu.Acquire(h)
	var empty *Inode_t
	for _, ip := range c.inodes {
		if ip.ref > 0 && ip.Inum == inum {
			ip.ref++
			c.mu.Release(h)
			return ip
		}
		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}
	if empty == nil {
		c.mu.Release(h)
		panic("fs: inode cache exhausted")
	}
	empty.Inum = inum
	empty.ref = 1
	empty.valid = false
	c.mu.Release(h)
	return empty
}
