// Package bio implements the block buffer cache sitting between the
// file system and the disk (spec §4.6 "Buffer cache"). A fixed-size
// pool of blocks is kept in an LRU list, backed by pgalloc frames the
// same way the teacher backs a Bdev_block_t with a Bytepg_t, so a
// block's in-memory image is just a page the allocator already knows
// how to hand out and reclaim.
package bio

import (
	"container/list"
	"fmt"

	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/hashtable"
	"github.com/oichkatz/sv39kernel/internal/lock"
	"github.com/oichkatz/sv39kernel/internal/param"
	"github.com/oichkatz/sv39kernel/internal/pgalloc"
)

// BSIZE is the size of a disk block in bytes; it must equal the page
// size so a block's image can be backed directly by a pgalloc frame.
const BSIZE = pgalloc.PageSize

// Bdevcmd_t enumerates disk request types.
type Bdevcmd_t int

const (
	BDEV_READ Bdevcmd_t = iota
	BDEV_WRITE
)

// Req_t describes one disk request. Disk implementations signal
// completion on AckCh; Sync requests are waited on by the caller,
// async ones (used for write-back) are fired and forgotten.
type Req_t struct {
	Cmd   Bdevcmd_t
	Block int
	Data  *[BSIZE]byte
	AckCh chan bool
	Sync  bool
}

// MkRequest builds a disk request, allocating its ack channel.
func MkRequest(block int, data *[BSIZE]byte, cmd Bdevcmd_t, sync bool) *Req_t {
	return &Req_t{Cmd: cmd, Block: block, Data: data, AckCh: make(chan bool), Sync: sync}
}

// Disk_i is implemented by whatever backs the block device — a real
// disk image file in this kernel (package diskio), or a fake in tests.
// Start returns false if the request could be serviced synchronously
// without needing the caller to wait on AckCh.
type Disk_i interface {
	Start(*Req_t) bool
	Stats() string
}

// Block_t is one cached disk block.
type Block_t struct {
	sl    *lock.Sleeplock_t
	Block int
	frame pgalloc.Frame
	Data  *[BSIZE]byte
	dirty bool
}

// Lock/Unlock serialize access to a single block's contents across
// processes, matching the teacher's per-block sleeplock discipline.
func (b *Block_t) Lock(h *cpu.Hart_t, pid int) defs.Err_t { return b.sl.Acquire(h, pid) }
func (b *Block_t) Unlock(h *cpu.Hart_t)                   { b.sl.Release(h) }

// MarkDirty flags the block as modified; evict never chooses a dirty
// block.
func (b *Block_t) MarkDirty() { b.dirty = true }

// Cache_t is the fixed-size buffer cache: an LRU list of blocks,
// indexed by block number through a hashtable for O(1) lookup, exactly
// mirroring the teacher's BlkList_t plus a lookup map the teacher
// folds into the list's linear scan. NBUF bounds how much of the disk
// can be cached at once (spec §4.6 "bounded cache size").
type Cache_t struct {
	mu    *lock.Spinlock_t
	disk  Disk_i
	pages *pgalloc.Allocator_t
	lru   *list.List // of *Block_t, front = most recently used
	index *hashtable.Hashtable_t
}

// NewCache creates a buffer cache of param.NBUF blocks backed by disk.
func NewCache(disk Disk_i) *Cache_t {
	return &Cache_t{
		mu:    lock.MkSpinlock("bio.cache"),
		disk:  disk,
		pages: pgalloc.New(param.NBUF),
		lru:   list.New(),
		index: hashtable.MkHash(param.NBUF*2 + 1),
	}
}

// Read returns the cached block for blockno, locked for the caller
// (pid), reading it from disk on a cache miss.
func (c *Cache_t) Read(h *cpu.Hart_t, pid int, blockno int) (*Block_t, defs.Err_t) {
	b, err := c.get(h, blockno)
	if err != 0 {
		return nil, err
	}
	if err := b.Lock(h, pid); err != 0 {
		return nil, err
	}
	return b, 0
}

func (c *Cache_t) get(h *cpu.Hart_t, blockno int) (*Block_t, defs.Err_t) {
	c.mu.Acquire(h)
	if v, ok := c.index.Get(blockno); ok {
		el := v.(*list.Element)
		c.lru.MoveToFront(el)
		c.mu.Release(h)
		return el.Value.(*Block_t), 0
	}
	if c.lru.Len() >= param.NBUF {
		if err := c.evict(h); err != 0 {
			c.mu.Release(h)
			return nil, err
		}
	}
	f, ok := c.pages.Alloc(h)
	if !ok {
		c.mu.Release(h)
		return nil, -defs.ENOMEM
	}
	b := &Block_t{sl: lock.MkSleeplock(fmt.Sprintf("blk%d", blockno)), Block: blockno, frame: f, Data: (*[BSIZE]byte)(f.Bytes)}
	el := c.lru.PushFront(b)
	c.index.Set(blockno, el)
	c.mu.Release(h)

	req := MkRequest(blockno, b.Data, BDEV_READ, true)
	if c.disk.Start(req) {
		<-req.AckCh
	}
	return b, 0
}

// evict drops the least-recently-used clean block to make room for a
// new one; it refuses to evict a dirty block, matching the teacher's
// "never silently drop unflushed writes" invariant (spec §4.6).
func (c *Cache_t) evict(h *cpu.Hart_t) defs.Err_t {
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		b := el.Value.(*Block_t)
		if b.dirty {
			continue
		}
		c.lru.Remove(el)
		c.index.Del(b.Block)
		c.pages.Free(h, b.frame)
		return 0
	}
	return -defs.ENOMEM
}

// Release returns a locked block to the cache without writing it back;
// the caller is responsible for having called Write first if the block
// was modified.
func (c *Cache_t) Release(h *cpu.Hart_t, b *Block_t) {
	b.Unlock(h)
}

// Write marks the block dirty and immediately writes it through to
// disk, synchronously. The file system's own write-ahead log (package
// fslog) is what makes groups of these writes crash-safe; the cache
// itself is just a write-through buffer.
func (c *Cache_t) Write(h *cpu.Hart_t, b *Block_t) defs.Err_t {
	b.MarkDirty()
	req := MkRequest(b.Block, b.Data, BDEV_WRITE, true)
	if c.disk.Start(req) {
		<-req.AckCh
	}
	b.dirty = false
	return 0
}

// Stats reports the underlying disk's stats string, for the debug
// console.
func (c *Cache_t) Stats() string {
	return c.disk.Stats()
}
