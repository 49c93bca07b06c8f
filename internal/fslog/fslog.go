// Package fslog implements the write-ahead log that makes multi-block
// file system updates crash-safe (spec §4.6 "Log / crash safety"). A
// system call that touches several blocks (e.g. creating a directory
// entry and updating an inode) wraps its block writes in Begin/End; the
// log buffers the blocks and installs them to their home locations only
// after a single, atomic commit record hits disk, so a crash mid-update
// is recovered by either replaying a committed transaction in full or
// discarding an uncommitted one entirely.
package fslog

import (
	"github.com/oichkatz/sv39kernel/internal/bio"
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/lock"
	"github.com/oichkatz/sv39kernel/internal/param"
)

// header is the on-disk format of the log's first block: how many
// blocks are logged, and which home block each one belongs to. A
// non-zero count found at mount time means a committed transaction
// never finished installing and must be replayed (spec §4.6 "Recovery
// replays a committed log").
type header struct {
	n      int
	blocks [param.LOGBLOCKS]int
}

func (h *header) read(raw *[bio.BSIZE]byte) {
	h.n = int(le32(raw[0:4]))
	for i := 0; i < h.n; i++ {
		h.blocks[i] = int(le32(raw[4+4*i : 8+4*i]))
	}
}

func (h *header) write(raw *[bio.BSIZE]byte) {
	putLe32(raw[0:4], uint32(h.n))
	for i := 0; i < h.n; i++ {
		putLe32(raw[4+4*i:8+4*i], uint32(h.blocks[i]))
	}
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

// Log_t is the in-memory state of the log; Start/len give the block
// range reserved for it on disk (the superblock's Loglen field, spec
// §4.6 "Superblock").
type Log_t struct {
	mu          *lock.Spinlock_t
	cache       *bio.Cache_t
	start       int
	size        int // usable blocks, excluding the header block
	outstanding int
	committing  bool
	hdr         header
	absorbed    map[int]bool // blocks already named in the current transaction
}

// New creates log state for the region [start, start+size) and
// replays any committed-but-uninstalled transaction found there.
func New(h *cpu.Hart_t, cache *bio.Cache_t, start, size int) *Log_t {
	l := &Log_t{mu: lock.MkSpinlock("fslog"), cache: cache, start: start, size: size - 1, absorbed: make(map[int]bool)}
	l.recover(h)
	return l
}

func (l *Log_t) recover(h *cpu.Hart_t) {
	hb, err := l.cache.Read(h, 0, l.start)
	if err != 0 {
		panic("fslog: cannot read header block")
	}
	l.hdr.read(hb.Data)
	l.cache.Release(h, hb)
	if l.hdr.n > 0 {
		l.installTrans(h, 0)
		l.hdr.n = 0
		l.writeHead(h)
	}
}

// Begin enters a file-system transaction, blocking while a commit is
// in flight so no new writes are absorbed mid-commit (spec §4.6
// "begin_op/end_op bracket every multi-block update"). Returns EKILLED
// without admitting the transaction if pid is killed while waiting:
// Kill doesn't touch committing/outstanding, so the admission
// condition is unchanged on wakeup and the loop would otherwise spin
// back to sleep indefinitely.
func (l *Log_t) Begin(h *cpu.Hart_t, pid int) defs.Err_t {
	l.mu.Acquire(h)
	for l.committing || (l.hdr.n+(l.outstanding+1)*param.MAXOPBLOCKS) > l.size {
		if lock.Sched.Killed(h, pid) {
			l.mu.Release(h)
			return -defs.EKILLED
		}
		lock.Sched.Sleep(h, pid, lock.ChanOf(l), l.mu)
	}
	l.outstanding++
	l.mu.Release(h)
	return 0
}

// End leaves a transaction, committing the accumulated blocks once the
// last concurrent transaction finishes (spec §4.6 "group commit").
func (l *Log_t) End(h *cpu.Hart_t, pid int) {
	commit := false
	l.mu.Acquire(h)
	l.outstanding--
	if l.committing {
		panic("fslog: commit in progress during End")
	}
	if l.outstanding == 0 {
		commit = true
		l.committing = true
	} else {
		lock.Sched.Wakeup(h, lock.ChanOf(l))
	}
	l.mu.Release(h)

	if commit {
		l.commit(h)
		l.mu.Acquire(h)
		l.committing = false
		lock.Sched.Wakeup(h, lock.ChanOf(l))
		l.mu.Release(h)
	}
}

// Write records that b has been modified within the current
// transaction; the block is pinned in the cache (MarkDirty, and the
// cache never evicts a dirty block) until commit installs it.
func (l *Log_t) Write(h *cpu.Hart_t, b *bio.Block_t) defs.Err_t {
	l.mu.Acquire(h)
	defer l.mu.Release(h)
	if l.hdr.n >= l.size || l.hdr.n >= param.LOGBLOCKS {
		return -defs.ENOMEM
	}
	if !l.absorbed[b.Block] {
		l.hdr.blocks[l.hdr.n] = b.Block
		l.hdr.n++
		l.absorbed[b.Block] = true
	}
	b.MarkDirty()
	return 0
}

// commit writes the logged blocks to the log region, writes the header
// (the atomic commit point), installs the blocks to their home
// locations, and finally clears the header — matching xv6's classic
// write-ahead log protocol (spec §4.6 "commit writes the log, then the
// header, then installs").
func (l *Log_t) commit(h *cpu.Hart_t) {
	if l.hdr.n == 0 {
		return
	}
	l.writeLog(h)
	l.writeHead(h)
	l.installTrans(h, -1)
	l.hdr.n = 0
	l.absorbed = make(map[int]bool)
	l.writeHead(h)
}

func (l *Log_t) writeLog(h *cpu.Hart_t) {
	for i := 0; i < l.hdr.n; i++ {
		from, err := l.cache.Read(h, 0, l.hdr.blocks[i])
		if err != 0 {
			panic("fslog: read during commit failed")
		}
		to, err := l.cache.Read(h, 0, l.start+1+i)
		if err != 0 {
			panic("fslog: read log slot failed")
		}
		*to.Data = *from.Data
		l.cache.Write(h, to)
		l.cache.Release(h, to)
		l.cache.Release(h, from)
	}
}

func (l *Log_t) writeHead(h *cpu.Hart_t) {
	hb, err := l.cache.Read(h, 0, l.start)
	if err != 0 {
		panic("fslog: read header block failed")
	}
	l.hdr.write(hb.Data)
	l.cache.Write(h, hb)
	l.cache.Release(h, hb)
}

// installTrans copies every logged block from the log region to its
// home location. recoverPid distinguishes a boot-time recovery (no
// live process yet, pid unused beyond cache bookkeeping) from an
// in-transaction commit only for readability; both paths do the same
// copy.
func (l *Log_t) installTrans(h *cpu.Hart_t, recoverPid int) {
	n := l.hdr.n
	for i := 0; i < n; i++ {
		from, err := l.cache.Read(h, 0, l.start+1+i)
		if err != 0 {
			panic("fslog: read log slot during install failed")
		}
		to, err := l.cache.Read(h, 0, l.hdr.blocks[i])
		if err != 0 {
			panic("fslog: read home block during install failed")
		}
		*to.Data = *from.Data
		l.cache.Write(h, to)
		l.cache.Release(h, to)
		l.cache.Release(h, from)
	}
}
