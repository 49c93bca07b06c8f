package fslog

import (
	"testing"

	"github.com/oichkatz/sv39kernel/internal/bio"
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/lock"
)

type killedSched struct{}

func (killedSched) Sleep(h *cpu.Hart_t, pid int, ch lock.Chan, mu *lock.Spinlock_t) {
	mu.Release(h)
	mu.Acquire(h)
}
func (killedSched) Wakeup(h *cpu.Hart_t, ch lock.Chan)  {}
func (killedSched) Killed(h *cpu.Hart_t, pid int) bool { return true }

type inlineSched struct{}

func (inlineSched) Sleep(h *cpu.Hart_t, pid int, ch lock.Chan, mu *lock.Spinlock_t) {
	mu.Release(h)
	mu.Acquire(h)
}
func (inlineSched) Wakeup(h *cpu.Hart_t, ch lock.Chan)  {}
func (inlineSched) Killed(h *cpu.Hart_t, pid int) bool { return false }

func init() { lock.Sched = inlineSched{} }

type memDisk struct{ blocks map[int]*[bio.BSIZE]byte }

func newMemDisk() *memDisk { return &memDisk{blocks: make(map[int]*[bio.BSIZE]byte)} }

func (d *memDisk) Start(r *bio.Req_t) bool {
	switch r.Cmd {
	case bio.BDEV_READ:
		if b, ok := d.blocks[r.Block]; ok {
			*r.Data = *b
		}
	case bio.BDEV_WRITE:
		cp := *r.Data
		d.blocks[r.Block] = &cp
	}
	close(r.AckCh)
	return true
}
func (d *memDisk) Stats() string { return "mem" }

func TestCommitInstallsBlocks(t *testing.T) {
	h := cpu.NewHart(0)
	cache := bio.NewCache(newMemDisk())
	l := New(h, cache, 10, 16)

	l.Begin(h, 1)
	b, _ := cache.Read(h, 1, 100)
	b.Data[0] = 0x99
	l.Write(h, b)
	cache.Release(h, b)
	l.End(h, 1)

	b2, _ := cache.Read(h, 1, 100)
	if b2.Data[0] != 0x99 {
		t.Fatalf("expected installed write, got %#x", b2.Data[0])
	}
	cache.Release(h, b2)
}

func TestBeginUnwindsOnKill(t *testing.T) {
	old := lock.Sched
	lock.Sched = killedSched{}
	defer func() { lock.Sched = old }()

	h := cpu.NewHart(0)
	cache := bio.NewCache(newMemDisk())
	l := New(h, cache, 10, 8)

	l.committing = true
	if err := l.Begin(h, 7); err != -defs.EKILLED {
		t.Fatalf("expected EKILLED, got %d", err)
	}
}

func TestRecoveryReplaysCommittedLog(t *testing.T) {
	h := cpu.NewHart(0)
	disk := newMemDisk()
	// Leave a committed transaction on disk that was never installed:
	// the header (block 10) names home block 200, and the first log
	// slot (block 11) holds its new contents.
	var hdr, slot [bio.BSIZE]byte
	putLe32(hdr[0:4], 1)
	putLe32(hdr[4:8], 200)
	slot[0] = 0x77
	disk.blocks[10] = &hdr
	disk.blocks[11] = &slot

	// Simulate a fresh boot against the same disk image.
	cache2 := bio.NewCache(disk)
	New(h, cache2, 10, 8)
	b2, _ := cache2.Read(h, 1, 200)
	if b2.Data[0] != 0x77 {
		t.Fatalf("expected recovered write, got %#x", b2.Data[0])
	}
	cache2.Release(h, b2)
}
