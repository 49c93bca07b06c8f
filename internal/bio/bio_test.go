package bio

import (
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/lock"
	"github.com/oichkatz/sv39kernel/internal/param"
	"testing"
)

type inlineSched struct{}

func (inlineSched) Sleep(h *cpu.Hart_t, pid int, ch lock.Chan, mu *lock.Spinlock_t) {
	mu.Release(h)
	mu.Acquire(h)
}
func (inlineSched) Wakeup(h *cpu.Hart_t, ch lock.Chan)  {}
func (inlineSched) Killed(h *cpu.Hart_t, pid int) bool { return false }

func init() { lock.Sched = inlineSched{} }

type memDisk struct {
	blocks map[int]*[BSIZE]byte
}

func newMemDisk() *memDisk { return &memDisk{blocks: make(map[int]*[BSIZE]byte)} }

func (d *memDisk) Start(r *Req_t) bool {
	switch r.Cmd {
	case BDEV_READ:
		if b, ok := d.blocks[r.Block]; ok {
			*r.Data = *b
		}
	case BDEV_WRITE:
		cp := *r.Data
		d.blocks[r.Block] = &cp
	}
	close(r.AckCh)
	return true
}

func (d *memDisk) Stats() string { return "memDisk" }

func TestReadWriteRoundtrip(t *testing.T) {
	h := cpu.NewHart(0)
	c := NewCache(newMemDisk())
	b, err := c.Read(h, 1, 5)
	if err != 0 {
		t.Fatalf("read failed: %d", err)
	}
	b.Data[0] = 0x42
	if err := c.Write(h, b); err != 0 {
		t.Fatalf("write failed: %d", err)
	}
	c.Release(h, b)

	b2, err := c.Read(h, 1, 5)
	if err != 0 {
		t.Fatalf("reread failed: %d", err)
	}
	if b2.Data[0] != 0x42 {
		t.Fatalf("expected persisted byte, got %#x", b2.Data[0])
	}
	c.Release(h, b2)
}

func TestEvictionRefusesDirty(t *testing.T) {
	h := cpu.NewHart(0)
	c := NewCache(newMemDisk())
	// Fill the cache beyond capacity, leaving every block dirty.
	for i := 0; i < 40; i++ {
		b, err := c.Read(h, 1, i)
		if err != 0 {
			// Expected once the cache is full of unevictable dirty blocks.
			return
		}
		b.MarkDirty()
		c.Release(h, b)
	}
	t.Fatalf("expected a Read to fail once all %d cached blocks were dirty", param.NBUF)
}
