package fs

import (
	"github.com/oichkatz/sv39kernel/internal/bio"
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
)

// balloc scans the free-block bitmap for a zero bit, starting at
// DataStart, sets it, and returns the allocated block number zeroed on
// disk (spec §4.6 "data blocks are tracked by a bitmap, one bit per
// block").
func (fs *FS_t) balloc(h *cpu.Hart_t, pid int) (int, defs.Err_t) {
	fs.ballocMu.Acquire(h)
	defer fs.ballocMu.Release(h)

	nblocks := fs.Layout.LastBlock - fs.Layout.DataStart
	for bi := 0; bi < nblocks; bi++ {
		bmBlock := fs.Layout.FreeStart + bi/(bio.BSIZE*8)
		b, err := fs.Cache.Read(h, pid, bmBlock)
		if err != 0 {
			return 0, err
		}
		byteOff := (bi % (bio.BSIZE * 8)) / 8
		bit := uint(bi % 8)
		if b.Data[byteOff]&(1<<bit) == 0 {
			b.Data[byteOff] |= 1 << bit
			fs.Log.Write(h, b)
			fs.Cache.Release(h, b)
			blkno := fs.Layout.DataStart + bi
			zb, err := fs.Cache.Read(h, pid, blkno)
			if err != 0 {
				return 0, err
			}
			for i := range zb.Data {
				zb.Data[i] = 0
			}
			fs.Log.Write(h, zb)
			fs.Cache.Release(h, zb)
			return blkno, 0
		}
		fs.Cache.Release(h, b)
	}
	return 0, -defs.ENOSPC
}

// bfree clears blkno's bit in the free-block bitmap.
func (fs *FS_t) bfree(h *cpu.Hart_t, pid int, blkno int) {
	fs.ballocMu.Acquire(h)
	defer fs.ballocMu.Release(h)

	bi := blkno - fs.Layout.DataStart
	bmBlock := fs.Layout.FreeStart + bi/(bio.BSIZE*8)
	b, err := fs.Cache.Read(h, pid, bmBlock)
	if err != 0 {
		panic("fs: bfree read failed")
	}
	byteOff := (bi % (bio.BSIZE * 8)) / 8
	bit := uint(bi % 8)
	if b.Data[byteOff]&(1<<bit) == 0 {
		panic("fs: freeing already-free block")
	}
	b.Data[byteOff] &^= 1 << bit
	fs.Log.Write(h, b)
	fs.Cache.Release(h, b)
}
