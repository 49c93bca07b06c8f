// Package fs implements the on-disk file system: superblock layout,
// the inode table, directories, and path lookup (spec §4.6 "File
// system"). It sits above bio (block cache) and fslog (write-ahead
// log) the way the teacher's fs package sits above its Bdev_block_t
// cache.
package fs

import (
	"github.com/oichkatz/sv39kernel/internal/bio"
	"github.com/oichkatz/sv39kernel/internal/util"
)

// Superblock_t is the on-disk super block, one field per disk word
// (spec §4.6 "Superblock records the log, inode, and free-bitmap
// extents"). Fields are read directly from the cached block backing
// disk block 1.
type Superblock_t struct {
	Data *[bio.BSIZE]byte
}

const wordsz = 8

func fieldr(d *[bio.BSIZE]byte, i int) int {
	return util.Readn(d[:], wordsz, i*wordsz)
}

func fieldw(d *[bio.BSIZE]byte, i int, v int) {
	util.Writen(d[:], wordsz, i*wordsz, v)
}

// Loglen returns the length of the on-disk log in blocks.
func (sb *Superblock_t) Loglen() int { return fieldr(sb.Data, 0) }

// Iorphanblock returns the starting block of the orphan inode list
// (spec §4.6 "orphans: inodes unlinked while still open").
func (sb *Superblock_t) Iorphanblock() int { return fieldr(sb.Data, 1) }

// Iorphanlen returns the length of the orphan inode list in blocks.
func (sb *Superblock_t) Iorphanlen() int { return fieldr(sb.Data, 2) }

// Imaplen returns the length of the inode allocation bitmap in blocks.
func (sb *Superblock_t) Imaplen() int { return fieldr(sb.Data, 3) }

// Freeblock gives the starting block of the free data-block bitmap.
func (sb *Superblock_t) Freeblock() int { return fieldr(sb.Data, 4) }

// Freeblocklen returns the length of the free data-block bitmap.
func (sb *Superblock_t) Freeblocklen() int { return fieldr(sb.Data, 5) }

// Inodelen reports the number of blocks containing inodes.
func (sb *Superblock_t) Inodelen() int { return fieldr(sb.Data, 6) }

// Lastblock returns one past the last block on the device (its size in
// blocks).
func (sb *Superblock_t) Lastblock() int { return fieldr(sb.Data, 7) }

// SetLoglen updates the log length field.
func (sb *Superblock_t) SetLoglen(ll int) { fieldw(sb.Data, 0, ll) }

// SetIorphanblock records the starting block of the orphan list.
func (sb *Superblock_t) SetIorphanblock(n int) { fieldw(sb.Data, 1, n) }

// SetIorphanlen writes the length of the orphan list.
func (sb *Superblock_t) SetIorphanlen(n int) { fieldw(sb.Data, 2, n) }

// SetImaplen writes the length of the inode bitmap.
func (sb *Superblock_t) SetImaplen(n int) { fieldw(sb.Data, 3, n) }

// SetFreeblock stores the start block of the free-block bitmap.
func (sb *Superblock_t) SetFreeblock(n int) { fieldw(sb.Data, 4, n) }

// SetFreeblocklen writes the free-block bitmap length.
func (sb *Superblock_t) SetFreeblocklen(n int) { fieldw(sb.Data, 5, n) }

// SetInodelen writes the number of inode blocks.
func (sb *Superblock_t) SetInodelen(n int) { fieldw(sb.Data, 6, n) }

// SetLastblock stores one past the last block on the disk (its size in
// blocks).
func (sb *Superblock_t) SetLastblock(n int) { fieldw(sb.Data, 7, n) }

// Layout_t derives the absolute block ranges every other part of the
// file system needs from the superblock's relative fields, computed
// once at mount time.
type Layout_t struct {
	SuperBlock  int
	LogStart    int
	LogLen      int
	ImapStart   int
	ImapLen     int
	InodeStart  int
	InodeLen    int
	OrphanStart int
	OrphanLen   int
	FreeStart   int
	FreeLen     int
	DataStart   int
	LastBlock   int
}

// NewLayout computes a Layout_t from a mounted superblock. Block 0 is
// reserved (boot sector, unused by this kernel); block 1 is the
// superblock itself.
func NewLayout(sb *Superblock_t) Layout_t {
	const sbBlock = 1
	logStart := sbBlock + 1
	imapStart := logStart + sb.Loglen()
	inodeStart := imapStart + sb.Imaplen()
	orphanStart := sb.Iorphanblock()
	freeStart := sb.Freeblock()
	dataStart := freeStart + sb.Freeblocklen()
	return Layout_t{
		SuperBlock: sbBlock,
		LogStart:   logStart, LogLen: sb.Loglen(),
		ImapStart: imapStart, ImapLen: sb.Imaplen(),
		InodeStart: inodeStart, InodeLen: sb.Inodelen(),
		OrphanStart: orphanStart, OrphanLen: sb.Iorphanlen(),
		FreeStart: freeStart, FreeLen: sb.Freeblocklen(),
		DataStart: dataStart,
		LastBlock: sb.Lastblock(),
	}
}
