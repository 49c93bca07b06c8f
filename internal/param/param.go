// Package param collects the compile-time constants that size every
// fixed-capacity kernel table. The teacher keeps an analogous set of
// runtime-tunable fields on limits.Syslimit_t; this kernel has no config
// file to populate such a struct from, so the same concerns collapse to
// plain constants, the way xv6's param.h does.
package param

const (
	// NCPU is the number of harts the scheduler multiplexes across.
	NCPU = 8

	// NPROC bounds the process table (spec §3 "Process slot").
	NPROC = 64

	// NOFILE bounds a single process's open-file table (spec §4.9).
	NOFILE = 16

	// NFILE bounds the system-wide file-object table (spec §4.9).
	NFILE = 100

	// NBUF bounds the buffer cache (spec §4.6).
	NBUF = 30

	// NINODE bounds the in-memory inode table (spec §4.8).
	NINODE = 50

	// NDEV bounds the device-switch table (spec §4.9); device majors
	// must be smaller than this.
	NDEV = 16

	// ROOTDEV is the fixed root device number (spec §6 "Environment").
	ROOTDEV = 1

	// MAXARG bounds the number of argv entries exec will walk.
	MAXARG = 32

	// MAXPATH bounds a single path string copied in from user memory.
	MAXPATH = 128

	// MAXOPBLOCKS bounds the number of distinct blocks a single log
	// transaction may touch (spec §4.7, §4.9 "chunked to stay under").
	MAXOPBLOCKS = 10

	// LOGBLOCKS bounds the on-disk log region, header block included
	// (spec §6 disk layout).
	LOGBLOCKS = (MAXOPBLOCKS + 1) * 3

	// TICKINTERVAL is conceptually how often the timer fires; the unit
	// is left to whatever clock source the platform wires in (spec §6).
	TICKINTERVAL = 1

	// KSTACKPAGES is the number of guarded pages backing each
	// process's kernel stack (spec §3 "Address space", kernel kind).
	KSTACKPAGES = 1
)
