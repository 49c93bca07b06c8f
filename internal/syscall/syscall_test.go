package syscall

import (
	"testing"

	"github.com/oichkatz/sv39kernel/internal/bio"
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/file"
	"github.com/oichkatz/sv39kernel/internal/fs"
	"github.com/oichkatz/sv39kernel/internal/lock"
	"github.com/oichkatz/sv39kernel/internal/pgalloc"
	"github.com/oichkatz/sv39kernel/internal/proc"
	"github.com/oichkatz/sv39kernel/internal/vm"
)

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

// writeUserPage maps one page at va in p's address space and copies
// data into it, returning the mapped va for use as a syscall argument.
func writeUserPage(t *testing.T, h *cpu.Hart_t, p *proc.Proc_t, va uintptr, data []byte) {
	t.Helper()
	f, ok := p.As.Pages().Alloc(h)
	if !ok {
		t.Fatalf("out of frames")
	}
	pa := p.As.Pages().PA(f)
	if err := p.As.Map(h, va, pa, pgalloc.PageSize, vm.PermR|vm.PermW|vm.PermU); err != 0 {
		t.Fatalf("map failed: %d", err)
	}
	if err := p.As.CopyOut(h, va, data); err != 0 {
		t.Fatalf("copyout failed: %d", err)
	}
}

func setup(t *testing.T) (*Sys_t, *proc.Table_t, *cpu.Hart_t, *proc.Proc_t) {
	t.Helper()
	h := cpu.NewHart(0)
	fsys, err := fs.Mkfs(h, newMemDisk(), 2000, 16, 1, 26, 4)
	if err != 0 {
		t.Fatalf("mkfs failed: %d", err)
	}
	devsw := file.NewDevsw()
	tbl := proc.NewTable()
	pages := pgalloc.New(256)
	root := fsys.Icache.Iget(h, fs.RootInum)
	p, err := tbl.Spawn(h, pages, file.MkRootCwd(root), func(h *cpu.Hart_t, p *proc.Proc_t) {})
	if err != 0 {
		t.Fatalf("spawn failed: %d", err)
	}
	return &Sys_t{Procs: tbl, FS: fsys, Devsw: devsw}, tbl, h, p
}

func TestGetpidDispatch(t *testing.T) {
	s, _, h, p := setup(t)
	p.Tf.A7 = uint64(defs.SYS_GETPID)
	Dispatch(s, h, p)
	if p.Tf.A0 != uint64(p.Pid) {
		t.Fatalf("expected getpid to return %d, got %d", p.Pid, p.Tf.A0)
	}
}

func TestOpenCreateWriteReadRoundtrip(t *testing.T) {
	s, _, h, p := setup(t)
	const va = 0x1000
	writeUserPage(t, h, p, va, []byte("hello.txt\x00"))

	p.Tf.A7 = uint64(defs.SYS_OPEN)
	p.Tf.A0 = va
	p.Tf.A1 = uint64(defs.O_CREATE | defs.O_RDWR)
	Dispatch(s, h, p)
	if p.Tf.A0 == defs.ErrAll {
		t.Fatalf("open failed")
	}
	fdno := p.Tf.A0

	const wva = 0x2000
	writeUserPage(t, h, p, wva, []byte("kernel data"))
	p.Tf.A7 = uint64(defs.SYS_WRITE)
	p.Tf.A0 = fdno
	p.Tf.A1 = wva
	p.Tf.A2 = uint64(len("kernel data"))
	Dispatch(s, h, p)
	if p.Tf.A0 != uint64(len("kernel data")) {
		t.Fatalf("write returned %d", p.Tf.A0)
	}

	p.Tf.A7 = uint64(defs.SYS_CLOSE)
	p.Tf.A0 = fdno
	Dispatch(s, h, p)

	p.Tf.A7 = uint64(defs.SYS_OPEN)
	p.Tf.A0 = va
	p.Tf.A1 = uint64(defs.O_RDONLY)
	Dispatch(s, h, p)
	fdno = p.Tf.A0

	const rva = 0x3000
	f, _ := p.As.Pages().Alloc(h)
	pa := p.As.Pages().PA(f)
	p.As.Map(h, rva, pa, pgalloc.PageSize, vm.PermR|vm.PermW|vm.PermU)

	p.Tf.A7 = uint64(defs.SYS_READ)
	p.Tf.A0 = fdno
	p.Tf.A1 = rva
	p.Tf.A2 = uint64(len("kernel data"))
	Dispatch(s, h, p)
	if p.Tf.A0 != uint64(len("kernel data")) {
		t.Fatalf("read returned %d", p.Tf.A0)
	}

	got := make([]byte, len("kernel data"))
	if err := p.As.CopyIn(h, got, rva); err != 0 {
		t.Fatalf("copyin failed: %d", err)
	}
	if string(got) != "kernel data" {
		t.Fatalf("roundtrip mismatch: got %q", got)
	}
}

func TestOpenTruncTruncatesExistingContent(t *testing.T) {
	s, _, h, p := setup(t)
	const va = 0x1000
	writeUserPage(t, h, p, va, []byte("trunc.txt\x00"))

	p.Tf.A7 = uint64(defs.SYS_OPEN)
	p.Tf.A0 = va
	p.Tf.A1 = uint64(defs.O_CREATE | defs.O_RDWR)
	Dispatch(s, h, p)
	if p.Tf.A0 == defs.ErrAll {
		t.Fatalf("create failed")
	}
	fdno := p.Tf.A0

	const wva = 0x2000
	writeUserPage(t, h, p, wva, []byte("original contents"))
	p.Tf.A7 = uint64(defs.SYS_WRITE)
	p.Tf.A0 = fdno
	p.Tf.A1 = wva
	p.Tf.A2 = uint64(len("original contents"))
	Dispatch(s, h, p)

	p.Tf.A7 = uint64(defs.SYS_CLOSE)
	p.Tf.A0 = fdno
	Dispatch(s, h, p)

	p.Tf.A7 = uint64(defs.SYS_OPEN)
	p.Tf.A0 = va
	p.Tf.A1 = uint64(defs.O_RDWR | defs.O_TRUNC)
	Dispatch(s, h, p)
	if p.Tf.A0 == defs.ErrAll {
		t.Fatalf("truncating open failed")
	}
	fdno = p.Tf.A0

	const rva = 0x3000
	f, _ := p.As.Pages().Alloc(h)
	pa := p.As.Pages().PA(f)
	p.As.Map(h, rva, pa, pgalloc.PageSize, vm.PermR|vm.PermW|vm.PermU)

	p.Tf.A7 = uint64(defs.SYS_READ)
	p.Tf.A0 = fdno
	p.Tf.A1 = rva
	p.Tf.A2 = uint64(len("original contents"))
	Dispatch(s, h, p)
	if p.Tf.A0 != 0 {
		t.Fatalf("expected 0 bytes after O_TRUNC, read returned %d", p.Tf.A0)
	}
}

func TestSbrkGrowsThenShrinks(t *testing.T) {
	s, _, h, p := setup(t)
	p.Tf.A7 = uint64(defs.SYS_SBRK)
	p.Tf.A0 = uint64(pgalloc.PageSize)
	Dispatch(s, h, p)
	if p.Tf.A0 != 0 {
		t.Fatalf("expected sbrk to return old break 0, got %d", p.Tf.A0)
	}
	if p.As.Size != pgalloc.PageSize {
		t.Fatalf("expected image size %d, got %d", pgalloc.PageSize, p.As.Size)
	}

	p.Tf.A7 = uint64(defs.SYS_SBRK)
	p.Tf.A0 = uint64(uint64(0) - uint64(pgalloc.PageSize)) // -PageSize as two's complement
	Dispatch(s, h, p)
	if p.As.Size != 0 {
		t.Fatalf("expected image size back to 0, got %d", p.As.Size)
	}
}

func TestExecUnregisteredNameReportsNoexec(t *testing.T) {
	s, _, h, p := setup(t)
	const va = 0x8000
	writeUserPage(t, h, p, va, []byte("nosuchprogram\x00"))

	p.Tf.A7 = uint64(defs.SYS_EXEC)
	p.Tf.A0 = va
	Dispatch(s, h, p)
	if p.Tf.A0 != defs.ErrAll {
		t.Fatalf("expected exec of an unregistered name to fail, got %d", p.Tf.A0)
	}
}

func TestExecRegisteredProgramSwapsImage(t *testing.T) {
	s, _, h, p := setup(t)
	ran := make(chan bool, 1)
	s.Progs = map[string]proc.Entry{
		"sh": func(h *cpu.Hart_t, p *proc.Proc_t) { ran <- true },
	}
	oldAs := p.As

	const va = 0x8000
	writeUserPage(t, h, p, va, []byte("sh\x00"))

	p.Tf.A7 = uint64(defs.SYS_EXEC)
	p.Tf.A0 = va
	Dispatch(s, h, p)
	if p.Tf.A0 == defs.ErrAll {
		t.Fatalf("expected exec of a registered name to succeed")
	}
	if p.As == oldAs {
		t.Fatalf("expected exec to install a fresh address space")
	}
	if p.As.Size != 0 {
		t.Fatalf("expected the new image to start empty, got size %d", p.As.Size)
	}
}

func TestUptimeDispatchSucceeds(t *testing.T) {
	s, _, h, p := setup(t)
	p.Tf.A7 = uint64(defs.SYS_UPTIME)
	Dispatch(s, h, p)
	if p.Tf.A0 == defs.ErrAll {
		t.Fatalf("uptime dispatch failed")
	}
}

func TestPauseZeroTicksReturnsImmediately(t *testing.T) {
	s, _, h, p := setup(t)
	p.Tf.A7 = uint64(defs.SYS_PAUSE)
	p.Tf.A0 = 0
	Dispatch(s, h, p)
	if p.Tf.A0 == defs.ErrAll {
		t.Fatalf("pause(0) should return immediately without error")
	}
}

func TestPauseUnwindsOnKill(t *testing.T) {
	s, tbl, h, p := setup(t)
	if err := tbl.Kill(h, p.Pid); err != 0 {
		t.Fatalf("kill failed: %d", err)
	}
	p.Tf.A7 = uint64(defs.SYS_PAUSE)
	p.Tf.A0 = 1000000
	Dispatch(s, h, p)
	if p.Tf.A0 != defs.ErrAll {
		t.Fatalf("expected pause to fail after kill, got %d", p.Tf.A0)
	}
}

func TestGetrusageReportsAccumulatedTime(t *testing.T) {
	s, _, h, p := setup(t)
	p.Accnt.Userns = 2_000_000_000
	p.Accnt.Sysns = 1_000_000

	const va = 0x7000
	f, _ := p.As.Pages().Alloc(h)
	pa := p.As.Pages().PA(f)
	p.As.Map(h, va, pa, pgalloc.PageSize, vm.PermR|vm.PermW|vm.PermU)

	p.Tf.A7 = uint64(defs.SYS_GETRUSAGE)
	p.Tf.A0 = va
	Dispatch(s, h, p)
	if p.Tf.A0 == defs.ErrAll {
		t.Fatalf("getrusage failed")
	}

	got := make([]byte, 32)
	if err := p.As.CopyIn(h, got, va); err != 0 {
		t.Fatalf("copyin failed: %d", err)
	}
	usecs := le64(got[8:16])
	if usecs != 0 {
		t.Fatalf("expected 2s user time to carry no leftover microseconds, got %d", usecs)
	}
	secs := le64(got[0:8])
	if secs != 2 {
		t.Fatalf("expected 2 seconds of user time, got %d", secs)
	}
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func TestLinkDispatch(t *testing.T) {
	s, _, h, p := setup(t)
	const va = 0x5000
	writeUserPage(t, h, p, va, []byte("orig.txt\x00"))

	p.Tf.A7 = uint64(defs.SYS_OPEN)
	p.Tf.A0 = va
	p.Tf.A1 = uint64(defs.O_CREATE | defs.O_RDWR)
	Dispatch(s, h, p)
	if p.Tf.A0 == defs.ErrAll {
		t.Fatalf("create failed")
	}
	p.Tf.A7 = uint64(defs.SYS_CLOSE)
	Dispatch(s, h, p)

	const nva = 0x6000
	writeUserPage(t, h, p, nva, []byte("alias.txt\x00"))
	p.Tf.A7 = uint64(defs.SYS_LINK)
	p.Tf.A0 = va
	p.Tf.A1 = nva
	Dispatch(s, h, p)
	if p.Tf.A0 == defs.ErrAll {
		t.Fatalf("link failed")
	}
}

func TestPipeDispatch(t *testing.T) {
	s, _, h, p := setup(t)
	const va = 0x4000
	f, _ := p.As.Pages().Alloc(h)
	pa := p.As.Pages().PA(f)
	p.As.Map(h, va, pa, pgalloc.PageSize, vm.PermR|vm.PermW|vm.PermU)

	p.Tf.A7 = uint64(defs.SYS_PIPE)
	p.Tf.A0 = va
	Dispatch(s, h, p)
	if p.Tf.A0 == defs.ErrAll {
		t.Fatalf("pipe syscall failed")
	}
}
