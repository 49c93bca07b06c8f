package fs

import (
	"testing"

	"github.com/oichkatz/sv39kernel/internal/bio"
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/lock"
	"github.com/oichkatz/sv39kernel/internal/ustr"
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

func mkTestFS(t *testing.T, h *cpu.Hart_t) *FS_t {
	t.Helper()
	fsys, err := Mkfs(h, newMemDisk(), 2000, 16, 1, 26, 4)
	if err != 0 {
		t.Fatalf("mkfs failed: %d", err)
	}
	return fsys
}

func TestCreateWriteReadFile(t *testing.T) {
	h := cpu.NewHart(0)
	fsys := mkTestFS(t, h)
	root := fsys.Icache.Iget(h, RootInum)

	ip, err := fsys.Create(h, 1, root, ustr.Ustr("hello.txt"), defs.T_FILE, 0, 0)
	if err != 0 {
		t.Fatalf("create failed: %d", err)
	}
	data := []byte("hello, file system")
	if _, err := fsys.Writei(h, 1, ip, data, 0); err != 0 {
		t.Fatalf("writei failed: %d", err)
	}
	fsys.IUnlock(h, ip)

	fsys.ILock(h, 1, ip)
	got := make([]byte, len(data))
	n, err := fsys.Readi(h, 1, ip, got, 0)
	if err != 0 || n != len(data) || string(got) != string(data) {
		t.Fatalf("readi mismatch: n=%d err=%d got=%q", n, err, got)
	}
	fsys.IUnlock(h, ip)
	fsys.Iput(h, 1, ip)
}

func TestCreateDuplicateFails(t *testing.T) {
	h := cpu.NewHart(0)
	fsys := mkTestFS(t, h)
	root := fsys.Icache.Iget(h, RootInum)

	ip, err := fsys.Create(h, 1, root, ustr.Ustr("dup.txt"), defs.T_FILE, 0, 0)
	if err != 0 {
		t.Fatalf("create failed: %d", err)
	}
	fsys.IUnlock(h, ip)
	fsys.Iput(h, 1, ip)

	if _, err := fsys.Create(h, 1, root, ustr.Ustr("dup.txt"), defs.T_DIR, 0, 0); err != -defs.EEXIST {
		t.Fatalf("expected EEXIST, got %d", err)
	}
}

func TestMkdirAndLookup(t *testing.T) {
	h := cpu.NewHart(0)
	fsys := mkTestFS(t, h)
	root := fsys.Icache.Iget(h, RootInum)

	dir, err := fsys.Create(h, 1, root, ustr.Ustr("sub"), defs.T_DIR, 0, 0)
	if err != 0 {
		t.Fatalf("mkdir failed: %d", err)
	}
	fsys.IUnlock(h, dir)
	fsys.Iput(h, 1, dir)

	fsys.ILock(h, 1, root)
	found, _, err := fsys.Dirlookup(h, 1, root, ustr.Ustr("sub"))
	fsys.IUnlock(h, root)
	if err != 0 {
		t.Fatalf("dirlookup failed: %d", err)
	}
	fsys.ILock(h, 1, found)
	if found.itype != defs.T_DIR {
		t.Fatal("expected directory type")
	}
	fsys.IUnlock(h, found)
	fsys.Iput(h, 1, found)
}

func TestUnlinkRemovesEntry(t *testing.T) {
	h := cpu.NewHart(0)
	fsys := mkTestFS(t, h)
	root := fsys.Icache.Iget(h, RootInum)

	ip, err := fsys.Create(h, 1, root, ustr.Ustr("gone.txt"), defs.T_FILE, 0, 0)
	if err != 0 {
		t.Fatalf("create failed: %d", err)
	}
	fsys.IUnlock(h, ip)
	fsys.Iput(h, 1, ip)

	if err := fsys.Unlink(h, 1, root, ustr.Ustr("gone.txt")); err != 0 {
		t.Fatalf("unlink failed: %d", err)
	}
	fsys.ILock(h, 1, root)
	_, _, err = fsys.Dirlookup(h, 1, root, ustr.Ustr("gone.txt"))
	fsys.IUnlock(h, root)
	if err != -defs.ENOENT {
		t.Fatalf("expected ENOENT after unlink, got %d", err)
	}
}

func TestLinkCreatesSecondName(t *testing.T) {
	h := cpu.NewHart(0)
	fsys := mkTestFS(t, h)
	root := fsys.Icache.Iget(h, RootInum)

	ip, err := fsys.Create(h, 1, root, ustr.Ustr("orig.txt"), defs.T_FILE, 0, 0)
	if err != 0 {
		t.Fatalf("create failed: %d", err)
	}
	origInum := ip.Inum
	fsys.IUnlock(h, ip)
	fsys.Iput(h, 1, ip)

	if err := fsys.Link(h, 1, root, ustr.Ustr("orig.txt"), ustr.Ustr("alias.txt")); err != 0 {
		t.Fatalf("link failed: %d", err)
	}

	fsys.ILock(h, 1, root)
	found, _, err := fsys.Dirlookup(h, 1, root, ustr.Ustr("alias.txt"))
	fsys.IUnlock(h, root)
	if err != 0 {
		t.Fatalf("alias lookup failed: %d", err)
	}
	if found.Inum != origInum {
		t.Fatalf("alias points at inum %d, want %d", found.Inum, origInum)
	}
	fsys.ILock(h, 1, found)
	if found.Nlink() != 2 {
		t.Fatalf("expected nlink 2 after link, got %d", found.Nlink())
	}
	fsys.IUnlock(h, found)
	fsys.Iput(h, 1, found)

	if err := fsys.Unlink(h, 1, root, ustr.Ustr("orig.txt")); err != 0 {
		t.Fatalf("unlink original failed: %d", err)
	}
	fsys.ILock(h, 1, root)
	still, _, err := fsys.Dirlookup(h, 1, root, ustr.Ustr("alias.txt"))
	fsys.IUnlock(h, root)
	if err != 0 {
		t.Fatalf("alias should survive unlink of original: %d", err)
	}
	fsys.Iput(h, 1, still)
}

func TestLinkRefusesDirectory(t *testing.T) {
	h := cpu.NewHart(0)
	fsys := mkTestFS(t, h)
	root := fsys.Icache.Iget(h, RootInum)

	dp, err := fsys.Create(h, 1, root, ustr.Ustr("adir"), defs.T_DIR, 0, 0)
	if err != 0 {
		t.Fatalf("mkdir failed: %d", err)
	}
	fsys.IUnlock(h, dp)
	fsys.Iput(h, 1, dp)

	if err := fsys.Link(h, 1, root, ustr.Ustr("adir"), ustr.Ustr("adir2")); err != -defs.EPERM {
		t.Fatalf("expected EPERM linking a directory, got %d", err)
	}
}

func TestCreateRejectsNameOverDirsiz(t *testing.T) {
	h := cpu.NewHart(0)
	fsys := mkTestFS(t, h)
	root := fsys.Icache.Iget(h, RootInum)

	exact := ustr.Ustr("123456789012345")[:ustr.DIRSIZ] // exactly DIRSIZ bytes
	ip, err := fsys.Create(h, 1, root, exact, defs.T_FILE, 0, 0)
	if err != 0 {
		t.Fatalf("expected a %d-byte name to be accepted, got %d", ustr.DIRSIZ, err)
	}
	fsys.IUnlock(h, ip)
	fsys.Iput(h, 1, ip)

	tooLong := ustr.Ustr("123456789012345") // DIRSIZ+1 bytes
	if _, err := fsys.Create(h, 1, root, tooLong, defs.T_FILE, 0, 0); err != -defs.ENAMETOOLONG {
		t.Fatalf("expected ENAMETOOLONG for a name over DIRSIZ, got %d", err)
	}

	fsys.ILock(h, 1, root)
	_, _, lerr := fsys.Dirlookup(h, 1, root, tooLong)
	fsys.IUnlock(h, root)
	if lerr != -defs.ENOENT {
		t.Fatalf("over-long name must not have been linked under a truncated form, got %d", lerr)
	}
}

func TestLinkRejectsNewpathOverDirsiz(t *testing.T) {
	h := cpu.NewHart(0)
	fsys := mkTestFS(t, h)
	root := fsys.Icache.Iget(h, RootInum)

	ip, err := fsys.Create(h, 1, root, ustr.Ustr("short.txt"), defs.T_FILE, 0, 0)
	if err != 0 {
		t.Fatalf("create failed: %d", err)
	}
	fsys.IUnlock(h, ip)
	fsys.Iput(h, 1, ip)

	tooLong := ustr.Ustr("123456789012345")
	if err := fsys.Link(h, 1, root, ustr.Ustr("short.txt"), tooLong); err != -defs.ENAMETOOLONG {
		t.Fatalf("expected ENAMETOOLONG, got %d", err)
	}

	fsys.ILock(h, 1, root)
	found, _, lerr := fsys.Dirlookup(h, 1, root, ustr.Ustr("short.txt"))
	fsys.IUnlock(h, root)
	if lerr != 0 {
		t.Fatalf("original name should still resolve: %d", lerr)
	}
	fsys.ILock(h, 1, found)
	if found.Nlink() != 1 {
		t.Fatalf("failed link must not leave nlink bumped, got %d", found.Nlink())
	}
	fsys.IUnlock(h, found)
	fsys.Iput(h, 1, found)
}
