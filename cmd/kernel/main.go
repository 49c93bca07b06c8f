// Command kernel boots the simulated Sv39 kernel: it mounts (or
// formats) a disk image, starts one scheduler per hart, and spawns
// /init as proc 1 (spec §4.1 "boot sequence", §4.5 "proc 1 is init").
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/oichkatz/sv39kernel/internal/console"
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/defs"
	"github.com/oichkatz/sv39kernel/internal/diskio"
	"github.com/oichkatz/sv39kernel/internal/file"
	"github.com/oichkatz/sv39kernel/internal/fs"
	"github.com/oichkatz/sv39kernel/internal/kpanic"
	"github.com/oichkatz/sv39kernel/internal/param"
	"github.com/oichkatz/sv39kernel/internal/pgalloc"
	"github.com/oichkatz/sv39kernel/internal/proc"
	"github.com/oichkatz/sv39kernel/internal/syscall"
	"github.com/oichkatz/sv39kernel/internal/trap"
)

func main() {
	diskPath := flag.String("disk", "fs.img", "path to the disk image")
	nblocks := flag.Int("blocks", 20000, "disk image size in blocks")
	format := flag.Bool("mkfs", false, "format the disk image before mounting")
	nframes := flag.Int("frames", 4096, "physical frames available to pgalloc")
	flag.Parse()

	defer func() {
		if r := recover(); r != nil {
			kpanic.Dump(2, fmt.Sprintf("%v", r))
		}
	}()

	bootHart := cpu.NewHart(0)

	disk, err := diskio.Open(*diskPath, *nblocks)
	if err != nil {
		log.Fatalf("kernel: open disk: %v", err)
	}
	defer disk.Close()

	var fsys *fs.FS_t
	var ferr defs.Err_t
	if *format {
		fsys, ferr = fs.Mkfs(bootHart, disk, *nblocks, param.LOGBLOCKS, 1, *nblocks/64, *nblocks/8)
	} else {
		fsys, ferr = fs.Mount(bootHart, disk)
	}
	if ferr != 0 {
		log.Fatalf("kernel: file system init failed: %d", ferr)
	}

	devsw := file.NewDevsw()
	devsw.Register(defs.D_CONSOLE, console.New())
	devsw.Register(defs.D_DEVNULL, file.DevNull_t{})

	procs := proc.NewTable()
	procs.Install()

	sys := &syscall.Sys_t{Procs: procs, FS: fsys, Devsw: devsw}
	sys.Progs = map[string]proc.Entry{"sh": shEntry(procs)}
	_ = &trap.Trap_t{Sys: sys, Procs: procs} // wired for when a real trap source exists

	pages := pgalloc.New(*nframes)
	root := fsys.Icache.Iget(bootHart, fs.RootInum)
	cwd := file.MkRootCwd(root)

	initProc, perr := procs.Spawn(bootHart, pages, cwd, initEntry(sys, devsw))
	if perr != 0 {
		log.Fatalf("kernel: spawn init failed: %d", perr)
	}
	if initProc.Pid != 1 {
		panic("kernel: init did not get pid 1")
	}

	stop := make(chan struct{})
	g, _ := proc.StartHarts(procs, param.NCPU-1, 1, stop)

	bootCPU := proc.NewCPU(bootHart, procs)
	bootCPU.Run(stop)

	close(stop)
	if err := g.Wait(); err != nil {
		log.Printf("kernel: hart error: %v", err)
	}
}

// initEntry is proc 1's program (spec §4.5 "init"): it prints a boot
// banner, wires the console up as its own stdio, then execs "sh" out of
// the compiled-in program table the way a real /init execs a shell
// binary off disk. Exec swaps p.Entry and the address space but this
// kernel has no trap source yet to re-enter the new program on its own,
// so init hands off explicitly by calling the freshly-installed Entry
// itself; if "sh" were ever missing from Progs, init instead reaps
// children until Wait reports that none are left.
func initEntry(sys *syscall.Sys_t, devsw *file.Devsw_t) proc.Entry {
	return func(h *cpu.Hart_t, p *proc.Proc_t) {
		con := &file.DevFile_t{Devsw: devsw, Major: defs.D_CONSOLE}
		con.Write(h, p.Pid, []byte("sv39kernel booted\n"))
		p.Ofile[0] = &file.Fd_t{Fops: con, Perms: file.FD_READ}
		p.Ofile[1] = &file.Fd_t{Fops: con, Perms: file.FD_WRITE}
		p.Ofile[2] = &file.Fd_t{Fops: con, Perms: file.FD_WRITE}

		if err := syscall.Exec(sys, h, p, "sh"); err == 0 {
			p.Entry(h, p)
			return
		}

		for {
			if _, _, err := sys.Procs.Wait(h, p); err != 0 {
				break
			}
		}
	}
}

// shEntry stands in for a real shell binary: it reaps every child it is
// ever forked, the same "always has a parent to reparent onto" role
// init's own loop plays, so a forked-and-execed shell keeps the process
// tree well-formed.
func shEntry(procs *proc.Table_t) proc.Entry {
	return func(h *cpu.Hart_t, p *proc.Proc_t) {
		for {
			if _, _, err := procs.Wait(h, p); err != 0 {
				break
			}
		}
	}
}
