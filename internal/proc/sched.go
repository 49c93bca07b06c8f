package proc

import (
	"github.com/oichkatz/sv39kernel/internal/cpu"
	"github.com/oichkatz/sv39kernel/internal/lock"
)

// CPU_t is one hart's scheduler: the hart's per-core state plus a
// pointer back to the shared table it round-robins over (spec §4.5
// "Scheduler").
type CPU_t struct {
	Hart  *cpu.Hart_t
	table *Table_t
	last  int // index to resume round-robin scanning from
}

// NewCPU builds a scheduler for the given hart.
func NewCPU(h *cpu.Hart_t, t *Table_t) *CPU_t {
	return &CPU_t{Hart: h, table: t}
}

// Run is the scheduler loop proper (spec §4.5 "scheduler never
// returns"). Classic xv6 swtch()es into a chosen process's saved
// register file and swtch()es back when it yields or sleeps; this
// kernel has no register file to restore (spec §1 Non-goals: no real
// assembly context switch), so the handoff is a pair of unbuffered
// channels instead. Picking a RUNNABLE process sends on its resume
// channel (waking its goroutine, which was parked on <-resume since it
// last gave up the CPU) and then blocks on its yield channel until
// that goroutine either calls Yield, blocks in Sleep, or exits —
// exactly the moment real xv6's swtch() would return control to the
// scheduler. Stop causes Run to return after the current process, if
// any, next yields — used so tests can bound scheduling to a fixed
// number of handoffs instead of looping forever.
func (c *CPU_t) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		p := c.pickNext()
		if p == nil {
			continue
		}
		c.Hart.CurProcIdx = p.Pid
		since := p.Accnt.Now()
		p.resume <- struct{}{}
		<-p.yield
		p.Accnt.Utadd(p.Accnt.Now() - since)
		c.Hart.CurProcIdx = -1
	}
}

// RunN runs exactly n scheduling handoffs, for use in tests that need
// deterministic, bounded scheduling instead of a goroutine that never
// returns.
func (c *CPU_t) RunN(n int) {
	for i := 0; i < n; i++ {
		p := c.pickNext()
		if p == nil {
			return
		}
		c.Hart.CurProcIdx = p.Pid
		since := p.Accnt.Now()
		p.resume <- struct{}{}
		<-p.yield
		p.Accnt.Utadd(p.Accnt.Now() - since)
		c.Hart.CurProcIdx = -1
	}
}

// pickNext finds the next RUNNABLE process after c.last (round robin),
// marks it RUNNING, and returns it unlocked for the caller to hand the
// CPU to.
func (c *CPU_t) pickNext() *Proc_t {
	t := c.table
	t.mu.Acquire(c.Hart)
	defer t.mu.Release(c.Hart)
	n := len(t.procs)
	for i := 1; i <= n; i++ {
		idx := (c.last + i) % n
		p := t.procs[idx]
		if p.State == RUNNABLE {
			p.State = RUNNING
			c.last = idx
			return p
		}
	}
	return nil
}

// Start launches p's goroutine. The goroutine parks immediately on its
// own resume channel until the scheduler first picks it; it is the
// caller's job to mark p RUNNABLE (see Table_t.Fork) once it is ready
// to run.
func (t *Table_t) Start(h *cpu.Hart_t, p *Proc_t) {
	go func() {
		<-p.resume
		p.Entry(h, p)
		t.ExitNow(h, p, p.ExitStatus)
		// The scheduler is still blocked on <-p.yield from the resume
		// above (every resume must be matched by exactly one yield,
		// the same protocol Yield and Sleep follow); ExitNow leaves
		// the process ZOMBIE rather than RUNNABLE so it is never
		// handed the CPU again after this.
		p.yield <- struct{}{}
	}()
}

// Yield gives up the CPU voluntarily without blocking (spec §4.5
// "timer interrupt causes yield").
func (t *Table_t) Yield(h *cpu.Hart_t, p *Proc_t) {
	t.mu.Acquire(h)
	if p.State == RUNNING {
		p.State = RUNNABLE
	}
	t.mu.Release(h)
	p.yield <- struct{}{}
	<-p.resume
}

// Sched_t implements lock.Sleeper against this process table, letting
// every blocking primitive in the kernel (the log, pipes, the console)
// sleep and wake processes without depending on the proc package
// directly — installed into the package-level lock.Sched during boot.
type Sched_t struct {
	Table *Table_t
}

// Sleep implements lock.Sleeper (spec §4.5 "sleep/wakeup"): release mu,
// park the calling process on ch, hand the CPU to the scheduler, and
// only return once some Wakeup(ch) call has marked it RUNNABLE again
// and the scheduler has resumed it — at which point mu is reacquired so
// the caller's invariants hold exactly as they did before sleeping.
func (s Sched_t) Sleep(h *cpu.Hart_t, callerPid int, ch lock.Chan, mu *lock.Spinlock_t) {
	p := s.Table.Find(h, callerPid)
	if p == nil {
		panic("proc: Sleep with no such process")
	}
	s.Table.mu.Acquire(h)
	p.State = SLEEPING
	p.waitChan = ch
	s.Table.mu.Release(h)

	since := p.Accnt.Now()
	mu.Release(h)
	p.yield <- struct{}{}
	<-p.resume
	mu.Acquire(h)
	p.Accnt.Sleep_time(since)
}

// Wakeup implements lock.Sleeper: every process sleeping on ch becomes
// RUNNABLE again (spec §4.5 "wakeup marks all sleepers on chan
// runnable").
func (s Sched_t) Wakeup(h *cpu.Hart_t, ch lock.Chan) {
	t := s.Table
	t.mu.Acquire(h)
	defer t.mu.Release(h)
	for _, p := range t.procs {
		if p.State == SLEEPING && p.waitChan == ch {
			p.State = RUNNABLE
		}
	}
}

// Killed implements lock.Sleeper: it reports whether pid has been
// marked killed, letting every condition-loop sleeper (pipes, the
// console, the log's admission gate, sleeplocks) notice a Kill() that
// otherwise never signals the channel they're blocked on.
func (s Sched_t) Killed(h *cpu.Hart_t, pid int) bool {
	t := s.Table
	t.mu.Acquire(h)
	defer t.mu.Release(h)
	for _, p := range t.procs {
		if p.State != UNUSED && p.Pid == pid {
			return p.Killed
		}
	}
	return false
}
