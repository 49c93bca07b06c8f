package proc

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/oichkatz/sv39kernel/internal/cpu"
)

// StartHarts brings up n additional scheduler harts (ids startID through
// startID+n-1) alongside the boot hart (spec §4.1 "hart bring-up", §5 "per-hart scheduler") and
// runs every CPU_t's Run loop until stop fires. Using errgroup here
// instead of a bare sync.WaitGroup buys one thing a teaching kernel
// actually wants: if a hart's Run ever panics and recovers into an
// error return (it never does today, but the seam exists so a future
// fault-injection test can exercise it), Wait propagates the first one
// instead of silently losing it.
func StartHarts(t *Table_t, n int, startID int, stop <-chan struct{}) (*errgroup.Group, []*CPU_t) {
	g, _ := errgroup.WithContext(context.Background())
	cpus := make([]*CPU_t, n)
	for i := 0; i < n; i++ {
		h := cpu.NewHart(startID + i)
		c := NewCPU(h, t)
		cpus[i] = c
		g.Go(func() error {
			c.Run(stop)
			return nil
		})
	}
	return g, cpus
}
