// Package stats holds lightweight, compile-time-toggleable counters for
// interrupt and scheduling activity (spec §8 "Stats are optional,
// compiled out when unused"). The teacher reads x86's TSC directly;
// without a modified runtime to expose an RISC-V cycle CSR this kernel
// times with the wall clock (time.Now().UnixNano()) instead.
package stats

import (
	"bytes"
	"fmt"
	"reflect"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/pprof/profile"
)

const Stats = false
const Timing = false

var Nirqs [100]int
var Irqs int

// Cycle returns a tick count standing in for the teacher's Rdtsc:
// wall-clock nanoseconds since the Unix epoch when enabled, zero
// otherwise so call sites compile out to a no-op.
func Cycle() uint64 {
	if Stats {
		return uint64(time.Now().UnixNano())
	}
	return 0
}

// Counter_t is a statistical counter.
type Counter_t int64

// Cycles_t holds an elapsed-time accumulator in nanoseconds.
type Cycles_t int64

// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Add adds the elapsed time since m (as returned by Cycle) to the
// accumulator.
func (c *Cycles_t) Add(m uint64) {
	if Timing {
		atomic.AddInt64((*int64)(c), int64(Cycle()-m))
	}
}

// Stats2String renders every Counter_t/Cycles_t field of st as a
// printable line, matching the teacher's dump format used by the
// periodic stats daemon.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		switch {
		case strings.HasSuffix(t, "Counter_t"):
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		case strings.HasSuffix(t, "Cycles_t"):
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}

// DumpProfile captures a goroutine profile of the running kernel and
// returns a human-readable summary of its sample counts; nothing in the
// kernel calls it. It round-trips through the pprof proto
// format so the summary reflects exactly what an external pprof viewer
// would be handed.
func DumpProfile() (string, error) {
	var buf bytes.Buffer
	if err := pprof.Lookup("goroutine").WriteTo(&buf, 0); err != nil {
		return "", err
	}
	p, err := profile.Parse(&buf)
	if err != nil {
		return "", err
	}
	s := fmt.Sprintf("profile: %d samples, %d locations\n", len(p.Sample), len(p.Location))
	for _, st := range p.SampleType {
		s += fmt.Sprintf("\tsample type: %s (%s)\n", st.Type, st.Unit)
	}
	return s, nil
}
