// Package kpanic formats kernel panics: a unique crash tag so two
// panics from the same boot are never confused in a log, followed by
// the Go call stack (spec §8 "panics are fatal and print a stack
// trace").
package kpanic

import (
	"fmt"
	"os"
	"runtime"

	"github.com/google/uuid"
)

// Dump prints a crash header tagged with a fresh UUID, then the call
// stack starting start frames above the caller of Dump, and finally
// re-panics with msg. Callers invoke this from a deferred recover, the
// way the teacher's kernel main wraps each hart's run loop.
func Dump(start int, msg string) {
	tag := uuid.New()
	fmt.Fprintf(os.Stderr, "panic[%s]: %s\n", tag, msg)
	fmt.Fprint(os.Stderr, stack(start+1))
	panic(msg)
}

// stack renders the call stack starting at the given depth, one frame
// per line, deepest call first.
func stack(start int) string {
	s := ""
	for i := start; ; i++ {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}
