package cli

import (
	"fmt"
	"io"
)

// IO is a command's view of the terminal. Results go to stdout as they
// are produced. Warnings are held until Finish, which prints them to
// stderr and turns them into exit code 1.
type IO struct {
	out      io.Writer
	errOut   io.Writer
	warnings []string
}

// NewIO returns an IO writing to out and errOut.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Warn records a problem that does not stop the command, with a hint on
// what to do about it.
func (o *IO) Warn(issue, hint string) {
	o.warnings = append(o.warnings, issue+" ("+hint+")")
}

func (o *IO) Println(a ...any) {
	_, _ = fmt.Fprintln(o.out, a...)
}

func (o *IO) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(o.out, format, a...)
}

func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Finish flushes warnings and returns the exit code.
func (o *IO) Finish() int {
	for _, w := range o.warnings {
		o.ErrPrintln("warning:", w)
	}

	if len(o.warnings) > 0 {
		return 1
	}

	return 0
}

// printEach writes one line per item.
func printEach[T any](o *IO, items []T) {
	for _, it := range items {
		o.Println(it)
	}
}
