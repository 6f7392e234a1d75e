package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	flag "github.com/spf13/pflag"
)

var errArgs = errors.New("wrong number of arguments")

// Command is one graft subcommand.
//
// Positional arguments are declared by name in Args and counted before
// Exec runs, so Exec always receives exactly len(Args) values.
type Command struct {
	Name string

	// Args names the positional arguments, in order.
	Args []string

	// Flags is nil for commands without flags.
	Flags *flag.FlagSet

	// Short is the line shown in the command listing; Long, if set,
	// replaces it in the command's own help.
	Short string
	Long  string

	Exec func(ctx context.Context, o *IO, args []string) error
}

// Usage renders the command line, for example "vertices <job> <superstep> [flags]".
func (c *Command) Usage() string {
	var sb strings.Builder

	sb.WriteString(c.Name)

	for _, a := range c.Args {
		sb.WriteString(" <" + a + ">")
	}

	if c.Flags != nil && c.Flags.HasFlags() {
		sb.WriteString(" [flags]")
	}

	return sb.String()
}

// HelpLine returns the command's entry in the global usage listing.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-36s %s", c.Usage(), c.Short)
}

// PrintHelp prints "graft <cmd> --help" output.
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: graft", c.Usage())
	o.Println()

	if c.Long != "" {
		o.Println(c.Long)
	} else {
		o.Println(c.Short)
	}

	if c.Flags == nil || !c.Flags.HasFlags() {
		return
	}

	o.Println()
	o.Println("Flags:")
	o.Printf("%s", c.Flags.FlagUsages())
}

// Run parses args, checks the positional count and runs Exec. It returns
// the process exit code.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	flags := c.Flags
	if flags == nil {
		flags = flag.NewFlagSet(c.Name, flag.ContinueOnError)
	}

	flags.SetOutput(io.Discard)

	err := flags.Parse(args)
	if errors.Is(err, flag.ErrHelp) {
		c.PrintHelp(o)

		return 0
	}

	if err == nil && flags.NArg() != len(c.Args) {
		err = errors.Wrapf(errArgs, "%s takes %d, got %d", c.Usage(), len(c.Args), flags.NArg())
	}

	if err != nil {
		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)

		return 1
	}

	err = c.Exec(ctx, o, flags.Args())
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return o.Finish()
}
