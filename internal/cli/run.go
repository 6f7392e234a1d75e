// Package cli implements graft, a read-only inspector for captured traces.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	flag "github.com/spf13/pflag"

	"github.com/graftdebug/graft/internal/codec"
	"github.com/graftdebug/graft/internal/config"
	"github.com/graftdebug/graft/internal/logging"
	"github.com/graftdebug/graft/internal/tracestore"
	"github.com/graftdebug/graft/pkg/fs"
)

// app is the state shared by all commands. It is filled in after global
// flags and config are resolved, before any command runs.
type app struct {
	cfg config.Config
	fs  fs.FS
	reg *codec.Registry
	log *slog.Logger
}

// openStore opens the configured trace root. A missing root is an error
// rather than being created.
func (a *app) openStore() (*tracestore.Store, error) {
	exists, err := a.fs.Exists(a.cfg.TraceRootAbs)
	if err != nil {
		return nil, errors.Wrap(err, "trace root")
	}

	if !exists {
		return nil, errors.Newf("trace root %s does not exist", a.cfg.TraceRootAbs)
	}

	return tracestore.Open(a.fs, a.cfg.TraceRootAbs, a.cfg.StoreOptions())
}

func commands(a *app) []*Command {
	return []*Command{
		JobsCmd(a),
		LsCmd(a),
		SuperstepsCmd(a),
		VerticesCmd(a),
		TasksCmd(a),
		ShowCmd(a),
		PrintConfigCmd(a),
	}
}

// Run is the main entry point. Returns exit code.
func Run(_ io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	a := &app{fs: fs.NewReal(), reg: codec.DefaultRegistry}
	cmds := commands(a)

	globalFlags := flag.NewFlagSet("graft", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagCwd := globalFlags.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config `file`")
	flagRoot := globalFlags.String("root", "", "Override the trace root `dir`")

	if len(args) < 2 {
		printUsage(out, globalFlags, cmds)

		return 0
	}

	err := globalFlags.Parse(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut, globalFlags, cmds)

		return 1
	}

	if *flagHelp {
		printUsage(out, globalFlags, cmds)

		return 0
	}

	if globalFlags.Changed("root") && *flagRoot == "" {
		fprintln(errOut, "error:", config.ErrTraceRootEmpty)
		fprintln(errOut)
		printUsage(errOut, globalFlags, cmds)

		return 1
	}

	rest := globalFlags.Args()
	if len(rest) == 0 {
		fprintln(errOut, "error: no command provided")
		fprintln(errOut)
		printUsage(errOut, globalFlags, cmds)

		return 1
	}

	workDir, err := resolveWorkDir(*flagCwd)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	a.cfg, err = config.Load(config.LoadInput{
		WorkDir:           workDir,
		ConfigPath:        *flagConfig,
		TraceRootOverride: *flagRoot,
		Env:               env,
		FS:                a.fs,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	a.log = logging.New(errOut, a.cfg.LogOptions(), env)

	name := rest[0]

	var cmd *Command

	for _, c := range cmds {
		if c.Name == name {
			cmd = c

			break
		}
	}

	if cmd == nil {
		fprintln(errOut, "error: unknown command:", name)
		fprintln(errOut)
		printUsage(errOut, globalFlags, cmds)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	a.log.Debug("running command", "command", name, "trace_root", a.cfg.TraceRootAbs)

	return cmd.Run(ctx, NewIO(out, errOut), rest[1:])
}

func resolveWorkDir(flagValue string) (string, error) {
	workDir := flagValue
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", errors.Wrap(err, "cannot get working directory")
		}

		workDir = wd
	}

	abs, err := filepath.Abs(workDir)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s", workDir)
	}

	return abs, nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globalFlags *flag.FlagSet, cmds []*Command) {
	fprintln(w, "graft - inspect captured graph computation traces")
	fprintln(w)
	fprintln(w, "Usage: graft [global flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")

	var buf strings.Builder
	globalFlags.SetOutput(&buf)
	globalFlags.PrintDefaults()
	globalFlags.SetOutput(&strings.Builder{})
	_, _ = fmt.Fprint(w, buf.String())

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range cmds {
		fprintln(w, c.HelpLine())
	}
}
