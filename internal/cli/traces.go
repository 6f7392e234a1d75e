package cli

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	flag "github.com/spf13/pflag"

	"github.com/graftdebug/graft/internal/tracestore"
)

// JobsCmd returns the jobs command.
func JobsCmd(a *app) *Command {
	return &Command{
		Name:  "jobs",
		Short: "List jobs with traces",
		Long:  "List the jobs under the trace root, with the build signature each was captured with.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execJobs(ctx, o, a)
		},
	}
}

func execJobs(ctx context.Context, o *IO, a *app) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}

	jobs, err := store.Jobs(ctx)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		o.Warn("no jobs under "+store.Root(), "check trace_root or run a captured computation first")

		return nil
	}

	for _, job := range jobs {
		sig, err := store.Signature(ctx, job)

		switch {
		case err == nil:
			o.Printf("%s\tsignature=%s\n", job, sig)
		case errors.Is(err, tracestore.ErrNotFound):
			o.Println(job)
		default:
			return err
		}
	}

	return nil
}

// LsCmd returns the ls command.
func LsCmd(a *app) *Command {
	flags := flag.NewFlagSet("ls", flag.ContinueOnError)
	kinds := flags.StringSliceP("kind", "k", nil, "Only list traces of `kind` (reg, err, msg, vv, master_reg, master_err)")
	superstep := flags.Int64P("superstep", "s", 0, "Only list traces of superstep `n`")

	return &Command{
		Name:  "ls",
		Args:  []string{"job"},
		Flags: flags,
		Short: "List the traces of a job",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			want, err := parseKinds(*kinds)
			if err != nil {
				return err
			}

			var onlyStep *int64
			if flags.Changed("superstep") {
				onlyStep = superstep
			}

			return execLs(ctx, o, a, args[0], want, onlyStep)
		},
	}
}

func execLs(ctx context.Context, o *IO, a *app, job string, kinds map[tracestore.Kind]bool, superstep *int64) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}

	keys, err := store.List(ctx, job)
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		o.Warn("job "+job+" has no traces", "run 'graft jobs' to list jobs")

		return nil
	}

	for _, k := range keys {
		if len(kinds) > 0 && !kinds[k.Kind] {
			continue
		}

		if superstep != nil && k.Superstep != *superstep {
			continue
		}

		o.Println(k.Name())
	}

	return nil
}

// SuperstepsCmd returns the supersteps command.
func SuperstepsCmd(a *app) *Command {
	flags := flag.NewFlagSet("supersteps", flag.ContinueOnError)
	master := flags.Bool("master", false, "List supersteps with coordinator traces instead")

	return &Command{
		Name:  "supersteps",
		Args:  []string{"job"},
		Flags: flags,
		Short: "List supersteps that have traces",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}

			var steps []int64
			if *master {
				steps, err = store.MasterSupersteps(ctx, args[0])
			} else {
				steps, err = store.Supersteps(ctx, args[0])
			}

			if err != nil {
				return err
			}

			printEach(o, steps)

			return nil
		},
	}
}

// VerticesCmd returns the vertices command.
func VerticesCmd(a *app) *Command {
	flags := flag.NewFlagSet("vertices", flag.ContinueOnError)
	kinds := flags.StringSliceP("kind", "k", []string{"reg", "err"}, "Consider traces of `kind`")

	return &Command{
		Name:  "vertices",
		Args:  []string{"job", "superstep"},
		Flags: flags,
		Short: "List vertices captured in a superstep",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			superstep, err := parseSuperstep(args[1])
			if err != nil {
				return err
			}

			want, err := parseKindList(*kinds)
			if err != nil {
				return err
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}

			ids, err := store.Vertices(ctx, args[0], superstep, want...)
			if err != nil {
				return err
			}

			printEach(o, ids)

			return nil
		},
	}
}

// TasksCmd returns the tasks command.
func TasksCmd(a *app) *Command {
	flags := flag.NewFlagSet("tasks", flag.ContinueOnError)
	kind := flags.StringP("kind", "k", "msg", "Violation `kind` (msg or vv)")

	return &Command{
		Name:  "tasks",
		Args:  []string{"job", "superstep"},
		Flags: flags,
		Short: "List workers that reported violations",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			superstep, err := parseSuperstep(args[1])
			if err != nil {
				return err
			}

			k, err := tracestore.ParseKind(*kind)
			if err != nil {
				return err
			}

			if !k.Violation() {
				return errors.Newf("kind %s has no task batches", k)
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}

			tasks, err := store.Tasks(ctx, args[0], superstep, k)
			if err != nil {
				return err
			}

			printEach(o, tasks)

			return nil
		},
	}
}

func parseSuperstep(raw string) (int64, error) {
	superstep, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Newf("invalid superstep %q", raw)
	}

	return superstep, nil
}

func parseKindList(names []string) ([]tracestore.Kind, error) {
	out := make([]tracestore.Kind, 0, len(names))

	for _, n := range names {
		k, err := tracestore.ParseKind(n)
		if err != nil {
			return nil, err
		}

		out = append(out, k)
	}

	return out, nil
}

func parseKinds(names []string) (map[tracestore.Kind]bool, error) {
	list, err := parseKindList(names)
	if err != nil {
		return nil, err
	}

	set := make(map[tracestore.Kind]bool, len(list))
	for _, k := range list {
		set[k] = true
	}

	return set, nil
}
