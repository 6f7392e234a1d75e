package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	flag "github.com/spf13/pflag"

	"github.com/graftdebug/graft/internal/codec"
	"github.com/graftdebug/graft/internal/scenario"
	"github.com/graftdebug/graft/internal/tracestore"
)

// ShowCmd returns the show command.
func ShowCmd(a *app) *Command {
	flags := flag.NewFlagSet("show", flag.ContinueOnError)
	asJSON := flags.Bool("json", false, "Print as JSON")

	return &Command{
		Name:  "show",
		Args:  []string{"job", "trace"},
		Flags: flags,
		Short: "Decode and print one trace",
		Long: "Decode and print one trace. <trace> is a file name as printed by ls,\n" +
			"with or without the " + tracestore.Ext + " extension.",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execShow(ctx, o, a, args[0], args[1], *asJSON)
		},
	}
}

func execShow(ctx context.Context, o *IO, a *app, job, name string, asJSON bool) error {
	if !strings.HasSuffix(name, tracestore.Ext) {
		name += tracestore.Ext
	}

	key, err := tracestore.ParseKey(job + "/" + name)
	if err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}

	blob, err := store.Get(ctx, key)
	if err != nil {
		return err
	}

	a.log.Debug("decoding trace", "key", key.Path(), "bytes", len(blob))

	text, view, err := decodeTrace(key, blob, a.reg)
	if err != nil {
		return errors.Wrapf(err, "decode %s", key.Path())
	}

	if !asJSON {
		o.Printf("%s", text)

		return nil
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode json")
	}

	o.Println(string(data))

	return nil
}

// decodeTrace returns a text rendering and a JSON view of blob.
func decodeTrace(key tracestore.Key, blob []byte, reg *codec.Registry) (string, any, error) {
	switch {
	case key.Kind.Master():
		s, err := scenario.UnmarshalMasterScenario(blob, reg)
		if err != nil {
			return "", nil, err
		}

		return s.String(), s.View(), nil

	case key.Kind == tracestore.KindMessageViolation && key.TaskID != "":
		types, vs, err := scenario.UnmarshalMessageViolations(blob, reg)
		if err != nil {
			return "", nil, err
		}

		var sb strings.Builder

		views := make([]scenario.MessageViolationView, len(vs))
		for i, v := range vs {
			views[i] = v.View()
			fmt.Fprintf(&sb, "superstep %d: %s -> %s message %s\n",
				v.Superstep, codec.Format(v.Src), codec.Format(v.Dst), codec.Format(v.Message))
		}

		return header(types, key, len(vs)) + sb.String(), views, nil

	case key.Kind == tracestore.KindVertexViolation && key.TaskID != "":
		types, vs, err := scenario.UnmarshalVertexValueViolations(blob, reg)
		if err != nil {
			return "", nil, err
		}

		var sb strings.Builder

		views := make([]scenario.VertexValueViolationView, len(vs))
		for i, v := range vs {
			views[i] = v.View()
			fmt.Fprintf(&sb, "superstep %d: vertex %s value %s\n",
				v.Superstep, codec.Format(v.VertexID), codec.Format(v.Value))
		}

		return header(types, key, len(vs)) + sb.String(), views, nil
	}

	s, err := scenario.UnmarshalVertexScenario(blob, reg)
	if err != nil {
		return "", nil, err
	}

	return s.String(), s.View(), nil
}

func header(types scenario.TypeDescriptor, key tracestore.Key, n int) string {
	return fmt.Sprintf("%s violations of task %s (%s): %d\n", key.Kind, key.TaskID, types.ClassUnderTest, n)
}
