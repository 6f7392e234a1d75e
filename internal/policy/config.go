package policy

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Keys read by [FromConfig] from a host configuration map. List values are
// separated by ':'.
const (
	KeySupersteps       = "graft.supersteps_to_debug"
	KeyVertices         = "graft.vertices_to_debug"
	KeyDebugNeighbors   = "graft.debug_neighbors"
	KeyDebugAllVertices = "graft.debug_all_vertices"
	KeyCatchExceptions  = "graft.catch_exceptions"
)

const listSep = ":"

// FromConfig reads Options from a host configuration map, such as the one
// carried in graph.SuperstepInfo. Missing keys keep their defaults.
func FromConfig(kv map[string]string) (Options, error) {
	var opts Options

	if s, ok := kv[KeySupersteps]; ok {
		for _, part := range strings.Split(s, listSep) {
			n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return Options{}, errors.Wrapf(ErrInvalidOption, "%s=%q", KeySupersteps, s)
			}

			opts.Supersteps = append(opts.Supersteps, n)
		}
	}

	if s, ok := kv[KeyVertices]; ok {
		for _, part := range strings.Split(s, listSep) {
			opts.Vertices = append(opts.Vertices, strings.TrimSpace(part))
		}
	}

	var err error

	if opts.DebugNeighbors, err = parseBool(kv, KeyDebugNeighbors); err != nil {
		return Options{}, err
	}

	if opts.DebugAllVertices, err = parseBool(kv, KeyDebugAllVertices); err != nil {
		return Options{}, err
	}

	if _, ok := kv[KeyCatchExceptions]; ok {
		catch, err := parseBool(kv, KeyCatchExceptions)
		if err != nil {
			return Options{}, err
		}

		opts.CatchExceptions = &catch
	}

	return opts, nil
}

func parseBool(kv map[string]string, key string) (bool, error) {
	s, ok := kv[key]
	if !ok {
		return false, nil
	}

	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, errors.Wrapf(ErrInvalidOption, "%s=%q", key, s)
	}

	return b, nil
}

// Config renders opts back into host configuration form, the inverse of
// [FromConfig].
func (o Options) Config() map[string]string {
	kv := make(map[string]string)

	if o.Supersteps != nil {
		parts := make([]string, len(o.Supersteps))
		for i, s := range o.Supersteps {
			parts[i] = strconv.FormatInt(s, 10)
		}

		kv[KeySupersteps] = strings.Join(parts, listSep)
	}

	if len(o.Vertices) > 0 {
		kv[KeyVertices] = strings.Join(o.Vertices, listSep)
	}

	if o.DebugNeighbors {
		kv[KeyDebugNeighbors] = "true"
	}

	if o.DebugAllVertices {
		kv[KeyDebugAllVertices] = "true"
	}

	if o.CatchExceptions != nil {
		kv[KeyCatchExceptions] = strconv.FormatBool(*o.CatchExceptions)
	}

	return kv
}
