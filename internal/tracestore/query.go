package tracestore

import (
	"context"
	"slices"
	"sort"
)

// Supersteps returns the distinct supersteps that have vertex traces
// (regular, exception or violation), ascending.
func (s *Store) Supersteps(ctx context.Context, jobID string) ([]int64, error) {
	return s.supersteps(ctx, jobID, func(k Kind) bool { return !k.Master() })
}

// MasterSupersteps returns the distinct supersteps that have coordinator
// traces, ascending.
func (s *Store) MasterSupersteps(ctx context.Context, jobID string) ([]int64, error) {
	return s.supersteps(ctx, jobID, Kind.Master)
}

func (s *Store) supersteps(ctx context.Context, jobID string, match func(Kind) bool) ([]int64, error) {
	keys, err := s.List(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var out []int64

	for _, k := range keys {
		if match(k.Kind) && (len(out) == 0 || out[len(out)-1] != k.Superstep) {
			out = append(out, k.Superstep)
		}
	}

	return out, nil
}

// Vertices returns the ids of vertices with a per-vertex trace at superstep
// of one of kinds, sorted and deduplicated. With no kinds, regular and
// exception traces are considered.
func (s *Store) Vertices(ctx context.Context, jobID string, superstep int64, kinds ...Kind) ([]string, error) {
	if len(kinds) == 0 {
		kinds = []Kind{KindRegular, KindException}
	}

	return s.ids(ctx, jobID, superstep, kinds, func(k Key) string { return k.VertexID })
}

// Tasks returns the ids of tasks that wrote a violation batch of kind at
// superstep, sorted.
func (s *Store) Tasks(ctx context.Context, jobID string, superstep int64, kind Kind) ([]string, error) {
	return s.ids(ctx, jobID, superstep, []Kind{kind}, func(k Key) string { return k.TaskID })
}

func (s *Store) ids(ctx context.Context, jobID string, superstep int64, kinds []Kind, id func(Key) string) ([]string, error) {
	keys, err := s.List(ctx, jobID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})

	for _, k := range keys {
		if k.Superstep != superstep || !slices.Contains(kinds, k.Kind) {
			continue
		}

		if v := id(k); v != "" {
			seen[v] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}

	sort.Strings(out)

	return out, nil
}
