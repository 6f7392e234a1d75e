// Package policy decides what gets captured and what gets checked.
//
// A [Policy] answers two independent questions per event: should the event
// be recorded, and is what it produced correct. Hosts that only want
// integrity checks can leave capture off, and the other way round.
package policy

import (
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/graftdebug/graft/internal/codec"
	"github.com/graftdebug/graft/internal/graph"
)

// ErrInvalidOption is returned for malformed policy configuration.
var ErrInvalidOption = errors.New("invalid debug option")

// Policy is consulted by package capture on every event.
type Policy interface {
	// ShouldDebugSuperstep reports whether anything in superstep is
	// captured, including the coordinator step.
	ShouldDebugSuperstep(superstep int64) bool

	// ShouldDebugVertex reports whether v's compute call is captured.
	ShouldDebugVertex(v *graph.Vertex) bool

	// ShouldCatchExceptions reports whether failing compute calls are
	// recorded as exception traces.
	ShouldCatchExceptions() bool

	ShouldCheckMessageIntegrity() bool
	IsMessageCorrect(src, dst, msg codec.Value, superstep int64) bool

	ShouldCheckVertexValueIntegrity() bool
	IsVertexValueCorrect(id, value codec.Value) bool
}

// Options configures [Default].
type Options struct {
	// Supersteps limits capture to these supersteps. Nil means all.
	Supersteps []int64

	// Vertices lists vertex ids to capture, as rendered by graph.IDString.
	Vertices []string

	// DebugNeighbors also captures vertices with an out-edge to one of
	// Vertices.
	DebugNeighbors bool

	// DebugAllVertices captures every vertex. Vertices is ignored.
	DebugAllVertices bool

	// CatchExceptions defaults to true when nil.
	CatchExceptions *bool
}

// Default is the stock policy. Custom policies embed *Default and override
// the methods they care about.
//
// The zero value, a nil *Default and NewDefault(Options{}) behave the
// same: no vertex is captured, every superstep is eligible, exceptions are
// caught and nothing is checked.
type Default struct {
	supersteps map[int64]struct{}
	vertices   map[string]struct{}
	neighbors  bool
	all        bool
	noCatch    bool
}

// NewDefault validates opts and builds a Default.
func NewDefault(opts Options) (*Default, error) {
	d := &Default{
		neighbors: opts.DebugNeighbors,
		all:       opts.DebugAllVertices,
		noCatch:   opts.CatchExceptions != nil && !*opts.CatchExceptions,
	}

	if opts.Supersteps != nil {
		d.supersteps = make(map[int64]struct{}, len(opts.Supersteps))

		for _, s := range opts.Supersteps {
			// -1 is the input superstep some hosts run before superstep 0.
			if s < -1 {
				return nil, errors.Wrapf(ErrInvalidOption, "superstep %d", s)
			}

			d.supersteps[s] = struct{}{}
		}
	}

	if len(opts.Vertices) > 0 && !opts.DebugAllVertices {
		d.vertices = make(map[string]struct{}, len(opts.Vertices))

		for _, v := range opts.Vertices {
			if v == "" {
				return nil, errors.Wrap(ErrInvalidOption, "empty vertex id")
			}

			d.vertices[v] = struct{}{}
		}
	}

	if opts.DebugNeighbors && d.vertices == nil && !opts.DebugAllVertices {
		return nil, errors.Wrap(ErrInvalidOption, "debug neighbors needs vertices to debug")
	}

	return d, nil
}

// MustDefault is NewDefault for options known to be valid. It panics
// otherwise.
func MustDefault(opts Options) *Default {
	d, err := NewDefault(opts)
	if err != nil {
		panic(err)
	}

	return d
}

func (d *Default) ShouldDebugSuperstep(superstep int64) bool {
	if d == nil || d.supersteps == nil {
		return true
	}

	_, ok := d.supersteps[superstep]

	return ok
}

func (d *Default) ShouldDebugVertex(v *graph.Vertex) bool {
	if d == nil {
		return false
	}

	if d.all {
		return true
	}

	if d.vertices == nil {
		return false
	}

	if _, ok := d.vertices[graph.IDString(v.ID)]; ok {
		return true
	}

	if !d.neighbors {
		return false
	}

	for _, e := range v.Edges {
		if _, ok := d.vertices[graph.IDString(e.Target)]; ok {
			return true
		}
	}

	return false
}

func (d *Default) ShouldCatchExceptions() bool { return d == nil || !d.noCatch }

func (*Default) ShouldCheckMessageIntegrity() bool { return false }

func (*Default) IsMessageCorrect(_, _, _ codec.Value, _ int64) bool { return true }

func (*Default) ShouldCheckVertexValueIntegrity() bool { return false }

func (*Default) IsVertexValueCorrect(_, _ codec.Value) bool { return true }

// LogValue implements slog.LogValuer.
func (d *Default) LogValue() slog.Value {
	if d == nil {
		d = &Default{}
	}

	supersteps := "all"
	if d.supersteps != nil {
		supersteps = joinInts(d.supersteps)
	}

	vertices := "none"

	switch {
	case d.all:
		vertices = "all"
	case d.vertices != nil:
		vertices = joinStrings(d.vertices)
	}

	return slog.GroupValue(
		slog.String("supersteps", supersteps),
		slog.String("vertices", vertices),
		slog.Bool("neighbors", d.neighbors),
		slog.Bool("catch_exceptions", !d.noCatch),
	)
}

func joinInts(set map[int64]struct{}) string {
	xs := make([]int64, 0, len(set))
	for x := range set {
		xs = append(xs, x)
	}

	slices.Sort(xs)

	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.FormatInt(x, 10)
	}

	return strings.Join(parts, ",")
}

func joinStrings(set map[string]struct{}) string {
	xs := make([]string, 0, len(set))
	for x := range set {
		xs = append(xs, x)
	}

	sort.Strings(xs)

	return strings.Join(xs, ",")
}

// Funcs is a policy assembled from closures on top of a [Default].
// A nil predicate disables the matching check; a nil Default means the
// zero Default.
type Funcs struct {
	*Default

	MessageCorrect     func(src, dst, msg codec.Value, superstep int64) bool
	VertexValueCorrect func(id, value codec.Value) bool
}

func (f *Funcs) ShouldCheckMessageIntegrity() bool { return f.MessageCorrect != nil }

func (f *Funcs) IsMessageCorrect(src, dst, msg codec.Value, superstep int64) bool {
	if f.MessageCorrect == nil {
		return true
	}

	return f.MessageCorrect(src, dst, msg, superstep)
}

func (f *Funcs) ShouldCheckVertexValueIntegrity() bool { return f.VertexValueCorrect != nil }

func (f *Funcs) IsVertexValueCorrect(id, value codec.Value) bool {
	if f.VertexValueCorrect == nil {
		return true
	}

	return f.VertexValueCorrect(id, value)
}

var (
	_ Policy = (*Default)(nil)
	_ Policy = (*Funcs)(nil)
)
