package policy_test

import (
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"

	"github.com/graftdebug/graft/internal/codec"
	"github.com/graftdebug/graft/internal/graph"
	"github.com/graftdebug/graft/internal/policy"
)

func vertex(id int64, targets ...int64) *graph.Vertex {
	v := &graph.Vertex{ID: codec.NewInt64(id), Value: codec.NewInt64(0)}
	for _, t := range targets {
		v.Edges = append(v.Edges, graph.Edge{Target: codec.NewInt64(t)})
	}

	return v
}

func TestDefaultsWithoutConfiguration(t *testing.T) {
	t.Parallel()

	built, err := policy.NewDefault(policy.Options{})
	if err != nil {
		t.Fatalf("NewDefault: %v", err)
	}

	policies := map[string]policy.Policy{
		"zero":          &policy.Default{},
		"built":         built,
		"nil":           (*policy.Default)(nil),
		"funcs without": &policy.Funcs{},
	}

	for name, p := range policies {
		if !p.ShouldDebugSuperstep(0) || !p.ShouldDebugSuperstep(1234) {
			t.Errorf("%s: ShouldDebugSuperstep=false, want all supersteps", name)
		}

		if p.ShouldDebugVertex(vertex(1, 2)) {
			t.Errorf("%s: ShouldDebugVertex=true", name)
		}

		if !p.ShouldCatchExceptions() {
			t.Errorf("%s: ShouldCatchExceptions=false", name)
		}

		if p.ShouldCheckMessageIntegrity() || p.ShouldCheckVertexValueIntegrity() {
			t.Errorf("%s: integrity checks enabled", name)
		}

		if !p.IsMessageCorrect(codec.NewInt64(1), codec.NewInt64(2), codec.NewInt64(3), 0) {
			t.Errorf("%s: IsMessageCorrect=false", name)
		}

		if !p.IsVertexValueCorrect(codec.NewInt64(1), codec.NewInt64(2)) {
			t.Errorf("%s: IsVertexValueCorrect=false", name)
		}
	}
}

func TestShouldDebugVertex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		opts   policy.Options
		vertex *graph.Vertex
		want   bool
	}{
		{name: "all", opts: policy.Options{DebugAllVertices: true}, vertex: vertex(9), want: true},
		{name: "listed", opts: policy.Options{Vertices: []string{"1", "7"}}, vertex: vertex(7), want: true},
		{name: "not listed", opts: policy.Options{Vertices: []string{"1"}}, vertex: vertex(2, 1), want: false},
		{
			name:   "neighbor via out-edge",
			opts:   policy.Options{Vertices: []string{"1"}, DebugNeighbors: true},
			vertex: vertex(2, 5, 1),
			want:   true,
		},
		{
			name:   "in-edge does not count",
			opts:   policy.Options{Vertices: []string{"1"}, DebugNeighbors: true},
			vertex: vertex(2, 3),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := policy.MustDefault(tt.opts)
			if got := p.ShouldDebugVertex(tt.vertex); got != tt.want {
				t.Fatalf("ShouldDebugVertex=%v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldDebugSuperstepAllowSet(t *testing.T) {
	t.Parallel()

	p := policy.MustDefault(policy.Options{Supersteps: []int64{0, 3}})

	got := []bool{p.ShouldDebugSuperstep(0), p.ShouldDebugSuperstep(1), p.ShouldDebugSuperstep(3)}
	if diff := cmp.Diff([]bool{true, false, true}, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	// An explicitly empty set debugs nothing.
	none := policy.MustDefault(policy.Options{Supersteps: []int64{}})
	if none.ShouldDebugSuperstep(0) {
		t.Fatal("empty allow-set matched superstep 0")
	}
}

func TestNewDefaultRejectsBadOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts policy.Options
	}{
		{name: "negative superstep", opts: policy.Options{Supersteps: []int64{-2}}},
		{name: "empty vertex", opts: policy.Options{Vertices: []string{""}}},
		{name: "neighbors without vertices", opts: policy.Options{DebugNeighbors: true}},
	}

	for _, tt := range tests {
		if _, err := policy.NewDefault(tt.opts); !errors.Is(err, policy.ErrInvalidOption) {
			t.Errorf("%s: err=%v, want ErrInvalidOption", tt.name, err)
		}
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	opts, err := policy.FromConfig(map[string]string{
		policy.KeySupersteps:      "1:2: 5",
		policy.KeyVertices:        "7:alice",
		policy.KeyDebugNeighbors:  "true",
		policy.KeyCatchExceptions: "false",
		"unrelated":               "x",
	})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}

	catch := false
	want := policy.Options{
		Supersteps:      []int64{1, 2, 5},
		Vertices:        []string{"7", "alice"},
		DebugNeighbors:  true,
		CatchExceptions: &catch,
	}

	if diff := cmp.Diff(want, opts); diff != "" {
		t.Fatalf("options mismatch (-want +got):\n%s", diff)
	}

	back, err := policy.FromConfig(opts.Config())
	if err != nil {
		t.Fatalf("FromConfig(Config()): %v", err)
	}

	if diff := cmp.Diff(want, back); diff != "" {
		t.Fatalf("Config round trip mismatch (-want +got):\n%s", diff)
	}

	p := policy.MustDefault(opts)
	if p.ShouldCatchExceptions() {
		t.Fatal("catch_exceptions=false ignored")
	}
}

func TestFromConfigMalformed(t *testing.T) {
	t.Parallel()

	for _, kv := range []map[string]string{
		{policy.KeySupersteps: "1:x"},
		{policy.KeySupersteps: ""},
		{policy.KeyDebugAllVertices: "maybe"},
		{policy.KeyCatchExceptions: "nope"},
	} {
		if _, err := policy.FromConfig(kv); !errors.Is(err, policy.ErrInvalidOption) {
			t.Errorf("FromConfig(%v) err=%v, want ErrInvalidOption", kv, err)
		}
	}
}

func TestFuncsPlugsPredicates(t *testing.T) {
	t.Parallel()

	p := &policy.Funcs{
		Default: policy.MustDefault(policy.Options{DebugAllVertices: true}),
		MessageCorrect: func(_, _, msg codec.Value, _ int64) bool {
			return msg.(*codec.Int64).Get() <= 4
		},
	}

	if !p.ShouldCheckMessageIntegrity() || p.ShouldCheckVertexValueIntegrity() {
		t.Fatal("only the message check should be active")
	}

	if p.IsMessageCorrect(codec.NewInt64(1), codec.NewInt64(2), codec.NewInt64(5), 0) {
		t.Fatal("message 5 accepted")
	}

	if !p.ShouldDebugVertex(vertex(3)) {
		t.Fatal("embedded Default not consulted")
	}
}

func TestDefaultLogValue(t *testing.T) {
	t.Parallel()

	p := policy.MustDefault(policy.Options{Supersteps: []int64{3, 1}, Vertices: []string{"b", "a"}})

	got := map[string]string{}
	for _, a := range p.LogValue().Group() {
		got[a.Key] = a.Value.String()
	}

	want := map[string]string{
		"supersteps":       "1,3",
		"vertices":         "a,b",
		"neighbors":        "false",
		"catch_exceptions": "true",
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("LogValue mismatch (-want +got):\n%s", diff)
	}

	var _ slog.LogValuer = p
}
