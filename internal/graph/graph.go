// Package graph defines the host-side view of a vertex-centric computation:
// the vertex a compute call runs on, its out-edges, and the superstep it
// runs in.
package graph

import (
	"encoding/hex"

	"github.com/graftdebug/graft/internal/codec"
)

// Vertex is the live state a compute call sees. Hosts may reuse and mutate
// a Vertex (and the values it points to) across calls.
type Vertex struct {
	ID    codec.Value
	Value codec.Value
	Edges []Edge
}

// Edge is a directed out-edge. Value is nil for edges without a payload.
type Edge struct {
	Target codec.Value
	Value  codec.Value
}

// SuperstepInfo describes the superstep a compute call belongs to.
type SuperstepInfo struct {
	Superstep     int64
	TotalVertices int64
	TotalEdges    int64

	// Config is the job configuration as the host sees it. It is recorded
	// verbatim into every scenario of the superstep.
	Config map[string]string
}

// IDString renders a vertex id the way it appears in configuration and in
// trace file names: text ids as-is, numeric ids in decimal, and anything
// else as hex of its encoding. An empty result means the id has no trace
// name; capture then writes no vertex traces for it.
func IDString(id codec.Value) string {
	switch v := id.(type) {
	case nil:
		return ""
	case *codec.Text:
		return v.Get()
	case *codec.Int64, *codec.Int32, *codec.Float64, *codec.Float32, *codec.Bool:
		return codec.Format(v)
	}

	b, err := id.MarshalBinary()
	if err != nil {
		return ""
	}

	return hex.EncodeToString(b)
}
