package testutil

import (
	"github.com/graftdebug/graft/internal/codec"
	"github.com/graftdebug/graft/internal/scenario"
	"github.com/graftdebug/graft/internal/tracestore"
)

// Int64Types describes a computation over int64 ids, values and messages
// with untyped edges.
var Int64Types = scenario.TypeDescriptor{
	ClassUnderTest: "fuzz.Computation",
	IDType:         codec.Int64TypeName,
	ValueType:      codec.Int64TypeName,
	EdgeValueType:  codec.NullTypeName,
	InMessageType:  codec.Int64TypeName,
	OutMessageType: codec.Int64TypeName,
}

var kinds = []tracestore.Kind{
	tracestore.KindRegular,
	tracestore.KindException,
	tracestore.KindMessageViolation,
	tracestore.KindVertexViolation,
	tracestore.KindMasterRegular,
	tracestore.KindMasterException,
}

// NextKey returns a valid trace key.
func (s *ByteStream) NextKey() tracestore.Key {
	k := tracestore.Key{
		JobID:     "job" + s.NextString(6),
		Superstep: int64(s.NextInt(256)) - 8,
		Kind:      kinds[s.NextInt(len(kinds))],
	}

	// Job ids may not contain separators.
	k.JobID = sanitizeJobID(k.JobID)

	switch {
	case k.Kind.Master():
	case k.Kind.Violation() && s.NextBool():
		k.TaskID = s.NextString(12)
	default:
		k.VertexID = s.NextString(12)
	}

	return k
}

func sanitizeJobID(id string) string {
	out := []rune(id)
	for i, r := range out {
		if r == '/' || r == '\\' {
			out[i] = '-'
		}
	}

	return string(out)
}

// NextContext returns a superstep context with up to four aggregate reads.
func (s *ByteStream) NextContext() scenario.CommonContext {
	ctx := scenario.CommonContext{
		Superstep:     int64(s.NextInt(64)),
		TotalVertices: s.NextInt64(),
		TotalEdges:    s.NextInt64(),
	}

	for range s.NextInt(4) {
		if ctx.Config == nil {
			ctx.Config = make(map[string]string)
		}

		ctx.Config[s.NextString(6)] = s.NextString(6)
	}

	for range s.NextInt(5) {
		ctx.AddAggregateIfAbsent(s.NextString(4), codec.NewInt64(s.NextInt64()))
	}

	return ctx
}

// NextVertexScenario returns a terminal scenario typed by Int64Types.
func (s *ByteStream) NextVertexScenario() *scenario.VertexScenario {
	sc := scenario.NewVertexScenario(Int64Types, s.NextContext(),
		codec.NewInt64(s.NextInt64()), codec.NewInt64(s.NextInt64()))

	for range s.NextInt(6) {
		sc.AddNeighbor(codec.NewInt64(s.NextInt64()), nil)
	}

	for range s.NextInt(6) {
		sc.AddInMessage(codec.NewInt64(s.NextInt64()))
	}

	for range s.NextInt(6) {
		sc.AddOutMessage(codec.NewInt64(s.NextInt64()), codec.NewInt64(s.NextInt64()))
	}

	if s.NextBool() {
		sc.Fail(scenario.ExceptionInfo{Message: s.NextString(20), StackTrace: s.NextString(40)})
	} else {
		sc.Complete(codec.NewInt64(s.NextInt64()))
	}

	return sc
}
