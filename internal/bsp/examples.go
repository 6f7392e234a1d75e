package bsp

import (
	"math"

	"github.com/graftdebug/graft/internal/codec"
	"github.com/graftdebug/graft/internal/graph"
)

// Infinity is the distance of a vertex not reached by ShortestPaths.
const Infinity = math.MaxInt64

// UpdatedAggregator counts vertices whose value changed in a superstep.
const UpdatedAggregator = "updated"

// ShortestPaths computes single-source shortest paths. Vertex values are
// codec.Int64 distances; edge values are codec.Int64 weights, and an edge
// without a value weighs 1. Register [UpdatedAggregator] as [SumInt64] to
// count improvements.
type ShortestPaths struct {
	Source string

	// msg is reused for every send.
	msg codec.Int64
	one codec.Int64
}

func (s *ShortestPaths) Compute(c *Context, v *graph.Vertex, msgs []codec.Value) error {
	if c.Superstep() == 0 {
		v.Value = codec.NewInt64(Infinity)
	}

	best := int64(Infinity)
	if graph.IDString(v.ID) == s.Source {
		best = 0
	}

	for _, m := range msgs {
		best = min(best, m.(*codec.Int64).Get())
	}

	dist := v.Value.(*codec.Int64)
	if best < dist.Get() {
		*dist = codec.Int64(best)

		if c.HasAggregator(UpdatedAggregator) {
			s.one = 1
			c.Aggregate(UpdatedAggregator, &s.one)
		}

		for _, e := range v.Edges {
			s.msg = codec.Int64(best + weight(e))
			c.SendMessage(e.Target, &s.msg)
		}
	}

	c.VoteToHalt()

	return nil
}

func weight(e graph.Edge) int64 {
	if w, ok := e.Value.(*codec.Int64); ok {
		return w.Get()
	}

	return 1
}

// ConnectedComponents labels every vertex with the smallest codec.Int64
// id in its component. Edges must be present in both directions.
type ConnectedComponents struct {
	// label is reused for every send.
	label codec.Int64
}

func (cc *ConnectedComponents) Compute(c *Context, v *graph.Vertex, msgs []codec.Value) error {
	if c.Superstep() == 0 {
		id := v.ID.(*codec.Int64).Get()
		v.Value = codec.NewInt64(id)

		cc.label = codec.Int64(id)
		c.SendMessageToAllEdges(&cc.label)
		c.VoteToHalt()

		return nil
	}

	cur := v.Value.(*codec.Int64)

	smallest := cur.Get()
	for _, m := range msgs {
		smallest = min(smallest, m.(*codec.Int64).Get())
	}

	if smallest < cur.Get() {
		*cur = codec.Int64(smallest)

		cc.label = codec.Int64(smallest)
		c.SendMessageToAllEdges(&cc.label)
	}

	c.VoteToHalt()

	return nil
}

// HaltWhenStable stops the run once the aggregator Name reports zero
// after the first superstep.
type HaltWhenStable struct {
	Name string
}

func (h HaltWhenStable) Compute(m *MasterContext) error {
	if m.Superstep() == 0 {
		return nil
	}

	if v, ok := m.AggregatedValue(h.Name).(*codec.Int64); ok && v.Get() == 0 {
		m.HaltComputation()
	}

	return nil
}
