package bsp

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/graftdebug/graft/internal/capture"
	"github.com/graftdebug/graft/internal/codec"
	"github.com/graftdebug/graft/internal/graph"
)

type worker struct {
	r        *runner
	comp     Computation
	capture  *capture.Worker
	vertices []*vertexState

	// outbox holds copies of sent messages by destination id until the
	// barrier.
	outbox map[string][]codec.Value

	// partial holds this worker's aggregator contributions.
	partial map[string]codec.Value
}

func (w *worker) superstep(ctx context.Context, info graph.SuperstepInfo) error {
	if w.capture != nil {
		w.capture.OnSuperstepBegin(info)
	}

	c := &Context{w: w, info: info}

	for _, vs := range w.vertices {
		if vs.halted && len(vs.inbox) == 0 {
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		msgs := vs.inbox
		vs.inbox = nil
		vs.halted = false
		c.vertex = vs

		err := w.compute(ctx, c, vs, msgs)
		if err != nil {
			return errors.Wrapf(err, "superstep %d vertex %s", info.Superstep, graph.IDString(vs.v.ID))
		}
	}

	if w.capture != nil {
		w.capture.OnSuperstepEnd(ctx)
	}

	return nil
}

func (w *worker) compute(ctx context.Context, c *Context, vs *vertexState, msgs []codec.Value) (err error) {
	defer recoverInto(&err)

	fn := func() error { return w.comp.Compute(c, vs.v, msgs) }

	if w.capture != nil {
		return w.capture.Compute(ctx, vs.v, msgs, fn)
	}

	return fn()
}

func (w *worker) send(dst codec.Value, msg codec.Value) {
	id := graph.IDString(dst)
	w.outbox[id] = append(w.outbox[id], w.r.reg.Clone(msg))
}

// Context is what a Computation sees of the runner while computing one
// vertex.
type Context struct {
	w      *worker
	info   graph.SuperstepInfo
	vertex *vertexState
}

// Superstep returns the current superstep.
func (c *Context) Superstep() int64 { return c.info.Superstep }

// TotalVertices returns the number of vertices in the graph.
func (c *Context) TotalVertices() int64 { return c.info.TotalVertices }

// TotalEdges returns the number of edges in the graph.
func (c *Context) TotalEdges() int64 { return c.info.TotalEdges }

// SendMessage sends msg to dst for the next superstep. msg is copied, so
// the caller may reuse it.
func (c *Context) SendMessage(dst, msg codec.Value) {
	if c.w.capture != nil {
		c.w.capture.OnSendMessage(dst, msg)
	}

	c.w.send(dst, msg)
}

// SendMessageToAllEdges sends msg along every out-edge of the current
// vertex.
func (c *Context) SendMessageToAllEdges(msg codec.Value) {
	v := c.vertex.v

	if c.w.capture != nil {
		c.w.capture.OnSendMessageToAllEdges(v, msg)
	}

	for _, e := range v.Edges {
		c.w.send(e.Target, msg)
	}
}

// VoteToHalt deactivates the current vertex until it receives a message.
func (c *Context) VoteToHalt() { c.vertex.halted = true }

// AggregatedValue returns the value of aggregator name as of the previous
// barrier, or nil if there is no such aggregator.
func (c *Context) AggregatedValue(name string) codec.Value {
	v := c.w.r.aggregated[name]

	if c.w.capture != nil && v != nil {
		c.w.capture.OnGetAggregatedValue(name, v)
	}

	return v
}

// HasAggregator reports whether aggregator name is registered.
func (c *Context) HasAggregator(name string) bool {
	_, ok := c.w.r.opts.Aggregators[name]

	return ok
}

// Aggregate contributes v to aggregator name. It panics if name is not
// registered.
func (c *Context) Aggregate(name string, v codec.Value) {
	agg, ok := c.w.r.opts.Aggregators[name]
	if !ok {
		panic(errors.AssertionFailedf("bsp: unknown aggregator %q", name))
	}

	acc, ok := c.w.partial[name]
	if !ok {
		acc = agg.Initial()
	}

	c.w.partial[name] = agg.Reduce(acc, v)
}

// MasterContext is what a MasterComputation sees of the runner.
type MasterContext struct {
	r      *runner
	info   graph.SuperstepInfo
	halted bool
}

// Superstep returns the current superstep.
func (m *MasterContext) Superstep() int64 { return m.info.Superstep }

// TotalVertices returns the number of vertices in the graph.
func (m *MasterContext) TotalVertices() int64 { return m.info.TotalVertices }

// AggregatedValue returns the value of aggregator name as of the previous
// barrier.
func (m *MasterContext) AggregatedValue(name string) codec.Value {
	v := m.r.aggregated[name]

	if m.r.master != nil && v != nil {
		m.r.master.OnMasterGetAggregate(name, v)
	}

	return v
}

// SetAggregatedValue overrides the value workers see this superstep.
func (m *MasterContext) SetAggregatedValue(name string, v codec.Value) {
	m.r.aggregated[name] = m.r.reg.Clone(v)
}

// HaltComputation ends the run before the workers compute this superstep.
func (m *MasterContext) HaltComputation() { m.halted = true }
