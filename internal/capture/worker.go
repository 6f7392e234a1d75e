package capture

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/graftdebug/graft/internal/codec"
	"github.com/graftdebug/graft/internal/graph"
	"github.com/graftdebug/graft/internal/scenario"
	"github.com/graftdebug/graft/internal/tracestore"
	"github.com/graftdebug/graft/internal/violation"
)

// Stats counts what a worker captured over its lifetime.
type Stats struct {
	Captured              int
	Exceptions            int
	MessageViolations     int
	VertexValueViolations int
	SaveFailures          int

	// Unnamed counts vertex events whose id renders as an empty trace
	// name. Such vertices get no vertex traces, only batch entries.
	Unnamed int
}

// Worker holds the capture state of one host worker.
//
// A Worker processes one vertex at a time and is not safe for concurrent
// use. The expected call order per superstep is
//
//	OnSuperstepBegin
//	  for each vertex:
//	    OnComputeBegin
//	    OnSendMessage / OnSendMessageToAllEdges / OnGetAggregatedValue ...
//	    OnComputeEnd or OnComputeException
//	OnSuperstepEnd
//
// [Worker.Compute] drives the per-vertex part for hosts that can wrap the
// compute call.
type Worker struct {
	job    *Job
	taskID string
	log    *slog.Logger
	stats  Stats

	step  *superstep
	event *event
}

// superstep is the state that lives for one superstep.
type superstep struct {
	info     graph.SuperstepInfo
	context  scenario.CommonContext
	captured int
	messages *violation.Tracker[scenario.MessageViolation]
	values   *violation.Tracker[scenario.VertexValueViolation]
}

// event is the state of the vertex being computed.
type event struct {
	vertex *graph.Vertex
	name   string

	// regular is non-nil when the event is captured.
	regular *scenario.VertexScenario

	// valueBefore is a clone of the value at compute begin, kept for
	// exception and violation traces.
	valueBefore codec.Value

	// out holds the messages sent so far. It is kept whenever a regular or
	// violation trace may need it.
	out     []scenario.OutgoingMessage
	keepOut bool

	messageViolated bool
}

// TaskID returns the worker's task id.
func (w *Worker) TaskID() string { return w.taskID }

// Stats returns the worker's counters.
func (w *Worker) Stats() Stats { return w.stats }

// OnSuperstepBegin starts a superstep with fresh counters and trackers. A
// superstep that was never ended is dropped without flushing.
func (w *Worker) OnSuperstepBegin(info graph.SuperstepInfo) {
	if w.step != nil {
		w.log.Warn("superstep dropped without end", "superstep", w.step.info.Superstep)
	}

	limit := w.job.maxViolations

	w.step = &superstep{
		info:     info,
		context:  newContext(info),
		messages: violation.NewTracker[scenario.MessageViolation](info.Superstep, limit),
		values:   violation.NewTracker[scenario.VertexValueViolation](info.Superstep, limit),
	}
	w.event = nil
}

// OnSuperstepEnd flushes each non-empty violation tracker as one batch
// trace and discards the superstep state.
func (w *Worker) OnSuperstepEnd(ctx context.Context) {
	step := w.mustStep("OnSuperstepEnd")
	w.step, w.event = nil, nil

	reg, types := w.job.reg, w.job.types
	ss := step.info.Superstep

	flushTracker(ctx, w, step.messages, w.taskKey(ss, tracestore.KindMessageViolation),
		func(vs []scenario.MessageViolation) ([]byte, error) {
			return scenario.MarshalMessageViolations(types, vs, reg)
		})

	flushTracker(ctx, w, step.values, w.taskKey(ss, tracestore.KindVertexViolation),
		func(vs []scenario.VertexValueViolation) ([]byte, error) {
			return scenario.MarshalVertexValueViolations(types, vs, reg)
		})
}

func flushTracker[T any](ctx context.Context, w *Worker, t *violation.Tracker[T], key tracestore.Key, encode func([]T) ([]byte, error)) {
	flushed, err := t.FlushIfNonEmpty(ctx, w.job.store, key, encode)
	if err != nil {
		w.stats.SaveFailures++
		w.log.Warn("save violations failed", "key", key.Path(), "count", t.Len(), "err", err)

		return
	}

	if flushed {
		w.log.Debug("saved violations", "key", key.Path(), "count", t.Len())
	}
}

// OnComputeBegin starts a vertex event. The returned value tells the host
// whether to route a failure of this compute call to OnComputeException.
func (w *Worker) OnComputeBegin(v *graph.Vertex, msgs []codec.Value) bool {
	step := w.mustStep("OnComputeBegin")
	if w.event != nil {
		w.log.Warn("vertex event dropped without end", "vertex", graph.IDString(w.event.vertex.ID))
	}

	p, reg := w.job.policy, w.job.reg
	ev := &event{vertex: v, name: graph.IDString(v.ID)}
	w.event = ev

	ss := step.info.Superstep
	if ev.name == "" {
		w.stats.Unnamed++
		w.log.Warn("vertex id has no trace name, skipping vertex traces", "superstep", ss, "id", codec.Format(v.ID))
	}

	// Only completed events count against the cap; see OnComputeEnd.
	if ev.name != "" && step.captured < w.job.maxVertices && p.ShouldDebugSuperstep(ss) && p.ShouldDebugVertex(v) {
		ev.regular = w.buildScenario(v, reg.Clone(v.Value), msgs)
	}

	checking := (p.ShouldCheckMessageIntegrity() && !step.messages.Full()) ||
		(p.ShouldCheckVertexValueIntegrity() && !step.values.Full())
	ev.keepOut = ev.regular != nil || checking

	if p.ShouldCatchExceptions() || checking {
		if ev.regular != nil {
			ev.valueBefore = ev.regular.ValueBefore
		} else {
			ev.valueBefore = reg.Clone(v.Value)
		}
	}

	return p.ShouldCatchExceptions()
}

// OnSendMessage records a message sent from the current vertex to dst and
// checks it against the message integrity predicate.
func (w *Worker) OnSendMessage(dst, msg codec.Value) {
	step := w.mustStep("OnSendMessage")
	ev := w.mustEvent("OnSendMessage")

	w.interceptMessage(step, ev, dst, msg)
}

// OnSendMessageToAllEdges records msg once per out-edge of v.
func (w *Worker) OnSendMessageToAllEdges(v *graph.Vertex, msg codec.Value) {
	step := w.mustStep("OnSendMessageToAllEdges")
	ev := w.mustEvent("OnSendMessageToAllEdges")

	for _, e := range v.Edges {
		w.interceptMessage(step, ev, e.Target, msg)
	}
}

func (w *Worker) interceptMessage(step *superstep, ev *event, dst, msg codec.Value) {
	p, reg := w.job.policy, w.job.reg

	if ev.keepOut {
		ev.out = append(ev.out, scenario.OutgoingMessage{Dest: reg.Clone(dst), Message: reg.Clone(msg)})
	}

	if !p.ShouldCheckMessageIntegrity() || step.messages.Full() {
		return
	}

	src := ev.vertex.ID
	if p.IsMessageCorrect(src, dst, msg, step.info.Superstep) {
		return
	}

	step.messages.Record(scenario.MessageViolation{
		Superstep: step.info.Superstep,
		Src:       reg.Clone(src),
		Dst:       reg.Clone(dst),
		Message:   reg.Clone(msg),
	})
	ev.messageViolated = true
	w.stats.MessageViolations++
}

// OnGetAggregatedValue records an aggregator read. Only the first read of
// each name per superstep is kept.
func (w *Worker) OnGetAggregatedValue(name string, value codec.Value) {
	step := w.mustStep("OnGetAggregatedValue")

	if _, ok := step.context.Aggregate(name); ok {
		return
	}

	step.context.AddAggregateIfAbsent(name, w.job.reg.Clone(value))
}

// OnComputeException records a failed compute call as an exception trace
// when the policy catches exceptions. It always returns err unchanged; the
// host decides what the failure means.
func (w *Worker) OnComputeException(ctx context.Context, v *graph.Vertex, msgs []codec.Value, err error) error {
	step := w.mustStep("OnComputeException")
	ev := w.event
	w.event = nil

	if !w.job.policy.ShouldCatchExceptions() || graph.IDString(v.ID) == "" {
		return err
	}

	var valueBefore codec.Value
	if ev != nil {
		valueBefore = ev.valueBefore
	} else {
		valueBefore = w.job.reg.Clone(v.Value)
	}

	sc := w.buildScenario(v, valueBefore, msgs)
	sc.Context = step.context.Copy()
	sc.Fail(exceptionInfo(err))

	w.stats.Exceptions++

	key := w.vertexKey(step.info.Superstep, v, tracestore.KindException)
	w.log.Info("caught compute exception", "vertex", key.VertexID, "superstep", key.Superstep, "err", err)

	w.saveScenario(ctx, key, sc)

	return err
}

// OnComputeEnd finishes a vertex event that returned normally. A captured
// event is saved as a regular trace; a vertex value rejected by the
// integrity predicate is recorded; a vertex that sent a rejected message
// gets a message violation trace.
func (w *Worker) OnComputeEnd(ctx context.Context, v *graph.Vertex, msgs []codec.Value) {
	step := w.mustStep("OnComputeEnd")
	ev := w.mustEvent("OnComputeEnd")
	w.event = nil

	p, reg := w.job.policy, w.job.reg
	ss := step.info.Superstep

	var valueAfter codec.Value

	after := func() codec.Value {
		if valueAfter == nil {
			valueAfter = reg.Clone(v.Value)
		}

		return valueAfter
	}

	if ev.regular != nil {
		step.captured++
		w.stats.Captured++

		ev.regular.Context = step.context.Copy()
		ev.regular.OutMessages = ev.out
		ev.regular.Complete(after())
		w.saveScenario(ctx, w.vertexKey(ss, v, tracestore.KindRegular), ev.regular)
	}

	if p.ShouldCheckVertexValueIntegrity() && !step.values.Full() && !p.IsVertexValueCorrect(v.ID, v.Value) {
		step.values.Record(scenario.VertexValueViolation{
			Superstep: ss,
			VertexID:  reg.Clone(v.ID),
			Value:     after(),
		})
		w.stats.VertexValueViolations++

		w.saveViolationScenario(ctx, step, ev, v, msgs, after(), tracestore.KindVertexViolation)
	}

	if ev.messageViolated {
		w.saveViolationScenario(ctx, step, ev, v, msgs, after(), tracestore.KindMessageViolation)
	}
}

// saveViolationScenario writes the per-vertex scenario of a vertex that
// broke an integrity predicate. It carries every message the vertex sent,
// whether or not the event was captured.
func (w *Worker) saveViolationScenario(ctx context.Context, step *superstep, ev *event, v *graph.Vertex, msgs []codec.Value, after codec.Value, kind tracestore.Kind) {
	if ev.name == "" {
		return
	}

	sc := w.buildScenario(v, ev.valueBefore, msgs)
	sc.Context = step.context.Copy()
	sc.OutMessages = ev.out

	sc.Complete(after)
	w.saveScenario(ctx, w.vertexKey(step.info.Superstep, v, kind), sc)
}

// buildScenario snapshots v. valueBefore must already be a clone.
func (w *Worker) buildScenario(v *graph.Vertex, valueBefore codec.Value, msgs []codec.Value) *scenario.VertexScenario {
	reg := w.job.reg

	sc := scenario.NewVertexScenario(w.job.types, scenario.CommonContext{}, reg.Clone(v.ID), valueBefore)

	for _, e := range v.Edges {
		sc.AddNeighbor(reg.Clone(e.Target), reg.Clone(e.Value))
	}

	for _, m := range msgs {
		sc.AddInMessage(reg.Clone(m))
	}

	return sc
}

func (w *Worker) saveScenario(ctx context.Context, key tracestore.Key, sc *scenario.VertexScenario) {
	ok := w.job.save(ctx, w.log, key, func() ([]byte, error) {
		return scenario.MarshalVertexScenario(sc, w.job.reg)
	})
	if !ok {
		w.stats.SaveFailures++
	}
}

func (w *Worker) vertexKey(ss int64, v *graph.Vertex, kind tracestore.Kind) tracestore.Key {
	return tracestore.Key{JobID: w.job.id, Superstep: ss, VertexID: graph.IDString(v.ID), Kind: kind}
}

func (w *Worker) taskKey(ss int64, kind tracestore.Kind) tracestore.Key {
	return tracestore.Key{JobID: w.job.id, Superstep: ss, TaskID: w.taskID, Kind: kind}
}

func (w *Worker) mustStep(hook string) *superstep {
	if w.step == nil {
		panic(errors.AssertionFailedf("capture: %s called outside a superstep", hook))
	}

	return w.step
}

func (w *Worker) mustEvent(hook string) *event {
	if w.event == nil {
		panic(errors.AssertionFailedf("capture: %s called outside a compute call", hook))
	}

	return w.event
}

func newContext(info graph.SuperstepInfo) scenario.CommonContext {
	ctx := scenario.CommonContext{
		Superstep:     info.Superstep,
		TotalVertices: info.TotalVertices,
		TotalEdges:    info.TotalEdges,
	}

	if len(info.Config) > 0 {
		ctx.Config = make(map[string]string, len(info.Config))
		for k, v := range info.Config {
			ctx.Config[k] = v
		}
	}

	return ctx
}
