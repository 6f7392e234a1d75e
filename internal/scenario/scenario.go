// Package scenario holds the in-memory form of one captured computation
// event and its trace encoding.
//
// A [VertexScenario] records a single vertex compute call: the value before
// and after, the messages in and out, the neighborhood and the superstep
// context. A [MasterScenario] records one coordinator step. Scenarios are
// built by package capture, persisted by package tracestore and read back by
// tools through the Unmarshal functions here.
//
// Scenarios never copy values themselves. Whoever adds a value must hand over
// an independent copy (see codec.Clone); after that the scenario owns it.
package scenario

import (
	"github.com/cockroachdb/errors"

	"github.com/graftdebug/graft/internal/codec"
)

// ErrCorrupt is returned when a trace cannot be decoded or a scenario breaks
// its own invariants.
var ErrCorrupt = errors.New("corrupt scenario")

// TypeDescriptor names the computation and the value types it works with.
// Decoding resolves each name through a codec.Registry.
type TypeDescriptor struct {
	ClassUnderTest string
	IDType         string
	ValueType      string
	EdgeValueType  string
	InMessageType  string
	OutMessageType string
}

// Aggregate is one aggregator read.
type Aggregate struct {
	Name  string
	Value codec.Value
}

// CommonContext is the per-superstep context shared by vertex and master
// scenarios.
type CommonContext struct {
	Superstep     int64
	TotalVertices int64
	TotalEdges    int64

	// Config is an opaque snapshot of the job configuration.
	Config map[string]string

	// PreviousAggregates holds the first value read for each aggregator
	// during the superstep, in read order.
	PreviousAggregates []Aggregate
}

// AddAggregateIfAbsent records an aggregator read. Only the first read of a
// name is kept; later reads are ignored and AddAggregateIfAbsent reports
// false.
func (c *CommonContext) AddAggregateIfAbsent(name string, value codec.Value) bool {
	if _, ok := c.Aggregate(name); ok {
		return false
	}

	c.PreviousAggregates = append(c.PreviousAggregates, Aggregate{Name: name, Value: value})

	return true
}

// Aggregate returns the recorded value of aggregator name.
func (c *CommonContext) Aggregate(name string) (codec.Value, bool) {
	for _, a := range c.PreviousAggregates {
		if a.Name == name {
			return a.Value, true
		}
	}

	return nil, false
}

// Copy returns a CommonContext that shares values but not slices or maps
// with c. Values are immutable once recorded, so sharing them is safe.
func (c CommonContext) Copy() CommonContext {
	out := c

	if c.Config != nil {
		out.Config = make(map[string]string, len(c.Config))
		for k, v := range c.Config {
			out.Config[k] = v
		}
	}

	out.PreviousAggregates = append([]Aggregate(nil), c.PreviousAggregates...)

	return out
}

// Neighbor is an out-edge of the captured vertex. EdgeValue is nil for
// edges without a payload.
type Neighbor struct {
	ID        codec.Value
	EdgeValue codec.Value
}

// OutgoingMessage is one message sent during the event.
type OutgoingMessage struct {
	Dest    codec.Value
	Message codec.Value
}

// Equal compares by destination and message value.
func (m OutgoingMessage) Equal(o OutgoingMessage) bool {
	return codec.Equal(m.Dest, o.Dest) && codec.Equal(m.Message, o.Message)
}

// OutgoingCount is an outgoing message with the number of times it was sent.
type OutgoingCount struct {
	OutgoingMessage
	Count int
}

// AggregateOutgoing groups identical sends. Groups appear in the order their
// first member was sent.
func AggregateOutgoing(msgs []OutgoingMessage) []OutgoingCount {
	var out []OutgoingCount

outer:
	for _, m := range msgs {
		for i := range out {
			if out[i].Equal(m) {
				out[i].Count++

				continue outer
			}
		}

		out = append(out, OutgoingCount{OutgoingMessage: m, Count: 1})
	}

	return out
}

// ExceptionInfo describes a failure raised by the computation.
type ExceptionInfo struct {
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace"`
}

// VertexScenario is one captured vertex compute call.
//
// An event ends either normally, in which case Completed is true and
// ValueAfter holds the final value, or with an exception. Never both.
type VertexScenario struct {
	Types   TypeDescriptor
	Context CommonContext

	VertexID    codec.Value
	ValueBefore codec.Value
	ValueAfter  codec.Value
	Completed   bool

	Neighbors   []Neighbor
	InMessages  []codec.Value
	OutMessages []OutgoingMessage

	Exception *ExceptionInfo
}

// NewVertexScenario starts a scenario. The value before is fixed here and
// not changed afterwards.
func NewVertexScenario(types TypeDescriptor, ctx CommonContext, id, valueBefore codec.Value) *VertexScenario {
	return &VertexScenario{
		Types:       types,
		Context:     ctx,
		VertexID:    id,
		ValueBefore: valueBefore,
	}
}

// AddNeighbor appends an out-edge.
func (s *VertexScenario) AddNeighbor(id, edgeValue codec.Value) {
	s.Neighbors = append(s.Neighbors, Neighbor{ID: id, EdgeValue: edgeValue})
}

// AddInMessage appends an incoming message in delivery order.
func (s *VertexScenario) AddInMessage(msg codec.Value) {
	s.InMessages = append(s.InMessages, msg)
}

// AddOutMessage appends an outgoing message in send order.
func (s *VertexScenario) AddOutMessage(dest, msg codec.Value) {
	s.OutMessages = append(s.OutMessages, OutgoingMessage{Dest: dest, Message: msg})
}

// Complete marks the event as finished normally.
func (s *VertexScenario) Complete(valueAfter codec.Value) {
	s.ValueAfter = valueAfter
	s.Completed = true
	s.Exception = nil
}

// Fail marks the event as ended by an exception.
func (s *VertexScenario) Fail(exc ExceptionInfo) {
	s.ValueAfter = nil
	s.Completed = false
	s.Exception = &exc
}

// Validate checks that exactly one of ValueAfter and Exception is set.
func (s *VertexScenario) Validate() error {
	if s.VertexID == nil {
		return errors.Wrap(ErrCorrupt, "vertex scenario without vertex id")
	}

	return checkTerminal(s.Completed, s.Exception)
}

// MasterScenario is one captured coordinator step.
type MasterScenario struct {
	ClassUnderTest string
	Context        CommonContext
	Completed      bool
	Exception      *ExceptionInfo
}

// Complete marks the step as finished normally.
func (s *MasterScenario) Complete() {
	s.Completed = true
	s.Exception = nil
}

// Fail marks the step as ended by an exception.
func (s *MasterScenario) Fail(exc ExceptionInfo) {
	s.Completed = false
	s.Exception = &exc
}

// Validate checks that the step either completed or failed.
func (s *MasterScenario) Validate() error {
	return checkTerminal(s.Completed, s.Exception)
}

func checkTerminal(completed bool, exc *ExceptionInfo) error {
	switch {
	case completed && exc != nil:
		return errors.Wrap(ErrCorrupt, "scenario has both a final value and an exception")
	case !completed && exc == nil:
		return errors.Wrap(ErrCorrupt, "scenario has neither a final value nor an exception")
	}

	return nil
}

// MessageViolation is a message rejected by the integrity predicate.
type MessageViolation struct {
	Superstep int64
	Src       codec.Value
	Dst       codec.Value
	Message   codec.Value
}

// VertexValueViolation is a vertex value rejected by the integrity
// predicate.
type VertexValueViolation struct {
	Superstep int64
	VertexID  codec.Value
	Value     codec.Value
}
