package scenario

import (
	"fmt"
	"sort"
	"strings"

	"github.com/graftdebug/graft/internal/codec"
)

// VertexView is a JSON-friendly rendering of a [VertexScenario]. Values are
// formatted with codec.Format.
type VertexView struct {
	Class       string            `json:"class"`
	Superstep   int64             `json:"superstep"`
	Vertices    int64             `json:"total_vertices"`
	Edges       int64             `json:"total_edges"`
	VertexID    string            `json:"vertex_id"`
	ValueBefore string            `json:"value_before"`
	ValueAfter  *string           `json:"value_after,omitempty"`
	Neighbors   []NeighborView    `json:"neighbors"`
	InMessages  []string          `json:"in_messages"`
	OutMessages []OutgoingView    `json:"out_messages"`
	Aggregates  []AggregateView   `json:"aggregates,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
	Exception   *ExceptionInfo    `json:"exception,omitempty"`
}

// NeighborView renders a [Neighbor].
type NeighborView struct {
	ID        string `json:"id"`
	EdgeValue string `json:"edge_value,omitempty"`
}

// OutgoingView renders a group of identical outgoing messages.
type OutgoingView struct {
	Dest    string `json:"dest"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// AggregateView renders an [Aggregate].
type AggregateView struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// MasterView is a JSON-friendly rendering of a [MasterScenario].
type MasterView struct {
	Class      string            `json:"class"`
	Superstep  int64             `json:"superstep"`
	Vertices   int64             `json:"total_vertices"`
	Edges      int64             `json:"total_edges"`
	Completed  bool              `json:"completed"`
	Aggregates []AggregateView   `json:"aggregates,omitempty"`
	Config     map[string]string `json:"config,omitempty"`
	Exception  *ExceptionInfo    `json:"exception,omitempty"`
}

// MessageViolationView renders a [MessageViolation].
type MessageViolationView struct {
	Superstep int64  `json:"superstep"`
	Src       string `json:"src"`
	Dst       string `json:"dst"`
	Message   string `json:"message"`
}

// VertexValueViolationView renders a [VertexValueViolation].
type VertexValueViolationView struct {
	Superstep int64  `json:"superstep"`
	VertexID  string `json:"vertex_id"`
	Value     string `json:"value"`
}

// View renders s. Outgoing messages are grouped with [AggregateOutgoing].
func (s *VertexScenario) View() VertexView {
	v := VertexView{
		Class:       s.Types.ClassUnderTest,
		Superstep:   s.Context.Superstep,
		Vertices:    s.Context.TotalVertices,
		Edges:       s.Context.TotalEdges,
		VertexID:    codec.Format(s.VertexID),
		ValueBefore: codec.Format(s.ValueBefore),
		Neighbors:   []NeighborView{},
		InMessages:  []string{},
		OutMessages: []OutgoingView{},
		Aggregates:  aggregateViews(s.Context.PreviousAggregates),
		Config:      s.Context.Config,
		Exception:   s.Exception,
	}

	if s.Completed {
		after := codec.Format(s.ValueAfter)
		v.ValueAfter = &after
	}

	for _, n := range s.Neighbors {
		nv := NeighborView{ID: codec.Format(n.ID)}
		if n.EdgeValue != nil {
			nv.EdgeValue = codec.Format(n.EdgeValue)
		}

		v.Neighbors = append(v.Neighbors, nv)
	}

	for _, m := range s.InMessages {
		v.InMessages = append(v.InMessages, codec.Format(m))
	}

	for _, g := range AggregateOutgoing(s.OutMessages) {
		v.OutMessages = append(v.OutMessages, OutgoingView{
			Dest:    codec.Format(g.Dest),
			Message: codec.Format(g.Message),
			Count:   g.Count,
		})
	}

	return v
}

// View renders s.
func (s *MasterScenario) View() MasterView {
	return MasterView{
		Class:      s.ClassUnderTest,
		Superstep:  s.Context.Superstep,
		Vertices:   s.Context.TotalVertices,
		Edges:      s.Context.TotalEdges,
		Completed:  s.Completed,
		Aggregates: aggregateViews(s.Context.PreviousAggregates),
		Config:     s.Context.Config,
		Exception:  s.Exception,
	}
}

// View renders v.
func (v MessageViolation) View() MessageViolationView {
	return MessageViolationView{
		Superstep: v.Superstep,
		Src:       codec.Format(v.Src),
		Dst:       codec.Format(v.Dst),
		Message:   codec.Format(v.Message),
	}
}

// View renders v.
func (v VertexValueViolation) View() VertexValueViolationView {
	return VertexValueViolationView{
		Superstep: v.Superstep,
		VertexID:  codec.Format(v.VertexID),
		Value:     codec.Format(v.Value),
	}
}

func aggregateViews(as []Aggregate) []AggregateView {
	if len(as) == 0 {
		return nil
	}

	out := make([]AggregateView, 0, len(as))
	for _, a := range as {
		out = append(out, AggregateView{Name: a.Name, Type: codec.TypeName(a.Value), Value: codec.Format(a.Value)})
	}

	return out
}

// String renders s over several lines for logs and terminals.
func (s *VertexScenario) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "vertex %s superstep %d (%s)\n", codec.Format(s.VertexID), s.Context.Superstep, s.Types.ClassUnderTest)
	writeContext(&sb, &s.Context)
	fmt.Fprintf(&sb, "  value before: %s\n", codec.Format(s.ValueBefore))

	for _, n := range s.Neighbors {
		if n.EdgeValue == nil {
			fmt.Fprintf(&sb, "  neighbor: %s\n", codec.Format(n.ID))
		} else {
			fmt.Fprintf(&sb, "  neighbor: %s (edge %s)\n", codec.Format(n.ID), codec.Format(n.EdgeValue))
		}
	}

	for _, m := range s.InMessages {
		fmt.Fprintf(&sb, "  in:  %s\n", codec.Format(m))
	}

	for _, g := range AggregateOutgoing(s.OutMessages) {
		fmt.Fprintf(&sb, "  out: %s -> %s", codec.Format(g.Message), codec.Format(g.Dest))

		if g.Count > 1 {
			fmt.Fprintf(&sb, " x%d", g.Count)
		}

		sb.WriteByte('\n')
	}

	writeOutcome(&sb, s.Completed, s.ValueAfter, s.Exception)

	return sb.String()
}

// String renders s over several lines for logs and terminals.
func (s *MasterScenario) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "master superstep %d (%s)\n", s.Context.Superstep, s.ClassUnderTest)
	writeContext(&sb, &s.Context)

	if s.Exception != nil {
		writeOutcome(&sb, false, nil, s.Exception)
	} else if s.Completed {
		sb.WriteString("  completed\n")
	}

	return sb.String()
}

func writeContext(sb *strings.Builder, c *CommonContext) {
	fmt.Fprintf(sb, "  graph: %d vertices, %d edges\n", c.TotalVertices, c.TotalEdges)

	keys := make([]string, 0, len(c.Config))
	for k := range c.Config {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(sb, "  config: %s=%s\n", k, c.Config[k])
	}

	for _, a := range c.PreviousAggregates {
		fmt.Fprintf(sb, "  aggregate: %s=%s\n", a.Name, codec.Format(a.Value))
	}
}

func writeOutcome(sb *strings.Builder, completed bool, after codec.Value, exc *ExceptionInfo) {
	switch {
	case exc != nil:
		fmt.Fprintf(sb, "  exception: %s\n", exc.Message)

		for _, line := range strings.Split(strings.TrimRight(exc.StackTrace, "\n"), "\n") {
			if line != "" {
				fmt.Fprintf(sb, "    %s\n", line)
			}
		}
	case completed:
		fmt.Fprintf(sb, "  value after:  %s\n", codec.Format(after))
	}
}
