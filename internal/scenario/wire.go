package scenario

import (
	"sort"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/graftdebug/graft/internal/codec"
)

// Trace layout. Every message below is a protobuf-compatible field stream;
// unknown fields are skipped on read so fields can be added later.
//
//	VertexScenario: 1 types, 2 context, 3 vertex id, 4 value before,
//	                5 value after, 6 neighbor*, 7 in message*, 8 out message*,
//	                9 exception
//	MasterScenario: 1 class, 2 context, 3 exception, 4 completed
//	TypeDescriptor: 1 class, 2 id, 3 value, 4 edge value, 5 in msg, 6 out msg
//	Context:        1 superstep, 2 vertices, 3 edges, 4 config entry*,
//	                5 aggregate*
//	typed value:    1 type name (omitted when it is the declared type), 2 bytes
//
// Integers are zig-zag varints.

const (
	fVertexTypes       protowire.Number = 1
	fVertexContext     protowire.Number = 2
	fVertexID          protowire.Number = 3
	fVertexValueBefore protowire.Number = 4
	fVertexValueAfter  protowire.Number = 5
	fVertexNeighbor    protowire.Number = 6
	fVertexInMessage   protowire.Number = 7
	fVertexOutMessage  protowire.Number = 8
	fVertexException   protowire.Number = 9

	fMasterClass     protowire.Number = 1
	fMasterContext   protowire.Number = 2
	fMasterException protowire.Number = 3
	fMasterCompleted protowire.Number = 4

	fCtxSuperstep protowire.Number = 1
	fCtxVertices  protowire.Number = 2
	fCtxEdges     protowire.Number = 3
	fCtxConfig    protowire.Number = 4
	fCtxAggregate protowire.Number = 5

	fValueType  protowire.Number = 1
	fValueBytes protowire.Number = 2
)

// MarshalVertexScenario encodes s. It fails if s does not validate.
func MarshalVertexScenario(s *VertexScenario, reg *codec.Registry) ([]byte, error) {
	err := s.Validate()
	if err != nil {
		return nil, err
	}

	reg = orDefault(reg)
	t := s.Types

	var b []byte

	b = appendMessage(b, fVertexTypes, appendTypes(nil, t))
	b = appendMessage(b, fVertexContext, appendContext(nil, &s.Context, reg))
	b = appendValue(b, fVertexID, t.IDType, s.VertexID, reg)
	b = appendValue(b, fVertexValueBefore, t.ValueType, s.ValueBefore, reg)

	if s.Completed {
		b = appendValue(b, fVertexValueAfter, t.ValueType, s.ValueAfter, reg)
	}

	for _, n := range s.Neighbors {
		var nb []byte

		nb = appendValue(nb, 1, t.IDType, n.ID, reg)
		if n.EdgeValue != nil {
			nb = appendValue(nb, 2, t.EdgeValueType, n.EdgeValue, reg)
		}

		b = appendMessage(b, fVertexNeighbor, nb)
	}

	for _, m := range s.InMessages {
		b = appendValue(b, fVertexInMessage, t.InMessageType, m, reg)
	}

	for _, m := range s.OutMessages {
		var mb []byte

		mb = appendValue(mb, 1, t.IDType, m.Dest, reg)
		mb = appendValue(mb, 2, t.OutMessageType, m.Message, reg)
		b = appendMessage(b, fVertexOutMessage, mb)
	}

	if s.Exception != nil {
		b = appendMessage(b, fVertexException, appendException(nil, s.Exception))
	}

	return b, nil
}

// UnmarshalVertexScenario decodes a trace written by
// [MarshalVertexScenario]. A nil reg means codec.DefaultRegistry.
func UnmarshalVertexScenario(b []byte, reg *codec.Registry) (*VertexScenario, error) {
	reg = orDefault(reg)

	s := &VertexScenario{}

	// The type descriptor drives value decoding, so it is read first
	// regardless of where it sits in the stream.
	r := reader{b: b}
	for r.next() {
		if r.num == fVertexTypes {
			s.Types = readTypes(r.bytes(), &r)
		} else {
			r.skip()
		}
	}

	if r.err != nil {
		return nil, r.err
	}

	t := s.Types

	r = reader{b: b}
	for r.next() {
		switch r.num {
		case fVertexTypes:
			r.skip()
		case fVertexContext:
			s.Context = readContext(r.bytes(), reg, &r)
		case fVertexID:
			s.VertexID = readValue(r.bytes(), t.IDType, reg, &r)
		case fVertexValueBefore:
			s.ValueBefore = readValue(r.bytes(), t.ValueType, reg, &r)
		case fVertexValueAfter:
			s.ValueAfter = readValue(r.bytes(), t.ValueType, reg, &r)
			s.Completed = true
		case fVertexNeighbor:
			var n Neighbor

			sub := reader{b: r.bytes()}
			for sub.next() {
				switch sub.num {
				case 1:
					n.ID = readValue(sub.bytes(), t.IDType, reg, &sub)
				case 2:
					n.EdgeValue = readValue(sub.bytes(), t.EdgeValueType, reg, &sub)
				default:
					sub.skip()
				}
			}

			r.adopt(sub.err)
			s.Neighbors = append(s.Neighbors, n)
		case fVertexInMessage:
			s.InMessages = append(s.InMessages, readValue(r.bytes(), t.InMessageType, reg, &r))
		case fVertexOutMessage:
			var m OutgoingMessage

			sub := reader{b: r.bytes()}
			for sub.next() {
				switch sub.num {
				case 1:
					m.Dest = readValue(sub.bytes(), t.IDType, reg, &sub)
				case 2:
					m.Message = readValue(sub.bytes(), t.OutMessageType, reg, &sub)
				default:
					sub.skip()
				}
			}

			r.adopt(sub.err)
			s.OutMessages = append(s.OutMessages, m)
		case fVertexException:
			s.Exception = readException(r.bytes(), &r)
		default:
			r.skip()
		}
	}

	if r.err != nil {
		return nil, r.err
	}

	err := s.Validate()
	if err != nil {
		return nil, err
	}

	return s, nil
}

// MarshalMasterScenario encodes s. It fails if s does not validate.
func MarshalMasterScenario(s *MasterScenario, reg *codec.Registry) ([]byte, error) {
	err := s.Validate()
	if err != nil {
		return nil, err
	}

	reg = orDefault(reg)

	var b []byte

	b = appendString(b, fMasterClass, s.ClassUnderTest)
	b = appendMessage(b, fMasterContext, appendContext(nil, &s.Context, reg))

	if s.Exception != nil {
		b = appendMessage(b, fMasterException, appendException(nil, s.Exception))
	}

	if s.Completed {
		b = appendInt(b, fMasterCompleted, 1)
	}

	return b, nil
}

// UnmarshalMasterScenario decodes a trace written by
// [MarshalMasterScenario]. A nil reg means codec.DefaultRegistry.
func UnmarshalMasterScenario(b []byte, reg *codec.Registry) (*MasterScenario, error) {
	reg = orDefault(reg)

	s := &MasterScenario{}

	r := reader{b: b}
	for r.next() {
		switch r.num {
		case fMasterClass:
			s.ClassUnderTest = string(r.bytes())
		case fMasterContext:
			s.Context = readContext(r.bytes(), reg, &r)
		case fMasterException:
			s.Exception = readException(r.bytes(), &r)
		case fMasterCompleted:
			s.Completed = r.int() != 0
		default:
			r.skip()
		}
	}

	if r.err != nil {
		return nil, r.err
	}

	err := s.Validate()
	if err != nil {
		return nil, err
	}

	return s, nil
}

func appendTypes(b []byte, t TypeDescriptor) []byte {
	b = appendString(b, 1, t.ClassUnderTest)
	b = appendString(b, 2, t.IDType)
	b = appendString(b, 3, t.ValueType)
	b = appendString(b, 4, t.EdgeValueType)
	b = appendString(b, 5, t.InMessageType)
	b = appendString(b, 6, t.OutMessageType)

	return b
}

func readTypes(b []byte, parent *reader) TypeDescriptor {
	var t TypeDescriptor

	r := reader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			t.ClassUnderTest = string(r.bytes())
		case 2:
			t.IDType = string(r.bytes())
		case 3:
			t.ValueType = string(r.bytes())
		case 4:
			t.EdgeValueType = string(r.bytes())
		case 5:
			t.InMessageType = string(r.bytes())
		case 6:
			t.OutMessageType = string(r.bytes())
		default:
			r.skip()
		}
	}

	parent.adopt(r.err)

	return t
}

func appendContext(b []byte, c *CommonContext, reg *codec.Registry) []byte {
	b = appendInt(b, fCtxSuperstep, c.Superstep)
	b = appendInt(b, fCtxVertices, c.TotalVertices)
	b = appendInt(b, fCtxEdges, c.TotalEdges)

	keys := make([]string, 0, len(c.Config))
	for k := range c.Config {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		var eb []byte

		eb = appendString(eb, 1, k)
		eb = appendString(eb, 2, c.Config[k])
		b = appendMessage(b, fCtxConfig, eb)
	}

	for _, a := range c.PreviousAggregates {
		var ab []byte

		ab = appendString(ab, 1, a.Name)
		// Aggregators have no declared type, so the name is always written.
		ab = appendMessage(ab, 2, appendTypedValue(nil, "", a.Value, reg))
		b = appendMessage(b, fCtxAggregate, ab)
	}

	return b
}

func readContext(b []byte, reg *codec.Registry, parent *reader) CommonContext {
	var c CommonContext

	r := reader{b: b}
	for r.next() {
		switch r.num {
		case fCtxSuperstep:
			c.Superstep = r.int()
		case fCtxVertices:
			c.TotalVertices = r.int()
		case fCtxEdges:
			c.TotalEdges = r.int()
		case fCtxConfig:
			var k, v string

			sub := reader{b: r.bytes()}
			for sub.next() {
				switch sub.num {
				case 1:
					k = string(sub.bytes())
				case 2:
					v = string(sub.bytes())
				default:
					sub.skip()
				}
			}

			r.adopt(sub.err)

			if c.Config == nil {
				c.Config = make(map[string]string)
			}

			c.Config[k] = v
		case fCtxAggregate:
			var a Aggregate

			sub := reader{b: r.bytes()}
			for sub.next() {
				switch sub.num {
				case 1:
					a.Name = string(sub.bytes())
				case 2:
					a.Value = readValue(sub.bytes(), "", reg, &sub)
				default:
					sub.skip()
				}
			}

			r.adopt(sub.err)
			c.PreviousAggregates = append(c.PreviousAggregates, a)
		default:
			r.skip()
		}
	}

	parent.adopt(r.err)

	return c
}

func appendException(b []byte, e *ExceptionInfo) []byte {
	b = appendString(b, 1, e.Message)
	b = appendString(b, 2, e.StackTrace)

	return b
}

func readException(b []byte, parent *reader) *ExceptionInfo {
	e := &ExceptionInfo{}

	r := reader{b: b}
	for r.next() {
		switch r.num {
		case 1:
			e.Message = string(r.bytes())
		case 2:
			e.StackTrace = string(r.bytes())
		default:
			r.skip()
		}
	}

	parent.adopt(r.err)

	return e
}

// appendValue writes v as a typed value submessage under num.
func appendValue(b []byte, num protowire.Number, declared string, v codec.Value, reg *codec.Registry) []byte {
	return appendMessage(b, num, appendTypedValue(nil, declared, v, reg))
}

func appendTypedValue(b []byte, declared string, v codec.Value, reg *codec.Registry) []byte {
	if name := codec.TypeName(v); name != declared {
		b = appendString(b, fValueType, name)
	}

	return appendBytes(b, fValueBytes, reg.Encode(v))
}

func readValue(b []byte, declared string, reg *codec.Registry, parent *reader) codec.Value {
	typeName := declared

	var data []byte

	r := reader{b: b}
	for r.next() {
		switch r.num {
		case fValueType:
			typeName = string(r.bytes())
		case fValueBytes:
			data = r.bytes()
		default:
			r.skip()
		}
	}

	if r.err != nil {
		parent.adopt(r.err)

		return nil
	}

	if typeName == "" {
		parent.adopt(errors.Wrap(ErrCorrupt, "value without type name"))

		return nil
	}

	v, err := reg.Decode(data, typeName)
	if err != nil {
		parent.adopt(errors.Mark(err, ErrCorrupt))

		return nil
	}

	return v
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	return appendBytes(b, num, m)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)

	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}

	b = protowire.AppendTag(b, num, protowire.BytesType)

	return protowire.AppendString(b, s)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)

	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

// reader walks a protowire field stream. The first error sticks; after it
// next reports false.
type reader struct {
	b   []byte
	num protowire.Number
	typ protowire.Type
	err error
}

func (r *reader) next() bool {
	if r.err != nil || len(r.b) == 0 {
		return false
	}

	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))

		return false
	}

	r.b = r.b[n:]
	r.num, r.typ = num, typ

	return true
}

func (r *reader) bytes() []byte {
	if r.typ != protowire.BytesType {
		r.fail(errors.Newf("field %d: want bytes, got wire type %d", r.num, r.typ))

		return nil
	}

	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))

		return nil
	}

	r.b = r.b[n:]

	return v
}

func (r *reader) int() int64 {
	if r.typ != protowire.VarintType {
		r.fail(errors.Newf("field %d: want varint, got wire type %d", r.num, r.typ))

		return 0
	}

	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))

		return 0
	}

	r.b = r.b[n:]

	return protowire.DecodeZigZag(v)
}

func (r *reader) skip() {
	n := protowire.ConsumeFieldValue(r.num, r.typ, r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))

		return
	}

	r.b = r.b[n:]
}

func (r *reader) fail(err error) {
	r.adopt(errors.Wrap(errors.Mark(err, ErrCorrupt), "decode trace"))
}

func (r *reader) adopt(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

func orDefault(reg *codec.Registry) *codec.Registry {
	if reg == nil {
		return codec.DefaultRegistry
	}

	return reg
}
