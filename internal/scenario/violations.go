package scenario

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/graftdebug/graft/internal/codec"
)

// Violation batch layout:
//
//	batch:           1 types, 2 violation*
//	message:         1 superstep, 2 src, 3 dst, 4 message
//	vertex value:    1 superstep, 2 vertex id, 3 value

const (
	fBatchTypes     protowire.Number = 1
	fBatchViolation protowire.Number = 2
)

// MarshalMessageViolations encodes one worker's message violations for a
// superstep.
func MarshalMessageViolations(types TypeDescriptor, vs []MessageViolation, reg *codec.Registry) ([]byte, error) {
	reg = orDefault(reg)

	b := appendMessage(nil, fBatchTypes, appendTypes(nil, types))

	for _, v := range vs {
		var vb []byte

		vb = appendInt(vb, 1, v.Superstep)
		vb = appendValue(vb, 2, types.IDType, v.Src, reg)
		vb = appendValue(vb, 3, types.IDType, v.Dst, reg)
		vb = appendValue(vb, 4, types.OutMessageType, v.Message, reg)
		b = appendMessage(b, fBatchViolation, vb)
	}

	return b, nil
}

// UnmarshalMessageViolations decodes a batch written by
// [MarshalMessageViolations], preserving order.
func UnmarshalMessageViolations(b []byte, reg *codec.Registry) (TypeDescriptor, []MessageViolation, error) {
	reg = orDefault(reg)

	types, err := readBatchTypes(b)
	if err != nil {
		return TypeDescriptor{}, nil, err
	}

	var out []MessageViolation

	r := reader{b: b}
	for r.next() {
		if r.num != fBatchViolation {
			r.skip()

			continue
		}

		var v MessageViolation

		sub := reader{b: r.bytes()}
		for sub.next() {
			switch sub.num {
			case 1:
				v.Superstep = sub.int()
			case 2:
				v.Src = readValue(sub.bytes(), types.IDType, reg, &sub)
			case 3:
				v.Dst = readValue(sub.bytes(), types.IDType, reg, &sub)
			case 4:
				v.Message = readValue(sub.bytes(), types.OutMessageType, reg, &sub)
			default:
				sub.skip()
			}
		}

		r.adopt(sub.err)
		out = append(out, v)
	}

	if r.err != nil {
		return TypeDescriptor{}, nil, r.err
	}

	return types, out, nil
}

// MarshalVertexValueViolations encodes one worker's vertex value violations
// for a superstep.
func MarshalVertexValueViolations(types TypeDescriptor, vs []VertexValueViolation, reg *codec.Registry) ([]byte, error) {
	reg = orDefault(reg)

	b := appendMessage(nil, fBatchTypes, appendTypes(nil, types))

	for _, v := range vs {
		var vb []byte

		vb = appendInt(vb, 1, v.Superstep)
		vb = appendValue(vb, 2, types.IDType, v.VertexID, reg)
		vb = appendValue(vb, 3, types.ValueType, v.Value, reg)
		b = appendMessage(b, fBatchViolation, vb)
	}

	return b, nil
}

// UnmarshalVertexValueViolations decodes a batch written by
// [MarshalVertexValueViolations], preserving order.
func UnmarshalVertexValueViolations(b []byte, reg *codec.Registry) (TypeDescriptor, []VertexValueViolation, error) {
	reg = orDefault(reg)

	types, err := readBatchTypes(b)
	if err != nil {
		return TypeDescriptor{}, nil, err
	}

	var out []VertexValueViolation

	r := reader{b: b}
	for r.next() {
		if r.num != fBatchViolation {
			r.skip()

			continue
		}

		var v VertexValueViolation

		sub := reader{b: r.bytes()}
		for sub.next() {
			switch sub.num {
			case 1:
				v.Superstep = sub.int()
			case 2:
				v.VertexID = readValue(sub.bytes(), types.IDType, reg, &sub)
			case 3:
				v.Value = readValue(sub.bytes(), types.ValueType, reg, &sub)
			default:
				sub.skip()
			}
		}

		r.adopt(sub.err)
		out = append(out, v)
	}

	if r.err != nil {
		return TypeDescriptor{}, nil, r.err
	}

	return types, out, nil
}

func readBatchTypes(b []byte) (TypeDescriptor, error) {
	var types TypeDescriptor

	r := reader{b: b}
	for r.next() {
		if r.num == fBatchTypes {
			types = readTypes(r.bytes(), &r)
		} else {
			r.skip()
		}
	}

	return types, r.err
}
