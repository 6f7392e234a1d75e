package codec

import (
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Built-in type names.
const (
	NullTypeName       = "null"
	Int64TypeName      = "int64"
	Int32TypeName      = "int32"
	Float64TypeName    = "float64"
	Float32TypeName    = "float32"
	BoolTypeName       = "bool"
	TextTypeName       = "text"
	BytesTypeName      = "bytes"
	Int64ArrayTypeName = "int64[]"
)

func registerBuiltins(r *Registry) {
	r.Register(NullTypeName, func() Value { return &Null{} })
	r.Register(Int64TypeName, func() Value { return new(Int64) })
	r.Register(Int32TypeName, func() Value { return new(Int32) })
	r.Register(Float64TypeName, func() Value { return new(Float64) })
	r.Register(Float32TypeName, func() Value { return new(Float32) })
	r.Register(BoolTypeName, func() Value { return new(Bool) })
	r.Register(TextTypeName, func() Value { return new(Text) })
	r.Register(BytesTypeName, func() Value { return new(Bytes) })
	r.Register(Int64ArrayTypeName, func() Value { return new(Int64Array) })
}

// Null is the "no payload" type, used for edges without values and for
// messages that only signal.
type Null struct{}

func (*Null) TypeName() string { return NullTypeName }

func (*Null) String() string { return "null" }

func (*Null) MarshalBinary() ([]byte, error) { return []byte{}, nil }

func (*Null) UnmarshalBinary(b []byte) error {
	if len(b) != 0 {
		return errors.Newf("null value with %d bytes", len(b))
	}

	return nil
}

// Int64 is a signed 64-bit integer, encoded as a zig-zag varint.
type Int64 int64

// NewInt64 returns a pointer to v as an Int64.
func NewInt64(v int64) *Int64 { return (*Int64)(&v) }

func (*Int64) TypeName() string { return Int64TypeName }

// Get returns the integer.
func (v *Int64) Get() int64 { return int64(*v) }

func (v *Int64) String() string { return strconv.FormatInt(int64(*v), 10) }

func (v *Int64) MarshalBinary() ([]byte, error) {
	return protowire.AppendVarint(nil, protowire.EncodeZigZag(int64(*v))), nil
}

func (v *Int64) UnmarshalBinary(b []byte) error {
	x, err := consumeWholeVarint(b)
	if err != nil {
		return err
	}

	*v = Int64(protowire.DecodeZigZag(x))

	return nil
}

// Int32 is a signed 32-bit integer, encoded as a zig-zag varint.
type Int32 int32

// NewInt32 returns a pointer to v as an Int32.
func NewInt32(v int32) *Int32 { return (*Int32)(&v) }

func (*Int32) TypeName() string { return Int32TypeName }

// Get returns the integer.
func (v *Int32) Get() int32 { return int32(*v) }

func (v *Int32) String() string { return strconv.FormatInt(int64(*v), 10) }

func (v *Int32) MarshalBinary() ([]byte, error) {
	return protowire.AppendVarint(nil, protowire.EncodeZigZag(int64(*v))), nil
}

func (v *Int32) UnmarshalBinary(b []byte) error {
	x, err := consumeWholeVarint(b)
	if err != nil {
		return err
	}

	n := protowire.DecodeZigZag(x)
	if n < math.MinInt32 || n > math.MaxInt32 {
		return errors.Newf("int32 out of range: %d", n)
	}

	*v = Int32(n)

	return nil
}

// Float64 is an IEEE-754 double, encoded as fixed64.
type Float64 float64

// NewFloat64 returns a pointer to v as a Float64.
func NewFloat64(v float64) *Float64 { return (*Float64)(&v) }

func (*Float64) TypeName() string { return Float64TypeName }

// Get returns the float.
func (v *Float64) Get() float64 { return float64(*v) }

func (v *Float64) String() string { return strconv.FormatFloat(float64(*v), 'g', -1, 64) }

func (v *Float64) MarshalBinary() ([]byte, error) {
	return protowire.AppendFixed64(nil, math.Float64bits(float64(*v))), nil
}

func (v *Float64) UnmarshalBinary(b []byte) error {
	x, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return protowire.ParseError(n)
	}

	if n != len(b) {
		return errTrailing(len(b) - n)
	}

	*v = Float64(math.Float64frombits(x))

	return nil
}

// Float32 is an IEEE-754 single, encoded as fixed32.
type Float32 float32

// NewFloat32 returns a pointer to v as a Float32.
func NewFloat32(v float32) *Float32 { return (*Float32)(&v) }

func (*Float32) TypeName() string { return Float32TypeName }

// Get returns the float.
func (v *Float32) Get() float32 { return float32(*v) }

func (v *Float32) String() string { return strconv.FormatFloat(float64(*v), 'g', -1, 32) }

func (v *Float32) MarshalBinary() ([]byte, error) {
	return protowire.AppendFixed32(nil, math.Float32bits(float32(*v))), nil
}

func (v *Float32) UnmarshalBinary(b []byte) error {
	x, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return protowire.ParseError(n)
	}

	if n != len(b) {
		return errTrailing(len(b) - n)
	}

	*v = Float32(math.Float32frombits(x))

	return nil
}

// Bool is encoded as a one-byte varint.
type Bool bool

// NewBool returns a pointer to v as a Bool.
func NewBool(v bool) *Bool { return (*Bool)(&v) }

func (*Bool) TypeName() string { return BoolTypeName }

// Get returns the bool.
func (v *Bool) Get() bool { return bool(*v) }

func (v *Bool) String() string { return strconv.FormatBool(bool(*v)) }

func (v *Bool) MarshalBinary() ([]byte, error) {
	return protowire.AppendVarint(nil, protowire.EncodeBool(bool(*v))), nil
}

func (v *Bool) UnmarshalBinary(b []byte) error {
	x, err := consumeWholeVarint(b)
	if err != nil {
		return err
	}

	if x > 1 {
		return errors.Newf("bool out of range: %d", x)
	}

	*v = Bool(protowire.DecodeBool(x))

	return nil
}

// Text is a UTF-8 string, encoded as its raw bytes.
type Text string

// NewText returns a pointer to v as a Text.
func NewText(v string) *Text { return (*Text)(&v) }

func (*Text) TypeName() string { return TextTypeName }

// Get returns the string.
func (v *Text) Get() string { return string(*v) }

func (v *Text) String() string { return strconv.Quote(string(*v)) }

func (v *Text) MarshalBinary() ([]byte, error) { return []byte(*v), nil }

func (v *Text) UnmarshalBinary(b []byte) error {
	*v = Text(b)

	return nil
}

// Bytes is an opaque byte string. Its backing array is mutable, which makes
// it the simplest stand-in for a framework-reused buffer.
type Bytes []byte

// NewBytes returns a Bytes holding b without copying it.
func NewBytes(b []byte) *Bytes { return (*Bytes)(&b) }

func (*Bytes) TypeName() string { return BytesTypeName }

func (v *Bytes) String() string { return "0x" + strconv.Quote(string(*v)) }

func (v *Bytes) MarshalBinary() ([]byte, error) {
	return append([]byte{}, *v...), nil
}

func (v *Bytes) UnmarshalBinary(b []byte) error {
	*v = append(Bytes{}, b...)

	return nil
}

// Int64Array is a list of integers, encoded as a varint count followed by
// zig-zag varints.
type Int64Array []int64

// NewInt64Array returns an Int64Array holding xs without copying it.
func NewInt64Array(xs ...int64) *Int64Array { return (*Int64Array)(&xs) }

func (*Int64Array) TypeName() string { return Int64ArrayTypeName }

func (v *Int64Array) String() string {
	parts := make([]string, len(*v))
	for i, x := range *v {
		parts[i] = strconv.FormatInt(x, 10)
	}

	return "[" + strings.Join(parts, " ") + "]"
}

func (v *Int64Array) MarshalBinary() ([]byte, error) {
	b := protowire.AppendVarint(nil, uint64(len(*v)))
	for _, x := range *v {
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(x))
	}

	return b, nil
}

func (v *Int64Array) UnmarshalBinary(b []byte) error {
	count, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return protowire.ParseError(n)
	}

	b = b[n:]

	// Every element takes at least one byte.
	if count > uint64(len(b)) {
		return errors.Newf("int64 array claims %d elements in %d bytes", count, len(b))
	}

	out := make(Int64Array, 0, count)

	for range count {
		x, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return protowire.ParseError(n)
		}

		out = append(out, protowire.DecodeZigZag(x))
		b = b[n:]
	}

	if len(b) != 0 {
		return errTrailing(len(b))
	}

	*v = out

	return nil
}

func consumeWholeVarint(b []byte) (uint64, error) {
	x, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}

	if n != len(b) {
		return 0, errTrailing(len(b) - n)
	}

	return x, nil
}

func errTrailing(n int) error {
	return errors.Newf("%d trailing bytes", n)
}
