// Package codec encodes and decodes the typed values that flow through a
// graph computation: vertex ids, vertex values, edge values, messages and
// aggregator values.
//
// Every value carries a type name. The bytes produced by [Encode] are only
// meaningful together with that name, which is how traces stay readable
// without the reader knowing the computation's types up front. Decoders are
// looked up by name in a [Registry]; there is no reflection.
//
// [Clone] is defined as Decode(Encode(v)). A captured value is therefore
// exactly as independent of the live object as its serialized form is.
package codec

import (
	"bytes"
	"encoding"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// Value is a typed, serializable value.
//
// UnmarshalBinary must not retain b; implementations copy whatever they
// keep. Implementations are expected to be pointer types so that a fresh
// instance from a [Factory] can be decoded into.
type Value interface {
	TypeName() string
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Factory returns a new zero value of a registered type.
type Factory func() Value

var (
	// ErrUnknownType is returned when decoding a type name that has no
	// registered factory.
	ErrUnknownType = errors.New("unknown value type")

	// ErrMalformed is returned when bytes cannot be decoded as the declared
	// type.
	ErrMalformed = errors.New("malformed value")
)

// Registry maps type names to factories. The zero value is not usable; use
// [NewRegistry].
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in types.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	registerBuiltins(r)

	return r
}

// DefaultRegistry is used by the package-level functions. Programs register
// their own value types here at start-up.
var DefaultRegistry = NewRegistry()

// Register adds a factory under name. Registering the same name twice is a
// programming error and panics.
func (r *Registry) Register(name string, f Factory) {
	if name == "" {
		panic(errors.AssertionFailedf("codec: empty type name"))
	}

	if got := f().TypeName(); got != name {
		panic(errors.AssertionFailedf("codec: factory for %q produces %q", name, got))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.factories[name]; dup {
		panic(errors.AssertionFailedf("codec: type %q registered twice", name))
	}

	r.factories[name] = f
}

// Registered reports whether name has a factory.
func (r *Registry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.factories[name]

	return ok
}

// Names returns all registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Encode serializes v. A nil v encodes as the empty byte slice of type
// [NullTypeName].
//
// Encoding a value whose type is not registered, or whose own marshaller
// fails, panics: such a value could not be decoded again and would silently
// corrupt every trace it appears in.
func (r *Registry) Encode(v Value) []byte {
	if v == nil {
		return []byte{}
	}

	name := v.TypeName()
	if !r.Registered(name) {
		panic(errors.AssertionFailedf("codec: encode of unregistered type %q (%T)", name, v))
	}

	b, err := v.MarshalBinary()
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "codec: marshal %q", name))
	}

	if b == nil {
		b = []byte{}
	}

	return b
}

// Decode reconstructs a value of typeName from b.
//
// Decoding [NullTypeName] returns (nil, nil): the null type stands for "no
// payload" and has no runtime representation.
func (r *Registry) Decode(b []byte, typeName string) (Value, error) {
	if typeName == NullTypeName {
		return nil, nil
	}

	r.mu.RLock()
	f, ok := r.factories[typeName]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "decode %q", typeName)
	}

	v := f()

	err := v.UnmarshalBinary(b)
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, ErrMalformed), "decode %q", typeName)
	}

	return v, nil
}

// Clone returns an independent copy of v made by encoding and decoding it.
// Clone(nil) and clones of [Null] are nil.
func (r *Registry) Clone(v Value) Value {
	if v == nil {
		return nil
	}

	name := v.TypeName()

	out, err := r.Decode(r.Encode(v), name)
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "codec: %q does not round-trip", name))
	}

	return out
}

// Encode serializes v using [DefaultRegistry].
func Encode(v Value) []byte { return DefaultRegistry.Encode(v) }

// Decode decodes b as typeName using [DefaultRegistry].
func Decode(b []byte, typeName string) (Value, error) { return DefaultRegistry.Decode(b, typeName) }

// Clone copies v using [DefaultRegistry].
func Clone(v Value) Value { return DefaultRegistry.Clone(v) }

// TypeName returns v's type name, or [NullTypeName] for nil.
func TypeName(v Value) string {
	if v == nil {
		return NullTypeName
	}

	return v.TypeName()
}

// Equal reports whether a and b have the same type name and the same
// encoding. Two nil values are equal, and nil equals [Null].
func Equal(a, b Value) bool {
	if isNull(a) || isNull(b) {
		return isNull(a) && isNull(b)
	}

	if a.TypeName() != b.TypeName() {
		return false
	}

	ab, err := a.MarshalBinary()
	if err != nil {
		return false
	}

	bb, err := b.MarshalBinary()
	if err != nil {
		return false
	}

	return bytes.Equal(ab, bb)
}

// Format renders v for humans. Values implementing [fmt.Stringer] use it;
// others are shown as hex bytes.
func Format(v Value) string {
	if isNull(v) {
		return "null"
	}

	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}

	b, err := v.MarshalBinary()
	if err != nil {
		return fmt.Sprintf("<%s: %v>", v.TypeName(), err)
	}

	return fmt.Sprintf("%s(%x)", v.TypeName(), b)
}

func isNull(v Value) bool {
	return v == nil || v.TypeName() == NullTypeName
}
