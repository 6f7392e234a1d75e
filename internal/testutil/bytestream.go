// Package testutil derives trace fixtures from fuzz input.
package testutil

import "encoding/binary"

// ByteStream reads bytes sequentially from a byte slice.
//
// Once the input is exhausted every read returns a zero value, so the same
// input always yields the same fixture.
type ByteStream struct {
	bytes []byte
	pos   int
}

// NewByteStream creates a stream over b.
func NewByteStream(b []byte) *ByteStream {
	return &ByteStream{bytes: b}
}

// HasMore reports whether unread bytes remain.
func (s *ByteStream) HasMore() bool {
	return s.pos < len(s.bytes)
}

// NextByte returns the next byte, or 0 if exhausted.
func (s *ByteStream) NextByte() byte {
	if s.pos >= len(s.bytes) {
		return 0
	}

	v := s.bytes[s.pos]
	s.pos++

	return v
}

// NextBytes reads n bytes, padding with zeros if exhausted.
func (s *ByteStream) NextBytes(n int) []byte {
	if n <= 0 {
		return []byte{}
	}

	out := make([]byte, n)
	for i := range n {
		out[i] = s.NextByte()
	}

	return out
}

// NextInt returns an int in [0, maxVal).
func (s *ByteStream) NextInt(maxVal int) int {
	if maxVal <= 0 {
		return 0
	}

	return int(s.NextByte()) % maxVal
}

// NextInt64 returns a full-range int64 built from the next eight bytes.
func (s *ByteStream) NextInt64() int64 {
	return int64(binary.LittleEndian.Uint64(s.NextBytes(8)))
}

// NextBool returns a boolean derived from the next byte.
func (s *ByteStream) NextBool() bool {
	return s.NextByte()&1 == 1
}

// idAlphabet mixes plain letters with the characters trace names must
// escape.
const idAlphabet = "abcxyz019_-/% .é"

// NextString returns a string of length 1 to maxLen drawn from
// idAlphabet.
func (s *ByteStream) NextString(maxLen int) string {
	if maxLen <= 0 {
		return ""
	}

	runes := []rune(idAlphabet)
	length := 1 + s.NextInt(maxLen)

	out := make([]rune, length)
	for i := range out {
		out[i] = runes[s.NextInt(len(runes))]
	}

	return string(out)
}
