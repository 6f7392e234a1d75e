package bsp

import (
	"math"

	"github.com/graftdebug/graft/internal/codec"
)

// Aggregator combines values contributed during a superstep. Reduce must
// not retain or modify its arguments.
type Aggregator interface {
	Initial() codec.Value
	Reduce(acc, v codec.Value) codec.Value
}

// SumInt64 adds codec.Int64 values.
type SumInt64 struct{}

func (SumInt64) Initial() codec.Value { return codec.NewInt64(0) }

func (SumInt64) Reduce(acc, v codec.Value) codec.Value {
	return codec.NewInt64(acc.(*codec.Int64).Get() + v.(*codec.Int64).Get())
}

// MinInt64 keeps the smallest codec.Int64 value.
type MinInt64 struct{}

func (MinInt64) Initial() codec.Value { return codec.NewInt64(math.MaxInt64) }

func (MinInt64) Reduce(acc, v codec.Value) codec.Value {
	return codec.NewInt64(min(acc.(*codec.Int64).Get(), v.(*codec.Int64).Get()))
}
