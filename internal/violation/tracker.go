// Package violation accumulates integrity violations found during one
// superstep on one worker.
package violation

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/graftdebug/graft/internal/tracestore"
)

// Putter is the part of the trace store a tracker flushes into.
type Putter interface {
	Put(ctx context.Context, key tracestore.Key, blob []byte) error
}

// Tracker is a bounded, append-only list of violations.
//
// A Tracker belongs to a single worker and a single superstep and is not
// safe for concurrent use. Violations past the cap are dropped silently.
type Tracker[T any] struct {
	superstep int64
	limit     int
	records   []T
}

// NewTracker returns an empty tracker for superstep holding at most limit
// records. A negative limit is treated as zero.
func NewTracker[T any](superstep int64, limit int) *Tracker[T] {
	return &Tracker[T]{superstep: superstep, limit: max(limit, 0)}
}

// Record appends v unless the tracker is full. It reports whether v was
// kept.
func (t *Tracker[T]) Record(v T) bool {
	if len(t.records) >= t.limit {
		return false
	}

	t.records = append(t.records, v)

	return true
}

// Len returns the number of stored records.
func (t *Tracker[T]) Len() int { return len(t.records) }

// Cap returns the maximum number of records.
func (t *Tracker[T]) Cap() int { return t.limit }

// Full reports whether further records would be dropped.
func (t *Tracker[T]) Full() bool { return len(t.records) >= t.limit }

// Superstep returns the superstep the tracker belongs to.
func (t *Tracker[T]) Superstep() int64 { return t.superstep }

// Records returns the stored records in append order. The slice is shared
// with the tracker.
func (t *Tracker[T]) Records() []T { return t.records }

// FlushIfNonEmpty encodes all records into one blob and stores it under
// key. An empty tracker does nothing and reports false.
func (t *Tracker[T]) FlushIfNonEmpty(ctx context.Context, store Putter, key tracestore.Key, encode func([]T) ([]byte, error)) (bool, error) {
	if len(t.records) == 0 {
		return false, nil
	}

	blob, err := encode(t.records)
	if err != nil {
		return false, errors.Wrapf(err, "encode %d violations", len(t.records))
	}

	err = store.Put(ctx, key, blob)
	if err != nil {
		return false, err
	}

	return true, nil
}
