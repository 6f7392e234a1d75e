package tracestore

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned by Get when no trace exists under the key.
	// A vertex that was never captured and a trace that was lost look the
	// same.
	ErrNotFound = errors.New("trace not found")

	// ErrInvalidKey is returned for keys and file names outside the naming
	// scheme.
	ErrInvalidKey = errors.New("invalid trace key")

	// ErrCorrupt is returned when a stored blob has a bad header or does not
	// decompress.
	ErrCorrupt = errors.New("corrupt trace blob")
)

// Error is the error type returned by [Store] methods.
//
// The underlying message comes first, followed by the trace coordinates:
//
//	open /traces/job1/reg_stp_3_vid_7.tr: permission denied (job=job1 key=job1/reg_stp_3_vid_7.tr)
//
// Use [errors.Is] for the sentinels and [errors.As] for the fields.
type Error struct {
	// JobID is the job the operation was about. Empty for store-wide
	// operations such as [Store.Jobs].
	JobID string

	// Key is the relative trace path, when the operation had one.
	Key string

	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var parts []string

	if e.JobID != "" {
		parts = append(parts, "job="+e.JobID)
	}

	if e.Key != "" {
		parts = append(parts, "key="+e.Key)
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	if len(parts) == 0 {
		return cause
	}

	suffix := "(" + strings.Join(parts, " ") + ")"
	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// withContext attaches trace coordinates. Fields already present on an
// *Error in the chain are kept.
func withContext(err error, jobID, key string) error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.JobID == "" {
			existing.JobID = jobID
		}

		if existing.Key == "" {
			existing.Key = key
		}

		return err
	}

	return &Error{JobID: jobID, Key: key, Err: err}
}
