package capture

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/cockroachdb/errors"

	"github.com/graftdebug/graft/internal/codec"
	"github.com/graftdebug/graft/internal/graph"
	"github.com/graftdebug/graft/internal/scenario"
)

// PanicError is how a recovered compute panic is reported to the
// exception hooks.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)

	return err
}

// Compute runs fn as the compute call of v, calling the vertex hooks around
// it. An error from fn is captured and returned unchanged. A panic in fn is
// captured as a [PanicError] and then re-raised with its original value.
func (w *Worker) Compute(ctx context.Context, v *graph.Vertex, msgs []codec.Value, fn func() error) error {
	w.OnComputeBegin(v, msgs)

	err := callRecovering(fn, func(pe *PanicError) {
		_ = w.OnComputeException(ctx, v, msgs, pe)
	})
	if err != nil {
		return w.OnComputeException(ctx, v, msgs, err)
	}

	w.OnComputeEnd(ctx, v, msgs)

	return nil
}

// Compute runs fn as the coordinator compute call of the superstep
// described by info. Errors and panics are handled as in [Worker.Compute].
func (m *Master) Compute(ctx context.Context, info graph.SuperstepInfo, fn func() error) error {
	m.OnMasterComputeBegin(info)

	err := callRecovering(fn, func(pe *PanicError) {
		_ = m.OnMasterComputeException(ctx, pe)
	})
	if err != nil {
		return m.OnMasterComputeException(ctx, err)
	}

	m.OnMasterComputeEnd(ctx)

	return nil
}

// callRecovering calls fn. If fn panics, onPanic sees the panic before it
// continues unwinding.
func callRecovering(fn func() error, onPanic func(*PanicError)) error {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		onPanic(&PanicError{Value: r, Stack: debug.Stack()})
		panic(r)
	}()

	return fn()
}

func exceptionInfo(err error) scenario.ExceptionInfo {
	var pe *PanicError
	if errors.As(err, &pe) {
		return scenario.ExceptionInfo{Message: pe.Error(), StackTrace: string(pe.Stack)}
	}

	return scenario.ExceptionInfo{
		Message:    err.Error(),
		StackTrace: fmt.Sprintf("%+v", errors.WithStack(err)),
	}
}
