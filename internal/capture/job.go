// Package capture turns host hook calls into scenarios, violations and
// stored traces.
//
// A [Job] carries everything that is fixed for one run of a computation.
// Each worker of the host gets its own [Worker], and the coordinator gets a
// [Master]. The host calls their On* methods at the documented points of
// every superstep and compute call; capture never calls back into the host.
//
// Capture is best effort. A trace that fails to encode or store is logged
// and dropped, and the computation carries on.
package capture

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/graftdebug/graft/internal/codec"
	"github.com/graftdebug/graft/internal/logging"
	"github.com/graftdebug/graft/internal/policy"
	"github.com/graftdebug/graft/internal/scenario"
	"github.com/graftdebug/graft/internal/tracestore"
)

// DefaultLimit is the default number of vertices captured, and of
// violations recorded, per worker per superstep.
const DefaultLimit = 10

// Store is where traces go. *tracestore.Store implements it.
type Store interface {
	Put(ctx context.Context, key tracestore.Key, blob []byte) error
}

// signer is implemented by stores that keep a per-job build signature.
type signer interface {
	PutSignature(ctx context.Context, jobID, signature string) (bool, error)
}

// JobOptions configures a [Job].
type JobOptions struct {
	// JobID names the job directory in the store. Required.
	JobID string

	// Store receives the traces. Required.
	Store Store

	// Policy decides what to capture and check. Nil means a zero
	// policy.Default.
	Policy policy.Policy

	// Types describes the vertex computation. Every type name must be
	// registered in Registry.
	Types scenario.TypeDescriptor

	// MasterClass names the coordinator computation.
	MasterClass string

	// Registry resolves value types. Nil means codec.DefaultRegistry.
	Registry *codec.Registry

	// NumVerticesToLog caps captured vertices per worker per superstep.
	// Zero means DefaultLimit.
	NumVerticesToLog int

	// NumViolationsToLog caps recorded violations of each kind per worker
	// per superstep. Zero means DefaultLimit.
	NumViolationsToLog int

	// BuildSignature, when set, is written once per job next to the traces.
	BuildSignature string

	Logger *slog.Logger
}

// Job is the per-run capture context. It is immutable after NewJob and
// may be shared by any number of workers.
type Job struct {
	id            string
	store         Store
	policy        policy.Policy
	types         scenario.TypeDescriptor
	masterClass   string
	reg           *codec.Registry
	maxVertices   int
	maxViolations int
	log           *slog.Logger
}

// NewJob validates opts and starts a job. Configuration problems are
// reported here rather than on the first event.
func NewJob(ctx context.Context, opts JobOptions) (*Job, error) {
	err := tracestore.ValidateJobID(opts.JobID)
	if err != nil {
		return nil, errors.Wrap(err, "capture job")
	}

	if opts.Store == nil {
		return nil, errors.New("capture job: no store")
	}

	if opts.NumVerticesToLog < 0 || opts.NumViolationsToLog < 0 {
		return nil, errors.Newf("capture job: negative limit (vertices=%d violations=%d)",
			opts.NumVerticesToLog, opts.NumViolationsToLog)
	}

	j := &Job{
		id:            opts.JobID,
		store:         opts.Store,
		policy:        opts.Policy,
		types:         opts.Types,
		masterClass:   opts.MasterClass,
		reg:           opts.Registry,
		maxVertices:   opts.NumVerticesToLog,
		maxViolations: opts.NumViolationsToLog,
		log:           opts.Logger,
	}

	if j.policy == nil {
		j.policy = &policy.Default{}
	}

	if j.reg == nil {
		j.reg = codec.DefaultRegistry
	}

	if j.maxVertices == 0 {
		j.maxVertices = DefaultLimit
	}

	if j.maxViolations == 0 {
		j.maxViolations = DefaultLimit
	}

	if j.log == nil {
		j.log = logging.Discard()
	}

	j.log = j.log.With("job", j.id)

	for _, name := range []string{
		opts.Types.IDType, opts.Types.ValueType, opts.Types.EdgeValueType,
		opts.Types.InMessageType, opts.Types.OutMessageType,
	} {
		if name != "" && !j.reg.Registered(name) {
			return nil, errors.Wrapf(codec.ErrUnknownType, "capture job: type %q", name)
		}
	}

	if opts.BuildSignature != "" {
		if s, ok := j.store.(signer); ok {
			_, err := s.PutSignature(ctx, j.id, opts.BuildSignature)
			if err != nil {
				j.log.Warn("save build signature failed", "err", err)
			}
		}
	}

	j.log.Debug("capture job started",
		"policy", j.policy,
		"max_vertices", j.maxVertices,
		"max_violations", j.maxViolations)

	return j, nil
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// NewWorker returns the capture state of one worker. An empty taskID gets
// a random one; task ids name violation batches, so they must be unique
// within the job.
func (j *Job) NewWorker(taskID string) *Worker {
	if taskID == "" {
		taskID = uuid.NewString()
	}

	return &Worker{job: j, taskID: taskID, log: j.log.With("task", taskID)}
}

// NewMaster returns the capture state of the coordinator.
func (j *Job) NewMaster() *Master {
	return &Master{job: j, log: j.log.With("task", "master")}
}

// save encodes and stores one trace. Failures are logged and reported as
// false; they never reach the host.
func (j *Job) save(ctx context.Context, log *slog.Logger, key tracestore.Key, encode func() ([]byte, error)) bool {
	blob, err := encode()
	if err != nil {
		log.Error("encode trace failed", "key", key.Path(), "err", err)

		return false
	}

	err = j.store.Put(ctx, key, blob)
	if err != nil {
		log.Warn("save trace failed", "key", key.Path(), "err", err)

		return false
	}

	log.Debug("saved trace", "key", key.Path(), "bytes", len(blob))

	return true
}
