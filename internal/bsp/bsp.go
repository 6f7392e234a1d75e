// Package bsp is a small in-process bulk-synchronous-parallel runner for
// vertex-centric computations. It is the host that drives capture in tests
// and examples: vertices are split across workers, each worker computes
// its vertices sequentially, and messages and aggregates become visible
// after the superstep barrier.
package bsp

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/graftdebug/graft/internal/capture"
	"github.com/graftdebug/graft/internal/codec"
	"github.com/graftdebug/graft/internal/graph"
	"github.com/graftdebug/graft/internal/logging"
)

// Computation is the per-vertex program. Each worker gets its own
// instance, so implementations may keep scratch state such as reusable
// message buffers.
type Computation interface {
	Compute(c *Context, v *graph.Vertex, msgs []codec.Value) error
}

// MasterComputation runs on the coordinator before the workers in every
// superstep.
type MasterComputation interface {
	Compute(m *MasterContext) error
}

// Options configures Run.
type Options struct {
	// Workers is the number of concurrent workers. Zero means 1.
	Workers int

	// MaxSupersteps stops the run after that many supersteps. Zero means
	// no limit.
	MaxSupersteps int64

	// Master is optional.
	Master MasterComputation

	Aggregators map[string]Aggregator

	// Capture, when set, receives every hook of the run.
	Capture *capture.Job

	// Config is handed to capture as the job configuration snapshot.
	Config map[string]string

	// Registry copies sent messages. Nil means codec.DefaultRegistry.
	Registry *codec.Registry

	Logger *slog.Logger
}

// Result describes a finished run. Vertex values are updated in place.
type Result struct {
	// Supersteps is the number of supersteps executed.
	Supersteps int64

	// DroppedMessages counts messages sent to unknown vertices.
	DroppedMessages int

	// Aggregates holds the aggregator values after the last superstep.
	Aggregates map[string]codec.Value

	// Workers holds per-worker capture counters, in worker order.
	Workers []capture.Stats
	Master  capture.Stats
}

// Run executes comp over vertices until every vertex has voted to halt
// with no messages in flight, the master halts, or MaxSupersteps is
// reached. A compute error or panic aborts the run and is returned with
// the superstep and vertex attached.
func Run(ctx context.Context, vertices []*graph.Vertex, newComputation func() Computation, opts Options) (Result, error) {
	r, err := newRunner(vertices, newComputation, opts)
	if err != nil {
		return Result{}, err
	}

	return r.run(ctx)
}

type runner struct {
	opts   Options
	reg    *codec.Registry
	log    *slog.Logger
	master *capture.Master

	workers []*worker
	index   map[string]*vertexState

	numVertices int64
	numEdges    int64

	// aggregated holds the values visible during the current superstep.
	aggregated map[string]codec.Value

	dropped int
}

type vertexState struct {
	v      *graph.Vertex
	halted bool
	inbox  []codec.Value
}

func newRunner(vertices []*graph.Vertex, newComputation func() Computation, opts Options) (*runner, error) {
	if opts.Workers < 0 || opts.MaxSupersteps < 0 {
		return nil, errors.Newf("bsp: negative option (workers=%d max_supersteps=%d)", opts.Workers, opts.MaxSupersteps)
	}

	if opts.Workers == 0 {
		opts.Workers = 1
	}

	r := &runner{
		opts:       opts,
		reg:        opts.Registry,
		log:        opts.Logger,
		index:      make(map[string]*vertexState, len(vertices)),
		aggregated: make(map[string]codec.Value, len(opts.Aggregators)),
	}

	if r.reg == nil {
		r.reg = codec.DefaultRegistry
	}

	if r.log == nil {
		r.log = logging.Discard()
	}

	for name, agg := range opts.Aggregators {
		r.aggregated[name] = agg.Initial()
	}

	r.workers = make([]*worker, opts.Workers)
	for i := range r.workers {
		w := &worker{r: r, comp: newComputation(), outbox: make(map[string][]codec.Value), partial: make(map[string]codec.Value)}

		if opts.Capture != nil {
			w.capture = opts.Capture.NewWorker(fmt.Sprintf("worker-%d", i))
		}

		r.workers[i] = w
	}

	if opts.Capture != nil && opts.Master != nil {
		r.master = opts.Capture.NewMaster()
	}

	for _, v := range vertices {
		id := graph.IDString(v.ID)
		if _, dup := r.index[id]; dup {
			return nil, errors.Newf("bsp: duplicate vertex %s", id)
		}

		vs := &vertexState{v: v}
		r.index[id] = vs

		w := r.workers[partition(id, len(r.workers))]
		w.vertices = append(w.vertices, vs)

		r.numVertices++
		r.numEdges += int64(len(v.Edges))
	}

	return r, nil
}

func partition(id string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))

	return int(h.Sum32() % uint32(n))
}

func (r *runner) run(ctx context.Context) (Result, error) {
	var res Result

	for ss := int64(0); r.opts.MaxSupersteps == 0 || ss < r.opts.MaxSupersteps; ss++ {
		if err := ctx.Err(); err != nil {
			return r.result(res), err
		}

		if ss > 0 && !r.anyActive() {
			break
		}

		info := graph.SuperstepInfo{
			Superstep:     ss,
			TotalVertices: r.numVertices,
			TotalEdges:    r.numEdges,
			Config:        r.opts.Config,
		}

		if r.opts.Master != nil {
			halt, err := r.runMaster(ctx, info)
			if err != nil {
				return r.result(res), err
			}

			if halt {
				r.log.Debug("master halted", "superstep", ss)

				break
			}
		}

		g, gctx := errgroup.WithContext(ctx)

		for _, w := range r.workers {
			g.Go(func() error {
				return w.superstep(gctx, info)
			})
		}

		err := g.Wait()
		if err != nil {
			return r.result(res), err
		}

		r.deliver()
		r.reduceAggregates()

		res.Supersteps = ss + 1
		r.log.Debug("superstep done", "superstep", ss)
	}

	return r.result(res), nil
}

func (r *runner) result(res Result) Result {
	res.DroppedMessages = r.dropped
	res.Aggregates = r.aggregated

	if r.opts.Capture != nil {
		res.Workers = make([]capture.Stats, len(r.workers))
		for i, w := range r.workers {
			res.Workers[i] = w.capture.Stats()
		}
	}

	if r.master != nil {
		res.Master = r.master.Stats()
	}

	return res
}

func (r *runner) anyActive() bool {
	for _, w := range r.workers {
		for _, vs := range w.vertices {
			if !vs.halted {
				return true
			}
		}
	}

	return false
}

// deliver moves every worker's outbox into the target inboxes. A vertex
// that receives a message is active again.
func (r *runner) deliver() {
	for _, w := range r.workers {
		for dst, msgs := range w.outbox {
			vs, ok := r.index[dst]
			if !ok {
				r.dropped += len(msgs)

				continue
			}

			vs.inbox = append(vs.inbox, msgs...)
			vs.halted = false
		}

		clear(w.outbox)
	}
}

func (r *runner) reduceAggregates() {
	for name, agg := range r.opts.Aggregators {
		acc := agg.Initial()

		for _, w := range r.workers {
			if v, ok := w.partial[name]; ok {
				acc = agg.Reduce(acc, v)
			}
		}

		r.aggregated[name] = acc
	}

	for _, w := range r.workers {
		clear(w.partial)
	}
}

func (r *runner) runMaster(ctx context.Context, info graph.SuperstepInfo) (bool, error) {
	mc := &MasterContext{r: r, info: info}

	fn := func() error { return r.opts.Master.Compute(mc) }

	err := func() (err error) {
		defer recoverInto(&err)

		if r.master != nil {
			return r.master.Compute(ctx, info, fn)
		}

		return fn()
	}()
	if err != nil {
		return false, errors.Wrapf(err, "master superstep %d", info.Superstep)
	}

	return mc.halted, nil
}

// recoverInto turns a panic into an error. It must be deferred directly.
func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = errors.Newf("panic: %v", r)
	}
}
