package capture

import (
	"context"
	"log/slog"

	"github.com/graftdebug/graft/internal/codec"
	"github.com/graftdebug/graft/internal/graph"
	"github.com/graftdebug/graft/internal/scenario"
	"github.com/graftdebug/graft/internal/tracestore"
)

// Master holds the capture state of the coordinator. Every debugged
// superstep is captured; there is no per-superstep cap.
type Master struct {
	job   *Job
	log   *slog.Logger
	stats Stats

	info      graph.SuperstepInfo
	scenario  *scenario.MasterScenario
	context   scenario.CommonContext
	computing bool
}

// Stats returns the coordinator's counters.
func (m *Master) Stats() Stats { return m.stats }

// OnMasterComputeBegin starts the coordinator compute call of a superstep.
func (m *Master) OnMasterComputeBegin(info graph.SuperstepInfo) {
	if m.computing {
		m.log.Warn("master event dropped without end", "superstep", m.info.Superstep)
	}

	m.info = info
	m.context = newContext(info)
	m.computing = true
	m.scenario = nil

	if m.job.policy.ShouldDebugSuperstep(info.Superstep) {
		m.stats.Captured++
		m.scenario = &scenario.MasterScenario{ClassUnderTest: m.job.masterClass}
	}
}

// OnMasterGetAggregate records an aggregator read by the coordinator. Only
// the first read of each name is kept.
func (m *Master) OnMasterGetAggregate(name string, value codec.Value) {
	if !m.computing {
		return
	}

	if _, ok := m.context.Aggregate(name); ok {
		return
	}

	m.context.AddAggregateIfAbsent(name, m.job.reg.Clone(value))
}

// OnMasterComputeException saves a coordinator failure when the policy
// catches exceptions and returns err unchanged.
func (m *Master) OnMasterComputeException(ctx context.Context, err error) error {
	m.computing = false
	m.scenario = nil

	if !m.job.policy.ShouldCatchExceptions() {
		return err
	}

	sc := &scenario.MasterScenario{ClassUnderTest: m.job.masterClass, Context: m.context.Copy()}
	sc.Fail(exceptionInfo(err))

	m.stats.Exceptions++
	m.log.Info("caught master compute exception", "superstep", m.info.Superstep, "err", err)

	m.saveScenario(ctx, tracestore.KindMasterException, sc)

	return err
}

// OnMasterComputeEnd saves the captured coordinator scenario, if any.
func (m *Master) OnMasterComputeEnd(ctx context.Context) {
	if !m.computing {
		m.log.Warn("OnMasterComputeEnd without begin")

		return
	}

	m.computing = false

	sc := m.scenario
	m.scenario = nil

	if sc == nil {
		return
	}

	sc.Context = m.context.Copy()
	sc.Complete()

	m.saveScenario(ctx, tracestore.KindMasterRegular, sc)
}

func (m *Master) saveScenario(ctx context.Context, kind tracestore.Kind, sc *scenario.MasterScenario) {
	key := tracestore.Key{JobID: m.job.id, Superstep: m.info.Superstep, Kind: kind}

	ok := m.job.save(ctx, m.log, key, func() ([]byte, error) {
		return scenario.MarshalMasterScenario(sc, m.job.reg)
	})
	if !ok {
		m.stats.SaveFailures++
	}
}
