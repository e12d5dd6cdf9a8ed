package autoscaler

import (
	"context"
	"time"

	"github.com/fleetscaler/engine/internal/domain"
	"github.com/fleetscaler/engine/internal/logging"
	"github.com/fleetscaler/engine/internal/metrics"
	"github.com/fleetscaler/engine/internal/observability"
	"github.com/fleetscaler/engine/internal/store"
)

// Engine is the uniform shape both autoscaler kinds satisfy: absorb
// request timestamps, and emit a deterministic decision list per tick.
// Modeling kinds behind an interface (rather than a tagged enum) keeps
// the dispatcher agnostic to which algorithm a service is configured
// with.
type Engine interface {
	IngestRequestInfo(batch RequestBatch)
	CurrentRPS() float64
	Evaluate(replicaInfos []domain.ReplicaInfo) []domain.AutoscalerDecision
}

// Dispatcher is the single entry point a controller calls once per
// tick. It wraps one Engine with the ambient concerns that must never
// touch Evaluate's own call frame: metrics, tracing, and the decision
// journal. A tick's returned decisions are exactly what Evaluate
// produced; journal/metrics failures are logged and never alter them.
type Dispatcher struct {
	serviceID string
	engine    Engine
	journal   store.DecisionRecorder
	now       func() time.Time
}

// NewDispatcher wraps engine for serviceID. A nil journal defaults to
// a no-op recorder.
func NewDispatcher(serviceID string, engine Engine, journal store.DecisionRecorder, now func() time.Time) *Dispatcher {
	if journal == nil {
		journal = store.NoopRecorder{}
	}
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{serviceID: serviceID, engine: engine, journal: journal, now: now}
}

// IngestRequestInfo forwards a batch of request timestamps to the
// wrapped engine.
func (d *Dispatcher) IngestRequestInfo(batch RequestBatch) {
	d.engine.IngestRequestInfo(batch)
}

// Tick runs one Evaluate call against replicaInfos, and records the
// outcome to metrics, tracing, and the decision journal before
// returning the decisions Evaluate produced.
func (d *Dispatcher) Tick(ctx context.Context, replicaInfos []domain.ReplicaInfo) []domain.AutoscalerDecision {
	ctx, span := observability.StartSpan(ctx, "autoscaler.tick",
		observability.AttrServiceID.String(d.serviceID),
		observability.AttrReplicaCount.Int(len(replicaInfos)),
	)
	defer span.End()

	start := d.now()
	decisions := d.engine.Evaluate(replicaInfos)
	elapsed := d.now().Sub(start)

	metrics.ObserveEvaluationLatency(d.serviceID, elapsed)
	metrics.SetCurrentRPS(d.serviceID, d.engine.CurrentRPS())

	scaleUps, scaleDowns := 0, 0
	for _, dec := range decisions {
		switch v := dec.(type) {
		case domain.ScaleUp:
			scaleUps++
			metrics.RecordDecision(d.serviceID, "scale_up", directionOf(v.Override))
		case domain.ScaleDown:
			scaleDowns++
			metrics.RecordDecision(d.serviceID, "scale_down", "")
		}
	}
	outcome := "decided"
	if len(decisions) == 0 {
		outcome = "empty"
	}
	metrics.RecordEvaluation(d.serviceID, outcome)
	metrics.Global().RecordTick(d.serviceID, d.engine.CurrentRPS(), scaleUps, scaleDowns)

	span.SetAttributes(observability.AttrDecisionCount.Int(len(decisions)))
	observability.SetSpanOK(span)

	if len(decisions) > 0 {
		if err := d.journal.RecordTick(ctx, d.serviceID, d.now(), decisions); err != nil {
			metrics.RecordJournalFailure()
			metrics.Global().RecordJournalFailure()
			logging.Op().Warn("decision journal: record tick failed", "service", d.serviceID, "error", err)
		}
	}

	return decisions
}

func directionOf(override map[string]any) string {
	if override == nil {
		return ""
	}
	if useSpot, ok := override["use_spot"].(bool); ok {
		if useSpot {
			return "spot"
		}
		return "on_demand"
	}
	return ""
}
