package autoscaler

import (
	"math"
	"time"

	"github.com/fleetscaler/engine/internal/domain"
	"github.com/fleetscaler/engine/internal/logging"
)

// ThresholdConfig configures a RequestRateAutoscaler.
type ThresholdConfig struct {
	MinReplicas int
	MaxReplicas int

	UpperThreshold *float64 // requests/sec/replica; nil disables the upper branch
	LowerThreshold *float64 // requests/sec/replica; nil disables the lower branch

	Cooldown      time.Duration
	RPSWindowSize time.Duration

	// Now returns the current wall-clock time. Defaults to time.Now;
	// tests inject a frozen clock.
	Now func() time.Time
}

// RequestRateAutoscaler decides a replica delta from upper/lower RPS
// thresholds with a cooldown. It holds no lock: the controller must
// call IngestRequestInfo and Evaluate in strict sequence for one
// service.
type RequestRateAutoscaler struct {
	cfg   ThresholdConfig
	meter *RequestRateMeter

	lastScaleOperation float64 // seconds since epoch; 0 means never
}

// NewRequestRateAutoscaler validates cfg and constructs an autoscaler.
// A misconfigured spec is a fatal, construction-time ConfigError.
func NewRequestRateAutoscaler(cfg ThresholdConfig) (*RequestRateAutoscaler, error) {
	if cfg.MinReplicas < 0 {
		return nil, configErrorf("min_replicas must be >= 0, got %d", cfg.MinReplicas)
	}
	if cfg.MaxReplicas < cfg.MinReplicas {
		return nil, configErrorf("max_replicas (%d) must be >= min_replicas (%d)", cfg.MaxReplicas, cfg.MinReplicas)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RequestRateAutoscaler{
		cfg:   cfg,
		meter: NewRequestRateMeter(cfg.RPSWindowSize.Seconds()),
	}, nil
}

// IngestRequestInfo absorbs a batch of request timestamps reported by
// the reverse proxy.
func (a *RequestRateAutoscaler) IngestRequestInfo(batch RequestBatch) {
	a.meter.IngestRequestInfo(batch, nowSeconds(a.cfg.Now))
}

// CurrentRPS reports the meter's current requests-per-second figure.
func (a *RequestRateAutoscaler) CurrentRPS() float64 {
	return a.meter.CurrentRPS()
}

// Evaluate runs one tick of the threshold algorithm against replicaInfos
// and returns an ordered list of decisions. It is a pure function of
// state + replicaInfos + the injected clock; it performs no I/O.
func (a *RequestRateAutoscaler) Evaluate(replicaInfos []domain.ReplicaInfo) []domain.AutoscalerDecision {
	n := len(replicaInfos)
	now := nowSeconds(a.cfg.Now)

	if n >= a.cfg.MinReplicas && a.lastScaleOperation != 0 && now-a.lastScaleOperation < a.cfg.Cooldown.Seconds() {
		logging.Op().Debug("threshold autoscaler: cooldown active, skipping tick", "n", n, "since_last", now-a.lastScaleOperation)
		return nil
	}

	rps := a.meter.CurrentRPS()
	perReplica := rps
	if n > 0 {
		perReplica = rps / float64(n)
	}

	target := a.computeTarget(n, perReplica)
	target = clamp(target, a.cfg.MinReplicas, a.cfg.MaxReplicas)
	delta := target - n

	logging.Op().Info("threshold autoscaler: tick",
		"n", n, "rps", rps, "per_replica", perReplica, "target", target, "delta", delta)

	if delta == 0 {
		return nil
	}

	var decisions []domain.AutoscalerDecision
	if delta > 0 {
		decisions = []domain.AutoscalerDecision{domain.ScaleUp{Count: delta, Override: map[string]any{}}}
	} else {
		ids := failedFirstScaleDownOrder(replicaInfos, -delta)
		decisions = []domain.AutoscalerDecision{domain.ScaleDown{ReplicaIDs: ids}}
	}
	a.lastScaleOperation = now
	return decisions
}

func (a *RequestRateAutoscaler) computeTarget(n int, perReplica float64) int {
	if n < a.cfg.MinReplicas {
		return a.cfg.MinReplicas
	}
	if a.cfg.UpperThreshold != nil && perReplica > *a.cfg.UpperThreshold {
		return int(math.Floor((perReplica / *a.cfg.UpperThreshold) * float64(n)))
	}
	if a.cfg.LowerThreshold != nil && perReplica < *a.cfg.LowerThreshold {
		return int(math.Floor((perReplica / *a.cfg.LowerThreshold) * float64(n)))
	}
	return n
}

func nowSeconds(now func() time.Time) float64 {
	return float64(now().UnixNano()) / 1e9
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// failedFirstScaleDownOrder implements the threshold autoscaler's
// scale-down priority: replicas whose status == FAILED in input order,
// then the remaining replicas in input order, stopping at limit.
func failedFirstScaleDownOrder(replicaInfos []domain.ReplicaInfo, limit int) []int {
	if limit <= 0 {
		return nil
	}
	ids := make([]int, 0, limit)
	appendMatching := func(accept func(domain.ReplicaInfo) bool) {
		for _, r := range replicaInfos {
			if len(ids) >= limit {
				return
			}
			if accept(r) {
				ids = append(ids, r.ReplicaID)
			}
		}
	}
	appendMatching(func(r domain.ReplicaInfo) bool { return r.NormalizedStatus() == domain.StatusFailed })
	appendMatching(func(r domain.ReplicaInfo) bool { return r.NormalizedStatus() != domain.StatusFailed })
	return ids
}
