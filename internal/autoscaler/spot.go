package autoscaler

import (
	"math"
	"time"

	"github.com/fleetscaler/engine/internal/domain"
	"github.com/fleetscaler/engine/internal/logging"
)

// DefaultUpscaleDelay, DefaultDownscaleDelay and DefaultOverProvision
// are the tuning constant defaults named in the external interface:
// upscale_delay_s = 300, downscale_delay_s = 6000, over_provision_num = 1.
const (
	DefaultUpscaleDelay   = 300 * time.Second
	DefaultDownscaleDelay = 6000 * time.Second
	DefaultOverProvision  = 1
)

// SpotConfig configures a SpotRequestRateAutoscaler.
type SpotConfig struct {
	MinReplicas int
	MaxReplicas int

	TargetQPSPerReplica float64
	Cooldown            time.Duration
	Frequency           time.Duration
	RPSWindowSize       time.Duration
	UpscaleDelay        time.Duration
	DownscaleDelay      time.Duration
	OverProvisionNum    int

	Placer *SpotPlacer

	// Now returns the current wall-clock time. Defaults to time.Now;
	// tests inject a frozen clock.
	Now func() time.Time
}

// SpotRequestRateAutoscaler extends the threshold design with
// consecutive-period hysteresis on the target replica count and spot
// placement with preemption-aware zone selection and on-demand
// fallback.
type SpotRequestRateAutoscaler struct {
	cfg   SpotConfig
	meter *RequestRateMeter

	lastScaleOperation float64
	targetNumReplicas  int
	upscaleCounter     int
	downscaleCounter   int

	scaleUpConsecutivePeriods   int
	scaleDownConsecutivePeriods int
}

// NewSpotRequestRateAutoscaler validates cfg and constructs an
// autoscaler. A spot autoscaler built without a placer, spot zones, or
// a target QPS per replica is a fatal ConfigError.
func NewSpotRequestRateAutoscaler(cfg SpotConfig) (*SpotRequestRateAutoscaler, error) {
	if cfg.MinReplicas < 0 {
		return nil, configErrorf("min_replicas must be >= 0, got %d", cfg.MinReplicas)
	}
	if cfg.MaxReplicas < cfg.MinReplicas {
		return nil, configErrorf("max_replicas (%d) must be >= min_replicas (%d)", cfg.MaxReplicas, cfg.MinReplicas)
	}
	if cfg.Placer == nil {
		return nil, configErrorf("spot autoscaler requires a placer")
	}
	if len(cfg.Placer.Zones()) == 0 {
		return nil, configErrorf("spot autoscaler requires a non-empty spot_zones set")
	}
	if cfg.TargetQPSPerReplica <= 0 {
		return nil, configErrorf("spot autoscaler requires a positive target_qps_per_replica")
	}
	if cfg.Frequency <= 0 {
		return nil, configErrorf("spot autoscaler requires a positive frequency")
	}
	if cfg.UpscaleDelay == 0 {
		cfg.UpscaleDelay = DefaultUpscaleDelay
	}
	if cfg.DownscaleDelay == 0 {
		cfg.DownscaleDelay = DefaultDownscaleDelay
	}
	if cfg.OverProvisionNum == 0 {
		cfg.OverProvisionNum = DefaultOverProvision
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	scaleUp := int(cfg.UpscaleDelay.Seconds() / cfg.Frequency.Seconds())
	scaleDown := int(cfg.DownscaleDelay.Seconds() / cfg.Frequency.Seconds())
	if scaleUp < 1 {
		scaleUp = 1
	}
	if scaleDown < 1 {
		scaleDown = 1
	}

	return &SpotRequestRateAutoscaler{
		cfg:                         cfg,
		meter:                       NewRequestRateMeter(cfg.RPSWindowSize.Seconds()),
		targetNumReplicas:           cfg.MinReplicas,
		scaleUpConsecutivePeriods:   scaleUp,
		scaleDownConsecutivePeriods: scaleDown,
	}, nil
}

// IngestRequestInfo absorbs a batch of request timestamps reported by
// the reverse proxy.
func (a *SpotRequestRateAutoscaler) IngestRequestInfo(batch RequestBatch) {
	a.meter.IngestRequestInfo(batch, nowSeconds(a.cfg.Now))
}

// CurrentRPS reports the meter's current requests-per-second figure.
func (a *SpotRequestRateAutoscaler) CurrentRPS() float64 {
	return a.meter.CurrentRPS()
}

// HandlePreemptionHistory forwards preemption reports to the
// underlying placer. Reports arriving between ticks must be applied
// before the next Evaluate call.
func (a *SpotRequestRateAutoscaler) HandlePreemptionHistory(zones []string) {
	a.cfg.Placer.HandlePreemptionHistory(zones)
}

// HysteresisState is a checkpointable snapshot of the consecutive-tick
// counters and the current hysteresis-applied target, so a controller
// can persist it between ticks (see internal/checkpoint) and diagnose
// why a scale decision is or isn't imminent.
type HysteresisState struct {
	TargetNumReplicas int `json:"target_num_replicas"`
	UpscaleCounter    int `json:"upscale_counter"`
	DownscaleCounter  int `json:"downscale_counter"`
}

// Snapshot returns the current hysteresis state.
func (a *SpotRequestRateAutoscaler) Snapshot() HysteresisState {
	return HysteresisState{
		TargetNumReplicas: a.targetNumReplicas,
		UpscaleCounter:    a.upscaleCounter,
		DownscaleCounter:  a.downscaleCounter,
	}
}

// Restore seeds the hysteresis counters from a prior snapshot, e.g. one
// loaded from a checkpoint store at bootstrap. It must be called before
// the first Evaluate.
func (a *SpotRequestRateAutoscaler) Restore(s HysteresisState) {
	a.targetNumReplicas = clamp(s.TargetNumReplicas, a.cfg.MinReplicas, a.cfg.MaxReplicas)
	a.upscaleCounter = s.UpscaleCounter
	a.downscaleCounter = s.DownscaleCounter
}

var (
	spotOverride     = func() map[string]any { return map[string]any{"use_spot": true, "spot_recovery": nil} }
	onDemandOverride = map[string]any{"use_spot": false, "spot_recovery": nil}
)

// getDesiredNumReplicas implements the hysteresis counter update
// described in 4.E: a raw target only takes effect once it has held
// for scale_up_consecutive_periods (resp. down) consecutive ticks in
// the same direction; a contrary tick resets the opposing counter.
func (a *SpotRequestRateAutoscaler) getDesiredNumReplicas(nCurrent int) int {
	rps := a.meter.CurrentRPS()
	// raw is sized off total demand over the per-replica QPS target,
	// not rps/n: the replica count required to serve rps at
	// target_qps_per_replica per replica.
	raw := int(math.Ceil(rps / a.cfg.TargetQPSPerReplica))
	raw = clamp(raw, a.cfg.MinReplicas, a.cfg.MaxReplicas)

	switch {
	case raw > a.targetNumReplicas:
		a.upscaleCounter++
		a.downscaleCounter = 0
		if a.upscaleCounter >= a.scaleUpConsecutivePeriods {
			a.targetNumReplicas = raw
			a.upscaleCounter = 0
		}
	case raw < a.targetNumReplicas:
		a.downscaleCounter++
		a.upscaleCounter = 0
		if a.downscaleCounter >= a.scaleDownConsecutivePeriods {
			a.targetNumReplicas = raw
			a.downscaleCounter = 0
		}
	default:
		a.upscaleCounter = 0
		a.downscaleCounter = 0
	}
	return a.targetNumReplicas
}

// Evaluate runs one tick of the target-QPS spot algorithm against
// replicaInfos and returns an ordered list of decisions. It is a pure
// function of state + replicaInfos + the injected clock.
func (a *SpotRequestRateAutoscaler) Evaluate(replicaInfos []domain.ReplicaInfo) []domain.AutoscalerDecision {
	alive := make([]domain.ReplicaInfo, 0, len(replicaInfos))
	for _, r := range replicaInfos {
		if !r.Status.IsValid() {
			logging.Op().Warn("spot autoscaler: invalid replica status, excluding from alive set",
				"replica_id", r.ReplicaID, "status", r.Status,
				"error", invalidReplicaStatusErrorf("replica %d: unrecognized status %q", r.ReplicaID, r.Status))
			continue
		}
		if r.IsAlive || r.Status == domain.StatusNotReady {
			alive = append(alive, r)
		}
	}
	n := len(alive)
	now := nowSeconds(a.cfg.Now)

	if n < a.cfg.MinReplicas {
		return a.bootstrapBurst()
	}

	if a.lastScaleOperation != 0 && now-a.lastScaleOperation < a.cfg.Cooldown.Seconds() {
		logging.Op().Debug("spot autoscaler: cooldown active, skipping tick", "n", n, "since_last", now-a.lastScaleOperation)
		return nil
	}

	target := a.getDesiredNumReplicas(n)

	var aliveSpot, readySpot, onDemand int
	for _, r := range alive {
		if r.IsSpot {
			aliveSpot++
			if r.NormalizedStatus() == domain.StatusReady {
				readySpot++
			}
		} else {
			onDemand++
		}
	}

	w := target + a.cfg.OverProvisionNum

	logging.Op().Info("spot autoscaler: tick",
		"n", n, "target", target, "alive_spot", aliveSpot, "ready_spot", readySpot, "on_demand", onDemand, "w", w)

	var decisions []domain.AutoscalerDecision
	var scaleDownIDs []int

	switch {
	case aliveSpot < w:
		deficit := w - aliveSpot
		decisions = append(decisions, domain.ScaleUp{Count: deficit, Override: onDemandOverride})
		for i := 0; i < deficit; i++ {
			override := spotOverride()
			zone, err := a.cfg.Placer.Select()
			if err != nil {
				logging.Op().Warn("spot autoscaler: zone selection failed, skipping tick", "error", err)
				return nil
			}
			override["zone"] = zone
			decisions = append(decisions, domain.ScaleUp{Count: 1, Override: override})
		}
	case aliveSpot > w:
		limit := aliveSpot - w
		scaleDownIDs = aliveStatusOrderedScaleDown(alive, func(r domain.ReplicaInfo) bool { return r.IsSpot }, limit)
	case aliveSpot == w && readySpot+onDemand >= w:
		limit := readySpot + onDemand - w
		if limit > 0 {
			scaleDownIDs = aliveStatusOrderedScaleDown(alive, func(r domain.ReplicaInfo) bool { return !r.IsSpot }, limit)
		}
	}

	if len(scaleDownIDs) > 0 {
		decisions = append(decisions, domain.ScaleDown{ReplicaIDs: scaleDownIDs})
	}

	if len(decisions) > 0 {
		a.lastScaleOperation = now
	}
	return decisions
}

// bootstrapBurst emits the fixed-size scale-up burst used when the
// alive replica count is below min_replicas. It does not touch
// counters or the cooldown gate.
func (a *SpotRequestRateAutoscaler) bootstrapBurst() []domain.AutoscalerDecision {
	count := a.targetNumReplicas + a.cfg.OverProvisionNum
	decisions := make([]domain.AutoscalerDecision, 0, count)
	for i := 0; i < count; i++ {
		override := spotOverride()
		zone, err := a.cfg.Placer.Select()
		if err != nil {
			logging.Op().Warn("spot autoscaler: bootstrap zone selection failed, skipping tick", "error", err)
			return nil
		}
		override["zone"] = zone
		decisions = append(decisions, domain.ScaleUp{Count: 1, Override: override})
	}
	logging.Op().Info("spot autoscaler: bootstrap burst", "count", count)
	return decisions
}

// aliveStatusOrderedScaleDown implements the spot scale-down priority
// order: walk alive_statuses in order, appending matching replicas
// (respecting filter) in input order, then append matching replicas
// whose status falls outside alive_statuses. Stops at limit.
func aliveStatusOrderedScaleDown(replicaInfos []domain.ReplicaInfo, filter func(domain.ReplicaInfo) bool, limit int) []int {
	if limit <= 0 {
		return nil
	}
	ids := make([]int, 0, limit)
	appendStatus := func(accept func(domain.ReplicaInfo) bool) {
		for _, r := range replicaInfos {
			if len(ids) >= limit {
				return
			}
			if filter(r) && accept(r) {
				ids = append(ids, r.ReplicaID)
			}
		}
	}
	for _, status := range domain.AliveStatuses {
		appendStatus(func(r domain.ReplicaInfo) bool { return r.NormalizedStatus() == status })
		if len(ids) >= limit {
			return ids
		}
	}
	appendStatus(func(r domain.ReplicaInfo) bool {
		s := r.NormalizedStatus()
		for _, alive := range domain.AliveStatuses {
			if s == alive {
				return false
			}
		}
		return true
	})
	return ids
}
