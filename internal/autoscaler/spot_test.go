package autoscaler

import (
	"testing"
	"time"

	"github.com/fleetscaler/engine/internal/domain"
)

func newTestSpotConfig(now func() time.Time) SpotConfig {
	return SpotConfig{
		MinReplicas:         2,
		MaxReplicas:         20,
		TargetQPSPerReplica: 10,
		Cooldown:            0,
		Frequency:           10 * time.Second,
		RPSWindowSize:       10 * time.Second,
		UpscaleDelay:        30 * time.Second, // 3 ticks
		DownscaleDelay:      30 * time.Second, // 3 ticks
		OverProvisionNum:    1,
		Placer:              NewSpotPlacer(PlacerEvenSpread, []string{"a", "b"}),
		Now:                 now,
	}
}

func TestNewSpotRequestRateAutoscaler_RequiresPlacer(t *testing.T) {
	cfg := newTestSpotConfig(time.Now)
	cfg.Placer = nil
	if _, err := NewSpotRequestRateAutoscaler(cfg); err == nil {
		t.Fatal("expected a config error when no placer is supplied")
	}
}

func TestNewSpotRequestRateAutoscaler_RequiresZones(t *testing.T) {
	cfg := newTestSpotConfig(time.Now)
	cfg.Placer = NewSpotPlacer(PlacerEvenSpread, nil)
	if _, err := NewSpotRequestRateAutoscaler(cfg); err == nil {
		t.Fatal("expected a config error when the placer has no zones")
	}
}

func TestNewSpotRequestRateAutoscaler_RequiresPositiveTargetQPS(t *testing.T) {
	cfg := newTestSpotConfig(time.Now)
	cfg.TargetQPSPerReplica = 0
	if _, err := NewSpotRequestRateAutoscaler(cfg); err == nil {
		t.Fatal("expected a config error for a non-positive target_qps_per_replica")
	}
}

// Below min_replicas, Evaluate always emits the bootstrap burst regardless
// of the cooldown or hysteresis counters.
func TestSpot_BelowMinReplicas_BootstrapBurst(t *testing.T) {
	now := time.Unix(1000, 0)
	cfg := newTestSpotConfig(frozenClock(now))
	a, err := NewSpotRequestRateAutoscaler(cfg)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	decisions := a.Evaluate(nil)
	if len(decisions) == 0 {
		t.Fatal("expected a bootstrap burst of scale-up decisions")
	}
	for _, d := range decisions {
		up, ok := d.(domain.ScaleUp)
		if !ok {
			t.Fatalf("expected every bootstrap decision to be a ScaleUp, got %T", d)
		}
		if up.Count != 1 {
			t.Fatalf("expected each bootstrap decision to request exactly one replica, got %d", up.Count)
		}
	}
	// min_replicas(2) + over_provision(1) = 3 decisions.
	if len(decisions) != 3 {
		t.Fatalf("expected 3 bootstrap decisions, got %d", len(decisions))
	}
}

// S3/S4-equivalent: a raw target above the current target only takes effect
// after scale_up_consecutive_periods consecutive ticks.
func TestSpot_HysteresisRequiresConsecutiveTicks(t *testing.T) {
	tick := 0
	clock := time.Unix(0, 0)
	cfg := newTestSpotConfig(func() time.Time { return clock })
	cfg.MinReplicas = 2
	cfg.OverProvisionNum = 0
	a, err := NewSpotRequestRateAutoscaler(cfg)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}

	// Warm the meter so CurrentRPS reports a high rate: 300 timestamps
	// over a 10s window = 30 rps => raw target = ceil(30/10) = 3.
	var ts []float64
	for i := 0; i < 300; i++ {
		ts = append(ts, float64(clock.Unix()))
	}
	a.IngestRequestInfo(RequestBatch{Timestamps: ts})

	alive := []domain.ReplicaInfo{
		{ReplicaID: 1, Status: domain.StatusReady, IsAlive: true, IsSpot: true},
		{ReplicaID: 2, Status: domain.StatusReady, IsAlive: true, IsSpot: true},
	}
	for i := 0; i < 2; i++ {
		tick++
		clock = clock.Add(10 * time.Second)
		decisions := a.Evaluate(alive)
		for _, d := range decisions {
			if _, ok := d.(domain.ScaleUp); ok {
				t.Fatalf("tick %d: expected no scale-up before the hysteresis counter reaches 3, got %v", tick, decisions)
			}
		}
	}

	clock = clock.Add(10 * time.Second)
	decisions := a.Evaluate(alive)
	found := false
	for _, d := range decisions {
		if _, ok := d.(domain.ScaleUp); ok {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a scale-up once the raw target held for 3 consecutive ticks, got %v", decisions)
	}
}

// A contrary-direction tick resets the opposing counter (4.E). Drives
// the raw target directly via getDesiredNumReplicas to isolate the
// counter transition from the meter's own eviction timing.
func TestSpot_ContraryTickResetsCounter(t *testing.T) {
	cfg := newTestSpotConfig(time.Now)
	cfg.OverProvisionNum = 0
	a, err := NewSpotRequestRateAutoscaler(cfg)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	a.targetNumReplicas = 4

	// raw(10) > target(4): upscale counter increments, downscale resets.
	a.meter.timestamps = make([]float64, 1000) // 1000 / 10s window = 100 rps => raw = ceil(100/10) = 10
	a.downscaleCounter = 2
	got := a.getDesiredNumReplicas(2)
	if got != 4 {
		t.Fatalf("target must not move before the hysteresis counter is satisfied, got %d", got)
	}
	if a.downscaleCounter != 0 {
		t.Fatalf("expected the contrary tick to reset downscaleCounter, got %d", a.downscaleCounter)
	}
	if a.upscaleCounter == 0 {
		t.Fatal("expected the upscale counter to have incremented")
	}
}

// Over-provisioning: at or above min_replicas, w = target + over_provision_num,
// and a spot deficit is requested as one on-demand scale-up for the whole
// deficit followed by one single-replica spot scale-up per missing replica.
func TestSpot_OverProvisionAddsOnDemandAndSpot(t *testing.T) {
	now := time.Unix(5000, 0)
	cfg := newTestSpotConfig(frozenClock(now))
	cfg.OverProvisionNum = 2
	a, err := NewSpotRequestRateAutoscaler(cfg)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	a.targetNumReplicas = cfg.MinReplicas

	// 2 alive spot replicas, target 2 => w = 2 + 2 = 4, deficit 2.
	alive := []domain.ReplicaInfo{
		{ReplicaID: 1, Status: domain.StatusReady, IsAlive: true, IsSpot: true},
		{ReplicaID: 2, Status: domain.StatusReady, IsAlive: true, IsSpot: true},
	}
	decisions := a.Evaluate(alive)
	if len(decisions) != 3 {
		t.Fatalf("expected one on-demand and two spot scale-ups, got %v", decisions)
	}
	onDemand, ok := decisions[0].(domain.ScaleUp)
	if !ok || onDemand.Count != 2 || onDemand.Override["use_spot"] != false {
		t.Fatalf("expected an on-demand scale-up of 2 first, got %v", decisions[0])
	}
	for _, d := range decisions[1:] {
		up, ok := d.(domain.ScaleUp)
		if !ok || up.Count != 1 || up.Override["use_spot"] != true {
			t.Fatalf("expected single-replica spot scale-ups after the on-demand one, got %v", d)
		}
	}
}

func TestSpot_ScaleDownExcessSpot(t *testing.T) {
	now := time.Unix(6000, 0)
	cfg := newTestSpotConfig(frozenClock(now))
	cfg.OverProvisionNum = 0
	cfg.MinReplicas = 1
	a, err := NewSpotRequestRateAutoscaler(cfg)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}
	a.targetNumReplicas = 1

	alive := []domain.ReplicaInfo{
		{ReplicaID: 1, Status: domain.StatusReady, IsAlive: true, IsSpot: true},
		{ReplicaID: 2, Status: domain.StatusReady, IsAlive: true, IsSpot: true},
		{ReplicaID: 3, Status: domain.StatusReady, IsAlive: true, IsSpot: true},
	}
	decisions := a.Evaluate(alive)
	var down *domain.ScaleDown
	for _, d := range decisions {
		if sd, ok := d.(domain.ScaleDown); ok {
			down = &sd
		}
	}
	if down == nil {
		t.Fatalf("expected a scale-down of excess spot replicas, got %v", decisions)
	}
	if len(down.ReplicaIDs) != 2 {
		t.Fatalf("expected 2 excess spot replicas removed (w=1), got %d", len(down.ReplicaIDs))
	}
}

// Invariant: a replica with an unrecognized status is non-alive,
// non-FAILED — it must not be folded into NOT_READY's alive branch.
func TestSpot_InvalidStatusExcludedFromAliveSet(t *testing.T) {
	now := time.Unix(7000, 0)
	cfg := newTestSpotConfig(frozenClock(now))
	cfg.MinReplicas = 3
	a, err := NewSpotRequestRateAutoscaler(cfg)
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}

	replicas := []domain.ReplicaInfo{
		{ReplicaID: 1, Status: domain.StatusReady, IsAlive: true, IsSpot: true},
		{ReplicaID: 2, Status: domain.StatusReady, IsAlive: true, IsSpot: true},
		{ReplicaID: 3, Status: domain.ReplicaStatus("UNKNOWN_STATUS"), IsAlive: false, IsSpot: true},
	}
	decisions := a.Evaluate(replicas)
	if len(decisions) == 0 {
		t.Fatal("expected a bootstrap burst: the invalid-status replica must not count toward min_replicas")
	}
	for _, d := range decisions {
		if _, ok := d.(domain.ScaleUp); !ok {
			t.Fatalf("expected only bootstrap scale-up decisions, got %T", d)
		}
	}
}
