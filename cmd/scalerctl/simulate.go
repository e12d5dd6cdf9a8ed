package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetscaler/engine/internal/autoscaler"
	"github.com/fleetscaler/engine/internal/cache"
	"github.com/fleetscaler/engine/internal/domain"
	"github.com/fleetscaler/engine/internal/store"
)

func simulateCmd() *cobra.Command {
	var ticks int
	var seed int64

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "dry-run ticks against a synthetic replica and request feed",
		Long:  "simulate drives the configured services' autoscalers for a fixed number of ticks against a synthetic replica/request feed, printing each tick's decisions, for demos and incident replay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(ticks, seed)
		},
	}
	cmd.Flags().IntVar(&ticks, "ticks", 10, "number of ticks to simulate")
	cmd.Flags().Int64Var(&seed, "seed", 1, "RNG seed for the synthetic request feed")
	return cmd
}

// simFleet tracks one service's replica set across simulated ticks,
// applying each returned decision before the next one is generated.
type simFleet struct {
	nextReplicaID int
	replicas      []domain.ReplicaInfo
}

func newSimFleet(initial int, zones []string) *simFleet {
	f := &simFleet{}
	for i := 0; i < initial; i++ {
		f.replicas = append(f.replicas, f.spawn(zones))
	}
	return f
}

func (f *simFleet) spawn(zones []string) domain.ReplicaInfo {
	f.nextReplicaID++
	zone := ""
	if len(zones) > 0 {
		zone = zones[f.nextReplicaID%len(zones)]
	}
	return domain.ReplicaInfo{
		ReplicaID: f.nextReplicaID,
		Status:    domain.StatusReady,
		IsAlive:   true,
		Zone:      zone,
	}
}

func (f *simFleet) apply(decisions []domain.AutoscalerDecision, zones []string) {
	for _, d := range decisions {
		switch dec := d.(type) {
		case domain.ScaleUp:
			for i := 0; i < dec.Count; i++ {
				f.replicas = append(f.replicas, f.spawn(zones))
			}
		case domain.ScaleDown:
			kill := make(map[int]bool, len(dec.ReplicaIDs))
			for _, id := range dec.ReplicaIDs {
				kill[id] = true
			}
			kept := f.replicas[:0]
			for _, r := range f.replicas {
				if !kill[r.ReplicaID] {
					kept = append(kept, r)
				}
			}
			f.replicas = kept
		}
	}
}

func runSimulate(ticks int, seed int64) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	journal := store.NoopRecorder{}
	placerCache := cache.NewInMemoryCache()
	rng := rand.New(rand.NewSource(seed))

	simTime := time.Now()
	now := func() time.Time { return simTime }

	type wired struct {
		serviceID string
		dispatch  *autoscaler.Dispatcher
		fleet     *simFleet
		zones     []string
		baseRPS   float64
	}

	ctx := context.Background()
	var services []wired
	for _, svc := range cfg.Services {
		built, err := buildService(ctx, svc, cfg.Engine, cfg.AWS, journal, placerCache, now)
		if err != nil {
			return err
		}
		baseRPS := 10.0
		if svc.TargetQPSPerReplica != nil {
			baseRPS = *svc.TargetQPSPerReplica * float64(svc.MinReplicas)
		}
		services = append(services, wired{
			serviceID: svc.ServiceID,
			dispatch:  built.dispatcher,
			fleet:     newSimFleet(svc.MinReplicas, svc.SpotZones),
			zones:     svc.SpotZones,
			baseRPS:   baseRPS,
		})
	}

	for tick := 0; tick < ticks; tick++ {
		for _, w := range services {
			rps := w.baseRPS * (1 + 0.4*math.Sin(float64(tick)/3) + 0.1*rng.Float64())
			if rps < 0 {
				rps = 0
			}
			batch := syntheticBatch(rps, simTime)
			w.dispatch.IngestRequestInfo(batch)

			decisions := w.dispatch.Tick(ctx, w.fleet.replicas)
			fmt.Printf("tick=%d service=%s rps=%.2f replicas=%d decisions=%d\n",
				tick, w.serviceID, rps, len(w.fleet.replicas), len(decisions))
			for _, d := range decisions {
				switch dec := d.(type) {
				case domain.ScaleUp:
					fmt.Printf("  scale_up count=%d\n", dec.Count)
				case domain.ScaleDown:
					fmt.Printf("  scale_down replica_ids=%v\n", dec.ReplicaIDs)
				}
			}
			w.fleet.apply(decisions, w.zones)
		}
		simTime = simTime.Add(cfg.Engine.Frequency)
	}

	return nil
}

// syntheticBatch fabricates a RequestBatch of rps timestamps spread
// evenly across the last second before t.
func syntheticBatch(rps float64, t time.Time) autoscaler.RequestBatch {
	n := int(math.Round(rps))
	if n <= 0 {
		return autoscaler.RequestBatch{}
	}
	end := float64(t.Unix())
	timestamps := make([]float64, n)
	for i := 0; i < n; i++ {
		timestamps[i] = end - float64(i)/float64(n)
	}
	return autoscaler.RequestBatch{Timestamps: timestamps}
}
