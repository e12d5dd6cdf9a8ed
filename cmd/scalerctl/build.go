package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetscaler/engine/internal/autoscaler"
	"github.com/fleetscaler/engine/internal/cache"
	"github.com/fleetscaler/engine/internal/config"
	"github.com/fleetscaler/engine/internal/domain"
	"github.com/fleetscaler/engine/internal/logging"
	"github.com/fleetscaler/engine/internal/store"
	"github.com/fleetscaler/engine/internal/zonesource"
)

// builtService is everything buildService constructs for one service.
// spot is non-nil only for ServiceConfig.Kind == "spot", giving the
// caller access to the placer (preemption-count persistence) and the
// underlying autoscaler (hysteresis-state checkpointing).
type builtService struct {
	dispatcher *autoscaler.Dispatcher
	placer     *autoscaler.SpotPlacer
	spot       *autoscaler.SpotRequestRateAutoscaler
}

// buildService constructs one service's Engine and wraps it in a
// Dispatcher, per ServiceConfig.Kind. Zone resolution follows 4.J: AWS
// discovery only seeds an empty spot_zones set, and is never consulted
// from inside Evaluate.
func buildService(ctx context.Context, svc config.ServiceConfig, eng config.EngineConfig, aws config.AWSConfig, journal store.DecisionRecorder, placerCache cache.Cache, now func() time.Time) (*builtService, error) {
	spec := domain.ServiceSpec{
		ServiceID:           svc.ServiceID,
		MinReplicas:         svc.MinReplicas,
		MaxReplicas:         svc.MaxReplicas,
		QPSUpperThreshold:   svc.QPSUpperThreshold,
		QPSLowerThreshold:   svc.QPSLowerThreshold,
		TargetQPSPerReplica: svc.TargetQPSPerReplica,
		SpotPlacerKind:      svc.SpotPlacerKind,
		SpotZones:           svc.SpotZones,
	}

	switch svc.Kind {
	case "threshold":
		a, err := autoscaler.NewRequestRateAutoscaler(autoscaler.ThresholdConfig{
			MinReplicas:    spec.MinReplicas,
			MaxReplicas:    spec.EffectiveMaxReplicas(),
			UpperThreshold: spec.QPSUpperThreshold,
			LowerThreshold: spec.QPSLowerThreshold,
			Cooldown:       eng.Cooldown,
			RPSWindowSize:  eng.RPSWindowSize,
			Now:            now,
		})
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.ServiceID, err)
		}
		return &builtService{dispatcher: autoscaler.NewDispatcher(svc.ServiceID, a, journal, now)}, nil

	case "spot":
		zones := spec.SpotZones
		if len(zones) == 0 && aws.Enabled {
			zs, err := zonesource.NewEC2ZoneSource(ctx, aws.Region)
			if err != nil {
				return nil, fmt.Errorf("service %s: zone source: %w", svc.ServiceID, err)
			}
			catalog, err := zonesource.Catalog(ctx, zs, "ec2", now)
			if err != nil {
				return nil, fmt.Errorf("service %s: zone discovery: %w", svc.ServiceID, err)
			}
			zones = catalog.Zones
			logging.Op().Info("spot zones discovered", "service", svc.ServiceID, "zones", zones)
		}

		placer := autoscaler.NewSpotPlacer(spec.SpotPlacerKind, zones)

		placerStore := autoscaler.NewPlacerStateStore(placerCache)
		if counts := placerStore.Load(ctx, svc.ServiceID); counts != nil {
			placer.RestorePreemptionCounts(counts)
		}

		a, err := autoscaler.NewSpotRequestRateAutoscaler(autoscaler.SpotConfig{
			MinReplicas:         spec.MinReplicas,
			MaxReplicas:         spec.EffectiveMaxReplicas(),
			TargetQPSPerReplica: derefOr(spec.TargetQPSPerReplica, 0),
			Cooldown:            eng.Cooldown,
			Frequency:           eng.Frequency,
			RPSWindowSize:       eng.RPSWindowSize,
			UpscaleDelay:        eng.UpscaleDelay,
			DownscaleDelay:      eng.DownscaleDelay,
			OverProvisionNum:    eng.OverProvisionNum,
			Placer:              placer,
			Now:                 now,
		})
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.ServiceID, err)
		}
		return &builtService{
			dispatcher: autoscaler.NewDispatcher(svc.ServiceID, a, journal, now),
			placer:     placer,
			spot:       a,
		}, nil

	default:
		return nil, fmt.Errorf("service %s: unknown autoscaler kind %q", svc.ServiceID, svc.Kind)
	}
}

func derefOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
