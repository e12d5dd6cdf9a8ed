package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/fleetscaler/engine/internal/autoscaler"
	"github.com/fleetscaler/engine/internal/cache"
	"github.com/fleetscaler/engine/internal/checkpoint"
	"github.com/fleetscaler/engine/internal/livestore"
	"github.com/fleetscaler/engine/internal/logging"
	"github.com/fleetscaler/engine/internal/metrics"
	"github.com/fleetscaler/engine/internal/observability"
	"github.com/fleetscaler/engine/internal/queue"
	"github.com/fleetscaler/engine/internal/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the tick loop against a live store",
		Long:  "serve runs the configured services' autoscalers against live replica state and request feeds, on a ticker at engine.frequency",
		RunE:  runServe,
	}
}

// checkpointStep names the single checkpoint kind this controller
// writes: a spot autoscaler's hysteresis snapshot. The checkpoint store
// lives in this process's memory, so its snapshots do not outlive the
// process.
const checkpointStep = "spot_hysteresis"

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

	if syncInterval := time.Duration(cfg.Engine.LBControllerSyncIntervalSeconds) * time.Second; cfg.Engine.Frequency < syncInterval {
		logging.Op().Warn("engine frequency is shorter than the load balancer controller sync interval",
			"frequency", cfg.Engine.Frequency.String(), "lb_controller_sync_interval", syncInterval.String())
	}

	ctx := context.Background()

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(ctx)

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
	}

	var journal store.DecisionRecorder = store.NoopRecorder{}
	if cfg.Postgres.DSN != "" {
		j, err := store.NewPostgresJournal(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("init decision journal: %w", err)
		}
		defer j.Close()
		journal = j
	}

	var placerCache cache.Cache
	var cacheInvalidator *cache.CacheInvalidator
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		// An L1 in-memory cache fronting the shared Redis L2 keeps
		// placer-state reads off the network on the common path, while
		// CacheInvalidator keeps an HA pair's L1s from drifting: when one
		// replica saves a new snapshot it publishes the key so its peer
		// evicts its own stale L1 entry rather than waiting out the TTL.
		l1 := cache.NewInMemoryCache()
		l2 := cache.NewRedisCacheFromClient(redisClient, cfg.Redis.KeyPrefix)
		placerCache = cache.NewTieredCache(l1, l2, 10*time.Second)
		cacheInvalidator = cache.NewCacheInvalidator(l1, redisClient)
		go cacheInvalidator.Start(ctx)
		defer cacheInvalidator.Close()
	} else {
		placerCache = cache.NewInMemoryCache()
	}

	now := time.Now
	checkpoints := checkpoint.NewStore(cfg.Engine.Cooldown * 12)

	services := make([]*builtService, 0, len(cfg.Services))
	serviceIDs := make([]string, 0, len(cfg.Services))
	for _, svc := range cfg.Services {
		built, err := buildService(ctx, svc, cfg.Engine, cfg.AWS, journal, placerCache, now)
		if err != nil {
			return err
		}
		if built.spot != nil {
			if cp := checkpoints.Load(svc.ServiceID); cp != nil {
				var snap autoscaler.HysteresisState
				if err := json.Unmarshal(cp.Data, &snap); err != nil {
					logging.Op().Warn("checkpoint: corrupt hysteresis snapshot, ignoring", "service", svc.ServiceID, "error", err)
				} else {
					built.spot.Restore(snap)
					logging.Op().Info("checkpoint: restored hysteresis state", "service", svc.ServiceID, "snapshot", snap)
				}
			}
		}
		services = append(services, built)
		serviceIDs = append(serviceIDs, svc.ServiceID)
	}

	var requestSource livestore.RequestSource
	var replicaSource livestore.ReplicaSource
	var preemptionSource livestore.PreemptionSource
	if redisClient != nil {
		requestSource = livestore.NewRedisRequestSource(redisClient, 0)
		replicaSource = livestore.NewRedisReplicaSource(redisClient)
		preemptionSource = livestore.NewRedisPreemptionSource(redisClient, 0)
	}

	// The preemption feed: a cloud spot-interruption watcher LPUSHes
	// reclaimed zone names onto each spot service's preemption list, then
	// Notify()s the feed. On each signal the listener drains every spot
	// service's list and hands the zones to the tick loop, which applies
	// them between ticks. The tick loop itself never drains the lists.
	// With no Redis configured there is no preemption source, so no
	// preemption reports are applied.
	var notifier queue.Notifier
	if redisClient != nil {
		notifier = queue.NewRedisListNotifier(redisClient)
	} else {
		notifier = queue.NewNoopNotifier()
	}
	defer notifier.Close()

	type preemptionReport struct {
		index int
		zones []string
	}
	preemptionReports := make(chan preemptionReport, len(services))
	if preemptionSource != nil {
		preemptionSignals := notifier.Subscribe(ctx, queue.FeedSpotPreemptions)
		go func() {
			for range preemptionSignals {
				for i, built := range services {
					if built.spot == nil {
						continue
					}
					serviceID := serviceIDs[i]
					zones, err := preemptionSource.Drain(ctx, serviceID)
					if err != nil {
						logging.Op().Warn("preemption feed drain failed", "service", serviceID, "error", err)
						continue
					}
					if len(zones) == 0 {
						continue
					}
					preemptionReports <- preemptionReport{index: i, zones: zones}
				}
			}
		}()
	}

	var httpServer *http.Server
	if cfg.Daemon.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.PrometheusHandler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		mux.HandleFunc("/debug/checkpoints", func(w http.ResponseWriter, r *http.Request) {
			out := make(map[string][]*checkpoint.State)
			for _, id := range serviceIDs {
				out[id] = checkpoints.ListByService(id)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(out)
		})
		httpServer = &http.Server{Addr: cfg.Daemon.HTTPAddr, Handler: observability.HTTPMiddleware(mux)}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Op().Error("metrics server failed", "error", err)
			}
		}()
		logging.Op().Info("metrics server started", "addr", cfg.Daemon.HTTPAddr)
	}

	logging.Op().Info("scalerctl serve started", "services", len(services), "frequency", cfg.Engine.Frequency.String())

	ticker := time.NewTicker(cfg.Engine.Frequency)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			logging.Op().Info("shutdown signal received")
			if httpServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				httpServer.Shutdown(shutdownCtx)
				cancel()
			}
			return nil
		case r := <-preemptionReports:
			services[r.index].spot.HandlePreemptionHistory(r.zones)
			logging.Op().Info("preemption history applied off-cycle", "service", serviceIDs[r.index], "zones", r.zones)
		case <-ticker.C:
			tickCtx := context.Background()
			for i, svc := range services {
				serviceID := serviceIDs[i]

				if requestSource != nil {
					batch, err := requestSource.Drain(tickCtx, serviceID)
					if err != nil {
						logging.Op().Warn("request feed drain failed", "service", serviceID, "error", err)
					} else {
						svc.dispatcher.IngestRequestInfo(batch)
					}
				}

				if replicaSource == nil {
					logging.Op().Warn("no replica source configured, skipping tick", "service", serviceID)
					continue
				}
				infos, err := replicaSource.ListReplicas(tickCtx, serviceID)
				if err != nil {
					logging.Op().Warn("replica source read failed", "service", serviceID, "error", err)
					continue
				}

				decisions := svc.dispatcher.Tick(tickCtx, infos)
				if len(decisions) > 0 {
					logging.Op().Info("tick produced decisions", "service", serviceID, "count", len(decisions))
				}

				if svc.placer != nil {
					placerStore := autoscaler.NewPlacerStateStore(placerCache)
					placerStore.Save(tickCtx, serviceID, svc.placer.PreemptionCounts())
					if cacheInvalidator != nil {
						if err := cacheInvalidator.PublishInvalidation(tickCtx, autoscaler.PlacerStateKey(serviceID)); err != nil {
							logging.Op().Warn("cache invalidation publish failed", "service", serviceID, "error", err)
						}
					}
				}

				if svc.spot != nil {
					snap, err := json.Marshal(svc.spot.Snapshot())
					if err != nil {
						logging.Op().Warn("checkpoint: marshal hysteresis snapshot failed", "service", serviceID, "error", err)
					} else {
						checkpoints.Save(serviceID, serviceID, checkpointStep, snap)
					}
				}
			}
		}
	}
}
