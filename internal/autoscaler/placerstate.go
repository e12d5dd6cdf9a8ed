package autoscaler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fleetscaler/engine/internal/cache"
	"github.com/fleetscaler/engine/internal/logging"
)

// placerStateKeyPrefix namespaces placer snapshots in the shared cache
// from any other concern using the same backend.
const placerStateKeyPrefix = "placer:state:"

// placerStateTTL bounds how long a stale snapshot can linger if a
// service is decommissioned without a clean shutdown.
const placerStateTTL = 72 * time.Hour

// PlacerStateStore persists a SpotPlacer's per-zone preemption counts
// behind the shared Cache abstraction, so a pair of controllers can
// share placement history across a restart. It is never consulted
// from inside Evaluate; the controller loads a snapshot once at
// service bootstrap and saves one opportunistically between ticks.
type PlacerStateStore struct {
	cache cache.Cache
}

// NewPlacerStateStore wraps c. A nil c is valid and makes every
// operation a no-op: Save stores nothing and Load always returns nil.
func NewPlacerStateStore(c cache.Cache) *PlacerStateStore {
	return &PlacerStateStore{cache: c}
}

// PlacerStateKey returns the cache key a service's placer snapshot is
// stored under, for callers that need to publish a cache-invalidation
// signal after a Save (e.g. a multi-replica controller's CacheInvalidator).
func PlacerStateKey(serviceID string) string {
	return placerStateKeyPrefix + serviceID
}

// Load returns the last saved preemption counts for serviceID. A cache
// miss or backend error degrades to an empty map rather than failing
// bootstrap, consistent with "never crash the controller."
func (s *PlacerStateStore) Load(ctx context.Context, serviceID string) map[string]int {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, placerStateKeyPrefix+serviceID)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			logging.Op().Warn("placer state: load failed, degrading to empty", "service", serviceID, "error", err)
		}
		return nil
	}
	var counts map[string]int
	if err := json.Unmarshal(raw, &counts); err != nil {
		logging.Op().Warn("placer state: corrupt snapshot, degrading to empty", "service", serviceID, "error", err)
		return nil
	}
	return counts
}

// Save persists counts for serviceID. Failures are logged at Warn and
// never propagated: a save failure must not interrupt the controller's
// tick loop.
func (s *PlacerStateStore) Save(ctx context.Context, serviceID string, counts map[string]int) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(counts)
	if err != nil {
		logging.Op().Warn("placer state: marshal failed", "service", serviceID, "error", err)
		return
	}
	if err := s.cache.Set(ctx, placerStateKeyPrefix+serviceID, raw, placerStateTTL); err != nil {
		logging.Op().Warn("placer state: save failed", "service", serviceID, "error", err)
	}
}
