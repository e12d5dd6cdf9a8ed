package livestore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const preemptionListPrefix = "fleetscaler:preemptions:"

// PreemptionSource drains zone names a cloud spot-interruption watcher
// has reported for a service since the last call.
type PreemptionSource interface {
	Drain(ctx context.Context, serviceID string) ([]string, error)
}

// RedisPreemptionSource drains a per-service Redis list that a cloud
// spot-interruption watcher LPUSHes a zone name into for every
// preemption notice it receives. It pairs with queue.Notifier: the
// notifier only carries a wake-up signal, this source carries the
// payload the signal refers to.
type RedisPreemptionSource struct {
	client    *redis.Client
	batchSize int64
}

// NewRedisPreemptionSource wraps an existing Redis client. batchSize
// caps how many zone entries a single Drain call pops; 0 uses a
// sensible default.
func NewRedisPreemptionSource(client *redis.Client, batchSize int64) *RedisPreemptionSource {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &RedisPreemptionSource{client: client, batchSize: batchSize}
}

func (s *RedisPreemptionSource) Drain(ctx context.Context, serviceID string) ([]string, error) {
	key := preemptionListPrefix + serviceID
	var zones []string
	for {
		vals, err := s.client.LPopCount(ctx, key, int(s.batchSize)).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("drain preemption feed for %s: %w", serviceID, err)
		}
		zones = append(zones, vals...)
		if int64(len(vals)) < s.batchSize {
			break
		}
	}
	return zones, nil
}
