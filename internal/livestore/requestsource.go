package livestore

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/fleetscaler/engine/internal/autoscaler"
)

const requestListPrefix = "fleetscaler:requests:"

// RequestSource drains proxy-reported request timestamps accumulated
// since the last call into a RequestBatch.
type RequestSource interface {
	Drain(ctx context.Context, serviceID string) (autoscaler.RequestBatch, error)
}

// RedisRequestSource drains a per-service Redis list that the reverse
// proxy LPUSHes a unix-timestamp string into on every request. Draining
// uses LPOP in bulk so a slow tick never loses timestamps to a
// competing reader the way BRPOP fan-out would.
type RedisRequestSource struct {
	client    *redis.Client
	batchSize int64
}

// NewRedisRequestSource wraps an existing Redis client. batchSize caps
// how many timestamps a single Drain call pops; 0 uses a sensible
// default.
func NewRedisRequestSource(client *redis.Client, batchSize int64) *RedisRequestSource {
	if batchSize <= 0 {
		batchSize = 10000
	}
	return &RedisRequestSource{client: client, batchSize: batchSize}
}

func (s *RedisRequestSource) Drain(ctx context.Context, serviceID string) (autoscaler.RequestBatch, error) {
	key := requestListPrefix + serviceID
	var timestamps []float64
	for {
		vals, err := s.client.LPopCount(ctx, key, int(s.batchSize)).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return autoscaler.RequestBatch{}, err
		}
		for _, v := range vals {
			ts, perr := strconv.ParseFloat(v, 64)
			if perr != nil {
				continue
			}
			timestamps = append(timestamps, ts)
		}
		if int64(len(vals)) < s.batchSize {
			break
		}
	}
	return autoscaler.RequestBatch{Timestamps: timestamps}, nil
}
