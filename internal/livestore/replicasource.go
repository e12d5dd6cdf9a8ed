// Package livestore provides the thin read-side adapters a "serve"
// daemon uses to pull the inputs the autoscaler core consumes —
// current replica state, proxy request timestamps and preemption zone
// reports — from Redis.
// None of the adapters ever writes to the fleet: provisioning and
// termination are always done by whatever external controller acts on
// an emitted AutoscalerDecision.
package livestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fleetscaler/engine/internal/domain"
)

const replicaKeyPrefix = "fleetscaler:replicas:"

// ReplicaSource reports the current replica set for a service.
type ReplicaSource interface {
	ListReplicas(ctx context.Context, serviceID string) ([]domain.ReplicaInfo, error)
}

// RedisReplicaSource reads a JSON array of domain.ReplicaInfo from a
// single per-service Redis key. An external fleet-state reporter is
// expected to keep this key up to date; this type only reads it.
type RedisReplicaSource struct {
	client *redis.Client
}

// NewRedisReplicaSource wraps an existing Redis client.
func NewRedisReplicaSource(client *redis.Client) *RedisReplicaSource {
	return &RedisReplicaSource{client: client}
}

func (s *RedisReplicaSource) ListReplicas(ctx context.Context, serviceID string) ([]domain.ReplicaInfo, error) {
	raw, err := s.client.Get(ctx, replicaKeyPrefix+serviceID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read replica set for %s: %w", serviceID, err)
	}
	var infos []domain.ReplicaInfo
	if err := json.Unmarshal(raw, &infos); err != nil {
		return nil, fmt.Errorf("decode replica set for %s: %w", serviceID, err)
	}
	return infos, nil
}
