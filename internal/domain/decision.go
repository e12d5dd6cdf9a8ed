package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AutoscalerDecision is a sum type with exactly two variants, matching
// the design note against modeling this as an untyped tagged struct.
// Callers type-switch on the concrete type to interpret a decision.
type AutoscalerDecision interface {
	isAutoscalerDecision()
}

// ScaleUp instructs the controller to launch Count new replicas, each
// templated from the service default merged with Override (scalar keys
// in Override win).
type ScaleUp struct {
	Count    int            `json:"count"`
	Override map[string]any `json:"override,omitempty"`
}

func (ScaleUp) isAutoscalerDecision() {}

// ScaleDown instructs the controller to terminate exactly these replica
// IDs, in the given order.
type ScaleDown struct {
	ReplicaIDs []int `json:"replica_ids"`
}

func (ScaleDown) isAutoscalerDecision() {}

// DecisionRecord is the unit persisted to the decision journal. It is
// write-only from the engine's perspective: Evaluate never reads it
// back.
type DecisionRecord struct {
	ID        uuid.UUID          `json:"id"`
	ServiceID string             `json:"service_id"`
	TickAt    time.Time          `json:"tick_at"`
	Decision  AutoscalerDecision `json:"decision"`
}

// MarshalJSON flattens Decision into a {"kind": ..., ...fields} shape so
// the journal and logs carry a self-describing record without a
// separate discriminator field threaded through the core.
func (d DecisionRecord) MarshalJSON() ([]byte, error) {
	var kind string
	switch d.Decision.(type) {
	case ScaleUp:
		kind = "scale_up"
	case ScaleDown:
		kind = "scale_down"
	default:
		kind = "unknown"
	}
	decisionJSON, err := json.Marshal(d.Decision)
	if err != nil {
		return nil, err
	}
	type alias struct {
		ID        uuid.UUID       `json:"id"`
		ServiceID string          `json:"service_id"`
		TickAt    time.Time       `json:"tick_at"`
		Kind      string          `json:"kind"`
		Decision  json.RawMessage `json:"decision"`
	}
	return json.Marshal(alias{
		ID:        d.ID,
		ServiceID: d.ServiceID,
		TickAt:    d.TickAt,
		Kind:      kind,
		Decision:  decisionJSON,
	})
}

// ZoneCatalog is the result of an optional zone-source lookup, merged
// into a ServiceSpec's SpotZones only at placer construction time.
type ZoneCatalog struct {
	Zones     []string  `json:"zones"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}
