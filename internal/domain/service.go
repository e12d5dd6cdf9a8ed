package domain

// ServiceSpec is the read-only configuration a controller supplies when
// it constructs an autoscaler instance for one service.
type ServiceSpec struct {
	ServiceID   string `json:"service_id"`
	MinReplicas int    `json:"min_replicas"`
	MaxReplicas int    `json:"max_replicas,omitempty"` // 0 means "defaults to MinReplicas"

	QPSUpperThreshold   *float64 `json:"qps_upper_threshold,omitempty"`
	QPSLowerThreshold   *float64 `json:"qps_lower_threshold,omitempty"`
	TargetQPSPerReplica *float64 `json:"target_qps_per_replica,omitempty"`

	SpotPlacerKind string   `json:"spot_placer_kind,omitempty"` // "even_spread", "preemption_aware", "fallback"
	SpotZones      []string `json:"spot_zones,omitempty"`
}

// EffectiveMaxReplicas returns MaxReplicas, defaulting to MinReplicas
// when the spec left it unset (zero).
func (s ServiceSpec) EffectiveMaxReplicas() int {
	if s.MaxReplicas == 0 {
		return s.MinReplicas
	}
	return s.MaxReplicas
}
