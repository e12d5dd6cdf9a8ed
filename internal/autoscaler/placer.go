package autoscaler

import "sort"

// Placer kinds recognized by NewSpotPlacer.
const (
	PlacerEvenSpread      = "even_spread"
	PlacerPreemptionAware = "preemption_aware"
	PlacerFallback        = "fallback"
)

// SpotPlacer maintains per-zone preemption history and chooses a zone
// for new spot capacity. It performs no I/O; a controller that wants
// preemption counts to survive a restart snapshots PreemptionCounts
// into a PlacerStateStore between ticks (see placerstate.go) and
// restores it via RestorePreemptionCounts before the first Select.
type SpotPlacer struct {
	kind            string
	zones           []string
	preemptionCount map[string]int
	rrCursor        int
}

// NewSpotPlacer constructs a placer of the given kind over zones. kind
// is one of PlacerEvenSpread, PlacerPreemptionAware, PlacerFallback;
// an unrecognized kind behaves like PlacerPreemptionAware, the safest
// general-purpose default.
func NewSpotPlacer(kind string, zones []string) *SpotPlacer {
	counts := make(map[string]int, len(zones))
	for _, z := range zones {
		counts[z] = 0
	}
	return &SpotPlacer{kind: kind, zones: append([]string(nil), zones...), preemptionCount: counts}
}

// Zones returns the configured spot zone set.
func (p *SpotPlacer) Zones() []string {
	return append([]string(nil), p.zones...)
}

// Select chooses a zone for new spot capacity. It never returns a zone
// outside the configured spot_zones (invariant 5); with no configured
// zones it returns ErrEmptyZoneSet.
func (p *SpotPlacer) Select() (string, error) {
	if len(p.zones) == 0 {
		return "", emptyZoneSetErrorf("spot placer: select called with no spot zones configured")
	}
	switch p.kind {
	case PlacerEvenSpread:
		zone := p.zones[p.rrCursor%len(p.zones)]
		p.rrCursor++
		return zone, nil
	case PlacerFallback:
		return p.zones[0], nil
	case PlacerPreemptionAware:
		fallthrough
	default:
		return p.argminPreemption(), nil
	}
}

// argminPreemption returns the zone with the lowest preemption count,
// tie-broken lexicographically for determinism.
func (p *SpotPlacer) argminPreemption() string {
	best := p.zones[0]
	bestCount := p.preemptionCount[best]
	for _, z := range p.zones[1:] {
		c := p.preemptionCount[z]
		if c < bestCount || (c == bestCount && z < best) {
			best, bestCount = z, c
		}
	}
	return best
}

// HandlePreemption increments the preemption count for zone. It is a
// no-op beyond recording the count if zone is not in the configured
// spot_zones.
func (p *SpotPlacer) HandlePreemption(zone string) {
	p.preemptionCount[zone]++
}

// HandlePreemptionHistory applies a list of preemption reports in
// order. Preemption reports arriving between ticks MUST be applied
// before the next Evaluate for the hysteresis and placement behavior
// to account for them.
func (p *SpotPlacer) HandlePreemptionHistory(zones []string) {
	for _, z := range zones {
		p.HandlePreemption(z)
	}
}

// PreemptionCounts returns a copy of the current per-zone preemption
// counts. The result is a map, so its iteration order is not defined.
func (p *SpotPlacer) PreemptionCounts() map[string]int {
	out := make(map[string]int, len(p.preemptionCount))
	for z, c := range p.preemptionCount {
		out[z] = c
	}
	return out
}

// RestorePreemptionCounts seeds the placer's counts from a prior
// snapshot, e.g. one loaded from a PlacerStateStore at bootstrap.
// Zones outside the configured spot_zones are ignored.
func (p *SpotPlacer) RestorePreemptionCounts(counts map[string]int) {
	zoneSet := make(map[string]struct{}, len(p.zones))
	for _, z := range p.zones {
		zoneSet[z] = struct{}{}
	}
	for z, c := range counts {
		if _, ok := zoneSet[z]; ok {
			p.preemptionCount[z] = c
		}
	}
}

// sortedZones returns a copy of zones sorted lexicographically.
func sortedZones(zones []string) []string {
	out := append([]string(nil), zones...)
	sort.Strings(out)
	return out
}
