package autoscaler

import "testing"

func TestSpotPlacer_Select_EmptyZoneSet(t *testing.T) {
	p := NewSpotPlacer(PlacerPreemptionAware, nil)
	if _, err := p.Select(); err == nil {
		t.Fatal("expected ErrEmptyZoneSet")
	}
}

func TestSpotPlacer_EvenSpread_RoundRobins(t *testing.T) {
	p := NewSpotPlacer(PlacerEvenSpread, []string{"a", "b", "c"})
	var got []string
	for i := 0; i < 6; i++ {
		z, err := p.Select()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, z)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("round robin mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestSpotPlacer_Fallback_AlwaysFirstZone(t *testing.T) {
	p := NewSpotPlacer(PlacerFallback, []string{"c", "a", "b"})
	for i := 0; i < 3; i++ {
		z, err := p.Select()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if z != "c" {
			t.Fatalf("fallback placer must always return the first configured zone, got %s", z)
		}
	}
}

// Invariant 5: Select never returns a zone outside the configured set.
func TestSpotPlacer_PreemptionAware_NeverLeavesConfiguredZones(t *testing.T) {
	zones := []string{"us-east-1a", "us-east-1b", "us-east-1c"}
	p := NewSpotPlacer(PlacerPreemptionAware, zones)
	p.HandlePreemption("us-east-1a")
	p.HandlePreemption("us-east-1a")
	p.HandlePreemption("us-east-1b")

	allowed := map[string]bool{"us-east-1a": true, "us-east-1b": true, "us-east-1c": true}
	for i := 0; i < 10; i++ {
		z, err := p.Select()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed[z] {
			t.Fatalf("select returned zone %q outside the configured set", z)
		}
	}
}

func TestSpotPlacer_PreemptionAware_PicksLowestCount(t *testing.T) {
	p := NewSpotPlacer(PlacerPreemptionAware, []string{"a", "b", "c"})
	p.HandlePreemption("a")
	p.HandlePreemption("a")
	p.HandlePreemption("b")
	z, err := p.Select()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if z != "c" {
		t.Fatalf("expected the zone with the fewest preemptions (c), got %s", z)
	}
}

func TestSpotPlacer_PreemptionAware_TieBreaksLexicographically(t *testing.T) {
	p := NewSpotPlacer(PlacerPreemptionAware, []string{"c", "b", "a"})
	z, err := p.Select()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if z != "a" {
		t.Fatalf("expected a tie to break lexicographically (a), got %s", z)
	}
}

func TestSpotPlacer_RestorePreemptionCounts_IgnoresUnknownZones(t *testing.T) {
	p := NewSpotPlacer(PlacerPreemptionAware, []string{"a", "b"})
	p.RestorePreemptionCounts(map[string]int{"a": 5, "stale-zone": 99})
	counts := p.PreemptionCounts()
	if counts["a"] != 5 {
		t.Fatalf("expected restored count for zone a, got %d", counts["a"])
	}
	if _, ok := counts["stale-zone"]; ok {
		t.Fatal("expected a zone outside the configured set to be ignored")
	}
}

func TestSpotPlacer_HandlePreemptionHistory_AppliesInOrder(t *testing.T) {
	p := NewSpotPlacer(PlacerPreemptionAware, []string{"a", "b"})
	p.HandlePreemptionHistory([]string{"a", "a", "b"})
	counts := p.PreemptionCounts()
	if counts["a"] != 2 || counts["b"] != 1 {
		t.Fatalf("unexpected counts after history replay: %+v", counts)
	}
}
