package autoscaler

import "testing"

func TestRequestRateMeter_CurrentRPS(t *testing.T) {
	m := NewRequestRateMeter(10)
	m.IngestRequestInfo(RequestBatch{Timestamps: []float64{100, 101, 102, 103, 104}}, 104)
	if got := m.CurrentRPS(); got != 0.5 {
		t.Fatalf("expected 5 timestamps / 10s window = 0.5 rps, got %v", got)
	}
}

func TestRequestRateMeter_EvictsOldTimestamps(t *testing.T) {
	m := NewRequestRateMeter(5)
	m.IngestRequestInfo(RequestBatch{Timestamps: []float64{0, 1, 2}}, 2)
	if m.Len() != 3 {
		t.Fatalf("expected 3 retained, got %d", m.Len())
	}
	m.IngestRequestInfo(RequestBatch{Timestamps: []float64{10}}, 10)
	if m.Len() != 1 {
		t.Fatalf("expected old timestamps evicted once window passes, got %d retained", m.Len())
	}
}

func TestRequestRateMeter_UnsortedBatchStillEvictsCorrectly(t *testing.T) {
	m := NewRequestRateMeter(5)
	m.IngestRequestInfo(RequestBatch{Timestamps: []float64{3, 1, 4, 1, 5}}, 5)
	if m.Len() != 5 {
		t.Fatalf("expected all 5 retained within window, got %d", m.Len())
	}
	m.IngestRequestInfo(RequestBatch{Timestamps: []float64{20}}, 20)
	if m.Len() != 1 {
		t.Fatalf("expected eviction to drop all but the new timestamp, got %d", m.Len())
	}
}

func TestRequestRateMeter_ZeroWindowSizeReturnsZeroRPS(t *testing.T) {
	m := NewRequestRateMeter(0)
	m.IngestRequestInfo(RequestBatch{Timestamps: []float64{1, 2, 3}}, 3)
	if got := m.CurrentRPS(); got != 0 {
		t.Fatalf("expected 0 rps with a zero window, got %v", got)
	}
}
