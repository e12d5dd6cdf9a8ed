package autoscaler

import "sort"

// RequestRateMeter absorbs batches of request timestamps and reports a
// rolling requests-per-second figure over a fixed window. It performs
// no I/O and holds no lock: callers serialize IngestRequestInfo and
// CurrentRPS themselves.
type RequestRateMeter struct {
	timestamps []float64
	windowSize float64
}

// RequestBatch is the shape IngestRequestInfo consumes: a batch of
// request timestamps in seconds since epoch, as reported by the
// reverse proxy.
type RequestBatch struct {
	Timestamps []float64
}

// NewRequestRateMeter constructs a meter with the given window size in
// seconds.
func NewRequestRateMeter(windowSize float64) *RequestRateMeter {
	return &RequestRateMeter{windowSize: windowSize}
}

// IngestRequestInfo appends batch.Timestamps to the stored sequence and
// evicts any prefix older than now - windowSize. newly appended
// timestamps are sorted defensively since the transport does not
// guarantee order; eviction itself only requires that truncating a
// prefix be safe once sorted.
func (m *RequestRateMeter) IngestRequestInfo(batch RequestBatch, now float64) {
	m.timestamps = append(m.timestamps, batch.Timestamps...)
	sort.Float64s(m.timestamps)
	m.evict(now)
}

// evict removes the prefix of timestamps older than the window cutoff
// using a binary search for the first index >= cutoff, then copies the
// retained suffix to the front of the slice.
func (m *RequestRateMeter) evict(now float64) {
	cutoff := now - m.windowSize
	idx := sort.Search(len(m.timestamps), func(i int) bool {
		return m.timestamps[i] >= cutoff
	})
	if idx == 0 {
		return
	}
	m.timestamps = append(m.timestamps[:0], m.timestamps[idx:]...)
}

// CurrentRPS returns the current requests-per-second figure: the count
// of timestamps retained in the window divided by the window size.
func (m *RequestRateMeter) CurrentRPS() float64 {
	if m.windowSize <= 0 {
		return 0
	}
	return float64(len(m.timestamps)) / m.windowSize
}

// Len reports how many timestamps are currently retained, mostly for
// tests and logging.
func (m *RequestRateMeter) Len() int {
	return len(m.timestamps)
}
