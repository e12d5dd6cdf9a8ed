// Package metrics collects and exposes autoscaler runtime observability
// data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (per-service tick counters + time
//     series), exposed as JSON by JSONHandler and TimeSeriesHandler
//     without a Prometheus sidecar. scalerctl serve does not mount
//     these handlers; its /metrics path serves the Prometheus registry.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems (Grafana, Alertmanager, etc.).
//
// # Concurrency — hot path
//
// RecordTick is called once per Evaluate call and must be cheap: it
// uses atomic increments for global counters and dispatches a
// lightweight event onto a buffered channel (tsChan) for the
// time-series worker to process asynchronously, so Evaluate's own
// caller is never blocked on a lock.
//
// The per-service ServiceMetrics struct also uses atomic operations
// exclusively; the sync.Map that stores the per-service entries is
// read-heavy and write-once-per-new-service, the ideal use case for
// sync.Map.
//
// # Invariants
//
//   - The global ScaleUpDecisions and ScaleDownDecisions equal the sums
//     of the per-service counters of the same name (maintained by
//     RecordTick).
//   - The time-series ring buffer holds at most timeSeriesBucketCount
//     buckets (24 * 60 = 1440 for the last 24 hours at 1-minute
//     granularity).
//   - tsChan capacity is 8192 events; events dropped when full are
//     counted in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores tick metrics for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp    time.Time
	Ticks        int64
	Decisions    int64
	TotalRPS     float64
	Count        int64 // for calculating avg RPS
}

// Metrics collects and exposes autoscaler runtime metrics.
type Metrics struct {
	TotalTicks       atomic.Int64
	EmptyTicks       atomic.Int64
	ScaleUpDecisions atomic.Int64
	ScaleDownDecisions atomic.Int64
	Preemptions      atomic.Int64
	JournalFailures  atomic.Int64

	// Per-service metrics
	svcMetrics sync.Map // serviceID -> *ServiceMetrics

	// Time-series data (minute buckets for last 24 hours)
	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

// timeSeriesEvent is sent over a channel to avoid write-lock contention
// on the hot path.
type timeSeriesEvent struct {
	rps           float64
	decisionCount int
}

// ServiceMetrics tracks tick metrics for a single service.
type ServiceMetrics struct {
	Ticks              atomic.Int64
	ScaleUpDecisions   atomic.Int64
	ScaleDownDecisions atomic.Int64
	Preemptions        atomic.Int64
}

// Global metrics instance.
var global = &Metrics{startTime: time.Now()}

func init() {
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

// initTimeSeries initializes minute-level buckets for the last 24 hours.
func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance.
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized.
func StartTime() time.Time {
	return global.startTime
}

// RecordTick records the outcome of one Evaluate call: the service it
// was for, the measured rps, and how many scale-up/scale-down
// decisions it emitted.
func (m *Metrics) RecordTick(serviceID string, rps float64, scaleUps, scaleDowns int) {
	m.TotalTicks.Add(1)
	if scaleUps == 0 && scaleDowns == 0 {
		m.EmptyTicks.Add(1)
	}
	m.ScaleUpDecisions.Add(int64(scaleUps))
	m.ScaleDownDecisions.Add(int64(scaleDowns))

	sm := m.getServiceMetrics(serviceID)
	sm.Ticks.Add(1)
	sm.ScaleUpDecisions.Add(int64(scaleUps))
	sm.ScaleDownDecisions.Add(int64(scaleDowns))

	m.recordTimeSeries(rps, scaleUps+scaleDowns)
}

// RecordPreemption records a preemption report handled for serviceID.
func (m *Metrics) RecordPreemption(serviceID string) {
	m.Preemptions.Add(1)
	m.getServiceMetrics(serviceID).Preemptions.Add(1)
}

// RecordJournalFailure records a decision journal write failure.
func (m *Metrics) RecordJournalFailure() {
	m.JournalFailures.Add(1)
}

// recordTimeSeries enqueues a time-series event for async processing,
// avoiding a write-lock on the tick path.
func (m *Metrics) recordTimeSeries(rps float64, decisionCount int) {
	select {
	case m.tsChan <- timeSeriesEvent{rps: rps, decisionCount: decisionCount}:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

// processTimeSeriesLoop drains tsChan and applies events under a write
// lock.
func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt.rps, evt.decisionCount)
	}
}

// applyTimeSeriesEvent updates the time-series buckets (must be called
// from a single goroutine).
func (m *Metrics) applyTimeSeriesEvent(rps float64, decisionCount int) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
				for i := 0; i < timeSeriesBucketCount; i++ {
					m.timeSeries[i] = &TimeSeriesBucket{
						Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
					}
				}
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	if len(m.timeSeries) > 0 {
		bucket := m.timeSeries[len(m.timeSeries)-1]
		bucket.Ticks++
		bucket.Decisions += int64(decisionCount)
		bucket.TotalRPS += rps
		bucket.Count++
	}
}

func (m *Metrics) getServiceMetrics(serviceID string) *ServiceMetrics {
	if v, ok := m.svcMetrics.Load(serviceID); ok {
		return v.(*ServiceMetrics)
	}
	sm := &ServiceMetrics{}
	actual, _ := m.svcMetrics.LoadOrStore(serviceID, sm)
	return actual.(*ServiceMetrics)
}

// GetServiceMetrics returns the metrics for a specific service, or nil
// if no tick has been recorded for it yet.
func (m *Metrics) GetServiceMetrics(serviceID string) *ServiceMetrics {
	if v, ok := m.svcMetrics.Load(serviceID); ok {
		return v.(*ServiceMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalTicks.Load()
	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"ticks": map[string]interface{}{
			"total":      total,
			"empty":      m.EmptyTicks.Load(),
			"scale_up":   m.ScaleUpDecisions.Load(),
			"scale_down": m.ScaleDownDecisions.Load(),
		},
		"preemptions":       m.Preemptions.Load(),
		"journal_failures":  m.JournalFailures.Load(),
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}
}

// ServiceStats returns per-service metrics.
func (m *Metrics) ServiceStats() map[string]interface{} {
	result := make(map[string]interface{})

	m.svcMetrics.Range(func(key, value interface{}) bool {
		serviceID := key.(string)
		sm := value.(*ServiceMetrics)
		result[serviceID] = map[string]interface{}{
			"ticks":      sm.Ticks.Load(),
			"scale_up":   sm.ScaleUpDecisions.Load(),
			"scale_down": sm.ScaleDownDecisions.Load(),
			"preemptions": sm.Preemptions.Load(),
		}
		return true
	})

	return result
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON
// format.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["services"] = m.ServiceStats()
		json.NewEncoder(w).Encode(result)
	})
}

// TimeSeries returns minute-level time-series data for the last 24
// hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		avgRPS := float64(0)
		if bucket.Count > 0 {
			avgRPS = bucket.TotalRPS / float64(bucket.Count)
		}
		result[i] = map[string]interface{}{
			"timestamp": bucket.Timestamp.Format(time.RFC3339),
			"ticks":     bucket.Ticks,
			"decisions": bucket.Decisions,
			"avg_rps":   avgRPS,
		}
	}
	return result
}

// TimeSeriesHandler returns an HTTP handler for time-series metrics.
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}
