package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the prometheus collectors for the
// autoscaling decision engine.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	currentRPS       *prometheus.GaugeVec
	aliveReplicas    *prometheus.GaugeVec
	desiredReplicas  *prometheus.GaugeVec
	targetReplicas   *prometheus.GaugeVec
	upscaleCounter   *prometheus.GaugeVec
	downscaleCounter *prometheus.GaugeVec
	cooldownActive   *prometheus.GaugeVec

	decisionsTotal    *prometheus.CounterVec
	evaluationsTotal  *prometheus.CounterVec
	zoneSelections    *prometheus.CounterVec
	preemptionsTotal  *prometheus.CounterVec
	journalFailures   prometheus.Counter
	evaluationLatency *prometheus.HistogramVec

	uptime prometheus.GaugeFunc
}

var defaultBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem under
// namespace, registering the default Go and process collectors
// alongside the engine's own collectors.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,
		currentRPS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_rps",
			Help:      "Current measured requests per second for a service",
		}, []string{"service"}),
		aliveReplicas: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alive_replicas",
			Help:      "Number of alive replicas observed at the last tick",
		}, []string{"service"}),
		desiredReplicas: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "desired_replicas",
			Help:      "Replica count the last tick computed as target before clamping",
		}, []string{"service"}),
		targetReplicas: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_replicas",
			Help:      "Current hysteresis-applied target_num_replicas for the target-QPS autoscaler",
		}, []string{"service"}),
		upscaleCounter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upscale_consecutive_periods",
			Help:      "Current consecutive-tick upscale counter",
		}, []string{"service"}),
		downscaleCounter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "downscale_consecutive_periods",
			Help:      "Current consecutive-tick downscale counter",
		}, []string{"service"}),
		cooldownActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cooldown_active",
			Help:      "1 if the cooldown gate suppressed the last tick's decisions, else 0",
		}, []string{"service"}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Autoscaler decisions emitted, by kind and direction",
		}, []string{"service", "kind", "direction"}),
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Evaluate() calls, by outcome (empty, decided)",
		}, []string{"service", "outcome"}),
		zoneSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_selections_total",
			Help:      "Spot placer zone selections, by zone",
		}, []string{"service", "zone"}),
		preemptionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preemptions_total",
			Help:      "Preemption reports handled by the spot placer, by zone",
		}, []string{"service", "zone"}),
		journalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_write_failures_total",
			Help:      "Decision journal write failures",
		}),
		evaluationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_latency_ms",
			Help:      "Evaluate() wall-clock latency in milliseconds",
			Buckets:   buckets,
		}, []string{"service"}),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the process started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.currentRPS,
		pm.aliveReplicas,
		pm.desiredReplicas,
		pm.targetReplicas,
		pm.upscaleCounter,
		pm.downscaleCounter,
		pm.cooldownActive,
		pm.decisionsTotal,
		pm.evaluationsTotal,
		pm.zoneSelections,
		pm.preemptionsTotal,
		pm.journalFailures,
		pm.evaluationLatency,
		pm.uptime,
	)

	promMetrics = pm
}

// SetCurrentRPS sets the measured requests-per-second gauge for service.
func SetCurrentRPS(service string, rps float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.currentRPS.WithLabelValues(service).Set(rps)
}

// SetTickSnapshot records the replica counts and hysteresis state
// observed during one Evaluate call.
func SetTickSnapshot(service string, alive, desired, target, upscaleCounter, downscaleCounter int, cooldownActive bool) {
	if promMetrics == nil {
		return
	}
	promMetrics.aliveReplicas.WithLabelValues(service).Set(float64(alive))
	promMetrics.desiredReplicas.WithLabelValues(service).Set(float64(desired))
	promMetrics.targetReplicas.WithLabelValues(service).Set(float64(target))
	promMetrics.upscaleCounter.WithLabelValues(service).Set(float64(upscaleCounter))
	promMetrics.downscaleCounter.WithLabelValues(service).Set(float64(downscaleCounter))
	cooldownVal := 0.0
	if cooldownActive {
		cooldownVal = 1.0
	}
	promMetrics.cooldownActive.WithLabelValues(service).Set(cooldownVal)
}

// RecordDecision records one emitted AutoscalerDecision.
func RecordDecision(service, kind, direction string) {
	if promMetrics == nil {
		return
	}
	promMetrics.decisionsTotal.WithLabelValues(service, kind, direction).Inc()
}

// RecordEvaluation records the outcome of one Evaluate call.
func RecordEvaluation(service, outcome string) {
	if promMetrics == nil {
		return
	}
	promMetrics.evaluationsTotal.WithLabelValues(service, outcome).Inc()
}

// RecordZoneSelection records a spot placer zone selection.
func RecordZoneSelection(service, zone string) {
	if promMetrics == nil {
		return
	}
	promMetrics.zoneSelections.WithLabelValues(service, zone).Inc()
}

// RecordPreemption records a preemption report handled by the spot
// placer.
func RecordPreemption(service, zone string) {
	if promMetrics == nil {
		return
	}
	promMetrics.preemptionsTotal.WithLabelValues(service, zone).Inc()
}

// RecordJournalFailure records a decision journal write failure.
func RecordJournalFailure() {
	if promMetrics == nil {
		return
	}
	promMetrics.journalFailures.Inc()
}

// ObserveEvaluationLatency records how long one Evaluate call took.
func ObserveEvaluationLatency(service string, d time.Duration) {
	if promMetrics == nil {
		return
	}
	promMetrics.evaluationLatency.WithLabelValues(service).Observe(float64(d.Milliseconds()))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics
// scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry, for tests or
// custom collectors.
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
