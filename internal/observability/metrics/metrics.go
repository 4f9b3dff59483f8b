package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels applied to every series.
type Config struct {
	ServiceName string
	Environment string
}

const (
	LockOutcomeAcquired = "acquired"
	LockOutcomeTimeout  = "timeout"
	LockOutcomeError    = "error"

	CacheResultHit   = "hit"
	CacheResultMiss  = "miss"
	CacheResultError = "error"
)

// Coordination captures lock, retry, admission and cache health signals.
type Coordination struct {
	lockWait          *prometheus.HistogramVec
	lockAcquisitions  *prometheus.CounterVec
	retryAttempts     *prometheus.CounterVec
	admissions        *prometheus.CounterVec
	operationOutcomes *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	invalidationFails prometheus.Counter
	workerQueueDepth  prometheus.Gauge
	workerRejected    prometheus.Counter
}

func constLabels(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "checkout"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

// NewCoordination registers the coordination collectors on registerer.
func NewCoordination(registerer prometheus.Registerer, cfg Config) *Coordination {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	m := &Coordination{
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "checkout_lock_wait_seconds",
			Help:        "Time spent waiting for a resource lock.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: labels,
		}, []string{"resource", "outcome"}),
		lockAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "checkout_lock_acquisitions_total",
			Help:        "Lock acquisition attempts by resource and outcome.",
			ConstLabels: labels,
		}, []string{"resource", "outcome"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "checkout_retry_attempts_total",
			Help:        "Unit of work attempts made by the retry executor.",
			ConstLabels: labels,
		}, []string{"operation", "outcome"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "checkout_counter_admissions_total",
			Help:        "Fast-path counter decisions.",
			ConstLabels: labels,
		}, []string{"status"}),
		operationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "checkout_operation_outcomes_total",
			Help:        "Mutating use case outcomes.",
			ConstLabels: labels,
		}, []string{"operation", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "checkout_cache_lookups_total",
			Help:        "Cache lookups by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		invalidationFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "checkout_cache_invalidation_failures_total",
			Help:        "Swallowed post-commit cache eviction failures.",
			ConstLabels: labels,
		}),
		workerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "checkout_worker_queue_depth",
			Help:        "Tasks waiting in the async worker pool.",
			ConstLabels: labels,
		}),
		workerRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "checkout_worker_rejected_total",
			Help:        "Tasks rejected because the worker queue was full.",
			ConstLabels: labels,
		}),
	}

	registerer.MustRegister(
		m.lockWait,
		m.lockAcquisitions,
		m.retryAttempts,
		m.admissions,
		m.operationOutcomes,
		m.cacheLookups,
		m.invalidationFails,
		m.workerQueueDepth,
		m.workerRejected,
	)
	return m
}

// ObserveLockWait records a lock acquisition attempt for key.
func (m *Coordination) ObserveLockWait(key, outcome string, wait time.Duration) {
	if m == nil {
		return
	}
	resource := ResourceOf(key)
	m.lockWait.WithLabelValues(resource, outcome).Observe(wait.Seconds())
	m.lockAcquisitions.WithLabelValues(resource, outcome).Inc()
}

func (m *Coordination) IncRetryAttempt(operation, outcome string) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(normalize(operation), outcome).Inc()
}

func (m *Coordination) IncAdmission(status string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(normalize(status)).Inc()
}

func (m *Coordination) IncOperationOutcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.operationOutcomes.WithLabelValues(normalize(operation), normalize(outcome)).Inc()
}

func (m *Coordination) IncCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Coordination) IncInvalidationFailure() {
	if m == nil {
		return
	}
	m.invalidationFails.Inc()
}

func (m *Coordination) SetWorkerQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.workerQueueDepth.Set(float64(depth))
}

func (m *Coordination) IncWorkerRejected() {
	if m == nil {
		return
	}
	m.workerRejected.Inc()
}

// ResourceOf reduces a lock key such as "balance:user_1" to its family "balance".
func ResourceOf(key string) string {
	key = strings.TrimPrefix(key, "lock:")
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx]
	}
	return normalize(key)
}

func normalize(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
