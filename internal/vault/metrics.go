package vault

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the vault's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	memoriesWritten  prometheus.Counter
	memoriesReturned prometheus.Counter
	recordsSkipped   *prometheus.CounterVec
	payloadRejected  prometheus.Counter
	keysCreated      prometheus.Counter
	retentionEvicted prometheus.Counter
	retentionErrors  prometheus.Counter
	purges           prometheus.Counter
	cacheRequests    *prometheus.CounterVec
	opDuration       *prometheus.HistogramVec
}

// NewMetrics registers the vault collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		memoriesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: "memvault", Name: "memories_written_total",
			Help: "Encrypted memories persisted.",
		}),
		memoriesReturned: f.NewCounter(prometheus.CounterOpts{
			Namespace: "memvault", Name: "memories_returned_total",
			Help: "Memories decrypted and returned to callers.",
		}),
		recordsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memvault", Name: "records_skipped_total",
			Help: "Records dropped from a read because they could not be decrypted or decoded.",
		}, []string{"reason"}),
		payloadRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "memvault", Name: "payload_rejected_total",
			Help: "Writes rejected for exceeding the payload size limit.",
		}),
		keysCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "memvault", Name: "user_keys_created_total",
			Help: "User data keys generated and persisted.",
		}),
		retentionEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "memvault", Name: "retention_evicted_total",
			Help: "Records removed by the retention enforcer.",
		}),
		retentionErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "memvault", Name: "retention_errors_total",
			Help: "Retention runs that failed.",
		}),
		purges: f.NewCounter(prometheus.CounterOpts{
			Namespace: "memvault", Name: "user_purges_total",
			Help: "Users whose memories and key were purged.",
		}),
		cacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memvault", Name: "cache_requests_total",
			Help: "Cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memvault", Name: "operation_duration_seconds",
			Help:    "Vault operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

func (m *Metrics) written() {
	if m != nil {
		m.memoriesWritten.Inc()
	}
}

func (m *Metrics) returned(n int) {
	if m != nil {
		m.memoriesReturned.Add(float64(n))
	}
}

func (m *Metrics) skipped(reason string) {
	if m != nil {
		m.recordsSkipped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) rejected() {
	if m != nil {
		m.payloadRejected.Inc()
	}
}

func (m *Metrics) keyCreated() {
	if m != nil {
		m.keysCreated.Inc()
	}
}

func (m *Metrics) evicted(n int) {
	if m != nil && n > 0 {
		m.retentionEvicted.Add(float64(n))
	}
}

func (m *Metrics) retentionFailed() {
	if m != nil {
		m.retentionErrors.Inc()
	}
}

func (m *Metrics) purged() {
	if m != nil {
		m.purges.Inc()
	}
}

func (m *Metrics) observe(op string, seconds float64) {
	if m != nil {
		m.opDuration.WithLabelValues(op).Observe(seconds)
	}
}

// CacheHit implements cache.Stats.
func (m *Metrics) CacheHit(name string) {
	if m != nil {
		m.cacheRequests.WithLabelValues(name, "hit").Inc()
	}
}

// CacheMiss implements cache.Stats.
func (m *Metrics) CacheMiss(name string) {
	if m != nil {
		m.cacheRequests.WithLabelValues(name, "miss").Inc()
	}
}
