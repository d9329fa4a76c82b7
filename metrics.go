package goGuard

import (
	"sync/atomic"
	"time"
)

// MetricID names one in-process counter.
type MetricID uint16

const (
	// MetricAdmissionAllowed counts admission checks that let a request through.
	MetricAdmissionAllowed MetricID = iota
	// MetricAdmissionRejected counts admission checks rejected by an active penalty.
	MetricAdmissionRejected
	// MetricAdmissionUnavailable counts admission checks that failed on the store.
	MetricAdmissionUnavailable
	// MetricRateEventPublished counts request events handed to the broker.
	MetricRateEventPublished
	// MetricRateEventProcessed counts request events applied by the rate limit worker.
	MetricRateEventProcessed
	// MetricPenaltyApplied counts penalties written by the rate limit worker.
	MetricPenaltyApplied
	// MetricLoginSuccess counts successful authentications.
	MetricLoginSuccess
	// MetricLoginFailure counts wrong-password authentications.
	MetricLoginFailure
	// MetricLoginRejectedLocked counts authentications refused for a locked account.
	MetricLoginRejectedLocked
	// MetricLoginEventPublished counts failed-login events handed to the broker.
	MetricLoginEventPublished
	// MetricLockoutEventProcessed counts failed-login events applied by the lockout worker.
	MetricLockoutEventProcessed
	// MetricAccountLocked counts accounts blocked for the initial duration.
	MetricAccountLocked
	// MetricLockoutEscalated counts lockouts re-armed with a longer duration.
	MetricLockoutEscalated
	// MetricTokenIssued counts registered tokens.
	MetricTokenIssued
	// MetricTokenVerified counts tokens that passed every check.
	MetricTokenVerified
	// MetricTokenInvalid counts tokens rejected on signature, expiry or shape.
	MetricTokenInvalid
	// MetricTokenRevokedRejected counts tokens rejected because their id is not registered.
	MetricTokenRevokedRejected
	// MetricTokenBindingMismatch counts tokens presented from another IP or user agent.
	MetricTokenBindingMismatch
	// MetricTokenRevoked counts revocations.
	MetricTokenRevoked
	// MetricPublishFailure counts events that could not be published.
	MetricPublishFailure
	// MetricAdmissionLatency is the latency histogram of AdmissionCheck.
	MetricAdmissionLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricAdmissionAllowed:      "admission_allowed",
	MetricAdmissionRejected:     "admission_rejected",
	MetricAdmissionUnavailable:  "admission_unavailable",
	MetricRateEventPublished:    "rate_event_published",
	MetricRateEventProcessed:    "rate_event_processed",
	MetricPenaltyApplied:        "penalty_applied",
	MetricLoginSuccess:          "login_success",
	MetricLoginFailure:          "login_failure",
	MetricLoginRejectedLocked:   "login_rejected_locked",
	MetricLoginEventPublished:   "login_event_published",
	MetricLockoutEventProcessed: "lockout_event_processed",
	MetricAccountLocked:         "account_locked",
	MetricLockoutEscalated:      "lockout_escalated",
	MetricTokenIssued:           "token_issued",
	MetricTokenVerified:         "token_verified",
	MetricTokenInvalid:          "token_invalid",
	MetricTokenRevokedRejected:  "token_revoked_rejected",
	MetricTokenBindingMismatch:  "token_binding_mismatch",
	MetricTokenRevoked:          "token_revoked",
	MetricPublishFailure:        "publish_failure",
	MetricAdmissionLatency:      "admission_latency",
}

// String returns the snake_case name used by the exporters.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// MetricIDs returns every counter id in declaration order.
func MetricIDs() []MetricID {
	ids := make([]MetricID, 0, metricIDCount)
	for id := MetricID(0); id < metricIDCount; id++ {
		ids = append(ids, id)
	}
	return ids
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBounds are the upper bounds of the latency buckets; the last
// bucket is unbounded.
var HistogramBounds = [histBucketCount - 1]time.Duration{
	time.Millisecond,
	2 * time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters. A nil or disabled Metrics ignores
// every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates counters according to cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether updates are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether latency histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram of id. Only MetricAdmissionLatency
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricAdmissionLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters and histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricAdmissionLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAdmissionLatency].buckets[i])
		}
		s.Histograms[MetricAdmissionLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
