package internaldefs

import (
	"strconv"

	goGuard "github.com/MrEthical07/goGuard"
)

// CounterDef names an engine counter for exporters.
type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// HistogramDef names an engine histogram for exporters.
type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter.
var CounterDefs = []CounterDef{
	{ID: goGuard.MetricAdmissionAllowed, Name: "goguard_admission_allowed_total", Help: "Requests admitted by the admission check."},
	{ID: goGuard.MetricAdmissionRejected, Name: "goguard_admission_rejected_total", Help: "Requests rejected under an active penalty."},
	{ID: goGuard.MetricAdmissionUnavailable, Name: "goguard_admission_unavailable_total", Help: "Admission checks that failed on the counter store."},
	{ID: goGuard.MetricRateEventPublished, Name: "goguard_rate_event_published_total", Help: "Request events published to the rate limit queue."},
	{ID: goGuard.MetricRateEventProcessed, Name: "goguard_rate_event_processed_total", Help: "Request events counted by the rate limit worker."},
	{ID: goGuard.MetricPenaltyApplied, Name: "goguard_penalty_applied_total", Help: "Penalties started by the rate limit worker."},
	{ID: goGuard.MetricLoginSuccess, Name: "goguard_login_success_total", Help: "Successful authentications."},
	{ID: goGuard.MetricLoginFailure, Name: "goguard_login_failure_total", Help: "Failed authentications."},
	{ID: goGuard.MetricLoginRejectedLocked, Name: "goguard_login_rejected_locked_total", Help: "Authentications rejected for a locked account."},
	{ID: goGuard.MetricLoginEventPublished, Name: "goguard_login_event_published_total", Help: "Failed-login events published to the lockout queue."},
	{ID: goGuard.MetricLockoutEventProcessed, Name: "goguard_lockout_event_processed_total", Help: "Failed-login events processed by the lockout worker."},
	{ID: goGuard.MetricAccountLocked, Name: "goguard_account_locked_total", Help: "Accounts locked by the lockout worker."},
	{ID: goGuard.MetricLockoutEscalated, Name: "goguard_lockout_escalated_total", Help: "Lockouts extended by escalation."},
	{ID: goGuard.MetricTokenIssued, Name: "goguard_token_issued_total", Help: "Tokens issued."},
	{ID: goGuard.MetricTokenVerified, Name: "goguard_token_verified_total", Help: "Tokens verified successfully."},
	{ID: goGuard.MetricTokenInvalid, Name: "goguard_token_invalid_total", Help: "Tokens rejected as malformed, badly signed or expired."},
	{ID: goGuard.MetricTokenRevokedRejected, Name: "goguard_token_revoked_rejected_total", Help: "Tokens rejected because their id was revoked."},
	{ID: goGuard.MetricTokenBindingMismatch, Name: "goguard_token_binding_mismatch_total", Help: "Tokens presented from another IP or user agent."},
	{ID: goGuard.MetricTokenRevoked, Name: "goguard_token_revoked_total", Help: "Token revocations."},
	{ID: goGuard.MetricPublishFailure, Name: "goguard_publish_failure_total", Help: "Events that could not be published."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goGuard.MetricAdmissionLatency, Name: "goguard_admission_latency_seconds", Help: "Admission check latency."},
}

// AuditDroppedName is the counter of audit events dropped under backpressure.
const AuditDroppedName = "goguard_audit_dropped_total"

// BucketCount is the number of histogram buckets including +Inf.
const BucketCount = len(goGuard.HistogramBounds) + 1

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, 0, len(goGuard.HistogramBounds))
	for _, b := range goGuard.HistogramBounds {
		out = append(out, b.Seconds())
	}
	return out
}

// BoundLabels returns the "le" label of each bucket, such as "0.005" for
// 5ms and "+Inf" for the last bucket.
func BoundLabels() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range UpperBounds() {
		out = append(out, strconv.FormatFloat(b, 'f', -1, 64))
	}
	return append(out, "+Inf")
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
