package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goGuard "github.com/MrEthical07/goGuard"
)

type fakeSource struct {
	snapshot goGuard.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goGuard.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                     { return f.dropped }

func testSource() fakeSource {
	return fakeSource{
		snapshot: goGuard.MetricsSnapshot{
			Counters: map[goGuard.MetricID]uint64{
				goGuard.MetricPenaltyApplied: 7,
				goGuard.MetricAccountLocked:  2,
			},
			Histograms: map[goGuard.MetricID][]uint64{
				goGuard.MetricAdmissionLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 3,
	}
}

func TestCollectorLint(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewCollectorFromSource(testSource(), nil))
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestCollectorValues(t *testing.T) {
	c := NewCollectorFromSource(testSource(), map[string]string{"service": "guard"})

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(c))

	families, err := registry.Gather()
	require.NoError(t, err)

	byName := make(map[string]float64)
	var histCount uint64
	for _, mf := range families {
		m := mf.GetMetric()[0]
		assert.Equal(t, "guard", m.GetLabel()[0].GetValue())
		switch {
		case m.GetCounter() != nil:
			byName[mf.GetName()] = m.GetCounter().GetValue()
		case m.GetHistogram() != nil:
			histCount = m.GetHistogram().GetSampleCount()
			assert.Equal(t, uint64(1), m.GetHistogram().GetBucket()[0].GetCumulativeCount())
		}
	}

	assert.Equal(t, 7.0, byName["goguard_penalty_applied_total"])
	assert.Equal(t, 2.0, byName["goguard_account_locked_total"])
	assert.Equal(t, 0.0, byName["goguard_token_issued_total"])
	assert.Equal(t, 3.0, byName["goguard_audit_dropped_total"])
	assert.Equal(t, uint64(36), histCount)
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	h, err := Handler(NewCollectorFromSource(testSource(), nil))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "goguard_penalty_applied_total 7")
	assert.Contains(t, string(body), `goguard_admission_latency_seconds_bucket{le="0.001"} 1`)
	assert.Contains(t, string(body), "goguard_admission_latency_seconds_count 36")
}
