package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"MultiBridge/internal/events"
)

func TestObserveCounters(t *testing.T) {
	m := New()

	m.Observe(events.Event{Kind: events.AttestationReceived})
	m.Observe(events.Event{Kind: events.AttestationReceived})
	m.Observe(events.Event{Kind: events.MessageExecuted})
	m.Observe(events.Event{Kind: events.SourceWeightChanged, TotalWeight: 130})
	m.Observe(events.Event{Kind: events.ThresholdChanged, Threshold: 80})
	m.Reject("duplicate_attestation")

	require.Equal(t, 2.0, testutil.ToFloat64(m.attestations))
	require.Equal(t, 1.0, testutil.ToFloat64(m.executions))
	require.Equal(t, 130.0, testutil.ToFloat64(m.totalWeight))
	require.Equal(t, 80.0, testutil.ToFloat64(m.threshold))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("duplicate_attestation")))
}

func TestHandlerServesSeries(t *testing.T) {
	m := New()
	m.SetConfig(100, 60)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "multibridge_threshold_percent 60"))
}
