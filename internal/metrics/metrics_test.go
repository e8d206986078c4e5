package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()
	m := New()

	m.Failure("lookup_failed")
	m.Failure("lookup_failed")
	m.Outcome("ntfy", "shown")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Failures.WithLabelValues("lookup_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("ntfy", "shown")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Failure("playback_failed")
		m.Outcome("", "skipped")
	})
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()
	m := New()
	m.EventsReceived.Inc()
	m.Failure("haptic_unavailable")

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "chime_events_received_total 1")
	assert.Contains(t, string(body), `chime_dispatch_failures_total{kind="haptic_unavailable"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
