package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.Request("start", "ok")
		m.Page("service")
		m.Narration("audio")
		m.Poll("ready")
	})
}

func TestCountersAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Request("next", "ok")
	m.Request("next", "ok")
	m.Page("fallback")
	m.Narration("synthesis")
	m.Poll("skipped")

	require.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("next", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.pages.WithLabelValues("fallback")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.narration.WithLabelValues("synthesis")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.polls.WithLabelValues("skipped")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "picturebook_pages_rendered_total")
}
