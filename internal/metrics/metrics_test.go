package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterExposesCollectors(t *testing.T) {
	m := New()
	m.EventsDropped.WithLabelValues("unclassified").Add(2)
	m.Reconnects.Inc()

	rec := httptest.NewRecorder()
	m.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `intelwatch_events_dropped_total{reason="unclassified"} 2`)
	assert.Contains(t, body, "intelwatch_channel_reconnects_total 1")
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.SessionsFinished.WithLabelValues("complete").Inc()

	families, err := b.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		assert.NotEqual(t, "intelwatch_sessions_finished_total", f.GetName())
	}

	families, err = a.Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "intelwatch_sessions_finished_total" {
			found = true
			assert.Equal(t, 1.0, f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}
