package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.FixAccepted()
	c.FixRejected()
	c.FixRejected()
	c.RouteDraw("no_route")
	c.ObserveGeocode("nominatim", "ok", 120*time.Millisecond)
	c.SessionStarted()
	c.SessionStarted()
	c.SessionEnded()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Fixes.WithLabelValues("accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Fixes.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RouteDraws.WithLabelValues("no_route")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.GeocodeRequests.WithLabelValues("nominatim", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ActiveSessions))
}

func TestCollectorRegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	require.NoError(t, err)
	second, err := NewCollector(reg)
	require.NoError(t, err)

	first.FixAccepted()
	assert.Equal(t, 1.0, testutil.ToFloat64(second.Fixes.WithLabelValues("accepted")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.FixAccepted()
		c.RouteDraw("drawn")
		c.ObserveGeocode("native", "error", time.Second)
		c.SessionEnded()
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)
	c.BridgeMessage("mapReady")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "geotrack_bridge_messages_total"))
}

func TestClientSpanWithoutProvider(t *testing.T) {
	_, span := StartClientSpan(context.Background(), "nominatim.reverse")
	assert.NotPanics(t, func() { EndSpan(span, errors.New("boom")) })
}
