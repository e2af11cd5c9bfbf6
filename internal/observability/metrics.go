package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics of the tracking engine and the
// HTTP surface around it. All methods are safe on a nil receiver.
type Collector struct {
	gatherer prometheus.Gatherer

	Fixes           *prometheus.CounterVec
	RouteDraws      *prometheus.CounterVec
	GeocodeRequests *prometheus.CounterVec
	GeocodeDuration *prometheus.HistogramVec
	BridgeMessages  *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice returns the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	fixes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotrack_fixes_total",
		Help: "Location fixes seen by tracking sessions, labeled by throttle result.",
	}, []string{"result"}), "geotrack_fixes_total")
	if err != nil {
		return nil, err
	}

	routeDraws, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotrack_route_draws_total",
		Help: "Route redraw attempts, labeled by outcome.",
	}, []string{"result"}), "geotrack_route_draws_total")
	if err != nil {
		return nil, err
	}

	geocodeRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotrack_geocode_requests_total",
		Help: "Reverse geocode requests, labeled by provider and result.",
	}, []string{"provider", "result"}), "geotrack_geocode_requests_total")
	if err != nil {
		return nil, err
	}

	geocodeDuration, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geotrack_geocode_duration_seconds",
		Help:    "Reverse geocode latency in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"provider"}), "geotrack_geocode_duration_seconds")
	if err != nil {
		return nil, err
	}

	bridgeMessages, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotrack_bridge_messages_total",
		Help: "Inbound bridge messages from embedded map surfaces, labeled by type.",
	}, []string{"type"}), "geotrack_bridge_messages_total")
	if err != nil {
		return nil, err
	}

	httpRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotrack_http_requests_total",
		Help: "HTTP requests handled, labeled by method, route and status code.",
	}, []string{"method", "route", "code"}), "geotrack_http_requests_total")
	if err != nil {
		return nil, err
	}

	sessions, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geotrack_active_sessions",
		Help: "Tracking sessions currently running.",
	}), "geotrack_active_sessions")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		Fixes:           fixes,
		RouteDraws:      routeDraws,
		GeocodeRequests: geocodeRequests,
		GeocodeDuration: geocodeDuration,
		BridgeMessages:  bridgeMessages,
		HTTPRequests:    httpRequests,
		ActiveSessions:  sessions,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) FixAccepted() {
	if c == nil {
		return
	}
	c.Fixes.WithLabelValues("accepted").Inc()
}

func (c *Collector) FixRejected() {
	if c == nil {
		return
	}
	c.Fixes.WithLabelValues("rejected").Inc()
}

func (c *Collector) FixInvalid() {
	if c == nil {
		return
	}
	c.Fixes.WithLabelValues("invalid").Inc()
}

// RouteDraw records one route outcome (drawn, no_route, stale, error).
func (c *Collector) RouteDraw(result string) {
	if c == nil {
		return
	}
	c.RouteDraws.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveGeocode(provider, result string, took time.Duration) {
	if c == nil {
		return
	}
	c.GeocodeRequests.WithLabelValues(provider, result).Inc()
	c.GeocodeDuration.WithLabelValues(provider).Observe(took.Seconds())
}

func (c *Collector) BridgeMessage(kind string) {
	if c == nil {
		return
	}
	c.BridgeMessages.WithLabelValues(kind).Inc()
}

func (c *Collector) HTTPRequest(method, route string, code int) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, fmt.Sprint(code)).Inc()
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.ActiveSessions.Inc()
}

func (c *Collector) SessionEnded() {
	if c == nil {
		return
	}
	c.ActiveSessions.Dec()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
