package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/geotrack/internal/config"
	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/geocode"
	"github.com/askwhyharsh/geotrack/internal/observability"
	"github.com/askwhyharsh/geotrack/internal/publish"
	"github.com/askwhyharsh/geotrack/internal/ratelimit"
	"github.com/askwhyharsh/geotrack/internal/routing"
	"github.com/askwhyharsh/geotrack/internal/storage"
	"github.com/askwhyharsh/geotrack/internal/websocket"
	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
	"github.com/askwhyharsh/geotrack/pkg/logger"
	"github.com/askwhyharsh/geotrack/pkg/validator"
)

type fakeGeocoder struct {
	addr *geocode.AddressDetails
	err  error
}

func (g *fakeGeocoder) Resolve(ctx context.Context, lat, lng float64) (*geocode.AddressDetails, error) {
	return g.addr, g.err
}

type fakeBridges struct{}

func (fakeBridges) Count() int                                   { return 2 }
func (fakeBridges) ActiveTotal(ctx context.Context) (int, error) { return 5, nil }

type testServer struct {
	router  *gin.Engine
	redis   *storage.MemoryClient
	store   *publish.LocationStore
	metrics *observability.Collector
}

type noopSocket struct{}

func (noopSocket) HandleMap(c *gin.Context) { c.Status(http.StatusTeapot) }

func newTestServer(t *testing.T, geocoder Geocoder) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	redis := storage.NewMemoryClient()
	store := publish.NewLocationStore(redis, time.Hour, 6)
	metrics, err := observability.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter(redis, config.RateLimitConfig{RequestsPerMinute: 100, MapSessionsPerIPHour: 10}, 0)
	handler := NewHandler(geocoder, store, fakeBridges{}, redis, validator.NewValidator(), logger.NewNop())

	r := gin.New()
	SetupRoutes(r, handler, noopSocket{}, ratelimit.NewMiddleware(limiter), RouteOptions{
		AllowedOrigins: []string{"*"},
		Metrics:        metrics,
		MetricsEnabled: true,
		Logger:         logger.NewNop(),
	})
	return &testServer{router: r, redis: redis, store: store, metrics: metrics}
}

func (s *testServer) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestReverseGeocode(t *testing.T) {
	srv := newTestServer(t, &fakeGeocoder{addr: &geocode.AddressDetails{City: "Bengaluru", State: "Karnataka", Country: "India", Pincode: "560001"}})

	w := srv.get("/api/geocode/reverse?lat=12.9716&lon=77.5946")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "Bengaluru, Karnataka, India", data["summary"])
	assert.Equal(t, "560001", data["address"].(map[string]any)["pincode"])
}

func TestReverseGeocodeFailureIsNotAnHTTPError(t *testing.T) {
	srv := newTestServer(t, &fakeGeocoder{err: apperrors.NewGeocodeError("nominatim", apperrors.GeocodeNetworkError, context.DeadlineExceeded)})

	w := srv.get("/api/geocode/reverse?lat=12.9716&lon=77.5946")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "GEOCODE_NETWORK", body["error"].(map[string]any)["code"])
}

func TestReverseGeocodeRejectsBadCoordinates(t *testing.T) {
	srv := newTestServer(t, &fakeGeocoder{})

	for _, q := range []string{"", "?lat=abc&lon=1", "?lat=91&lon=0", "?lat=0&lon=181"} {
		w := srv.get("/api/geocode/reverse" + q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestOrderLocation(t *testing.T) {
	srv := newTestServer(t, &fakeGeocoder{})
	require.NoError(t, srv.store.Save(context.Background(), &publish.PublishedLocation{
		UserID: 3, UserType: "rider", OrderID: 77, Latitude: 12.9716, Longitude: 77.5946,
	}))

	w := srv.get("/api/location/order/77")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, 12.9716, data["latitude"])
	assert.Equal(t, float64(77), data["orderId"])

	assert.Equal(t, http.StatusNotFound, srv.get("/api/location/order/78").Code)
	assert.Equal(t, http.StatusBadRequest, srv.get("/api/location/order/abc").Code)
}

func TestNearbyOrders(t *testing.T) {
	srv := newTestServer(t, &fakeGeocoder{})
	require.NoError(t, srv.store.Save(context.Background(), &publish.PublishedLocation{
		UserID: 3, UserType: "rider", OrderID: 1, Latitude: 12.9716, Longitude: 77.5946,
	}))

	w := srv.get("/api/location/nearby?lat=12.9720&lon=77.5946&radius=500")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, float64(1), data["count"])

	assert.Equal(t, http.StatusBadRequest, srv.get("/api/location/nearby?lat=12.97&lon=77.59&radius=50000").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, &fakeGeocoder{})

	w := srv.get("/api/health")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["local_connections"])
	assert.Equal(t, float64(5), body["active_connections"])

	w = srv.get("/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `geotrack_http_requests_total{code="200",method="GET",route="/api/health"} 1`)
}

func TestMapPageAndSocketRoute(t *testing.T) {
	srv := newTestServer(t, &fakeGeocoder{})

	w := srv.get("/map")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "window.drawRoute")
	assert.Contains(t, w.Body.String(), "permissionDenied")
	assert.Contains(t, w.Body.String(), "locationUnavailable")

	assert.Equal(t, http.StatusTeapot, srv.get("/ws/map").Code)
	assert.Equal(t, http.StatusNotFound, srv.get("/nowhere").Code)
}

type recordingHost struct {
	mu      sync.Mutex
	scripts []string
	errors  []string
}

func (h *recordingHost) Inject(script string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scripts = append(h.scripts, script)
	return nil
}

func (h *recordingHost) SendError(errMsg, code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, code)
}

func (h *recordingHost) snapshot() ([]string, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.scripts...), append([]string(nil), h.errors...)
}

type straightRoutes struct{}

func (straightRoutes) Route(ctx context.Context, from, to geo.Coordinate, profile routing.Profile) (*routing.Route, error) {
	return &routing.Route{Path: []geo.Coordinate{from, to}, Distance: from.Distance(to)}, nil
}

func TestMapSessionFactoryDrivesEmbeddedSurface(t *testing.T) {
	cfg := config.Default()
	cfg.Route.FirstDebounce = time.Millisecond
	cfg.Route.RedrawDebounce = time.Millisecond

	factory := NewMapSessionFactory(straightRoutes{}, &fakeGeocoder{err: apperrors.ErrGeocodeUnavailable}, nil, cfg, logger.NewNop())
	host := &recordingHost{}
	dest := geo.Coordinate{Latitude: 12.9352, Longitude: 77.6245}

	session, err := factory.NewMapSession(websocket.MapRequest{ConnectionID: "c1", Destination: &dest, Profile: routing.Walking}, host)
	require.NoError(t, err)
	session.Start(context.Background())
	t.Cleanup(session.Dispose)

	require.NoError(t, session.HandleMessage([]byte(`{"type":"mapReady"}`)))
	require.NoError(t, session.HandleMessage([]byte(`{"type":"locationUpdate","latitude":12.9716,"longitude":77.5946,"accuracy":5,"timestamp":1700000000000}`)))

	require.Eventually(t, func() bool {
		scripts, _ := host.snapshot()
		var marker, route bool
		for _, s := range scripts {
			marker = marker || strings.Contains(s, "window.updateLocation(12.9716, 77.5946)")
			route = route || strings.Contains(s, `"walking"`)
		}
		return marker && route
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, session.HandleMessage([]byte(`{"type":"permissionDenied"}`)))
	require.Eventually(t, func() bool {
		_, errs := host.snapshot()
		return len(errs) == 1 && errs[0] == "PERMISSION_DENIED"
	}, time.Second, 5*time.Millisecond)

	assert.Error(t, session.HandleMessage([]byte(`not json`)))
}

func TestMapSessionFactoryPassiveView(t *testing.T) {
	cfg := config.Default()
	cfg.Route.FirstDebounce = time.Millisecond

	factory := NewMapSessionFactory(straightRoutes{}, &fakeGeocoder{}, nil, cfg, logger.NewNop())
	host := &recordingHost{}
	dest := geo.Coordinate{Latitude: 12.9352, Longitude: 77.6245}

	session, err := factory.NewMapSession(websocket.MapRequest{ConnectionID: "c2", Destination: &dest, Profile: routing.Driving, Passive: true}, host)
	require.NoError(t, err)
	session.Start(context.Background())
	t.Cleanup(session.Dispose)

	require.NoError(t, session.HandleMessage([]byte(`{"type":"mapReady"}`)))
	require.Eventually(t, func() bool {
		scripts, _ := host.snapshot()
		return len(scripts) == 1 && strings.Contains(scripts[0], "window.updateLocation(12.9352, 77.6245)")
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, session.HandleMessage([]byte(`{"type":"locationUpdate","latitude":12.9716,"longitude":77.5946,"accuracy":5,"timestamp":1700000000000}`)))
	time.Sleep(30 * time.Millisecond)

	scripts, errs := host.snapshot()
	assert.Len(t, scripts, 1)
	assert.Empty(t, errs)
}

func TestMapSessionFactoryReportsUnavailableLocation(t *testing.T) {
	factory := NewMapSessionFactory(straightRoutes{}, &fakeGeocoder{}, nil, config.Default(), logger.NewNop())
	host := &recordingHost{}

	session, err := factory.NewMapSession(websocket.MapRequest{ConnectionID: "c3", Profile: routing.Driving}, host)
	require.NoError(t, err)
	session.Start(context.Background())
	t.Cleanup(session.Dispose)

	require.NoError(t, session.HandleMessage([]byte(`{"type":"locationUnavailable"}`)))
	require.NoError(t, session.HandleMessage([]byte(`{"type":"locationUnavailable"}`)))
	require.Eventually(t, func() bool {
		_, errs := host.snapshot()
		return len(errs) == 1 && errs[0] == "LOCATION_UNAVAILABLE"
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	_, errs := host.snapshot()
	assert.Len(t, errs, 1)
}

type fakeHistory struct {
	records []storage.HistoryRecord
}

func (h *fakeHistory) LastLocation(ctx context.Context, orderID int64) (*storage.HistoryRecord, error) {
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].OrderID == orderID {
			rec := h.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (h *fakeHistory) History(ctx context.Context, orderID int64, since time.Time) ([]storage.HistoryRecord, error) {
	var out []storage.HistoryRecord
	for _, r := range h.records {
		if r.OrderID == orderID && !r.RecordedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestOrderHistoryAndFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	redis := storage.NewMemoryClient()
	handler := NewHandler(&fakeGeocoder{}, publish.NewLocationStore(redis, time.Hour, 6), fakeBridges{}, redis, validator.NewValidator(), logger.NewNop())

	r := gin.New()
	r.GET("/order/:orderId", handler.OrderLocation)
	r.GET("/order/:orderId/history", handler.OrderHistory)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/order/5/history", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	handler.SetHistory(&fakeHistory{records: []storage.HistoryRecord{
		{ID: 1, OrderID: 5, Latitude: 12.90, Longitude: 77.50, RecordedAt: at},
		{ID: 2, OrderID: 5, Latitude: 12.95, Longitude: 77.55, RecordedAt: at.Add(30 * time.Minute)},
	}})

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/order/5/history?since=2026-05-01T09:10:00Z", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["data"].(map[string]any)["count"])

	// live key missing: the newest persisted point is served
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/order/5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 12.95, decode(t, w)["data"].(map[string]any)["latitude"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/order/6", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
