package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/render"
	"github.com/askwhyharsh/geotrack/internal/routing"
	"github.com/askwhyharsh/geotrack/internal/storage"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

type fakeSession struct {
	mu       sync.Mutex
	messages []string
	started  bool
	disposed bool
	host     render.ScriptHost
}

func (s *fakeSession) HandleMessage(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, string(raw))
	return nil
}

func (s *fakeSession) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
}

func (s *fakeSession) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
}

func (s *fakeSession) snapshot() (messages []string, started, disposed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...), s.started, s.disposed
}

type fakeFactory struct {
	mu       sync.Mutex
	requests []MapRequest
	session  *fakeSession
}

func (f *fakeFactory) NewMapSession(req MapRequest, host render.ScriptHost) (MapSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.session.mu.Lock()
	f.session.host = host
	f.session.mu.Unlock()
	return f.session, nil
}

func (f *fakeFactory) lastRequest() MapRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func setup(t *testing.T) (*httptest.Server, *Hub, *fakeFactory, *storage.MemoryClient) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	redis := storage.NewMemoryClient()
	hub := NewHub(ctx, redis, logger.NewNop())
	go hub.Run()

	factory := &fakeFactory{session: &fakeSession{}}
	handler := NewHandler(hub, factory, []string{"*"}, logger.NewNop())

	r := gin.New()
	r.GET("/ws/map", handler.HandleMap)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub, factory, redis
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/map" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestBridgeRoundTrip(t *testing.T) {
	srv, hub, factory, redis := setup(t)
	conn := dial(t, srv, "?dest_lat=12.9352&dest_lng=77.6245&profile=walking")
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	req := factory.lastRequest()
	require.NotNil(t, req.Destination)
	assert.Equal(t, geo.Coordinate{Latitude: 12.9352, Longitude: 77.6245}, *req.Destination)
	assert.Equal(t, routing.Walking, req.Profile)
	assert.NotEmpty(t, req.ConnectionID)

	members, err := redis.SMembers(context.Background(), activeKey)
	require.NoError(t, err)
	assert.Equal(t, []string{req.ConnectionID}, members)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mapReady"}`)))
	require.Eventually(t, func() bool {
		msgs, started, _ := factory.session.snapshot()
		return started && len(msgs) == 1
	}, time.Second, 5*time.Millisecond)

	factory.session.mu.Lock()
	host := factory.session.host
	factory.session.mu.Unlock()
	require.NoError(t, host.Inject("window.updateLocation(1, 2)"))

	var frame Frame
	conn.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, FrameScript, frame.Type)
	assert.Equal(t, "window.updateLocation(1, 2)", frame.Script)

	conn.Close()
	require.Eventually(t, func() bool {
		_, _, disposed := factory.session.snapshot()
		return disposed && hub.Count() == 0
	}, time.Second, 5*time.Millisecond)

	members, err = redis.SMembers(context.Background(), activeKey)
	require.NoError(t, err)
	assert.Empty(t, members)
	assert.Error(t, host.Inject("late"))
}

func TestBridgeRejectsBadRequests(t *testing.T) {
	srv, _, _, _ := setup(t)

	for _, q := range []string{
		"?profile=flying",
		"?dest_lat=12.9",
		"?dest_lat=abc&dest_lng=77",
		"?dest_lat=95&dest_lng=77",
	} {
		resp, err := http.Get(srv.URL + "/ws/map" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestBridgeWithoutDestination(t *testing.T) {
	srv, hub, factory, _ := setup(t)
	conn := dial(t, srv, "")
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	req := factory.lastRequest()
	assert.Nil(t, req.Destination)
	assert.Equal(t, routing.Driving, req.Profile)
	assert.False(t, req.Passive)
}

func TestBridgePassiveView(t *testing.T) {
	srv, hub, factory, _ := setup(t)

	resp, err := http.Get(srv.URL + "/ws/map?passive=1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws/map?passive=maybe&dest_lat=12.9352&dest_lng=77.6245")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	conn := dial(t, srv, "?passive=1&dest_lat=12.9352&dest_lng=77.6245")
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	req := factory.lastRequest()
	assert.True(t, req.Passive)
	require.NotNil(t, req.Destination)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})

	r := httptest.NewRequest(http.MethodGet, "/ws/map", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(r))

	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(r))
}
