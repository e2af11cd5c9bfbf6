package publish

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/geotrack/internal/fix"
	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/storage"
	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

func TestStoreSavesOrderAndUserKeys(t *testing.T) {
	ctx := context.Background()
	redis := storage.NewMemoryClient()
	store := NewLocationStore(redis, 2*time.Hour, 6)

	loc := &PublishedLocation{UserID: 7, UserType: "rider", OrderID: 42, Latitude: 12.9716, Longitude: 77.5946, Timestamp: time.Unix(1700000000, 0).UTC()}
	require.NoError(t, store.Save(ctx, loc))

	got, err := store.OrderLocation(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 12.9716, got.Latitude)
	assert.Equal(t, geo.Encode(loc.Coordinate(), 6), got.Geohash)

	byUser, err := store.UserLocation(ctx, 7, "rider")
	require.NoError(t, err)
	assert.Equal(t, int64(42), byUser.OrderID)

	assert.Equal(t, 2*time.Hour, redis.TTL("location:order:42"))
	assert.Equal(t, 2*time.Hour, redis.TTL("location:user:7:type:rider"))

	members, err := redis.SMembers(ctx, "geohash:"+got.Geohash)
	require.NoError(t, err)
	assert.Equal(t, []string{"order:42"}, members)

	_, err = store.OrderLocation(ctx, 99)
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)
}

func TestStoreMovesIndexEntry(t *testing.T) {
	ctx := context.Background()
	redis := storage.NewMemoryClient()
	store := NewLocationStore(redis, time.Hour, 6)

	first := &PublishedLocation{UserID: 1, UserType: "rider", OrderID: 5, Latitude: 12.9716, Longitude: 77.5946}
	require.NoError(t, store.Save(ctx, first))
	oldCell := first.Geohash

	second := &PublishedLocation{UserID: 1, UserType: "rider", OrderID: 5, Latitude: 13.0827, Longitude: 80.2707}
	require.NoError(t, store.Save(ctx, second))
	require.NotEqual(t, oldCell, second.Geohash)

	members, _ := redis.SMembers(ctx, "geohash:"+oldCell)
	assert.Empty(t, members)

	require.NoError(t, store.DeleteOrder(ctx, 5))
	members, _ = redis.SMembers(ctx, "geohash:"+second.Geohash)
	assert.Empty(t, members)
	_, err := store.OrderLocation(ctx, 5)
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)
}

func TestStoreNearbyOrders(t *testing.T) {
	ctx := context.Background()
	store := NewLocationStore(storage.NewMemoryClient(), time.Hour, 6)

	require.NoError(t, store.Save(ctx, &PublishedLocation{UserID: 1, UserType: "rider", OrderID: 1, Latitude: 12.9716, Longitude: 77.5946}))
	require.NoError(t, store.Save(ctx, &PublishedLocation{UserID: 2, UserType: "rider", OrderID: 2, Latitude: 12.9736, Longitude: 77.5946}))
	require.NoError(t, store.Save(ctx, &PublishedLocation{UserID: 3, UserType: "rider", OrderID: 3, Latitude: 13.0827, Longitude: 80.2707}))

	nearby, err := store.NearbyOrders(ctx, geo.Coordinate{Latitude: 12.9716, Longitude: 77.5946}, 500)
	require.NoError(t, err)
	require.Len(t, nearby, 2)
	assert.Equal(t, int64(1), nearby[0].OrderID)
	assert.Equal(t, int64(2), nearby[1].OrderID)
	assert.Equal(t, "~200m", nearby[1].Distance)
}

type fakeHistory struct {
	mu      sync.Mutex
	records []storage.HistoryRecord
}

func (h *fakeHistory) SaveLocation(ctx context.Context, rec storage.HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

func (h *fakeHistory) Records() []storage.HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]storage.HistoryRecord(nil), h.records...)
}

type fakeToken struct{ done chan struct{} }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return nil }

type mqttMessage struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	mu       sync.Mutex
	messages []mqttMessage
}

func (c *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, mqttMessage{topic, retained, payload.([]byte)})
	done := make(chan struct{})
	close(done)
	return &fakeToken{done: done}
}

func (c *fakeMQTT) Messages() []mqttMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mqttMessage(nil), c.messages...)
}

func testOptions() Options {
	return Options{
		HeartbeatInterval: time.Hour,
		HistoryInterval:   time.Hour,
		HistoryMinMeters:  200,
		StatusPoll:        time.Hour,
		TopicPrefix:       "geotrack/location",
	}
}

func runPublisher(t *testing.T, p *Publisher) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

func TestPublisherWritesEveryChannel(t *testing.T) {
	redis := storage.NewMemoryClient()
	store := NewLocationStore(redis, 2*time.Hour, 6)
	broker := &fakeMQTT{}
	history := &fakeHistory{}

	p := NewPublisher(Target{UserID: 7, UserType: "rider", OrderID: 42}, store, redis, testOptions(), logger.NewNop(),
		WithMQTT(broker), WithHistory(history))
	cancel, done := runPublisher(t, p)

	p.Record(fix.Fix{Latitude: 12.9716, Longitude: 77.5946, Accuracy: 5, Timestamp: 1700000000000})

	require.Eventually(t, func() bool { return len(broker.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	msg := broker.Messages()[0]
	assert.Equal(t, "geotrack/location/42", msg.topic)
	assert.True(t, msg.retained)

	var loc PublishedLocation
	require.NoError(t, json.Unmarshal(msg.payload, &loc))
	assert.Equal(t, int64(42), loc.OrderID)
	assert.Equal(t, 12.9716, loc.Latitude)

	assert.Len(t, redis.Published("location:updates:42"), 1)
	_, err := store.OrderLocation(context.Background(), 42)
	require.NoError(t, err)

	cancel()
	<-done

	// the final write on stop also lands in history
	assert.Len(t, broker.Messages(), 2)
	require.Len(t, history.Records(), 1)
	assert.Equal(t, int64(42), history.Records()[0].OrderID)
}

func TestPublisherHistoryNeedsMovement(t *testing.T) {
	redis := storage.NewMemoryClient()
	history := &fakeHistory{}
	opts := testOptions()
	opts.HistoryInterval = 10 * time.Millisecond

	p := NewPublisher(Target{UserID: 1, UserType: "rider", OrderID: 9}, NewLocationStore(redis, time.Hour, 6), redis, opts, logger.NewNop(),
		WithHistory(history))
	runPublisher(t, p)

	p.Record(fix.Fix{Latitude: 12.9716, Longitude: 77.5946, Timestamp: 1000})
	require.Eventually(t, func() bool { return len(history.Records()) == 1 }, time.Second, 5*time.Millisecond)

	// about 110m away: not far enough for another record
	p.Record(fix.Fix{Latitude: 12.9726, Longitude: 77.5946, Timestamp: 2000})
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, history.Records(), 1)

	p.Record(fix.Fix{Latitude: 12.9816, Longitude: 77.5946, Timestamp: 3000})
	require.Eventually(t, func() bool { return len(history.Records()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 12.9816, history.Records()[1].Latitude)
}

func TestPublisherHeartbeatRefreshesTimestamp(t *testing.T) {
	redis := storage.NewMemoryClient()
	store := NewLocationStore(redis, time.Hour, 6)
	opts := testOptions()
	opts.HeartbeatInterval = 10 * time.Millisecond
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	p := NewPublisher(Target{UserID: 1, UserType: "rider", OrderID: 3}, store, redis, opts, logger.NewNop(),
		WithClock(func() time.Time { return now }))
	runPublisher(t, p)

	p.Record(fix.Fix{Latitude: 12.9716, Longitude: 77.5946, Timestamp: 1000})

	require.Eventually(t, func() bool {
		loc, err := store.OrderLocation(context.Background(), 3)
		return err == nil && loc.Timestamp.Equal(now)
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, len(redis.Published("location:updates:3")), 2)
}

func TestPublisherStopsWhenOrderCompletes(t *testing.T) {
	redis := storage.NewMemoryClient()
	opts := testOptions()
	opts.StatusPoll = 10 * time.Millisecond

	p := NewPublisher(Target{UserID: 1, UserType: "rider", OrderID: 11}, NewLocationStore(redis, time.Hour, 6), redis, opts, logger.NewNop(),
		WithStatusChecker(NewRedisStatusChecker(redis)))
	_, done := runPublisher(t, p)

	p.Record(fix.Fix{Latitude: 12.9716, Longitude: 77.5946, Timestamp: 1000})
	require.NoError(t, redis.Set(context.Background(), StatusKey(11), "3", 0))
	time.Sleep(30 * time.Millisecond)
	select {
	case <-p.Completed():
		t.Fatal("completed too early")
	default:
	}

	require.NoError(t, redis.Set(context.Background(), StatusKey(11), OrderCompleted, 0))
	select {
	case <-p.Completed():
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
	<-done
}

func TestRedisStatusChecker(t *testing.T) {
	ctx := context.Background()
	redis := storage.NewMemoryClient()
	c := NewRedisStatusChecker(redis)

	status, err := c.OrderStatus(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, status)

	require.NoError(t, redis.Set(ctx, StatusKey(1), "bogus", 0))
	_, err = c.OrderStatus(ctx, 1)
	assert.Error(t, err)
}

func TestPublisherWithoutOrderOnlyWritesUserKey(t *testing.T) {
	redis := storage.NewMemoryClient()
	store := NewLocationStore(redis, time.Hour, 6)
	broker := &fakeMQTT{}

	p := NewPublisher(Target{UserID: 4, UserType: "customer"}, store, redis, testOptions(), logger.NewNop(), WithMQTT(broker))
	runPublisher(t, p)

	p.Record(fix.Fix{Latitude: 12.9716, Longitude: 77.5946, Timestamp: 1000})
	require.Eventually(t, func() bool {
		_, err := store.UserLocation(context.Background(), 4, "customer")
		return err == nil
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, broker.Messages())
}
