package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/askwhyharsh/geotrack/internal/fix"
	"github.com/askwhyharsh/geotrack/internal/storage"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

// OrderCompleted is the order status at which publishing stops.
const OrderCompleted = 5

const (
	updateBuffer = 16
	finalTimeout = 5 * time.Second
)

// Target identifies whose position is being published.
type Target struct {
	UserID   int64
	UserType string
	OrderID  int64
}

// HistorySink persists sampled positions.
type HistorySink interface {
	SaveLocation(ctx context.Context, rec storage.HistoryRecord) error
}

// OrderStatusChecker reports the current status code of an order.
type OrderStatusChecker interface {
	OrderStatus(ctx context.Context, orderID int64) (int, error)
}

// MQTTClient is the publishing half of mqtt.Client.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Options struct {
	HeartbeatInterval time.Duration
	HistoryInterval   time.Duration
	HistoryMinMeters  float64
	StatusPoll        time.Duration
	TopicPrefix       string
}

func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 5 * time.Minute,
		HistoryInterval:   30 * time.Minute,
		HistoryMinMeters:  200,
		StatusPoll:        time.Minute,
		TopicPrefix:       "geotrack/location",
	}
}

// Publisher fans accepted positions out to Redis, MQTT and the history
// store. Record hands positions over without blocking; Run does the I/O.
type Publisher struct {
	target  Target
	store   *LocationStore
	redis   storage.RedisClient
	history HistorySink
	mqtt    MQTTClient
	status  OrderStatusChecker
	opts    Options
	logger  logger.Logger
	now     func() time.Time

	updates   chan fix.Fix
	completed chan struct{}
	doneOnce  sync.Once

	// owned by Run
	last        *PublishedLocation
	lastHistory *PublishedLocation
}

type Option func(*Publisher)

func WithHistory(h HistorySink) Option {
	return func(p *Publisher) { p.history = h }
}

func WithMQTT(c MQTTClient) Option {
	return func(p *Publisher) { p.mqtt = c }
}

func WithStatusChecker(c OrderStatusChecker) Option {
	return func(p *Publisher) { p.status = c }
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

func NewPublisher(target Target, store *LocationStore, redisClient storage.RedisClient, opts Options, log logger.Logger, options ...Option) *Publisher {
	p := &Publisher{
		target:    target,
		store:     store,
		redis:     redisClient,
		opts:      opts,
		logger:    log.With("order_id", target.OrderID, "user_id", target.UserID),
		now:       time.Now,
		updates:   make(chan fix.Fix, updateBuffer),
		completed: make(chan struct{}),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Record queues an accepted fix. When the queue is full the fix is dropped;
// the next one supersedes it anyway.
func (p *Publisher) Record(f fix.Fix) {
	select {
	case p.updates <- f:
	default:
		p.logger.Debug("publisher busy, dropping fix", "timestamp", f.Timestamp)
	}
}

// Completed is closed once the order is reported completed.
func (p *Publisher) Completed() <-chan struct{} {
	return p.completed
}

// Run publishes until ctx is done or the order completes, then writes the
// last position one final time.
func (p *Publisher) Run(ctx context.Context) {
	heartbeat := time.NewTicker(p.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	history := time.NewTicker(p.opts.HistoryInterval)
	defer history.Stop()

	var statusC <-chan time.Time
	if p.status != nil && p.target.OrderID != 0 {
		statusTicker := time.NewTicker(p.opts.StatusPoll)
		defer statusTicker.Stop()
		statusC = statusTicker.C
	}

	p.logger.Info("location publisher started")
	defer p.finish()

	for {
		select {
		case f := <-p.updates:
			p.publish(ctx, p.locationFrom(f))
		case <-heartbeat.C:
			p.heartbeat(ctx)
		case <-history.C:
			p.saveHistory(ctx)
		case <-statusC:
			if p.orderCompleted(ctx) {
				p.logger.Info("order completed, stopping location publisher")
				p.doneOnce.Do(func() { close(p.completed) })
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Publisher) finish() {
	ctx, cancel := context.WithTimeout(context.Background(), finalTimeout)
	defer cancel()

	// positions still queued are newer than the last written one
drain:
	for {
		select {
		case f := <-p.updates:
			p.last = p.locationFrom(f)
		default:
			break drain
		}
	}

	if p.last != nil {
		p.last.Timestamp = p.now()
		p.publish(ctx, p.last)
		p.saveHistory(ctx)
	}
	p.logger.Info("location publisher stopped")
}

func (p *Publisher) locationFrom(f fix.Fix) *PublishedLocation {
	return &PublishedLocation{
		UserID:    p.target.UserID,
		UserType:  p.target.UserType,
		OrderID:   p.target.OrderID,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Accuracy:  f.Accuracy,
		Timestamp: f.Time().UTC(),
	}
}

func (p *Publisher) publish(ctx context.Context, loc *PublishedLocation) {
	p.last = loc

	if err := p.store.Save(ctx, loc); err != nil {
		p.logger.Warn("failed to store location", "error", err)
	}

	data, err := json.Marshal(loc)
	if err != nil {
		p.logger.Error("failed to marshal location", "error", err)
		return
	}

	if p.target.OrderID == 0 {
		return
	}
	if err := p.redis.Publish(ctx, updatesChannel(p.target.OrderID), data); err != nil {
		p.logger.Debug("failed to publish location update", "error", err)
	}
	if p.mqtt != nil {
		topic := p.Topic()
		token := p.mqtt.Publish(topic, 0, true, data)
		// the run loop does not wait on the broker
		go func() {
			if token.WaitTimeout(finalTimeout) && token.Error() != nil {
				p.logger.Debug("mqtt publish failed", "topic", topic, "error", token.Error())
			}
		}()
	}
}

// heartbeat rewrites the last position with a fresh timestamp so readers can
// tell a stationary device from a lost one.
func (p *Publisher) heartbeat(ctx context.Context) {
	if p.last == nil {
		return
	}
	refreshed := *p.last
	refreshed.Timestamp = p.now()
	p.publish(ctx, &refreshed)
}

func (p *Publisher) saveHistory(ctx context.Context) {
	if p.history == nil || p.last == nil || p.target.OrderID == 0 {
		return
	}
	if p.lastHistory != nil && p.lastHistory.Coordinate().Distance(p.last.Coordinate()) <= p.opts.HistoryMinMeters {
		return
	}

	rec := storage.HistoryRecord{
		OrderID:    p.target.OrderID,
		UserID:     p.target.UserID,
		UserType:   p.target.UserType,
		Latitude:   p.last.Latitude,
		Longitude:  p.last.Longitude,
		Geohash:    p.last.Geohash,
		RecordedAt: p.last.Timestamp,
	}
	if err := p.history.SaveLocation(ctx, rec); err != nil {
		p.logger.Warn("failed to save location history", "error", err)
		return
	}
	saved := *p.last
	p.lastHistory = &saved
}

func (p *Publisher) orderCompleted(ctx context.Context) bool {
	status, err := p.status.OrderStatus(ctx, p.target.OrderID)
	if err != nil {
		p.logger.Warn("failed to check order status", "error", err)
		return false
	}
	return status == OrderCompleted
}

func (p *Publisher) Topic() string {
	return fmt.Sprintf("%s/%d", p.opts.TopicPrefix, p.target.OrderID)
}

func updatesChannel(orderID int64) string {
	return fmt.Sprintf("location:updates:%d", orderID)
}
