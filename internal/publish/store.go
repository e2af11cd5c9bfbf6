package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/storage"
	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
)

// PublishedLocation is the last known position of a tracked user, as stored
// in Redis and sent over MQTT.
type PublishedLocation struct {
	UserID    int64     `json:"userId"`
	UserType  string    `json:"userType"`
	OrderID   int64     `json:"orderId,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
	Geohash   string    `json:"geohash"`
}

func (l *PublishedLocation) Coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: l.Latitude, Longitude: l.Longitude}
}

// NearbyOrder is an order whose last position lies within a search radius.
type NearbyOrder struct {
	OrderID  int64   `json:"orderId"`
	Distance string  `json:"distance"`
	Meters   float64 `json:"-"`
}

// LocationStore keeps last positions under order and user keys and indexes
// orders by geohash cell.
type LocationStore struct {
	redis            storage.RedisClient
	ttl              time.Duration
	geohashPrecision uint
}

func NewLocationStore(redisClient storage.RedisClient, ttl time.Duration, geohashPrecision uint) *LocationStore {
	if geohashPrecision == 0 {
		geohashPrecision = 6
	}
	return &LocationStore{
		redis:            redisClient,
		ttl:              ttl,
		geohashPrecision: geohashPrecision,
	}
}

// Save writes loc under its user key and, when it belongs to an order, under
// the order key and the geohash index. Both keys expire after the store TTL.
func (s *LocationStore) Save(ctx context.Context, loc *PublishedLocation) error {
	loc.Geohash = geo.Encode(loc.Coordinate(), s.geohashPrecision)

	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}

	if err := s.redis.Set(ctx, userKey(loc.UserID, loc.UserType), data, s.ttl); err != nil {
		return fmt.Errorf("failed to store user location: %w", err)
	}
	if loc.OrderID == 0 {
		return nil
	}

	previous, err := s.OrderLocation(ctx, loc.OrderID)
	if err == nil && previous.Geohash != loc.Geohash {
		s.redis.SRem(ctx, geohashKey(previous.Geohash), orderMember(loc.OrderID))
	}

	if err := s.redis.Set(ctx, orderKey(loc.OrderID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to store order location: %w", err)
	}

	cell := geohashKey(loc.Geohash)
	if err := s.redis.SAdd(ctx, cell, orderMember(loc.OrderID)); err != nil {
		return fmt.Errorf("failed to add to geohash index: %w", err)
	}
	s.redis.Expire(ctx, cell, s.ttl)

	return nil
}

func (s *LocationStore) OrderLocation(ctx context.Context, orderID int64) (*PublishedLocation, error) {
	return s.get(ctx, orderKey(orderID))
}

func (s *LocationStore) UserLocation(ctx context.Context, userID int64, userType string) (*PublishedLocation, error) {
	return s.get(ctx, userKey(userID, userType))
}

func (s *LocationStore) get(ctx context.Context, key string) (*PublishedLocation, error) {
	data, err := s.redis.Get(ctx, key)
	if err != nil {
		if storage.IsNil(err) {
			return nil, apperrors.ErrDataNotFound
		}
		return nil, fmt.Errorf("failed to get location: %w", err)
	}

	var loc PublishedLocation
	if err := json.Unmarshal([]byte(data), &loc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal location: %w", err)
	}
	return &loc, nil
}

// NearbyOrders scans the cell of c and its neighbours and returns the orders
// within radius meters, closest first.
func (s *LocationStore) NearbyOrders(ctx context.Context, c geo.Coordinate, radius float64) ([]NearbyOrder, error) {
	cell := geo.Encode(c, s.geohashPrecision)
	cells := append([]string{cell}, geo.GetNeighbors(cell)...)

	seen := make(map[int64]bool)
	nearby := make([]NearbyOrder, 0)
	for _, gh := range cells {
		members, err := s.redis.SMembers(ctx, geohashKey(gh))
		if err != nil {
			continue
		}
		for _, m := range members {
			id, ok := parseOrderMember(m)
			if !ok || seen[id] {
				continue
			}
			seen[id] = true

			loc, err := s.OrderLocation(ctx, id)
			if err != nil {
				continue
			}
			d := c.Distance(loc.Coordinate())
			if d <= radius {
				nearby = append(nearby, NearbyOrder{OrderID: id, Distance: geo.FormatDistance(d), Meters: d})
			}
		}
	}

	sort.Slice(nearby, func(i, j int) bool { return nearby[i].Meters < nearby[j].Meters })
	return nearby, nil
}

// DeleteOrder removes an order's position and its index entry.
func (s *LocationStore) DeleteOrder(ctx context.Context, orderID int64) error {
	loc, err := s.OrderLocation(ctx, orderID)
	if err == nil {
		s.redis.SRem(ctx, geohashKey(loc.Geohash), orderMember(orderID))
	}
	return s.redis.Del(ctx, orderKey(orderID))
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("location:order:%d", orderID)
}

func userKey(userID int64, userType string) string {
	return fmt.Sprintf("location:user:%d:type:%s", userID, userType)
}

func geohashKey(hash string) string {
	return "geohash:" + hash
}

func orderMember(orderID int64) string {
	return "order:" + strconv.FormatInt(orderID, 10)
}

func parseOrderMember(m string) (int64, bool) {
	raw, ok := strings.CutPrefix(m, "order:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}
