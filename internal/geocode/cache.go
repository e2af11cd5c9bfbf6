package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/storage"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

const DefaultCacheTTL = 24 * time.Hour

// Cache wraps a provider and stores results in Redis keyed by the geohash
// cell of the coordinate, so fixes a few meters apart share one lookup.
type Cache struct {
	next      Provider
	redis     storage.RedisClient
	ttl       time.Duration
	precision uint
	logger    logger.Logger
}

func NewCache(next Provider, redis storage.RedisClient, ttl time.Duration, log logger.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{next: next, redis: redis, ttl: ttl, precision: geo.DefaultPrecision, logger: log}
}

func (c *Cache) Name() string {
	return c.next.Name()
}

// Available defers to the wrapped provider.
func (c *Cache) Available() bool {
	if a, ok := c.next.(availability); ok {
		return a.Available()
	}
	return true
}

func (c *Cache) Resolve(ctx context.Context, lat, lng float64) (*AddressDetails, error) {
	key := c.key(lat, lng)

	if data, err := c.redis.Get(ctx, key); err == nil {
		var addr AddressDetails
		if err := json.Unmarshal([]byte(data), &addr); err == nil {
			return &addr, nil
		}
		c.logger.Debug("discarding unreadable geocode cache entry", "key", key)
	} else if !storage.IsNil(err) {
		c.logger.Debug("geocode cache read failed", "key", key, "error", err)
	}

	addr, err := c.next.Resolve(ctx, lat, lng)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(addr)
	if err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl); err != nil {
			c.logger.Debug("geocode cache write failed", "key", key, "error", err)
		}
	}
	return addr, nil
}

func (c *Cache) key(lat, lng float64) string {
	hash := geo.Encode(geo.Coordinate{Latitude: lat, Longitude: lng}, c.precision)
	return fmt.Sprintf("geocode:%s", hash)
}
