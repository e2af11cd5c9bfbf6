package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/askwhyharsh/geotrack/internal/config"
	"github.com/askwhyharsh/geotrack/internal/storage"
)

// RateLimiter defines the contract for enforcing rate limits.
type RateLimiter interface {
	// AllowIPRequest checks if an IP can make an HTTP request.
	AllowIPRequest(ctx context.Context, ip string) (bool, error)

	// AllowMapSession checks if an IP can open another map connection.
	AllowMapSession(ctx context.Context, ip string) (bool, error)

	// AllowGeocode checks if a lookup against a public geocoder may go out
	// now. Nominatim's usage policy allows one request per second.
	AllowGeocode(ctx context.Context, key string) (bool, error)

	// ResetLimits clears all counters kept for an IP.
	ResetLimits(ctx context.Context, ip string) error
}

type Limiter struct {
	redis            storage.RedisClient
	config           config.RateLimitConfig
	geocodePerSecond int
	now              func() time.Time
}

// NewLimiter limits geocoder lookups to geocodePerSecond; zero disables
// that limit.
func NewLimiter(redisClient storage.RedisClient, cfg config.RateLimitConfig, geocodePerSecond int) *Limiter {
	return &Limiter{
		redis:            redisClient,
		config:           cfg,
		geocodePerSecond: geocodePerSecond,
		now:              time.Now,
	}
}

// AllowIPRequest checks if an IP can make a request
func (l *Limiter) AllowIPRequest(ctx context.Context, ip string) (bool, error) {
	return l.checkSlidingWindow(ctx, ipRequestsKey(ip), l.config.RequestsPerMinute, time.Minute)
}

// AllowMapSession checks if an IP can open a new map session
func (l *Limiter) AllowMapSession(ctx context.Context, ip string) (bool, error) {
	return l.checkSlidingWindow(ctx, ipSessionsKey(ip), l.config.MapSessionsPerIPHour, time.Hour)
}

func (l *Limiter) AllowGeocode(ctx context.Context, key string) (bool, error) {
	if l.geocodePerSecond <= 0 {
		return true, nil
	}
	return l.checkSlidingWindow(ctx, "ratelimit:geocode:"+key, l.geocodePerSecond, time.Second)
}

// checkSlidingWindow implements a sliding window rate limiter using sorted
// sets scored by millisecond timestamps.
func (l *Limiter) checkSlidingWindow(ctx context.Context, key string, maxCount int, window time.Duration) (bool, error) {
	now := l.now().UnixMilli()
	windowStart := now - window.Milliseconds()

	// Remove old entries outside the window
	if err := l.redis.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart, 10)); err != nil {
		return false, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := l.redis.ZCard(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to count entries: %w", err)
	}
	if count >= int64(maxCount) {
		return false, nil
	}

	if err := l.redis.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now),
		Member: uuid.NewString(),
	}); err != nil {
		return false, fmt.Errorf("failed to add entry: %w", err)
	}

	l.redis.Expire(ctx, key, window)

	return true, nil
}

// ResetLimits resets all rate limits for an IP (use with caution)
func (l *Limiter) ResetLimits(ctx context.Context, ip string) error {
	return l.redis.Del(ctx, ipRequestsKey(ip), ipSessionsKey(ip))
}

func ipRequestsKey(ip string) string {
	return fmt.Sprintf("ratelimit:ip:%s:requests", ip)
}

func ipSessionsKey(ip string) string {
	return fmt.Sprintf("ratelimit:ip:%s:sessions", ip)
}
