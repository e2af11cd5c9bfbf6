package publish

import (
	"context"
	"fmt"
	"strconv"

	"github.com/askwhyharsh/geotrack/internal/storage"
)

// RedisStatusChecker reads order status codes the order service mirrors to
// Redis under order:status:{id}. A missing key means the order is still open.
type RedisStatusChecker struct {
	redis storage.RedisClient
}

func NewRedisStatusChecker(redisClient storage.RedisClient) *RedisStatusChecker {
	return &RedisStatusChecker{redis: redisClient}
}

func (c *RedisStatusChecker) OrderStatus(ctx context.Context, orderID int64) (int, error) {
	raw, err := c.redis.Get(ctx, StatusKey(orderID))
	if err != nil {
		if storage.IsNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read order status: %w", err)
	}
	status, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid order status %q: %w", raw, err)
	}
	return status, nil
}

func StatusKey(orderID int64) string {
	return fmt.Sprintf("order:status:%d", orderID)
}
