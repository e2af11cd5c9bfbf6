package storage

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryClient is an in-process RedisClient used when Redis is disabled and
// in tests. Expired keys are dropped lazily on access.
type MemoryClient struct {
	mu      sync.Mutex
	now     func() time.Time
	strings map[string]string
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
	expiry  map[string]time.Time
	pubs    map[string][]string
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		now:     time.Now,
		strings: make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		zsets:   make(map[string]map[string]float64),
		expiry:  make(map[string]time.Time),
		pubs:    make(map[string][]string),
	}
}

// SetClock replaces the time source used for expiry.
func (m *MemoryClient) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// TTL returns the remaining lifetime of key, or -1 when it has none.
func (m *MemoryClient) TTL(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expiry[key]
	if !ok {
		return -1
	}
	return exp.Sub(m.now())
}

func (m *MemoryClient) expireLocked(key string) {
	if exp, ok := m.expiry[key]; ok && !m.now().Before(exp) {
		delete(m.strings, key)
		delete(m.sets, key)
		delete(m.zsets, key)
		delete(m.expiry, key)
	}
}

func (m *MemoryClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch v := value.(type) {
	case string:
		m.strings[key] = v
	case []byte:
		m.strings[key] = string(v)
	default:
		m.strings[key] = fmt.Sprint(v)
	}
	if expiration > 0 {
		m.expiry[key] = m.now().Add(expiration)
	} else {
		delete(m.expiry, key)
	}
	return nil
}

func (m *MemoryClient) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)

	v, ok := m.strings[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *MemoryClient) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.strings, k)
		delete(m.sets, k)
		delete(m.zsets, k)
		delete(m.expiry, k)
	}
	return nil
}

func (m *MemoryClient) Exists(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, k := range keys {
		m.expireLocked(k)
		_, s := m.strings[k]
		_, st := m.sets[k]
		_, z := m.zsets[k]
		if s || st || z {
			n++
		}
	}
	return n, nil
}

func (m *MemoryClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiry[key] = m.now().Add(expiration)
	return nil
}

func (m *MemoryClient) ZAdd(ctx context.Context, key string, members ...*redis.Z) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)

	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	for _, member := range members {
		z[fmt.Sprint(member.Member)] = member.Score
	}
	return nil
}

// ZRemRangeByScore supports numeric bounds and "-inf"/"+inf".
func (m *MemoryClient) ZRemRangeByScore(ctx context.Context, key, min, max string) error {
	lo, err := parseScore(min)
	if err != nil {
		return err
	}
	hi, err := parseScore(max)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for member, score := range m.zsets[key] {
		if score >= lo && score <= hi {
			delete(m.zsets[key], member)
		}
	}
	return nil
}

func (m *MemoryClient) ZCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	return int64(len(m.zsets[key])), nil
}

func (m *MemoryClient) SAdd(ctx context.Context, key string, members ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)

	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	for _, member := range members {
		s[fmt.Sprint(member)] = struct{}{}
	}
	return nil
}

func (m *MemoryClient) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)

	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *MemoryClient) SRem(ctx context.Context, key string, members ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range members {
		delete(m.sets[key], fmt.Sprint(member))
	}
	return nil
}

func (m *MemoryClient) Publish(ctx context.Context, channel string, message interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var payload string
	switch v := message.(type) {
	case []byte:
		payload = string(v)
	default:
		payload = fmt.Sprint(v)
	}
	m.pubs[channel] = append(m.pubs[channel], payload)
	return nil
}

// Published returns the messages published on channel so far.
func (m *MemoryClient) Published(channel string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.pubs[channel]...)
}

func (m *MemoryClient) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryClient) Close() error {
	return nil
}

func parseScore(s string) (float64, error) {
	switch s {
	case "-inf":
		return math.Inf(-1), nil
	case "+inf", "inf":
		return math.Inf(1), nil
	}
	return strconv.ParseFloat(s, 64)
}
