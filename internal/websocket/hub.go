package websocket

import (
	"context"
	"sync"

	"github.com/askwhyharsh/geotrack/internal/storage"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

const activeKey = "bridge:active"

// Hub tracks the connected map pages. Active connection ids are mirrored to
// a Redis set so several servers can report a combined count.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	redis      storage.RedisClient
	logger     logger.Logger
	mu         sync.RWMutex
	ctx        context.Context
}

func NewHub(ctx context.Context, redisClient storage.RedisClient, log logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		redis:      redisClient,
		logger:     log,
		ctx:        ctx,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case <-h.ctx.Done():
			h.shutdown()
			return
		}
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	if err := h.redis.SAdd(h.ctx, activeKey, client.id); err != nil {
		h.logger.Warn("failed to record bridge connection", "error", err)
	}
	h.logger.Debug("map page connected", "connection_id", client.id)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client.id]
	delete(h.clients, client.id)
	h.mu.Unlock()
	if !ok {
		return
	}

	client.Close()
	if err := h.redis.SRem(h.ctx, activeKey, client.id); err != nil {
		h.logger.Warn("failed to remove bridge connection", "error", err)
	}
	h.logger.Debug("map page disconnected", "connection_id", client.id)
}

// Count is the number of pages connected to this server.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ActiveTotal is the number of pages connected across all servers sharing
// the Redis instance.
func (h *Hub) ActiveTotal(ctx context.Context) (int, error) {
	members, err := h.redis.SMembers(ctx, activeKey)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

func (h *Hub) GetClient(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[id]
	return client, ok
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]interface{}, 0, len(h.clients))
	for id, client := range h.clients {
		client.Close()
		ids = append(ids, id)
	}
	h.clients = make(map[string]*Client)

	if len(ids) > 0 {
		// the hub context is already done
		if err := h.redis.SRem(context.Background(), activeKey, ids...); err != nil {
			h.logger.Warn("failed to clear bridge connections", "error", err)
		}
	}
}
