package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 64
)

var errSendBufferFull = errors.New("bridge send buffer full")

// InboundHandler consumes raw bridge messages from the hosted page.
type InboundHandler interface {
	HandleMessage(raw []byte) error
}

// Client is one hosted map page connected over a websocket. It is the script
// host of that page's embedded surface.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan *Frame
	inbound InboundHandler
	logger  logger.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, log logger.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan *Frame, sendBuffer),
		logger: log.With("connection_id", id),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) ID() string {
	return c.id
}

// Context is cancelled when the connection goes away.
func (c *Client) Context() context.Context {
	return c.ctx
}

// SetInbound must be called before ReadPump.
func (c *Client) SetInbound(h InboundHandler) {
	c.inbound = h
}

// Inject queues a script for the page. It never blocks.
func (c *Client) Inject(script string) error {
	return c.enqueue(NewScriptFrame(script))
}

func (c *Client) SendError(errMsg, code string) {
	if err := c.enqueue(NewErrorFrame(errMsg, code)); err != nil {
		c.logger.Debug("dropping error frame", "code", code, "error", err)
	}
}

func (c *Client) enqueue(f *Frame) error {
	select {
	case <-c.ctx.Done():
		return apperrors.ErrBridgeClosed
	default:
	}
	select {
	case c.send <- f:
		return nil
	case <-c.ctx.Done():
		return apperrors.ErrBridgeClosed
	default:
		return errSendBufferFull
	}
}

// Close stops both pumps. The send channel is never closed so late Inject
// calls fail cleanly instead of panicking.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close()
	})
}

func (c *Client) ReadPump() {
	defer func() {
		if c.hub != nil {
			c.hub.Unregister(c)
		}
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("bridge connection closed unexpectedly", "error", err)
			}
			return
		}
		if c.inbound == nil {
			continue
		}
		// malformed messages are logged by the surface and dropped
		_ = c.inbound.HandleMessage(message)
	}
}

// WritePump sends one frame per websocket message; the page expects a single
// JSON object in each.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			data, err := json.Marshal(frame)
			if err != nil {
				c.logger.Error("failed to marshal frame", "error", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("bridge write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
