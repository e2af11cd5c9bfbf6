package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/render"
	"github.com/askwhyharsh/geotrack/internal/routing"
	"github.com/askwhyharsh/geotrack/pkg/logger"
	"github.com/askwhyharsh/geotrack/pkg/validator"
)

// MapRequest describes the session a connecting page asked for.
type MapRequest struct {
	ConnectionID string
	Destination  *geo.Coordinate
	Profile      routing.Profile
	// Passive asks for a view of the destination only, without tracking.
	Passive bool
}

// MapSession is the tracking side of one connection.
type MapSession interface {
	InboundHandler
	Start(ctx context.Context)
	Dispose()
}

// SessionFactory builds the map session for a page whose scripts go to host.
type SessionFactory interface {
	NewMapSession(req MapRequest, host render.ScriptHost) (MapSession, error)
}

type Handler struct {
	hub       *Hub
	sessions  SessionFactory
	validator validator.Validator
	logger    logger.Logger
	upgrader  websocket.Upgrader
}

// NewHandler accepts pages from allowedOrigins; "*" allows any origin.
func NewHandler(hub *Hub, sessions SessionFactory, allowedOrigins []string, log logger.Logger) *Handler {
	return &Handler{
		hub:       hub,
		sessions:  sessions,
		validator: validator.NewValidator(),
		logger:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// ParseMapRequest reads dest_lat, dest_lng, profile and passive from the
// query. The destination is optional but both coordinates must be given
// together, and a passive view needs one.
func (h *Handler) ParseMapRequest(c *gin.Context) (MapRequest, error) {
	var req MapRequest

	if raw := c.Query("passive"); raw != "" {
		passive, err := strconv.ParseBool(raw)
		if err != nil {
			return req, fmt.Errorf("invalid passive flag %q", raw)
		}
		req.Passive = passive
	}

	profile, err := routing.ParseProfile(c.Query("profile"))
	if err != nil {
		return req, err
	}
	req.Profile = profile

	latRaw, lngRaw := c.Query("dest_lat"), c.Query("dest_lng")
	if latRaw == "" && lngRaw == "" {
		if req.Passive {
			return req, errors.New("passive view needs a destination")
		}
		return req, nil
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return req, err
	}
	lng, err := strconv.ParseFloat(lngRaw, 64)
	if err != nil {
		return req, err
	}
	if err := h.validator.ValidateCoordinates(lat, lng); err != nil {
		return req, err
	}
	req.Destination = &geo.Coordinate{Latitude: lat, Longitude: lng}
	return req, nil
}

// HandleMap upgrades the request and runs one tracking session for the
// lifetime of the connection.
func (h *Handler) HandleMap(c *gin.Context) {
	req, err := h.ParseMapRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_REQUEST"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	client := NewClient(h.hub, conn, h.logger)
	req.ConnectionID = client.ID()

	session, err := h.sessions.NewMapSession(req, client)
	if err != nil {
		h.logger.Error("failed to create map session", "error", err)
		conn.WriteJSON(NewErrorFrame("Failed to start tracking", "INTERNAL_ERROR"))
		client.Close()
		return
	}
	client.SetInbound(session)

	if !h.hub.Register(client) {
		session.Dispose()
		client.Close()
		return
	}

	go client.WritePump()
	session.Start(client.Context())
	defer session.Dispose()

	client.ReadPump()
}
