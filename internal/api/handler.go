package api

import (
	"context"
	_ "embed"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/geocode"
	"github.com/askwhyharsh/geotrack/internal/publish"
	"github.com/askwhyharsh/geotrack/internal/storage"
	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
	"github.com/askwhyharsh/geotrack/pkg/logger"
	"github.com/askwhyharsh/geotrack/pkg/validator"
)

//go:embed static/map.html
var mapPage []byte

const (
	defaultNearbyRadius  = 1000.0
	maxNearbyRadius      = 10000.0
	lookupTimeout        = 15 * time.Second
	defaultHistoryWindow = 24 * time.Hour
)

type Geocoder interface {
	Resolve(ctx context.Context, lat, lng float64) (*geocode.AddressDetails, error)
}

// LocationReader serves published positions.
type LocationReader interface {
	OrderLocation(ctx context.Context, orderID int64) (*publish.PublishedLocation, error)
	NearbyOrders(ctx context.Context, c geo.Coordinate, radius float64) ([]publish.NearbyOrder, error)
}

// BridgeStats reports connected map pages.
type BridgeStats interface {
	Count() int
	ActiveTotal(ctx context.Context) (int, error)
}

// HistoryReader serves persisted position history.
type HistoryReader interface {
	LastLocation(ctx context.Context, orderID int64) (*storage.HistoryRecord, error)
	History(ctx context.Context, orderID int64, since time.Time) ([]storage.HistoryRecord, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	geocoder  Geocoder
	locations LocationReader
	bridges   BridgeStats
	redis     Pinger
	history   HistoryReader
	validator validator.Validator
	logger    logger.Logger
}

func NewHandler(geocoder Geocoder, locations LocationReader, bridges BridgeStats, redis Pinger, validator validator.Validator, log logger.Logger) *Handler {
	return &Handler{
		geocoder:  geocoder,
		locations: locations,
		bridges:   bridges,
		redis:     redis,
		validator: validator,
		logger:    log,
	}
}

// SetHistory enables the history endpoint and lets order lookups fall back
// to the newest persisted point once the live key has expired.
func (h *Handler) SetHistory(history HistoryReader) {
	h.history = history
}

// GET /api/geocode/reverse
func (h *Handler) ReverseGeocode(c *gin.Context) {
	lat, lng, err := h.coordinates(c, "lat", "lon")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse(err.Error(), "INVALID_COORDINATES"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), lookupTimeout)
	defer cancel()

	addr, err := h.geocoder.Resolve(ctx, lat, lng)
	if err != nil {
		// address lookup is best effort, the caller keeps going without one
		h.logger.Debug("reverse geocode failed", "lat", lat, "lon", lng, "error", err)
		c.JSON(http.StatusOK, ErrorResponse("Address unavailable", geocodeCode(err)))
		return
	}

	c.JSON(http.StatusOK, SuccessResponse(AddressResponse{
		Latitude:  lat,
		Longitude: lng,
		Summary:   addr.Summary(),
		Address:   addr,
	}))
}

// GET /api/location/order/:orderId
func (h *Handler) OrderLocation(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("orderId"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse("Invalid order id", "INVALID_REQUEST"))
		return
	}

	loc, err := h.locations.OrderLocation(c.Request.Context(), orderID)
	if errors.Is(err, apperrors.ErrDataNotFound) {
		loc, err = h.persistedLocation(c.Request.Context(), orderID)
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrDataNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse("No location for this order", "NOT_FOUND"))
			return
		}
		h.logger.Error("failed to read order location", "order_id", orderID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse("Failed to read location", "INTERNAL_ERROR"))
		return
	}

	c.JSON(http.StatusOK, SuccessResponse(loc))
}

func (h *Handler) persistedLocation(ctx context.Context, orderID int64) (*publish.PublishedLocation, error) {
	if h.history == nil {
		return nil, apperrors.ErrDataNotFound
	}
	rec, err := h.history.LastLocation(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperrors.ErrDataNotFound
	}
	return &publish.PublishedLocation{
		UserID:    rec.UserID,
		UserType:  rec.UserType,
		OrderID:   rec.OrderID,
		Latitude:  rec.Latitude,
		Longitude: rec.Longitude,
		Timestamp: rec.RecordedAt,
		Geohash:   rec.Geohash,
	}, nil
}

// GET /api/location/order/:orderId/history
func (h *Handler) OrderHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, ErrorResponse("Location history is not enabled", "NOT_ENABLED"))
		return
	}
	orderID, err := strconv.ParseInt(c.Param("orderId"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse("Invalid order id", "INVALID_REQUEST"))
		return
	}

	since := time.Now().Add(-defaultHistoryWindow)
	if raw := c.Query("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse("since must be an RFC 3339 time", "INVALID_REQUEST"))
			return
		}
	}

	records, err := h.history.History(c.Request.Context(), orderID, since)
	if err != nil {
		h.logger.Error("failed to read location history", "order_id", orderID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse("Failed to read history", "INTERNAL_ERROR"))
		return
	}
	if records == nil {
		records = []storage.HistoryRecord{}
	}

	c.JSON(http.StatusOK, SuccessResponse(gin.H{
		"count":  len(records),
		"points": records,
	}))
}

// GET /api/location/nearby
func (h *Handler) NearbyOrders(c *gin.Context) {
	lat, lng, err := h.coordinates(c, "lat", "lon")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse(err.Error(), "INVALID_COORDINATES"))
		return
	}

	radius := defaultNearbyRadius
	if raw := c.Query("radius"); raw != "" {
		radius, err = strconv.ParseFloat(raw, 64)
		if err != nil || radius <= 0 || radius > maxNearbyRadius {
			c.JSON(http.StatusBadRequest, ErrorResponse("Radius must be between 0 and 10000 meters", "INVALID_RADIUS"))
			return
		}
	}

	orders, err := h.locations.NearbyOrders(c.Request.Context(), geo.Coordinate{Latitude: lat, Longitude: lng}, radius)
	if err != nil {
		h.logger.Error("failed to find nearby orders", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse("Failed to find nearby orders", "INTERNAL_ERROR"))
		return
	}

	c.JSON(http.StatusOK, SuccessResponse(gin.H{
		"count":  len(orders),
		"orders": orders,
	}))
}

// GET /map
func (h *Handler) MapPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", mapPage)
}

// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:           "ok",
		Redis:            "ok",
		LocalConnections: h.bridges.Count(),
		Time:             time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.redis.Ping(c.Request.Context()); err != nil {
		resp.Status = "degraded"
		resp.Redis = "unreachable"
	}
	if total, err := h.bridges.ActiveTotal(c.Request.Context()); err == nil {
		resp.ActiveConnections = total
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) coordinates(c *gin.Context, latKey, lngKey string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(c.Query(latKey), 64)
	if err != nil {
		return 0, 0, apperrors.ErrInvalidLatitude
	}
	lng, err := strconv.ParseFloat(c.Query(lngKey), 64)
	if err != nil {
		return 0, 0, apperrors.ErrInvalidLongitude
	}
	if err := h.validator.ValidateCoordinates(lat, lng); err != nil {
		return 0, 0, err
	}
	return lat, lng, nil
}

func geocodeCode(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrGeocodeRateLimited):
		return "GEOCODE_RATE_LIMITED"
	case errors.Is(err, apperrors.ErrGeocodeNetwork):
		return "GEOCODE_NETWORK"
	default:
		return "GEOCODE_UNAVAILABLE"
	}
}
