package api

import (
	"context"
	"errors"

	"github.com/askwhyharsh/geotrack/internal/config"
	"github.com/askwhyharsh/geotrack/internal/fix"
	"github.com/askwhyharsh/geotrack/internal/geocode"
	"github.com/askwhyharsh/geotrack/internal/observability"
	"github.com/askwhyharsh/geotrack/internal/render"
	"github.com/askwhyharsh/geotrack/internal/throttle"
	"github.com/askwhyharsh/geotrack/internal/tracking"
	"github.com/askwhyharsh/geotrack/internal/websocket"
	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

// errorReporter is implemented by bridge hosts that can show an error to the
// page besides running scripts.
type errorReporter interface {
	SendError(errMsg, code string)
}

// MapSessionFactory builds one tracking session per map connection, rendering
// through an embedded surface on the connection.
type MapSessionFactory struct {
	routes   render.RouteSource
	geocoder tracking.Geocoder
	metrics  *observability.Collector
	tracking config.TrackingConfig
	route    config.RouteConfig
	logger   logger.Logger
}

func NewMapSessionFactory(routes render.RouteSource, geocoder tracking.Geocoder, metrics *observability.Collector, cfg *config.Config, log logger.Logger) *MapSessionFactory {
	return &MapSessionFactory{
		routes:   routes,
		geocoder: geocoder,
		metrics:  metrics,
		tracking: cfg.Tracking,
		route:    cfg.Route,
		logger:   log,
	}
}

func (f *MapSessionFactory) NewMapSession(req websocket.MapRequest, host render.ScriptHost) (websocket.MapSession, error) {
	log := f.logger.With("connection_id", req.ConnectionID)
	surface := render.NewEmbeddedSurface(host, f.routes, log, f.metrics)

	opts := []tracking.Option{
		tracking.WithProfile(req.Profile),
		tracking.WithUpdateThrottle(throttle.NewUpdateThrottle(f.tracking.TimeThreshold, f.tracking.DistanceMeters)),
		tracking.WithRouteThrottle(throttle.RouteThrottle{
			TimeThreshold:     f.route.TimeThreshold,
			DistanceThreshold: f.route.DistanceMeters,
			FirstDebounce:     f.route.FirstDebounce,
			RedrawDebounce:    f.route.RedrawDebounce,
		}),
		tracking.WithMetrics(f.metrics),
		tracking.WithCallbacks(f.callbacks(host, log)),
	}
	if req.Destination != nil {
		opts = append(opts, tracking.WithDestination(*req.Destination))
	}
	if req.Passive {
		opts = append(opts, tracking.DisableTracking())
	}

	session, err := tracking.New(tracking.Deps{
		Backend:  surface,
		Geocoder: f.geocoder,
		Logger:   log,
	}, opts...)
	if err != nil {
		surface.Close()
		return nil, err
	}

	return &mapSession{surface: surface, session: session}, nil
}

func (f *MapSessionFactory) callbacks(host render.ScriptHost, log logger.Logger) tracking.Callbacks {
	reporter, _ := host.(errorReporter)

	return tracking.Callbacks{
		OnLocation: func(fx fix.Fix) {
			log.Debug("position accepted", "lat", fx.Latitude, "lng", fx.Longitude)
		},
		OnAddress: func(addr *geocode.AddressDetails) {
			log.Debug("address resolved", "address", addr.Summary())
		},
		OnError: func(err error) {
			if reporter == nil {
				return
			}
			switch {
			case errors.Is(err, apperrors.ErrPermissionDenied):
				reporter.SendError("Location permission denied", "PERMISSION_DENIED")
			case errors.Is(err, apperrors.ErrLocationTimeout):
				reporter.SendError("Location request timed out", "LOCATION_TIMEOUT")
			case errors.Is(err, apperrors.ErrProviderDisabled):
				reporter.SendError("Location is not available on this device", "LOCATION_UNAVAILABLE")
			}
		},
	}
}

// mapSession feeds bridge messages to the surface and ties the session
// lifetime to the connection.
type mapSession struct {
	surface *render.EmbeddedSurface
	session *tracking.Session
}

func (m *mapSession) HandleMessage(raw []byte) error {
	return m.surface.HandleMessage(raw)
}

func (m *mapSession) Start(ctx context.Context) {
	m.session.Start(ctx)
}

func (m *mapSession) Dispose() {
	m.session.Dispose()
}
