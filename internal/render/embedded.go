package render

import (
	"context"

	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/routing"
	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

// ScriptHost runs script statements inside the hosted map document.
type ScriptHost interface {
	Inject(script string) error
}

// RouteSource computes a route; a nil route means none exists.
type RouteSource interface {
	Route(ctx context.Context, from, to geo.Coordinate, profile routing.Profile) (*routing.Route, error)
}

// MessageObserver is told about every inbound bridge message by type.
type MessageObserver interface {
	BridgeMessage(kind string)
}

// EmbeddedSurface drives a web map through injected script. The page runs
// its own watch-position loop and reports back through HandleMessage.
type EmbeddedSurface struct {
	*eventStream
	host     ScriptHost
	routes   RouteSource
	logger   logger.Logger
	observer MessageObserver
}

func NewEmbeddedSurface(host ScriptHost, routes RouteSource, log logger.Logger, observer MessageObserver) *EmbeddedSurface {
	return &EmbeddedSurface{
		eventStream: newEventStream(),
		host:        host,
		routes:      routes,
		logger:      log,
		observer:    observer,
	}
}

func (s *EmbeddedSurface) SetMarker(c geo.Coordinate) error {
	return s.inject(UpdateLocationScript(c))
}

func (s *EmbeddedSurface) DrawRoute(ctx context.Context, from, to geo.Coordinate, profile routing.Profile, isUpdate bool) (bool, error) {
	route, err := s.routes.Route(ctx, from, to, profile)
	if err != nil {
		return false, &apperrors.RouteComputeError{Profile: string(profile), Err: err}
	}
	if route == nil || len(route.Path) == 0 {
		s.logger.Debug("no route between points", "from", from.String(), "to", to.String(), "profile", profile)
		return false, nil
	}
	if s.isDisposing() {
		return false, nil
	}

	script, err := DrawRouteScript(from, to, profile, route.LatLngs())
	if err != nil {
		return false, err
	}
	if err := s.inject(script); err != nil {
		return false, err
	}
	return !s.isDisposing(), nil
}

func (s *EmbeddedSurface) inject(script string) error {
	if s.isDisposing() {
		return nil
	}
	if err := s.host.Inject(script); err != nil {
		if s.isDisposing() {
			s.logger.Debug("dropping script during teardown", "error", err)
			return nil
		}
		return err
	}
	return nil
}

// HandleMessage parses one inbound message and emits it as an event.
// Malformed messages are logged at debug and dropped; the returned error is
// informational.
func (s *EmbeddedSurface) HandleMessage(raw []byte) error {
	ev, err := ParseMessage(raw)
	if err != nil {
		s.logger.Debug("dropping bridge message", "error", err)
		s.observe("malformed")
		return err
	}

	switch ev.Type {
	case EventReady:
		s.observe(MessageMapReady)
	case EventLocation:
		s.observe(MessageLocationUpdate)
	case EventPermissionDenied:
		s.observe(MessagePermissionDenied)
	case EventLocationUnavailable:
		s.observe(MessageLocationUnavailable)
	}
	s.emit(ev)
	return nil
}

func (s *EmbeddedSurface) observe(kind string) {
	if s.observer != nil {
		s.observer.BridgeMessage(kind)
	}
}

func (s *EmbeddedSurface) Close() error {
	s.close()
	return nil
}
