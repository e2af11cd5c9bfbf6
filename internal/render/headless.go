package render

import (
	"context"

	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/routing"
	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

// Headless is a surface with no screen. Markers are logged and routes are
// computed and logged when a route source is set, which keeps ETA figures
// flowing on devices that only publish their position.
type Headless struct {
	*eventStream
	routes RouteSource
	logger logger.Logger
}

func NewHeadless(routes RouteSource, log logger.Logger) *Headless {
	return &Headless{
		eventStream: newEventStream(),
		routes:      routes,
		logger:      log,
	}
}

func (h *Headless) SetMarker(c geo.Coordinate) error {
	h.logger.Debug("marker", "position", c.String())
	return nil
}

func (h *Headless) DrawRoute(ctx context.Context, from, to geo.Coordinate, profile routing.Profile, isUpdate bool) (bool, error) {
	if h.routes == nil || h.isDisposing() {
		return false, nil
	}
	route, err := h.routes.Route(ctx, from, to, profile)
	if err != nil {
		return false, &apperrors.RouteComputeError{Profile: string(profile), Err: err}
	}
	if route == nil || len(route.Path) == 0 {
		return false, nil
	}
	h.logger.Info("route computed",
		"distance", geo.FormatDistance(route.Distance),
		"duration", route.Duration,
		"points", len(route.Path),
		"update", isUpdate,
	)
	return true, nil
}

// Ready tells the session the surface can take commands. Headless surfaces
// are ready as soon as they are created.
func (h *Headless) Ready() {
	h.emit(Event{Type: EventReady})
}

func (h *Headless) Close() error {
	h.close()
	return nil
}
