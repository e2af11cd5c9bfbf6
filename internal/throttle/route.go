package throttle

import (
	"time"

	"github.com/askwhyharsh/geotrack/internal/geo"
)

const (
	DefaultRouteTimeThreshold     = 10 * time.Second
	DefaultRouteDistanceThreshold = 30.0 // meters
	DefaultFirstDrawDebounce      = 1500 * time.Millisecond
	DefaultRedrawDebounce         = 500 * time.Millisecond
)

// RouteState records the last drawn route. LastDrawnFrom is nil until the
// first successful draw.
type RouteState struct {
	LastDrawnFrom *geo.Coordinate
	LastDrawnAt   *time.Time
	HasDrawnOnce  bool
}

// Drawn returns the state after a successful draw from `from` at `at`.
func (s RouteState) Drawn(from geo.Coordinate, at time.Time) RouteState {
	return RouteState{LastDrawnFrom: &from, LastDrawnAt: &at, HasDrawnOnce: true}
}

// RouteThrottle decides when the route polyline is recomputed. Any one
// condition is enough.
type RouteThrottle struct {
	TimeThreshold     time.Duration
	DistanceThreshold float64
	FirstDebounce     time.Duration
	RedrawDebounce    time.Duration
}

func DefaultRouteThrottle() RouteThrottle {
	return RouteThrottle{
		TimeThreshold:     DefaultRouteTimeThreshold,
		DistanceThreshold: DefaultRouteDistanceThreshold,
		FirstDebounce:     DefaultFirstDrawDebounce,
		RedrawDebounce:    DefaultRedrawDebounce,
	}
}

func (t RouteThrottle) ShouldRedraw(state RouteState, current geo.Coordinate, now time.Time) bool {
	if !state.HasDrawnOnce {
		return true
	}
	if state.LastDrawnAt == nil || now.Sub(*state.LastDrawnAt) >= t.TimeThreshold {
		return true
	}
	if state.LastDrawnFrom == nil {
		return true
	}
	return current.Distance(*state.LastDrawnFrom) >= t.DistanceThreshold
}

// Debounce is the delay before a route query is issued. The first draw waits
// longer so the surface can finish its layout.
func (t RouteThrottle) Debounce(state RouteState) time.Duration {
	if !state.HasDrawnOnce {
		return t.FirstDebounce
	}
	return t.RedrawDebounce
}
