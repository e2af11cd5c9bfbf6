package render

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/askwhyharsh/geotrack/internal/fix"
	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/routing"
)

// Backend is a map surface the tracking session draws on. Implementations
// differ in how commands reach the surface; callers never need to know which
// one they hold.
type Backend interface {
	SetMarker(c geo.Coordinate) error
	// DrawRoute reports whether a route was drawn. A missing route is
	// (false, nil); the previous polyline stays on screen.
	DrawRoute(ctx context.Context, from, to geo.Coordinate, profile routing.Profile, isUpdate bool) (bool, error)
	Events() <-chan Event
	// BeginDispose marks the start of teardown. From then on stale-handle
	// failures are swallowed.
	BeginDispose()
	Close() error
}

type EventType int

const (
	EventReady EventType = iota
	EventLocation
	EventPermissionDenied
	EventLocationUnavailable
)

func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventLocation:
		return "location"
	case EventPermissionDenied:
		return "permissionDenied"
	case EventLocationUnavailable:
		return "locationUnavailable"
	default:
		return "unknown"
	}
}

// Event is an inbound surface event in normalized form. Coord, Accuracy and
// Timestamp are set for EventLocation only.
type Event struct {
	Type      EventType
	Coord     geo.Coordinate
	Accuracy  float64
	Timestamp uint64
}

func (e Event) Fix() fix.Fix {
	return fix.Fix{
		Latitude:  e.Coord.Latitude,
		Longitude: e.Coord.Longitude,
		Accuracy:  e.Accuracy,
		Timestamp: e.Timestamp,
	}
}

func locationEvent(f fix.Fix) Event {
	return Event{Type: EventLocation, Coord: f.Coordinate(), Accuracy: f.Accuracy, Timestamp: f.Timestamp}
}

const eventBuffer = 64

// eventStream is the inbound half shared by both surfaces.
type eventStream struct {
	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
	disposing atomic.Bool
}

func newEventStream() *eventStream {
	return &eventStream{
		events: make(chan Event, eventBuffer),
		closed: make(chan struct{}),
	}
}

func (s *eventStream) Events() <-chan Event {
	return s.events
}

func (s *eventStream) BeginDispose() {
	s.disposing.Store(true)
}

func (s *eventStream) isDisposing() bool {
	return s.disposing.Load()
}

// emit delivers e unless the surface is closed. It blocks while the buffer is
// full so events keep their arrival order.
func (s *eventStream) emit(e Event) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.events <- e:
		return true
	case <-s.closed:
		return false
	}
}

func (s *eventStream) close() {
	s.closeOnce.Do(func() {
		s.disposing.Store(true)
		close(s.closed)
	})
}
