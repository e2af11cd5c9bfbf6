package throttle

import (
	"time"

	"github.com/askwhyharsh/geotrack/internal/fix"
)

const (
	DefaultTimeThreshold     = 10 * time.Second
	DefaultDistanceThreshold = 20.0 // meters, continuous tracking
	PickingDistanceThreshold = 50.0 // meters, address picking
)

// AcceptedPosition is the last fix that passed the UpdateThrottle.
type AcceptedPosition struct {
	Fix        fix.Fix
	AcceptedAt time.Time
}

type Decision struct {
	Accepted bool
	// First is set for the first fix of a session; the caller geocodes it
	// right away instead of waiting for a timer.
	First    bool
	Distance float64
}

// UpdateThrottle gates position updates. A candidate is accepted only when
// both enough time has passed and it moved far enough.
type UpdateThrottle struct {
	TimeThreshold     time.Duration
	DistanceThreshold float64
}

func NewUpdateThrottle(timeThreshold time.Duration, distanceThreshold float64) UpdateThrottle {
	return UpdateThrottle{TimeThreshold: timeThreshold, DistanceThreshold: distanceThreshold}
}

// Tracking returns the preset used for continuous delivery tracking.
func Tracking() UpdateThrottle {
	return NewUpdateThrottle(DefaultTimeThreshold, DefaultDistanceThreshold)
}

// Picking returns the coarser preset used while picking an address.
func Picking() UpdateThrottle {
	return NewUpdateThrottle(DefaultTimeThreshold, PickingDistanceThreshold)
}

func (t UpdateThrottle) Accept(last *AcceptedPosition, candidate fix.Fix, now time.Time) Decision {
	if last == nil {
		return Decision{Accepted: true, First: true}
	}

	distance := last.Fix.Coordinate().Distance(candidate.Coordinate())
	elapsed := now.Sub(last.AcceptedAt)

	return Decision{
		Accepted: elapsed >= t.TimeThreshold && distance >= t.DistanceThreshold,
		Distance: distance,
	}
}
