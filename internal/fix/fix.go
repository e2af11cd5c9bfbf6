package fix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/pkg/validator"
)

// Fix is one location reading. Timestamp is milliseconds since the Unix epoch.
type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp uint64  `json:"timestamp"`
}

func (f Fix) Coordinate() geo.Coordinate {
	return geo.Coordinate{Latitude: f.Latitude, Longitude: f.Longitude}
}

func (f Fix) Time() time.Time {
	return time.UnixMilli(int64(f.Timestamp))
}

// Provider produces a single best-effort fix.
type Provider interface {
	GetFix(ctx context.Context) (Fix, error)
}

// MaxClockSkew is how far ahead of the local clock a reading may be stamped.
const MaxClockSkew = time.Minute

var ErrFutureTimestamp = errors.New("timestamp is in the future")

var v = validator.NewValidator()

// Normalize validates a raw reading from any source (native callback, bridge
// message, NMEA sentence) and returns it in the shape the throttle expects.
// A zero timestamp is replaced by the current time; one more than
// MaxClockSkew ahead of it is rejected.
func Normalize(lat, lng, accuracy float64, timestamp uint64) (Fix, error) {
	if err := v.ValidateCoordinates(lat, lng); err != nil {
		return Fix{}, err
	}
	if err := v.ValidateAccuracy(accuracy); err != nil {
		return Fix{}, err
	}
	now := time.Now()
	if timestamp == 0 {
		timestamp = uint64(now.UnixMilli())
	}
	if limit := now.Add(MaxClockSkew); timestamp > uint64(limit.UnixMilli()) {
		return Fix{}, fmt.Errorf("%w: %d is after %d", ErrFutureTimestamp, timestamp, limit.UnixMilli())
	}
	return Fix{Latitude: lat, Longitude: lng, Accuracy: accuracy, Timestamp: timestamp}, nil
}

// TimestampFrom converts t to the millisecond timestamp used by Fix.
func TimestampFrom(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}
