package render

import (
	"context"
	"fmt"

	"github.com/askwhyharsh/geotrack/internal/fix"
	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/routing"
	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

// Native view command ids.
const (
	CommandSetMarker = 1
	CommandDrawRoute = 2
)

// ViewHandle is a reference to a native map view.
type ViewHandle interface {
	Valid() bool
	Dispatch(command int, args []any) error
}

// NativeSurface drives a native map view with integer coded commands. The
// view computes routes itself, so DrawRoute succeeds once dispatched.
type NativeSurface struct {
	*eventStream
	handle ViewHandle
	logger logger.Logger
}

func NewNativeSurface(handle ViewHandle, log logger.Logger) *NativeSurface {
	return &NativeSurface{
		eventStream: newEventStream(),
		handle:      handle,
		logger:      log,
	}
}

func (s *NativeSurface) SetMarker(c geo.Coordinate) error {
	return s.dispatch(CommandSetMarker, []any{c.Latitude, c.Longitude})
}

func (s *NativeSurface) DrawRoute(ctx context.Context, from, to geo.Coordinate, profile routing.Profile, isUpdate bool) (bool, error) {
	if s.isDisposing() {
		return false, nil
	}
	args := []any{from.Latitude, from.Longitude, to.Latitude, to.Longitude, string(profile), isUpdate}
	if err := s.dispatch(CommandDrawRoute, args); err != nil {
		return false, err
	}
	// dispatch swallows failures during teardown
	return !s.isDisposing(), nil
}

// dispatch checks liveness right before issuing the command. Once disposal
// has begun any failure is dropped.
func (s *NativeSurface) dispatch(command int, args []any) error {
	if !s.handle.Valid() {
		if s.isDisposing() {
			return nil
		}
		return apperrors.ErrStaleHandle
	}

	if err := s.handle.Dispatch(command, args); err != nil {
		if s.isDisposing() {
			s.logger.Debug("dropping native command during teardown", "command", command, "error", err)
			return nil
		}
		return fmt.Errorf("native command %d: %w", command, err)
	}
	return nil
}

// EmitReady forwards the view's ready callback.
func (s *NativeSurface) EmitReady() {
	s.emit(Event{Type: EventReady})
}

// EmitLocation forwards the view's location callback after validation.
func (s *NativeSurface) EmitLocation(lat, lng, accuracy float64, timestamp uint64) error {
	f, err := fix.Normalize(lat, lng, accuracy, timestamp)
	if err != nil {
		return err
	}
	s.emit(locationEvent(f))
	return nil
}

// EmitPermissionDenied forwards a permission denial reported by the view.
func (s *NativeSurface) EmitPermissionDenied() {
	s.emit(Event{Type: EventPermissionDenied})
}

// EmitLocationUnavailable forwards a view that has no location source.
func (s *NativeSurface) EmitLocationUnavailable() {
	s.emit(Event{Type: EventLocationUnavailable})
}

func (s *NativeSurface) Close() error {
	s.close()
	return nil
}
