package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
)

var (
	// Validation errors
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrInvalidLatitude    = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude   = errors.New("longitude must be between -180 and 180")
	ErrInvalidProfile     = errors.New("route profile must be driving, cycling or walking")

	// Permission errors
	ErrPermissionDenied      = errors.New("location permission denied")
	ErrPermissionUnavailable = errors.New("location permission check unavailable")

	// Location errors
	ErrLocationTimeout     = errors.New("location request timed out")
	ErrLocationUnavailable = errors.New("location not available yet")
	ErrProviderDisabled    = errors.New("location services disabled")

	// Geocode errors
	ErrGeocodeNetwork     = errors.New("geocode network error")
	ErrGeocodeRateLimited = errors.New("geocode rate limited")
	ErrGeocodeUnavailable = errors.New("geocode provider unavailable")

	// Render errors
	ErrStaleHandle      = errors.New("view handle is no longer valid")
	ErrBridgeClosed     = errors.New("bridge connection closed")
	ErrBridgeMalformed  = errors.New("malformed bridge message")
	ErrRouteUnavailable = errors.New("route could not be computed")

	// Session errors
	ErrSessionDisposed = errors.New("tracking session disposed")

	// Rate limit errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDataNotFound       = errors.New("data not found")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(err error, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		StatusCode: statusCode,
	}
}

// PermissionError reports a denied or unavailable location permission.
// It is surfaced once to the user and never retried automatically.
type PermissionError struct {
	State string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("location permission %s", e.State)
}

func (e *PermissionError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.State == "denied"
	case ErrPermissionUnavailable:
		return e.State == "unavailable"
	}
	return false
}

type LocationReason string

const (
	LocationPermissionDenied LocationReason = "permission_denied"
	LocationTimeout          LocationReason = "timeout"
	LocationProviderDisabled LocationReason = "provider_disabled"
	LocationUnknown          LocationReason = "unknown"
)

// LocationError is returned by fix providers. A Timeout reason lets callers
// proceed without a location instead of treating it as a permission failure.
type LocationError struct {
	Reason LocationReason
	Err    error
}

func NewLocationError(reason LocationReason, err error) *LocationError {
	return &LocationError{Reason: reason, Err: err}
}

func (e *LocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("location error (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("location error (%s)", e.Reason)
}

func (e *LocationError) Unwrap() error {
	return e.Err
}

func (e *LocationError) Is(target error) bool {
	switch target {
	case ErrLocationTimeout:
		return e.Reason == LocationTimeout
	case ErrPermissionDenied:
		return e.Reason == LocationPermissionDenied
	case ErrProviderDisabled:
		return e.Reason == LocationProviderDisabled
	}
	return false
}

type GeocodeReason string

const (
	GeocodeNetworkError        GeocodeReason = "network_error"
	GeocodeRateLimited         GeocodeReason = "rate_limited"
	GeocodeProviderUnavailable GeocodeReason = "provider_unavailable"
)

// GeocodeError is always recoverable; callers degrade to no address text.
type GeocodeError struct {
	Reason   GeocodeReason
	Provider string
	Err      error
}

func NewGeocodeError(provider string, reason GeocodeReason, err error) *GeocodeError {
	return &GeocodeError{Reason: reason, Provider: provider, Err: err}
}

func (e *GeocodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geocode %s (%s): %v", e.Reason, e.Provider, e.Err)
	}
	return fmt.Sprintf("geocode %s (%s)", e.Reason, e.Provider)
}

func (e *GeocodeError) Unwrap() error {
	return e.Err
}

func (e *GeocodeError) Is(target error) bool {
	switch target {
	case ErrGeocodeNetwork:
		return e.Reason == GeocodeNetworkError
	case ErrGeocodeRateLimited:
		return e.Reason == GeocodeRateLimited
	case ErrGeocodeUnavailable:
		return e.Reason == GeocodeProviderUnavailable
	}
	return false
}

// RouteComputeError means the route could not be fetched; the previous
// polyline stays visible.
type RouteComputeError struct {
	Profile string
	Err     error
}

func (e *RouteComputeError) Error() string {
	return fmt.Sprintf("route compute failed (%s): %v", e.Profile, e.Err)
}

func (e *RouteComputeError) Unwrap() error {
	return e.Err
}

func (e *RouteComputeError) Is(target error) bool {
	return target == ErrRouteUnavailable
}

// BridgeParseError describes a malformed inbound message from the embedded
// surface. Such messages are dropped.
type BridgeParseError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *BridgeParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge message rejected: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("bridge message rejected: %s", e.Reason)
}

func (e *BridgeParseError) Unwrap() error {
	return e.Err
}

func (e *BridgeParseError) Is(target error) bool {
	return target == ErrBridgeMalformed
}

// IsNetworkError reports whether err is a timeout or connection-level failure,
// the kind of noise expected on a moving device with patchy connectivity.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrGeocodeNetwork) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout() || IsNetworkError(urlErr.Err)
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "failed to connect") || strings.Contains(msg, "timeout")
}
