package geocode

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

type availability interface {
	Available() bool
}

// Resolver picks the active provider by capability: the first provider that
// is available (providers without an Available method always are). Failure
// of the active provider yields no address; the next provider is not tried.
type Resolver struct {
	providers []Provider
	logger    logger.Logger
	observer  Observer
}

func NewResolver(log logger.Logger, observer Observer, providers ...Provider) *Resolver {
	return &Resolver{providers: providers, logger: log, observer: observer}
}

// Active returns the provider Resolve would use, or nil.
func (r *Resolver) Active() Provider {
	for _, p := range r.providers {
		if a, ok := p.(availability); ok && !a.Available() {
			continue
		}
		return p
	}
	return nil
}

// Resolve returns the address for the coordinate. Errors are always
// *errors.GeocodeError and are meant to be dropped by callers.
func (r *Resolver) Resolve(ctx context.Context, lat, lng float64) (*AddressDetails, error) {
	p := r.Active()
	if p == nil {
		return nil, apperrors.NewGeocodeError("none", apperrors.GeocodeProviderUnavailable, apperrors.ErrGeocodeUnavailable)
	}

	start := time.Now()
	addr, err := p.Resolve(ctx, lat, lng)
	took := time.Since(start)

	if err != nil {
		r.observe(p.Name(), "error", took)
		r.logFailure(p.Name(), lat, lng, err)

		var gerr *apperrors.GeocodeError
		if !errors.As(err, &gerr) {
			err = apperrors.NewGeocodeError(p.Name(), apperrors.GeocodeProviderUnavailable, err)
		}
		return nil, err
	}

	r.observe(p.Name(), "ok", took)
	return addr, nil
}

// logFailure keeps connectivity noise out of error-level telemetry.
func (r *Resolver) logFailure(provider string, lat, lng float64, err error) {
	if apperrors.IsNetworkError(err) {
		r.logger.Debug("reverse geocode network error", "provider", provider, "lat", lat, "lng", lng, "error", err)
		return
	}
	r.logger.Warn("reverse geocode failed", "provider", provider, "lat", lat, "lng", lng, "error", err)
}

func (r *Resolver) observe(provider, result string, took time.Duration) {
	if r.observer != nil {
		r.observer.ObserveGeocode(provider, result, took)
	}
}
