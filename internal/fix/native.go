package fix

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
	"github.com/askwhyharsh/geotrack/pkg/logger"
)

const (
	DefaultTimeout       = 15 * time.Second
	DefaultRetryAttempts = 5
	DefaultRetryInterval = time.Second
)

// NativeModule is the platform-privileged location module. Implementations
// return errors wrapping apperrors.ErrLocationUnavailable while the device
// has no reading yet.
type NativeModule interface {
	GetCurrentLocation(ctx context.Context) (Fix, error)
	IsLocationEnabled(ctx context.Context) (bool, error)
}

type NativeProvider struct {
	module        NativeModule
	logger        logger.Logger
	timeout       time.Duration
	retryAttempts uint
	retryInterval time.Duration
}

type NativeOption func(*NativeProvider)

func WithTimeout(d time.Duration) NativeOption {
	return func(p *NativeProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRetry sets how often a "not available yet" reading is retried.
func WithRetry(attempts int, interval time.Duration) NativeOption {
	return func(p *NativeProvider) {
		if attempts > 0 {
			p.retryAttempts = uint(attempts)
		}
		if interval > 0 {
			p.retryInterval = interval
		}
	}
}

func NewNativeProvider(module NativeModule, log logger.Logger, opts ...NativeOption) *NativeProvider {
	p := &NativeProvider{
		module:        module,
		logger:        log,
		timeout:       DefaultTimeout,
		retryAttempts: DefaultRetryAttempts,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *NativeProvider) GetFix(ctx context.Context) (Fix, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	enabled, err := p.module.IsLocationEnabled(ctx)
	if err != nil {
		p.logger.Debug("location enabled check failed", "error", err)
	} else if !enabled {
		return Fix{}, apperrors.NewLocationError(apperrors.LocationProviderDisabled, apperrors.ErrProviderDisabled)
	}

	attempt := 0
	op := func() (Fix, error) {
		attempt++
		f, err := p.module.GetCurrentLocation(ctx)
		if err == nil {
			normalized, err := Normalize(f.Latitude, f.Longitude, f.Accuracy, f.Timestamp)
			if err != nil {
				// a bad reading will not get better by asking again
				return Fix{}, backoff.Permanent(err)
			}
			return normalized, nil
		}
		if errors.Is(err, apperrors.ErrLocationUnavailable) {
			p.logger.Debug("location not available yet", "attempt", attempt)
			return Fix{}, err
		}
		return Fix{}, backoff.Permanent(err)
	}

	f, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&backoff.ConstantBackOff{Interval: p.retryInterval}),
		backoff.WithMaxTries(p.retryAttempts),
	)
	if err != nil {
		return Fix{}, classify(ctx, err)
	}
	return f, nil
}

func classify(ctx context.Context, err error) error {
	var locErr *apperrors.LocationError
	if errors.As(err, &locErr) {
		return locErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.NewLocationError(apperrors.LocationTimeout, apperrors.ErrLocationTimeout)
	case errors.Is(err, apperrors.ErrPermissionDenied):
		return apperrors.NewLocationError(apperrors.LocationPermissionDenied, err)
	case errors.Is(err, apperrors.ErrProviderDisabled):
		return apperrors.NewLocationError(apperrors.LocationProviderDisabled, err)
	default:
		return apperrors.NewLocationError(apperrors.LocationUnknown, err)
	}
}
