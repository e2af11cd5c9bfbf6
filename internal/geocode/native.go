package geocode

import (
	"context"

	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
)

const nativeName = "native"

// NativeGeocoder is the on-device geocoding capability of the native module.
type NativeGeocoder interface {
	Available() bool
	GetAddressFromCoordinates(ctx context.Context, lat, lng float64) (*AddressDetails, error)
}

type NativeProvider struct {
	module NativeGeocoder
}

func NewNativeProvider(module NativeGeocoder) *NativeProvider {
	return &NativeProvider{module: module}
}

func (p *NativeProvider) Name() string {
	return nativeName
}

// Available reports whether the privileged provider can be used on this device.
func (p *NativeProvider) Available() bool {
	return p.module != nil && p.module.Available()
}

func (p *NativeProvider) Resolve(ctx context.Context, lat, lng float64) (*AddressDetails, error) {
	addr, err := p.module.GetAddressFromCoordinates(ctx, lat, lng)
	if err != nil {
		reason := apperrors.GeocodeProviderUnavailable
		if apperrors.IsNetworkError(err) {
			reason = apperrors.GeocodeNetworkError
		}
		return nil, apperrors.NewGeocodeError(nativeName, reason, err)
	}
	return addr, nil
}
