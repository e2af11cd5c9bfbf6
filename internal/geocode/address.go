package geocode

import (
	"context"
	"strings"
	"time"
)

// AddressDetails is a best-effort postal address. Any field may be empty.
type AddressDetails struct {
	Pincode     string `json:"pincode,omitempty"`
	State       string `json:"state,omitempty"`
	City        string `json:"city,omitempty"`
	Place       string `json:"place,omitempty"`
	Formatted   string `json:"formatted,omitempty"`
	PlaceID     string `json:"placeId,omitempty"`
	Road        string `json:"road,omitempty"`
	HouseNumber string `json:"houseNumber,omitempty"`
	Suburb      string `json:"suburb,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
}

// Summary joins city, state and country, the short form shown under a map pin.
func (a *AddressDetails) Summary() string {
	if a == nil {
		return ""
	}
	var parts []string
	for _, p := range []string{a.City, a.State, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Provider resolves a coordinate to an address.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, lat, lng float64) (*AddressDetails, error)
}

// Limiter gates outbound requests to public providers.
type Limiter interface {
	AllowGeocode(ctx context.Context, key string) (bool, error)
}

// Observer receives one sample per resolve attempt.
type Observer interface {
	ObserveGeocode(provider, result string, took time.Duration)
}
