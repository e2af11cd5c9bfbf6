package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/askwhyharsh/geotrack/internal/observability"
	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
)

const (
	nominatimName    = "nominatim"
	DefaultUserAgent = "geotrack/1.0"
)

type nominatimResponse struct {
	PlaceID     json.Number `json:"place_id"`
	DisplayName string      `json:"display_name"`
	Error       string      `json:"error"`
	Address     struct {
		HouseNumber   string `json:"house_number"`
		Road          string `json:"road"`
		Neighbourhood string `json:"neighbourhood"`
		Suburb        string `json:"suburb"`
		City          string `json:"city"`
		Town          string `json:"town"`
		Village       string `json:"village"`
		State         string `json:"state"`
		Postcode      string `json:"postcode"`
		Country       string `json:"country"`
		CountryCode   string `json:"country_code"`
	} `json:"address"`
}

// NominatimProvider calls an OpenStreetMap Nominatim compatible reverse
// endpoint.
type NominatimProvider struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   Limiter
}

type NominatimOption func(*NominatimProvider)

func WithHTTPClient(c *http.Client) NominatimOption {
	return func(p *NominatimProvider) { p.client = c }
}

func WithLimiter(l Limiter) NominatimOption {
	return func(p *NominatimProvider) { p.limiter = l }
}

func NewNominatimProvider(baseURL, userAgent string, timeout time.Duration, opts ...NominatimOption) *NominatimProvider {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	p := &NominatimProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *NominatimProvider) Name() string {
	return nominatimName
}

func (p *NominatimProvider) Resolve(ctx context.Context, lat, lng float64) (addr *AddressDetails, err error) {
	ctx, span := observability.StartClientSpan(ctx, "nominatim.reverse",
		attribute.Float64("geo.lat", lat),
		attribute.Float64("geo.lng", lng),
	)
	defer func() { observability.EndSpan(span, err) }()

	if p.limiter != nil {
		allowed, lerr := p.limiter.AllowGeocode(ctx, nominatimName)
		if lerr == nil && !allowed {
			return nil, apperrors.NewGeocodeError(nominatimName, apperrors.GeocodeRateLimited, apperrors.ErrRateLimitExceeded)
		}
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("zoom", "18")
	q.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return nil, apperrors.NewGeocodeError(nominatimName, apperrors.GeocodeProviderUnavailable, err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperrors.NewGeocodeError(nominatimName, apperrors.GeocodeNetworkError, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.NewGeocodeError(nominatimName, apperrors.GeocodeRateLimited,
			fmt.Errorf("nominatim returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.NewGeocodeError(nominatimName, apperrors.GeocodeProviderUnavailable,
			fmt.Errorf("nominatim returned %d", resp.StatusCode))
	}

	var parsed nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		if apperrors.IsNetworkError(err) {
			return nil, apperrors.NewGeocodeError(nominatimName, apperrors.GeocodeNetworkError, err)
		}
		return nil, apperrors.NewGeocodeError(nominatimName, apperrors.GeocodeProviderUnavailable,
			fmt.Errorf("JSON decode failed: %w", err))
	}
	if parsed.Error != "" {
		return nil, apperrors.NewGeocodeError(nominatimName, apperrors.GeocodeProviderUnavailable,
			fmt.Errorf("nominatim: %s", parsed.Error))
	}

	return parsed.toAddress(), nil
}

func (r *nominatimResponse) toAddress() *AddressDetails {
	a := r.Address
	return &AddressDetails{
		Formatted:   r.DisplayName,
		PlaceID:     r.PlaceID.String(),
		HouseNumber: a.HouseNumber,
		Road:        a.Road,
		Place:       firstNonEmpty(a.Neighbourhood, a.Suburb),
		Suburb:      a.Suburb,
		City:        firstNonEmpty(a.City, a.Town, a.Village),
		State:       a.State,
		Pincode:     a.Postcode,
		Country:     a.Country,
		CountryCode: strings.ToUpper(a.CountryCode),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
