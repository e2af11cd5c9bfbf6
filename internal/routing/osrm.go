package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/askwhyharsh/geotrack/internal/geo"
	"github.com/askwhyharsh/geotrack/internal/observability"
	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
)

type Profile string

const (
	Driving Profile = "driving"
	Cycling Profile = "cycling"
	Walking Profile = "walking"
)

// ParseProfile maps a profile name to a Profile. The empty string is Driving.
func ParseProfile(s string) (Profile, error) {
	switch Profile(strings.ToLower(strings.TrimSpace(s))) {
	case "", Driving:
		return Driving, nil
	case Cycling:
		return Cycling, nil
	case Walking:
		return Walking, nil
	}
	return "", apperrors.ErrInvalidProfile
}

// Route is a computed path in [lat, lng] order.
type Route struct {
	Path     []geo.Coordinate
	Distance float64 // meters
	Duration float64 // seconds
}

// LatLngs returns the path as [lat, lng] pairs, the order map libraries expect.
func (r *Route) LatLngs() [][2]float64 {
	out := make([][2]float64, len(r.Path))
	for i, c := range r.Path {
		out[i] = [2]float64{c.Latitude, c.Longitude}
	}
	return out
}

// OSRM response format
type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// Client talks to an OSRM compatible routing service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Route fetches a route between two points. A response whose code is not
// "Ok" (NoRoute, NoSegment...) returns a nil route and a nil error.
func (c *Client) Route(ctx context.Context, from, to geo.Coordinate, profile Profile) (route *Route, err error) {
	ctx, span := observability.StartClientSpan(ctx, "osrm.route",
		attribute.String("route.profile", string(profile)),
	)
	defer func() { observability.EndSpan(span, err) }()

	url := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		c.baseURL, profile, from.Longitude, from.Latitude, to.Longitude, to.Latitude)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()

	var parsed osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("OSRM returned %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("JSON decode failed: %w", err)
	}

	// OSRM answers NoRoute with a 400 and a JSON body
	if parsed.Code != "" && parsed.Code != "Ok" {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OSRM returned %d", resp.StatusCode)
	}
	if len(parsed.Routes) == 0 {
		return nil, nil
	}

	r := parsed.Routes[0]
	path := make([]geo.Coordinate, 0, len(r.Geometry.Coordinates))
	for _, pair := range r.Geometry.Coordinates {
		if len(pair) < 2 {
			continue
		}
		path = append(path, geo.Coordinate{Latitude: pair[1], Longitude: pair[0]})
	}

	return &Route{Path: path, Distance: r.Distance, Duration: r.Duration}, nil
}
