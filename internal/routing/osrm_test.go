package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/geotrack/internal/geo"
	apperrors "github.com/askwhyharsh/geotrack/pkg/errors"
)

var (
	from = geo.Coordinate{Latitude: 12.9716, Longitude: 77.5946}
	to   = geo.Coordinate{Latitude: 12.9352, Longitude: 77.6245}
)

func TestRouteReversesCoordinates(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Equal(t, "full", r.URL.Query().Get("overview"))
		assert.Equal(t, "geojson", r.URL.Query().Get("geometries"))
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"distance":5400.2,"duration":720,
			"geometry":{"coordinates":[[77.5946,12.9716],[77.61,12.95],[77.6245,12.9352]]}}]}`))
	}))
	defer srv.Close()

	route, err := NewClient(srv.URL, time.Second).Route(context.Background(), from, to, Cycling)
	require.NoError(t, err)
	require.NotNil(t, route)

	assert.Equal(t, "/route/v1/cycling/77.594600,12.971600;77.624500,12.935200", path)
	require.Len(t, route.Path, 3)
	assert.Equal(t, geo.Coordinate{Latitude: 12.9716, Longitude: 77.5946}, route.Path[0])
	assert.Equal(t, [2]float64{12.95, 77.61}, route.LatLngs()[1])
	assert.Equal(t, 5400.2, route.Distance)
}

func TestRouteNoRouteIsNotAnError(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusBadRequest} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"code":"NoRoute","message":"Impossible route between points"}`))
		}))

		route, err := NewClient(srv.URL, time.Second).Route(context.Background(), from, to, Driving)
		assert.NoError(t, err)
		assert.Nil(t, route)
		srv.Close()
	}
}

func TestRouteServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Route(context.Background(), from, to, Driving)
	assert.Error(t, err)
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile("")
	require.NoError(t, err)
	assert.Equal(t, Driving, p)

	p, err = ParseProfile(" Walking ")
	require.NoError(t, err)
	assert.Equal(t, Walking, p)

	_, err = ParseProfile("boat")
	assert.ErrorIs(t, err, apperrors.ErrInvalidProfile)
}
