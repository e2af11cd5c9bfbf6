package geo

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000.0 // Earth's radius in meters

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// Distance returns the great-circle distance to other in meters.
func (c Coordinate) Distance(other Coordinate) float64 {
	return HaversineDistance(c.Latitude, c.Longitude, other.Latitude, other.Longitude)
}

// HaversineDistance calculates the distance between two points on Earth in meters
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	// Convert to radians
	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	deltaLat := toRadians(lat2 - lat1)
	deltaLon := toRadians(lon2 - lon1)

	// Haversine formula
	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// RoundToNearest50 rounds distance to the nearest 50 meters
func RoundToNearest50(distance float64) int {
	return int(math.Round(distance/50.0) * 50)
}

// FormatDistance returns a short display string such as "~350m" or "~1.2km"
func FormatDistance(distance float64) string {
	rounded := RoundToNearest50(distance)
	if rounded < 1000 {
		return fmt.Sprintf("~%dm", rounded)
	}
	return fmt.Sprintf("~%.1fkm", float64(rounded)/1000.0)
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}
