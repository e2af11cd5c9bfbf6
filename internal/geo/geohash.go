package geo

import (
	"github.com/mmcloughlin/geohash"
)

// DefaultPrecision is roughly a 38m x 19m cell, fine enough to share
// reverse-geocode results between nearby fixes.
const DefaultPrecision = 8

// Encode encodes a coordinate into a geohash of the given length.
func Encode(c Coordinate, precision uint) string {
	if precision == 0 {
		precision = DefaultPrecision
	}
	return geohash.EncodeWithPrecision(c.Latitude, c.Longitude, precision)
}

// GetNeighbors returns the 8 neighboring geohashes
func GetNeighbors(hash string) []string {
	if hash == "" {
		return nil
	}
	return geohash.Neighbors(hash)
}

// Decode returns the center of the geohash cell.
func Decode(hash string) Coordinate {
	lat, lng := geohash.DecodeCenter(hash)
	return Coordinate{Latitude: lat, Longitude: lng}
}
