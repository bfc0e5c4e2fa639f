package domain

import (
	"math"
	"strconv"
)

// Immutable geographic point (latitude, longitude) in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies inside the WGS84 coordinate ranges.
func (p GeoPoint) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) &&
		p.Lat >= -90 && p.Lat <= 90 &&
		p.Lng >= -180 && p.Lng <= 180
}

// keyPart formats the point as "lat,lng" with fixed precision.
// Repeats of the same logical point that differ only past the sixth
// decimal collapse to the same string.
func (p GeoPoint) keyPart() string {
	return formatCoord(p.Lat) + "," + formatCoord(p.Lng)
}

func formatCoord(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	if s == "-0.000000" {
		return "0.000000"
	}
	return s
}
