// Package polyline implements the encoded polyline format used by routing
// providers for path geometry: signed varint deltas in a base-64 alphabet
// offset by 63, five decimal digits of precision.
package polyline

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"trip-route-service/internal/domain"
)

const precision = 1e5

// ErrMalformedPolyline is returned for truncated input, bytes outside the
// alphabet, or points that decode outside the valid coordinate range.
var ErrMalformedPolyline = errors.New("malformed polyline")

// Decode converts an encoded polyline into an ordered list of points.
// An empty string decodes to an empty, non-nil slice.
func Decode(encoded string) ([]domain.GeoPoint, error) {
	points := make([]domain.GeoPoint, 0, len(encoded)/4)
	index, lat, lng := 0, 0, 0

	for index < len(encoded) {
		dLat, next, err := decodeValue(encoded, index)
		if err != nil {
			return nil, err
		}

		dLng, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		index = next

		lat += dLat
		lng += dLng
		p := domain.GeoPoint{
			Lat: float64(lat) / precision,
			Lng: float64(lng) / precision,
		}
		if !p.Valid() {
			return nil, fmt.Errorf("%w: point %d out of range (%.5f,%.5f)", ErrMalformedPolyline, len(points), p.Lat, p.Lng)
		}
		points = append(points, p)
	}

	return points, nil
}

// decodeValue reads one zig-zag encoded varint starting at index and returns
// the signed value plus the index of the next unread byte.
func decodeValue(encoded string, index int) (int, int, error) {
	result, shift := 0, 0
	for {
		if index >= len(encoded) {
			return 0, index, fmt.Errorf("%w: truncated value at offset %d", ErrMalformedPolyline, index)
		}
		b := int(encoded[index]) - 63
		if b < 0 || b > 0x3f {
			return 0, index, fmt.Errorf("%w: invalid byte %q at offset %d", ErrMalformedPolyline, encoded[index], index)
		}
		if shift > 30 {
			return 0, index, fmt.Errorf("%w: value overflow at offset %d", ErrMalformedPolyline, index)
		}
		index++

		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), index, nil
	}
	return result >> 1, index, nil
}

// Encode is the inverse of Decode. Coordinates are rounded to five decimals.
func Encode(points []domain.GeoPoint) string {
	var sb strings.Builder
	prevLat, prevLng := 0, 0

	for _, p := range points {
		lat := int(math.Round(p.Lat * precision))
		lng := int(math.Round(p.Lng * precision))

		encodeValue(&sb, lat-prevLat)
		encodeValue(&sb, lng-prevLng)

		prevLat, prevLng = lat, lng
	}

	return sb.String()
}

func encodeValue(sb *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = ^u
	}

	for u >= 0x20 {
		sb.WriteByte(byte((0x20 | (u & 0x1f)) + 63))
		u >>= 5
	}
	sb.WriteByte(byte(u + 63))
}
