// Package geo contains pure geographic computation helpers.
package geo

import (
	"math"
	"time"
)

const earthRadiusM = 6371000.0

// DistanceMeters returns the great-circle distance in meters between two
// points specified in decimal degrees, using the haversine formula on a
// spherical-earth approximation. Inputs must be finite degrees in valid
// ranges; callers validate before calling.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// FallbackSpeedMps derives speed in m/s from two consecutive positions when
// the sensor did not report one. Returns nil rather than erroring on any
// degenerate input: zero or negative elapsed time yields nil, never a
// division by zero.
func FallbackSpeedMps(prevLat, prevLng float64, prevAt time.Time, lat, lng float64, at time.Time) *float64 {
	elapsed := at.Sub(prevAt).Seconds()
	if elapsed <= 0 {
		return nil
	}
	v := DistanceMeters(prevLat, prevLng, lat, lng) / elapsed
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
