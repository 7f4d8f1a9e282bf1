package models

import (
	"math"
	"time"
)

// PositionSample is one raw reading from the device location sensor.
// Samples are transient: they are consumed immediately by the telemetry
// publisher and never persisted as-is.
type PositionSample struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	SpeedMps   *float64  `json:"speed_mps,omitempty"`
	HeadingDeg *float64  `json:"heading_deg,omitempty"`
	AccuracyM  *float64  `json:"accuracy_m,omitempty"`
	AltitudeM  *float64  `json:"altitude_m,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Sanitize coerces every non-finite optional field to nil so NaN or Inf
// from the sensor can never reach storage. Applied once at the ingestion
// boundary; consumers may assume present fields are finite.
func (s PositionSample) Sanitize() PositionSample {
	s.SpeedMps = finiteOrNil(s.SpeedMps)
	s.HeadingDeg = finiteOrNil(s.HeadingDeg)
	s.AccuracyM = finiteOrNil(s.AccuracyM)
	s.AltitudeM = finiteOrNil(s.AltitudeM)
	return s
}

// HasValidCoordinates reports whether latitude and longitude are finite and
// inside the valid degree ranges.
func (s PositionSample) HasValidCoordinates() bool {
	return isFinite(s.Latitude) && isFinite(s.Longitude) &&
		s.Latitude >= -90 && s.Latitude <= 90 &&
		s.Longitude >= -180 && s.Longitude <= 180
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finiteOrNil(v *float64) *float64 {
	if v == nil || !isFinite(*v) {
		return nil
	}
	return v
}
