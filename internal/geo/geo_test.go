package geo

import (
	"math"
	"testing"
	"time"
)

func TestDistanceMeters_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		lat1      float64
		lng1      float64
		lat2      float64
		lng2      float64
		wantM     float64
		tolerance float64
	}{
		{
			name: "same point",
			lat1: 25.033, lng1: 121.565,
			lat2: 25.033, lng2: 121.565,
			wantM:     0,
			tolerance: 1,
		},
		{
			name: "one degree of latitude (~111km)",
			lat1: 0, lng1: 0,
			lat2: 1, lng2: 0,
			wantM:     111195,
			tolerance: 100,
		},
		{
			name: "New York to Los Angeles (~3944km)",
			lat1: 40.7128, lng1: -74.0060,
			lat2: 34.0522, lng2: -118.2437,
			wantM:     3944000,
			tolerance: 50000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.wantM) > tt.tolerance {
				t.Errorf("DistanceMeters() = %f, want %f (±%f)", got, tt.wantM, tt.tolerance)
			}
		})
	}
}

func TestDistanceMeters_Symmetry(t *testing.T) {
	d1 := DistanceMeters(25.0, 121.0, 26.0, 122.0)
	d2 := DistanceMeters(26.0, 122.0, 25.0, 121.0)
	if math.Abs(d1-d2) > 0.0001 {
		t.Errorf("distance is not symmetric: %f vs %f", d1, d2)
	}
}

func TestFallbackSpeedMps_TenMetersPerSecond(t *testing.T) {
	// Two points ~100 m apart along a meridian, 10 s apart.
	start := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	const dLat = 100.0 / 111195.0

	v := FallbackSpeedMps(0, 0, start, dLat, 0, start.Add(10*time.Second))
	if v == nil {
		t.Fatal("expected a speed, got nil")
	}
	if math.Abs(*v-10.0) > 0.1 {
		t.Errorf("FallbackSpeedMps() = %f, want ~10.0", *v)
	}
}

func TestFallbackSpeedMps_DegenerateElapsed(t *testing.T) {
	at := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	if v := FallbackSpeedMps(0, 0, at, 1, 1, at); v != nil {
		t.Errorf("zero elapsed: expected nil, got %f", *v)
	}
	if v := FallbackSpeedMps(0, 0, at, 1, 1, at.Add(-time.Second)); v != nil {
		t.Errorf("negative elapsed: expected nil, got %f", *v)
	}
}

func TestFallbackSpeedMps_StationaryIsZero(t *testing.T) {
	at := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	v := FallbackSpeedMps(51.5, -0.12, at, 51.5, -0.12, at.Add(5*time.Second))
	if v == nil {
		t.Fatal("expected a speed, got nil")
	}
	if *v != 0 {
		t.Errorf("stationary speed = %f, want 0", *v)
	}
}
