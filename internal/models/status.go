package models

import "time"

// Mode declares what a subject is currently doing. Only driving subjects are
// evaluated for liveness.
type Mode string

const (
	ModeDriver  Mode = "driver"
	ModeContact Mode = "contact"
)

// SubjectStatus is the single mutable row per tracked subject, upserted in
// place by that subject's own telemetry publisher and only ever read by
// observers. There is at most one row per subject.
//
// LastLocationAt is the wall clock at publish acceptance, not the sensor
// capture time: observers key staleness off publication recency so that a
// skewed sensor clock cannot make a subject look stale. CapturedAt carries
// the sensor time and backs the monotonicity guard on upsert.
type SubjectStatus struct {
	SubjectID      string    `bson:"subject_id" json:"subject_id"`
	Mode           Mode      `bson:"mode" json:"mode"`
	LastLat        float64   `bson:"last_lat" json:"last_lat"`
	LastLng        float64   `bson:"last_lng" json:"last_lng"`
	LastLocationAt time.Time `bson:"last_location_at" json:"last_location_at"`
	LastSpeedMps   *float64  `bson:"last_speed_mps,omitempty" json:"last_speed_mps,omitempty"`
	LastHeadingDeg *float64  `bson:"last_heading_deg,omitempty" json:"last_heading_deg,omitempty"`
	LastAccuracyM  *float64  `bson:"last_accuracy_m,omitempty" json:"last_accuracy_m,omitempty"`
	LastAltitudeM  *float64  `bson:"last_altitude_m,omitempty" json:"last_altitude_m,omitempty"`
	CapturedAt     time.Time `bson:"captured_at" json:"captured_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

// StatusPatch is a partial subject-status update as carried by a realtime
// change event. Nil fields were absent from the event and must leave the
// existing projection untouched.
type StatusPatch struct {
	Mode           *Mode      `json:"mode,omitempty"`
	LastLat        *float64   `json:"last_lat,omitempty"`
	LastLng        *float64   `json:"last_lng,omitempty"`
	LastLocationAt *time.Time `json:"last_location_at,omitempty"`
	LastSpeedMps   *float64   `json:"last_speed_mps,omitempty"`
	LastHeadingDeg *float64   `json:"last_heading_deg,omitempty"`
}
