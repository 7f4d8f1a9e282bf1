package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Warning levels reported by the drowsiness monitor hardware.
const (
	WarningLevelNotice   = 1
	WarningLevelDrowsy   = 2
	WarningLevelCritical = 3
)

// WarningEvent is an append-only alert emitted by the on-vehicle monitor.
// Rows are immutable once created, apart from the acknowledged flag which
// backs the observer's unread badge.
type WarningEvent struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SubjectID    string             `bson:"subject_id" json:"subject_id"`
	Level        int                `bson:"level" json:"level"` // 1..3
	MonitorType  string             `bson:"monitor_type" json:"monitor_type"`
	LocationText string             `bson:"location_text" json:"location_text"`
	SnapshotRef  string             `bson:"snapshot_ref,omitempty" json:"snapshot_ref,omitempty"`
	Meta         map[string]string  `bson:"meta,omitempty" json:"meta,omitempty"`
	Acknowledged bool               `bson:"acknowledged" json:"acknowledged"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}
