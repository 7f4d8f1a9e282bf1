package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LinkState is the lifecycle state of a subject/observer relationship.
type LinkState string

const (
	LinkPending   LinkState = "pending"
	LinkAccepted  LinkState = "accepted"
	LinkDeclined  LinkState = "declined"
	LinkCancelled LinkState = "cancelled"
)

// Link connects an observer to a subject it may track. The request/approval
// flow owns the lifecycle; this subsystem only reads accepted links to build
// the tracked set and counts pending ones for the badge.
type Link struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SubjectID  string             `bson:"subject_id" json:"subject_id"`
	ObserverID string             `bson:"observer_id" json:"observer_id"`
	State      LinkState          `bson:"state" json:"state"`
	CreatedAt  time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at" json:"updated_at"`
}
