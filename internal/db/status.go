package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wakeguard/companion/internal/models"
)

// MongoStatusCollection implements StatusCollection for MongoDB.
type MongoStatusCollection struct {
	Collection *mongo.Collection
}

// UpsertStatus writes the subject's status row in place. The update filter
// includes captured_at so that a stale sample completing its write after a
// newer one is a no-op; when no row exists yet a second guarded insert
// creates it. Requires the unique subject_id index (EnsureStatusIndexes).
func (c *MongoStatusCollection) UpsertStatus(ctx context.Context, status models.SubjectStatus) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}

	set := bson.M{
		"mode":             status.Mode,
		"last_lat":         status.LastLat,
		"last_lng":         status.LastLng,
		"last_location_at": status.LastLocationAt,
		"last_speed_mps":   status.LastSpeedMps,
		"last_heading_deg": status.LastHeadingDeg,
		"last_accuracy_m":  status.LastAccuracyM,
		"last_altitude_m":  status.LastAltitudeM,
		"captured_at":      status.CapturedAt,
		"updated_at":       status.UpdatedAt,
	}

	res, err := c.Collection.UpdateOne(ctx,
		bson.M{
			"subject_id":  status.SubjectID,
			"captured_at": bson.M{"$lt": status.CapturedAt},
		},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("updating status for %s: %w", status.SubjectID, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// Either the row does not exist yet or it already holds a newer sample.
	// $setOnInsert creates the former case and leaves the latter untouched.
	doc := set
	doc["subject_id"] = status.SubjectID
	_, err = c.Collection.UpdateOne(ctx,
		bson.M{"subject_id": status.SubjectID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("inserting status for %s: %w", status.SubjectID, err)
	}
	return nil
}

// SetMode flips only the mode field of the subject's row.
func (c *MongoStatusCollection) SetMode(ctx context.Context, subjectID string, mode models.Mode) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.UpdateOne(ctx,
		bson.M{"subject_id": subjectID},
		bson.M{"$set": bson.M{"mode": mode}},
	)
	if err != nil {
		return fmt.Errorf("setting mode for %s: %w", subjectID, err)
	}
	return nil
}

// FindStatus returns the status row for one subject, or nil when absent.
func (c *MongoStatusCollection) FindStatus(ctx context.Context, subjectID string) (*models.SubjectStatus, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	var status models.SubjectStatus
	err := c.Collection.FindOne(ctx, bson.M{"subject_id": subjectID}).Decode(&status)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &status, nil
}

// FindStatuses returns the status rows for the given subjects. Subjects with
// no row yet are simply absent from the result.
func (c *MongoStatusCollection) FindStatuses(ctx context.Context, subjectIDs []string) ([]models.SubjectStatus, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, bson.M{"subject_id": bson.M{"$in": subjectIDs}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var statuses []models.SubjectStatus
	if err := cursor.All(ctx, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}
