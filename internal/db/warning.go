package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wakeguard/companion/internal/models"
)

// MongoWarningCollection implements WarningCollection for MongoDB.
type MongoWarningCollection struct {
	Collection *mongo.Collection
}

// InsertWarning appends a warning event. Warning rows are never updated in
// place apart from acknowledgement.
func (c *MongoWarningCollection) InsertWarning(ctx context.Context, warning models.WarningEvent) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	if warning.CreatedAt.IsZero() {
		warning.CreatedAt = time.Now()
	}
	_, err := c.Collection.InsertOne(ctx, warning)
	return err
}

// LatestWarnings returns the most recent warning per subject.
func (c *MongoWarningCollection) LatestWarnings(ctx context.Context, subjectIDs []string) (map[string]models.WarningEvent, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	if len(subjectIDs) == 0 {
		return map[string]models.WarningEvent{}, nil
	}

	cursor, err := c.Collection.Find(ctx,
		bson.M{"subject_id": bson.M{"$in": subjectIDs}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []models.WarningEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}

	latest := make(map[string]models.WarningEvent, len(subjectIDs))
	for _, ev := range events {
		if _, seen := latest[ev.SubjectID]; !seen {
			latest[ev.SubjectID] = ev
		}
	}
	return latest, nil
}

// CountUnacknowledged counts unread warnings across the given subjects
// without materializing rows.
func (c *MongoWarningCollection) CountUnacknowledged(ctx context.Context, subjectIDs []string) (int64, error) {
	if c.Collection == nil {
		return 0, fmt.Errorf("mongo collection is nil")
	}
	if len(subjectIDs) == 0 {
		return 0, nil
	}
	return c.Collection.CountDocuments(ctx, bson.M{
		"subject_id":   bson.M{"$in": subjectIDs},
		"acknowledged": false,
	})
}
