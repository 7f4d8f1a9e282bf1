package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/wakeguard/companion/internal/models"
)

// MongoLinkCollection implements LinkCollection for MongoDB.
type MongoLinkCollection struct {
	Collection *mongo.Collection
}

// AcceptedLinks returns the links that permit the observer to track subjects.
func (c *MongoLinkCollection) AcceptedLinks(ctx context.Context, observerID string) ([]models.Link, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, bson.M{
		"observer_id": observerID,
		"state":       models.LinkAccepted,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var links []models.Link
	if err := cursor.All(ctx, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// CountPending counts the observer's outstanding link requests without
// materializing rows.
func (c *MongoLinkCollection) CountPending(ctx context.Context, observerID string) (int64, error) {
	if c.Collection == nil {
		return 0, fmt.Errorf("mongo collection is nil")
	}
	return c.Collection.CountDocuments(ctx, bson.M{
		"observer_id": observerID,
		"state":       models.LinkPending,
	})
}
