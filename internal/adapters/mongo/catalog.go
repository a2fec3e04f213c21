package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/bids"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogRepository is the venue directory consulted before a venue may
// bid.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("venues"),
		logger: logger,
	}
}

type VenueDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	City      string    `bson:"city"`
	Capacity  int       `bson:"capacity"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (c *CatalogRepository) Venue(ctx context.Context, id uuid.UUID) (bids.Venue, error) {
	var doc VenueDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return bids.Venue{}, errors.Wrapf(domain.ErrNotFound, "venue %s", id)
	}
	if err != nil {
		c.logger.WithField("venue_id", id).Error("failed to get venue", err)
		return bids.Venue{}, err
	}
	return bids.Venue{ID: id, Name: doc.Name, City: doc.City, Active: doc.Active}, nil
}

// UpsertVenue creates or replaces a directory entry.
func (c *CatalogRepository) UpsertVenue(ctx context.Context, v bids.Venue, capacity int) error {
	now := time.Now()
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": v.ID.String()},
		bson.M{
			"$set": bson.M{
				"name":       v.Name,
				"city":       v.City,
				"capacity":   capacity,
				"active":     v.Active,
				"updated_at": now,
			},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		c.logger.WithField("venue_id", v.ID).Error("failed to upsert venue", err)
		return err
	}
	return nil
}

func (c *CatalogRepository) SetVenueActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := c.coll.UpdateOne(
		ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"active": active, "updated_at": time.Now()}},
	)
	if err != nil {
		c.logger.WithField("venue_id", id).Error("failed to update venue", err)
		return err
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(domain.ErrNotFound, "venue %s", id)
	}
	return nil
}
