package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const reservationsCollection = "reservations"

// expiredRetention keeps expired holds around long enough for the sweeper to
// log them before MongoDB's TTL monitor deletes them.
const expiredRetention = time.Hour

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(reservationsCollection)}
}

func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "product_id", Value: 1},
				{Key: "us_size", Value: 1},
				{Key: "color", Value: 1},
				{Key: "user_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(expiredRetention.Seconds())),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create reservation indexes: %w", err)
	}
	return nil
}

func holdFilter(key domain.HoldKey) bson.M {
	return bson.M{
		"product_id": key.ProductID,
		"us_size":    key.USSize,
		"color":      key.Color,
		"user_id":    key.UserID,
	}
}

func (m *MongoStore) Upsert(ctx context.Context, r domain.Reservation) (*domain.Reservation, error) {
	r.CreatedAt = r.CreatedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()

	opts := options.FindOneAndReplace().
		SetUpsert(true).
		SetReturnDocument(options.Before)

	var prev domain.Reservation
	err := m.collection.FindOneAndReplace(ctx, holdFilter(r.Key()), r, opts).Decode(&prev)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to upsert reservation: %w", err)
	}
	return &prev, nil
}

func (m *MongoStore) Get(ctx context.Context, key domain.HoldKey) (*domain.Reservation, error) {
	var r domain.Reservation
	err := m.collection.FindOne(ctx, holdFilter(key)).Decode(&r)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &r, nil
}

func (m *MongoStore) FindByUser(ctx context.Context, userID string, f Filter) ([]domain.Reservation, error) {
	filter := bson.M{"user_id": userID}
	if f.ProductID != "" {
		filter["product_id"] = f.ProductID
	}
	if f.Variant != nil {
		filter["product_id"] = f.Variant.ProductID
		filter["us_size"] = f.Variant.USSize
		filter["color"] = f.Variant.Color
	}
	if f.VisibleOnly {
		filter["hidden"] = false
	}
	return m.find(ctx, filter)
}

func (m *MongoStore) FindByProduct(ctx context.Context, productID string) ([]domain.Reservation, error) {
	return m.find(ctx, bson.M{"product_id": productID})
}

func (m *MongoStore) Remove(ctx context.Context, key domain.HoldKey) (bool, error) {
	result, err := m.collection.DeleteOne(ctx, holdFilter(key))
	if err != nil {
		return false, fmt.Errorf("failed to remove reservation: %w", err)
	}
	return result.DeletedCount > 0, nil
}

func (m *MongoStore) MarkHidden(ctx context.Context, userID string) (int, error) {
	filter := bson.M{"user_id": userID, "hidden": false}
	update := bson.M{"$set": bson.M{"hidden": true}}

	result, err := m.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to hide reservations: %w", err)
	}
	return int(result.ModifiedCount), nil
}

func (m *MongoStore) Expired(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	return m.find(ctx, bson.M{"expires_at": bson.M{"$lte": now.UTC()}})
}

func (m *MongoStore) find(ctx context.Context, filter bson.M) ([]domain.Reservation, error) {
	cursor, err := m.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find reservations: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.Reservation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode reservations: %w", err)
	}
	sortHolds(out)
	return out, nil
}
