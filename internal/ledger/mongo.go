package ledger

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

const productsCollection = "products"

// MongoLedger stores one document per product with its variants embedded.
// Deduct is a single conditional update, so quantity never goes below zero
// even if two processes race on the same variant.
type MongoLedger struct {
	collection *mongo.Collection
	policy     DepletionPolicy
}

func NewMongoLedger(db *mongo.Database, policy DepletionPolicy) *MongoLedger {
	return &MongoLedger{
		collection: db.Collection(productsCollection),
		policy:     policy,
	}
}

func (m *MongoLedger) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "variants.us_size", Value: 1}, {Key: "variants.color", Value: 1}}},
	}
	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create product indexes: %w", err)
	}
	return nil
}

func (m *MongoLedger) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := m.collection.FindOne(ctx, bson.M{"_id": productID}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	for i := range p.Variants {
		p.Variants[i].ProductID = p.ID
	}
	return &p, nil
}

func (m *MongoLedger) GetVariant(ctx context.Context, key domain.VariantKey) (domain.Variant, error) {
	p, err := m.GetProduct(ctx, key.ProductID)
	if err != nil {
		return domain.Variant{}, err
	}
	v, ok := p.Variant(key.USSize, key.Color)
	if !ok {
		return domain.Variant{}, domain.ErrVariantNotFound
	}
	return v, nil
}

func (m *MongoLedger) PutProduct(ctx context.Context, product domain.Product) error {
	p, err := NormalizeProduct(product, time.Now().UTC())
	if err != nil {
		return err
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"_id": p.ID}, p, opts); err != nil {
		return fmt.Errorf("failed to put product: %w", err)
	}
	return nil
}

func (m *MongoLedger) Deduct(ctx context.Context, key domain.VariantKey, qty int) error {
	if err := validateQty(qty); err != nil {
		return err
	}

	filter := bson.M{
		"_id": key.ProductID,
		"variants": bson.M{"$elemMatch": bson.M{
			"us_size":  key.USSize,
			"color":    key.Color,
			"quantity": bson.M{"$gte": qty},
		}},
	}
	update := bson.M{
		"$inc": bson.M{"variants.$.quantity": -qty},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to deduct stock: %w", err)
	}
	if result.MatchedCount == 0 {
		// Either the variant is gone or it is short; find out which.
		v, err := m.GetVariant(ctx, key)
		if err != nil {
			return err
		}
		return &domain.InsufficientStockError{Key: key, Requested: qty, Available: v.Quantity}
	}

	if m.policy == PruneDepleted {
		return m.prune(ctx, key)
	}
	return nil
}

func (m *MongoLedger) prune(ctx context.Context, key domain.VariantKey) error {
	pull := bson.M{"$pull": bson.M{"variants": bson.M{
		"us_size":  key.USSize,
		"color":    key.Color,
		"quantity": bson.M{"$lte": 0},
	}}}
	if _, err := m.collection.UpdateOne(ctx, bson.M{"_id": key.ProductID}, pull); err != nil {
		return fmt.Errorf("failed to prune depleted variant: %w", err)
	}

	empty := bson.M{"_id": key.ProductID, "variants": bson.M{"$size": 0}}
	if _, err := m.collection.DeleteOne(ctx, empty); err != nil {
		return fmt.Errorf("failed to prune depleted product: %w", err)
	}
	return nil
}

func (m *MongoLedger) Restore(ctx context.Context, key domain.VariantKey, qty int) error {
	if err := validateQty(qty); err != nil {
		return err
	}

	filter := bson.M{
		"_id": key.ProductID,
		"variants": bson.M{"$elemMatch": bson.M{
			"us_size": key.USSize,
			"color":   key.Color,
		}},
	}
	update := bson.M{
		"$inc": bson.M{"variants.$.quantity": qty},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to restore stock: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, err := m.GetProduct(ctx, key.ProductID); err != nil {
			return err
		}
		return domain.ErrVariantNotFound
	}
	return nil
}
