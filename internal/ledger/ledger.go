// Package ledger holds the authoritative per-variant stock quantities.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
)

// Ledger is the variant stock ledger. Reservations never touch it; only commit
// (Deduct) and compensation (Restore) change quantities.
type Ledger interface {
	// GetVariant returns the variant or ErrProductNotFound / ErrVariantNotFound.
	GetVariant(ctx context.Context, key domain.VariantKey) (domain.Variant, error)

	// GetProduct returns the product with all its variants.
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	// PutProduct replaces the stock of a product (catalog sync).
	PutProduct(ctx context.Context, product domain.Product) error

	// Deduct atomically decrements a variant, failing with an
	// *domain.InsufficientStockError when quantity is short.
	Deduct(ctx context.Context, key domain.VariantKey, qty int) error

	// Restore atomically increments a variant. Only operator reconciliation
	// calls it; a committed deduction is never undone automatically.
	Restore(ctx context.Context, key domain.VariantKey, qty int) error
}

// DepletionPolicy decides what happens to a variant that reaches zero.
type DepletionPolicy string

const (
	// KeepDepleted leaves the variant in the catalog as out of stock.
	KeepDepleted DepletionPolicy = "keep"
	// PruneDepleted removes the variant, and the product once it has no variants.
	PruneDepleted DepletionPolicy = "prune"
)

func ParseDepletionPolicy(raw string) (DepletionPolicy, error) {
	switch DepletionPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KeepDepleted:
		return KeepDepleted, nil
	case PruneDepleted:
		return PruneDepleted, nil
	default:
		return "", fmt.Errorf("unknown depletion policy %q", raw)
	}
}

// NormalizeProduct canonicalizes every variant key of a product and rejects
// duplicates and negative quantities.
func NormalizeProduct(p domain.Product, now time.Time) (domain.Product, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return domain.Product{}, domain.InvalidInputf("product id is required")
	}
	seen := make(map[domain.VariantKey]bool, len(p.Variants))
	variants := make([]domain.Variant, 0, len(p.Variants))
	for _, v := range p.Variants {
		key, err := domain.NormalizeVariantKey(p.ID, v.USSize, v.Color)
		if err != nil {
			return domain.Product{}, err
		}
		if v.Quantity < 0 {
			return domain.Product{}, domain.InvalidInputf("variant %s: quantity must not be negative", key)
		}
		if seen[key] {
			return domain.Product{}, domain.InvalidInputf("variant %s listed twice", key)
		}
		seen[key] = true
		variants = append(variants, domain.Variant{
			ProductID: p.ID,
			USSize:    key.USSize,
			Color:     key.Color,
			Quantity:  v.Quantity,
		})
	}
	p.Variants = variants
	p.UpdatedAt = now
	return p, nil
}

func validateQty(qty int) error {
	if qty <= 0 {
		return domain.InvalidInputf("quantity must be greater than 0, got %d", qty)
	}
	return nil
}
