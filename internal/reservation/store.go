// Package reservation persists per-user holds on variants.
package reservation

import (
	"context"
	"slices"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
)

// Filter narrows FindByUser. Zero value matches every hold of the user.
type Filter struct {
	ProductID   string
	Variant     *domain.VariantKey
	VisibleOnly bool
}

func (f Filter) match(r domain.Reservation) bool {
	if f.ProductID != "" && r.ProductID != f.ProductID {
		return false
	}
	if f.Variant != nil && r.VariantKey() != *f.Variant {
		return false
	}
	if f.VisibleOnly && r.Hidden {
		return false
	}
	return true
}

// Store holds at most one reservation per (product, size, color, user).
type Store interface {
	// Upsert inserts or replaces the hold and returns the one it replaced, if any.
	Upsert(ctx context.Context, r domain.Reservation) (*domain.Reservation, error)

	// Get returns the hold or domain.ErrReservationNotFound.
	Get(ctx context.Context, key domain.HoldKey) (*domain.Reservation, error)

	FindByUser(ctx context.Context, userID string, f Filter) ([]domain.Reservation, error)

	// FindByProduct returns every hold on any variant of the product, expired included.
	FindByProduct(ctx context.Context, productID string) ([]domain.Reservation, error)

	// Remove deletes the hold. Removing a missing hold reports false, not an error.
	Remove(ctx context.Context, key domain.HoldKey) (bool, error)

	// MarkHidden flags every hold of the user as hidden and returns how many changed.
	MarkHidden(ctx context.Context, userID string) (int, error)

	// Expired lists holds that are no longer valid at now.
	Expired(ctx context.Context, now time.Time) ([]domain.Reservation, error)
}

// IsValid reports whether r still counts against availability at now.
func IsValid(r domain.Reservation, now time.Time) bool {
	return r.IsValid(now)
}

// ReservedByOthers sums the valid holds on key that belong to users other than userID.
func ReservedByOthers(holds []domain.Reservation, key domain.VariantKey, userID string, now time.Time) int {
	total := 0
	for _, r := range holds {
		if r.VariantKey() == key && r.UserID != userID && r.IsValid(now) {
			total += r.Quantity
		}
	}
	return total
}

func sortHolds(holds []domain.Reservation) {
	slices.SortFunc(holds, func(a, b domain.Reservation) int {
		if c := a.VariantKey().Compare(b.VariantKey()); c != 0 {
			return c
		}
		if a.UserID < b.UserID {
			return -1
		}
		if a.UserID > b.UserID {
			return 1
		}
		return 0
	})
}
