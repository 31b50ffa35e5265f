package domain

import "time"

// HoldKey identifies the single hold a user may have on a variant.
type HoldKey struct {
	VariantKey
	UserID string `json:"user_id" bson:"user_id"`
}

// Reservation is a temporary hold of units of a variant for one user during checkout.
// The ledger is untouched while a reservation exists; stock moves only on commit.
type Reservation struct {
	ProductID string    `json:"product_id" bson:"product_id"`
	USSize    string    `json:"us_size" bson:"us_size"`
	Color     string    `json:"color" bson:"color"`
	UserID    string    `json:"user_id" bson:"user_id"`
	Quantity  int       `json:"quantity" bson:"quantity"`
	Hidden    bool      `json:"hidden" bson:"hidden"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
}

// NewReservation creates a hold that expires ttl after now.
func NewReservation(key VariantKey, userID string, quantity int, now time.Time, ttl time.Duration) Reservation {
	return Reservation{
		ProductID: key.ProductID,
		USSize:    key.USSize,
		Color:     key.Color,
		UserID:    userID,
		Quantity:  quantity,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func (r Reservation) VariantKey() VariantKey {
	return VariantKey{ProductID: r.ProductID, USSize: r.USSize, Color: r.Color}
}

func (r Reservation) Key() HoldKey {
	return HoldKey{VariantKey: r.VariantKey(), UserID: r.UserID}
}

// IsValid reports whether the hold still counts against availability at now.
func (r Reservation) IsValid(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}
