package domain

import (
	"slices"
	"strings"
)

// MaxLineQuantity caps the quantity of one variant in a cart, after merging.
const MaxLineQuantity = 10000

// CartLine is one requested variant and quantity. Name and UnitPrice are opaque
// metadata round-tripped through the payment provider into the order.
type CartLine struct {
	ProductID string  `json:"product_id"`
	USSize    Size    `json:"us_size"`
	Color     string  `json:"color"`
	Quantity  int     `json:"quantity"`
	Name      string  `json:"name,omitempty"`
	UnitPrice float64 `json:"unit_price,omitempty"`
}

func (l CartLine) Key() VariantKey {
	return VariantKey{ProductID: l.ProductID, USSize: string(l.USSize), Color: l.Color}
}

// NormalizeCart validates every line, canonicalizes its key and merges lines that
// target the same variant. The result is sorted by variant key.
func NormalizeCart(lines []CartLine, requireQuantity bool) ([]CartLine, error) {
	if len(lines) == 0 {
		return nil, InvalidInputf("cart has no items")
	}
	merged := make(map[VariantKey]CartLine, len(lines))
	for i, line := range lines {
		key, err := NormalizeVariantKey(line.ProductID, string(line.USSize), line.Color)
		if err != nil {
			return nil, err
		}
		if requireQuantity && line.Quantity <= 0 {
			return nil, InvalidInputf("item %d: quantity must be greater than 0", i)
		}
		if line.Quantity < 0 {
			return nil, InvalidInputf("item %d: quantity must not be negative", i)
		}
		if line.Quantity > MaxLineQuantity {
			return nil, InvalidInputf("item %d: quantity must not exceed %d", i, MaxLineQuantity)
		}
		existing, ok := merged[key]
		if !ok {
			line.ProductID = key.ProductID
			line.USSize = Size(key.USSize)
			line.Color = key.Color
			merged[key] = line
			continue
		}
		if line.Quantity > MaxLineQuantity-existing.Quantity {
			return nil, InvalidInputf("variant %s: merged quantity must not exceed %d", key, MaxLineQuantity)
		}
		existing.Quantity += line.Quantity
		if existing.Name == "" {
			existing.Name = line.Name
		}
		merged[key] = existing
	}

	out := make([]CartLine, 0, len(merged))
	for _, line := range merged {
		out = append(out, line)
	}
	slices.SortFunc(out, func(a, b CartLine) int {
		return a.Key().Compare(b.Key())
	})
	return out, nil
}

// ValidateUserID rejects a missing user id.
func ValidateUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", InvalidInputf("user_id is required")
	}
	return userID, nil
}
