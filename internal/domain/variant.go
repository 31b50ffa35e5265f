package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

var clothSizes = []string{"XXS", "XS", "S", "M", "L", "XL", "XXL"}

var availableColors = []string{
	"negro", "blanco", "gris", "azul", "rojo", "amarillo",
	"verde", "violeta", "naranja", "rosa", "celeste",
}

// VariantKey identifies a sellable (size, color) combination of a product.
type VariantKey struct {
	ProductID string `json:"product_id" bson:"product_id"`
	USSize    string `json:"us_size" bson:"us_size"`
	Color     string `json:"color" bson:"color"`
}

func (k VariantKey) String() string {
	return k.ProductID + "/" + k.USSize + "/" + k.Color
}

// Compare orders keys by product, then size, then color.
func (k VariantKey) Compare(other VariantKey) int {
	if c := strings.Compare(k.ProductID, other.ProductID); c != 0 {
		return c
	}
	if c := strings.Compare(k.USSize, other.USSize); c != 0 {
		return c
	}
	return strings.Compare(k.Color, other.Color)
}

// Variant is the authoritative available-to-sell quantity of one VariantKey.
type Variant struct {
	ProductID string `json:"product_id" bson:"-"`
	USSize    string `json:"us_size" bson:"us_size"`
	Color     string `json:"color" bson:"color"`
	Quantity  int    `json:"quantity" bson:"quantity"`
}

func (v Variant) Key() VariantKey {
	return VariantKey{ProductID: v.ProductID, USSize: v.USSize, Color: v.Color}
}

// Product groups the variants of one catalog entry.
type Product struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Variants  []Variant `json:"variants" bson:"variants"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Variant returns the variant matching size and color.
func (p *Product) Variant(usSize, color string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.USSize == usSize && v.Color == color {
			v.ProductID = p.ID
			return v, true
		}
	}
	return Variant{}, false
}

// Size accepts both JSON numbers (shoe sizes) and strings (cloth sizes).
type Size string

func (s *Size) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*s = Size(n.String())
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("us_size must be a number or a string: %w", err)
	}
	*s = Size(str)
	return nil
}

// NormalizeSize returns the canonical form of a size: numbers without trailing
// zeros, cloth sizes upper-cased.
func NormalizeSize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", InvalidInputf("us_size is required")
	}
	if isDecimal(raw) {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return "", InvalidInputf("us_size %q is not a valid number", raw)
		}
		if f <= 0 {
			return "", InvalidInputf("us_size %q must be positive", raw)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	upper := strings.ToUpper(raw)
	if !slices.Contains(clothSizes, upper) {
		return "", InvalidInputf("us_size %q is neither a number nor a cloth size", raw)
	}
	return upper, nil
}

// isDecimal reports whether s is plain decimal notation such as "9" or "10.5".
func isDecimal(s string) bool {
	digits, dot := 0, false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return digits > 0
}

// NormalizeColor lower-cases a color and checks it against the catalog palette.
func NormalizeColor(raw string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(raw))
	if c == "" {
		return "", InvalidInputf("color is required")
	}
	if !slices.Contains(availableColors, c) {
		return "", InvalidInputf("color %q is not available", raw)
	}
	return c, nil
}

// NormalizeVariantKey validates and canonicalizes every field of a key.
func NormalizeVariantKey(productID, usSize, color string) (VariantKey, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return VariantKey{}, InvalidInputf("product_id is required")
	}
	size, err := NormalizeSize(usSize)
	if err != nil {
		return VariantKey{}, err
	}
	c, err := NormalizeColor(color)
	if err != nil {
		return VariantKey{}, err
	}
	return VariantKey{ProductID: productID, USSize: size, Color: c}, nil
}
