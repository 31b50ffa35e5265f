package ledger

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
)

// MemoryLedger implements Ledger with in-memory storage
type MemoryLedger struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
	policy   DepletionPolicy
}

func NewMemoryLedger(policy DepletionPolicy) *MemoryLedger {
	return &MemoryLedger{
		products: make(map[string]*domain.Product),
		policy:   policy,
	}
}

func (l *MemoryLedger) GetVariant(_ context.Context, key domain.VariantKey) (domain.Variant, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.products[key.ProductID]
	if !ok {
		return domain.Variant{}, domain.ErrProductNotFound
	}
	v, ok := p.Variant(key.USSize, key.Color)
	if !ok {
		return domain.Variant{}, domain.ErrVariantNotFound
	}
	return v, nil
}

func (l *MemoryLedger) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	cp.Variants = slices.Clone(p.Variants)
	for i := range cp.Variants {
		cp.Variants[i].ProductID = cp.ID
	}
	return &cp, nil
}

func (l *MemoryLedger) PutProduct(_ context.Context, product domain.Product) error {
	p, err := NormalizeProduct(product, time.Now().UTC())
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.products[p.ID] = &p
	return nil
}

func (l *MemoryLedger) Deduct(_ context.Context, key domain.VariantKey, qty int) error {
	if err := validateQty(qty); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, idx, err := l.locate(key)
	if err != nil {
		return err
	}
	v := &p.Variants[idx]
	if qty > v.Quantity {
		return &domain.InsufficientStockError{Key: key, Requested: qty, Available: v.Quantity}
	}
	v.Quantity -= qty
	p.UpdatedAt = time.Now().UTC()

	if v.Quantity == 0 && l.policy == PruneDepleted {
		p.Variants = slices.Delete(p.Variants, idx, idx+1)
		if len(p.Variants) == 0 {
			delete(l.products, p.ID)
		}
	}
	return nil
}

func (l *MemoryLedger) Restore(_ context.Context, key domain.VariantKey, qty int) error {
	if err := validateQty(qty); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, idx, err := l.locate(key)
	if err != nil {
		return err
	}
	p.Variants[idx].Quantity += qty
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// locate must be called with l.mu held.
func (l *MemoryLedger) locate(key domain.VariantKey) (*domain.Product, int, error) {
	p, ok := l.products[key.ProductID]
	if !ok {
		return nil, 0, domain.ErrProductNotFound
	}
	idx := slices.IndexFunc(p.Variants, func(v domain.Variant) bool {
		return v.USSize == key.USSize && v.Color == key.Color
	})
	if idx < 0 {
		return nil, 0, domain.ErrVariantNotFound
	}
	return p, idx, nil
}
