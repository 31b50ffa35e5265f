// Package engine implements reserve, release, commit and expiry on top of the
// stock ledger and the reservation store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/ledger"
	"github.com/fjod/go_cart/reservation-service/internal/lock"
	"github.com/fjod/go_cart/reservation-service/internal/reservation"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 30 * time.Minute

type Config struct {
	// TTL is how long a hold lives after it was (re)created.
	TTL time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Engine struct {
	ledger ledger.Ledger
	store  reservation.Store
	locks  *lock.Keyed
	ttl    time.Duration
	now    func() time.Time
	log    *zap.Logger
	sfg    singleflight.Group
}

func New(l ledger.Ledger, s reservation.Store, cfg Config, log *zap.Logger) *Engine {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		ledger: l,
		store:  s,
		locks:  lock.NewKeyed(),
		ttl:    cfg.TTL,
		now:    cfg.Clock,
		log:    log,
	}
}

// Reserve holds every cart line for userID or none of them. A previous hold of
// the same user on a cart variant is replaced. Holds of the user on other
// variants of the same products are superseded (removed).
func (e *Engine) Reserve(ctx context.Context, userID string, cart []domain.CartLine) ([]domain.Reservation, error) {
	userID, err := domain.ValidateUserID(userID)
	if err != nil {
		return nil, err
	}
	lines, err := domain.NormalizeCart(cart, true)
	if err != nil {
		return nil, err
	}

	wanted := make(map[domain.VariantKey]bool, len(lines))
	products := make([]string, 0, len(lines))
	for _, l := range lines {
		wanted[l.Key()] = true
		if len(products) == 0 || products[len(products)-1] != l.ProductID {
			products = append(products, l.ProductID)
		}
	}

	// Holds of this user on the same products may be superseded, so their keys
	// are locked as well. They are looked up again once the locks are held.
	keys := make([]domain.VariantKey, 0, len(lines))
	for k := range wanted {
		keys = append(keys, k)
	}
	for _, p := range products {
		held, err := e.store.FindByUser(ctx, userID, reservation.Filter{ProductID: p})
		if err != nil {
			return nil, fmt.Errorf("failed to load holds of user: %w", err)
		}
		for _, h := range held {
			keys = append(keys, h.VariantKey())
		}
	}
	locked := make(map[domain.VariantKey]bool, len(keys))
	for _, k := range keys {
		locked[k] = true
	}

	unlock := e.locks.Lock(keys...)
	defer unlock()

	var undo undoLog
	now := e.now()
	holdsByProduct := make(map[string][]domain.Reservation, len(products))
	created := make([]domain.Reservation, 0, len(lines))

	for _, line := range lines {
		key := line.Key()
		v, err := e.ledger.GetVariant(ctx, key)
		if err != nil {
			e.rollback(ctx, &undo)
			return nil, fmt.Errorf("reserve %s: %w", key, err)
		}

		holds, ok := holdsByProduct[key.ProductID]
		if !ok {
			holds, err = e.store.FindByProduct(ctx, key.ProductID)
			if err != nil {
				e.rollback(ctx, &undo)
				return nil, fmt.Errorf("failed to load holds of product: %w", err)
			}
			holdsByProduct[key.ProductID] = holds
		}

		others := reservation.ReservedByOthers(holds, key, userID, now)
		if line.Quantity > v.Quantity-others {
			e.rollback(ctx, &undo)
			return nil, &domain.InsufficientStockError{
				Key:       key,
				Requested: line.Quantity,
				Available: max(v.Quantity-others, 0),
			}
		}

		hold := domain.NewReservation(key, userID, line.Quantity, now, e.ttl)
		prev, err := e.store.Upsert(ctx, hold)
		if err != nil {
			e.rollback(ctx, &undo)
			return nil, fmt.Errorf("failed to store hold: %w", err)
		}
		undo.upserted(hold.Key(), prev)
		created = append(created, hold)
	}

	for _, p := range products {
		held, err := e.store.FindByUser(ctx, userID, reservation.Filter{ProductID: p})
		if err != nil {
			e.rollback(ctx, &undo)
			return nil, fmt.Errorf("failed to load holds of user: %w", err)
		}
		for _, h := range held {
			// Keys outside the lock set belong to a concurrent reserve of the
			// same user and are left to it.
			if wanted[h.VariantKey()] || !locked[h.VariantKey()] {
				continue
			}
			removed, err := e.store.Remove(ctx, h.Key())
			if err != nil {
				e.rollback(ctx, &undo)
				return nil, fmt.Errorf("failed to supersede hold: %w", err)
			}
			if removed {
				undo.removed(h)
			}
		}
	}

	e.log.Debug("reserved cart",
		zap.String("user_id", userID),
		zap.Int("lines", len(created)),
		zap.Time("expires_at", now.Add(e.ttl)))
	return created, nil
}

// Release drops the user's holds on the given variants. Missing holds are
// ignored. The ledger is untouched.
func (e *Engine) Release(ctx context.Context, userID string, lines []domain.CartLine) (int, error) {
	userID, err := domain.ValidateUserID(userID)
	if err != nil {
		return 0, err
	}
	lines, err = domain.NormalizeCart(lines, false)
	if err != nil {
		return 0, err
	}

	keys := make([]domain.VariantKey, len(lines))
	for i, l := range lines {
		keys[i] = l.Key()
	}
	unlock := e.locks.Lock(keys...)
	defer unlock()

	released := 0
	for _, k := range keys {
		removed, err := e.store.Remove(ctx, domain.HoldKey{VariantKey: k, UserID: userID})
		if err != nil {
			return released, fmt.Errorf("failed to release %s: %w", k, err)
		}
		if removed {
			released++
		}
	}
	return released, nil
}

// HideReservations withdraws the user's holds from listings without releasing them.
func (e *Engine) HideReservations(ctx context.Context, userID string) (int, error) {
	userID, err := domain.ValidateUserID(userID)
	if err != nil {
		return 0, err
	}
	n, err := e.store.MarkHidden(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to hide holds: %w", err)
	}
	return n, nil
}

// ListReservations returns the user's holds that have not expired yet.
func (e *Engine) ListReservations(ctx context.Context, userID string, visibleOnly bool) ([]domain.Reservation, error) {
	userID, err := domain.ValidateUserID(userID)
	if err != nil {
		return nil, err
	}
	holds, err := e.store.FindByUser(ctx, userID, reservation.Filter{VisibleOnly: visibleOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to list holds: %w", err)
	}

	now := e.now()
	valid := make([]domain.Reservation, 0, len(holds))
	for _, h := range holds {
		if h.IsValid(now) {
			valid = append(valid, h)
		}
	}
	return valid, nil
}

// Commit turns the user's hold on line's variant into a permanent deduction.
// It reports false without error when there is no valid hold, so replays are
// harmless. A failed deduction while the hold exists is a ReconciliationError.
func (e *Engine) Commit(ctx context.Context, userID string, line domain.CartLine) (bool, error) {
	key, err := domain.NormalizeVariantKey(line.ProductID, string(line.USSize), line.Color)
	if err != nil {
		return false, err
	}

	unlock := e.locks.Lock(key)
	defer unlock()

	hk := domain.HoldKey{VariantKey: key, UserID: userID}
	hold, err := e.store.Get(ctx, hk)
	if errors.Is(err, domain.ErrReservationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load hold: %w", err)
	}
	now := e.now()
	if !hold.IsValid(now) {
		return false, nil
	}

	qty := line.Quantity
	if qty <= 0 {
		qty = hold.Quantity
	}
	if qty > hold.Quantity {
		free, err := e.freeStock(ctx, key, userID, now)
		if err != nil {
			return false, err
		}
		if qty > free {
			return false, &domain.ReconciliationError{
				Key:    key,
				Reason: fmt.Sprintf("paid quantity %d exceeds held %d and free stock %d", qty, hold.Quantity, free),
			}
		}
	}

	if err := e.ledger.Deduct(ctx, key, qty); err != nil {
		return false, &domain.ReconciliationError{Key: key, Reason: "deduct failed while hold exists", Err: err}
	}
	if _, err := e.store.Remove(ctx, hk); err != nil {
		return true, &domain.ReconciliationError{Key: key, Reason: "stock deducted but hold not removed", Err: err}
	}
	return true, nil
}

// DeductUnreserved deducts stock for a paid line whose hold is already gone.
// It never eats into other users' valid holds.
func (e *Engine) DeductUnreserved(ctx context.Context, userID string, line domain.CartLine) error {
	key, err := domain.NormalizeVariantKey(line.ProductID, string(line.USSize), line.Color)
	if err != nil {
		return err
	}
	if line.Quantity <= 0 {
		return domain.InvalidInputf("quantity must be greater than 0")
	}

	unlock := e.locks.Lock(key)
	defer unlock()

	free, err := e.freeStock(ctx, key, userID, e.now())
	if err != nil {
		return &domain.ReconciliationError{Key: key, Reason: "paid variant unavailable", Err: err}
	}
	if line.Quantity > free {
		return &domain.ReconciliationError{
			Key:    key,
			Reason: fmt.Sprintf("paid quantity %d without hold exceeds free stock %d", line.Quantity, free),
		}
	}
	if err := e.ledger.Deduct(ctx, key, line.Quantity); err != nil {
		return &domain.ReconciliationError{Key: key, Reason: "deduct failed", Err: err}
	}
	return nil
}

// RestoreStock puts quantity back on a variant. Operators use it to settle a
// ReconciliationError whose deduction should not stand.
func (e *Engine) RestoreStock(ctx context.Context, line domain.CartLine) error {
	key, err := domain.NormalizeVariantKey(line.ProductID, string(line.USSize), line.Color)
	if err != nil {
		return err
	}
	if line.Quantity <= 0 || line.Quantity > domain.MaxLineQuantity {
		return domain.InvalidInputf("quantity must be between 1 and %d", domain.MaxLineQuantity)
	}

	unlock := e.locks.Lock(key)
	defer unlock()

	if err := e.ledger.Restore(ctx, key, line.Quantity); err != nil {
		return fmt.Errorf("restore %s: %w", key, err)
	}
	e.log.Warn("stock restored by operator",
		zap.String("variant", key.String()),
		zap.Int("quantity", line.Quantity))
	return nil
}

// freeStock is quantity minus valid holds of other users. Call with key locked.
func (e *Engine) freeStock(ctx context.Context, key domain.VariantKey, userID string, now time.Time) (int, error) {
	v, err := e.ledger.GetVariant(ctx, key)
	if err != nil {
		return 0, err
	}
	holds, err := e.store.FindByProduct(ctx, key.ProductID)
	if err != nil {
		return 0, fmt.Errorf("failed to load holds of product: %w", err)
	}
	return max(v.Quantity-reservation.ReservedByOthers(holds, key, userID, now), 0), nil
}

// ExpireSweep removes every hold that is no longer valid at now.
func (e *Engine) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := e.store.Expired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired holds: %w", err)
	}

	removed := 0
	for _, h := range expired {
		ok, err := e.expireOne(ctx, h.Key(), now)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (e *Engine) expireOne(ctx context.Context, key domain.HoldKey, now time.Time) (bool, error) {
	unlock := e.locks.Lock(key.VariantKey)
	defer unlock()

	// The hold may have been renewed between listing and locking.
	hold, err := e.store.Get(ctx, key)
	if errors.Is(err, domain.ErrReservationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load hold: %w", err)
	}
	if hold.IsValid(now) {
		return false, nil
	}
	removed, err := e.store.Remove(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to remove expired hold: %w", err)
	}
	return removed, nil
}

// VariantAvailability is the stock picture of one variant at a point in time.
type VariantAvailability struct {
	USSize    string `json:"us_size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
}

type ProductAvailability struct {
	ProductID string                `json:"product_id"`
	Name      string                `json:"name"`
	Variants  []VariantAvailability `json:"variants"`
}

// Availability reports quantity, valid holds and what is left per variant.
// Concurrent calls for the same product share one read.
func (e *Engine) Availability(ctx context.Context, productID string) (*ProductAvailability, error) {
	v, err, _ := e.sfg.Do(productID, func() (interface{}, error) {
		p, err := e.ledger.GetProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		holds, err := e.store.FindByProduct(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("failed to load holds of product: %w", err)
		}

		now := e.now()
		reserved := make(map[domain.VariantKey]int)
		for _, h := range holds {
			if h.IsValid(now) {
				reserved[h.VariantKey()] += h.Quantity
			}
		}

		out := &ProductAvailability{ProductID: p.ID, Name: p.Name, Variants: make([]VariantAvailability, 0, len(p.Variants))}
		for _, variant := range p.Variants {
			r := reserved[variant.Key()]
			out.Variants = append(out.Variants, VariantAvailability{
				USSize:    variant.USSize,
				Color:     variant.Color,
				Quantity:  variant.Quantity,
				Reserved:  r,
				Available: max(variant.Quantity-r, 0),
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProductAvailability), nil
}

// UpdateStock replaces the stock of each product. Quantities set below what is
// currently held are accepted but logged, since holds are not revoked.
func (e *Engine) UpdateStock(ctx context.Context, products []domain.Product) error {
	if len(products) == 0 {
		return domain.InvalidInputf("no products to update")
	}
	for _, p := range products {
		if err := e.updateProduct(ctx, p); err != nil {
			return fmt.Errorf("update stock of %s: %w", p.ID, err)
		}
	}
	return nil
}

func (e *Engine) updateProduct(ctx context.Context, p domain.Product) error {
	normalized, err := ledger.NormalizeProduct(p, e.now())
	if err != nil {
		return err
	}

	keys := make([]domain.VariantKey, 0, len(normalized.Variants))
	for _, v := range normalized.Variants {
		keys = append(keys, v.Key())
	}
	if current, err := e.ledger.GetProduct(ctx, normalized.ID); err == nil {
		for _, v := range current.Variants {
			keys = append(keys, v.Key())
		}
	} else if !errors.Is(err, domain.ErrProductNotFound) {
		return err
	}

	unlock := e.locks.Lock(keys...)
	defer unlock()

	if err := e.ledger.PutProduct(ctx, normalized); err != nil {
		return err
	}

	holds, err := e.store.FindByProduct(ctx, normalized.ID)
	if err != nil {
		return fmt.Errorf("failed to load holds of product: %w", err)
	}
	now := e.now()
	for _, v := range normalized.Variants {
		held := reservation.ReservedByOthers(holds, v.Key(), "", now)
		if held > v.Quantity {
			e.log.Warn("stock set below held quantity",
				zap.String("variant", v.Key().String()),
				zap.Int("quantity", v.Quantity),
				zap.Int("held", held))
		}
	}
	return nil
}
