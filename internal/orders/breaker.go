package orders

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type BreakerSettings struct {
	Name                string
	MaxHalfOpenRequests uint32
	Interval            time.Duration
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:                "orders-db",
		MaxHalfOpenRequests: 1,
		Interval:            time.Minute,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerRepository fails fast with gobreaker.ErrOpenState while the order
// database keeps failing, instead of piling up requests on it.
type BreakerRepository struct {
	next Repository
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreakerRepository(next Repository, s BreakerSettings, log *zap.Logger) *BreakerRepository {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxHalfOpenRequests,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Lookups that find nothing and duplicate inserts mean the database answered.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrOrderNotFound) ||
				errors.Is(err, ErrDuplicateTransaction) ||
				errors.Is(err, context.Canceled)
		},
	})
	return &BreakerRepository{next: next, cb: cb}
}

// IsUnavailable reports whether err came from an open breaker.
func IsUnavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (b *BreakerRepository) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.CreateOrder(ctx, order)
	})
	return err
}

func (b *BreakerRepository) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	return b.one(func() (*domain.Order, error) { return b.next.GetOrderByID(ctx, id) })
}

func (b *BreakerRepository) GetOrderByTransaction(ctx context.Context, transactionID string) (*domain.Order, error) {
	return b.one(func() (*domain.Order, error) { return b.next.GetOrderByTransaction(ctx, transactionID) })
}

func (b *BreakerRepository) ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.next.ListOrdersByUserID(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*domain.Order), nil
}

func (b *BreakerRepository) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, detail string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.UpdateStatus(ctx, id, status, detail)
	})
	return err
}

func (b *BreakerRepository) MarkDelivered(ctx context.Context, id string, delivered bool) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.next.MarkDelivered(ctx, id, delivered)
	})
	return err
}

func (b *BreakerRepository) one(fn func() (*domain.Order, error)) (*domain.Order, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Order), nil
}
