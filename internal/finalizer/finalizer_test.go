package finalizer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/engine"
	"github.com/fjod/go_cart/reservation-service/internal/ledger"
	"github.com/fjod/go_cart/reservation-service/internal/orders"
	"github.com/fjod/go_cart/reservation-service/internal/reservation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memOrders struct {
	mu        sync.Mutex
	byTx      map[string]*domain.Order
	createErr error
	getErr    error
}

func newMemOrders() *memOrders {
	return &memOrders{byTx: make(map[string]*domain.Order)}
}

func (m *memOrders) CreateOrder(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.byTx[order.TransactionID]; ok {
		return orders.ErrDuplicateTransaction
	}
	cp := *order
	m.byTx[order.TransactionID] = &cp
	return nil
}

func (m *memOrders) GetOrderByTransaction(_ context.Context, transactionID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.byTx[transactionID]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) UpdateStatus(_ context.Context, id string, status domain.PaymentStatus, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byTx {
		if o.ID == id {
			o.Status = status
			o.StatusDetail = detail
			return nil
		}
	}
	return orders.ErrOrderNotFound
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byTx)
}

type fixture struct {
	finalizer *Finalizer
	engine    *engine.Engine
	ledger    *ledger.MemoryLedger
	orders    *memOrders
	deduper   *MemoryDeduper
	clock     time.Time
}

var shoe = domain.VariantKey{ProductID: "p1", USSize: "9", Color: "negro"}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}

	f.ledger = ledger.NewMemoryLedger(ledger.KeepDepleted)
	require.NoError(t, f.ledger.PutProduct(context.Background(), domain.Product{
		ID: "p1", Name: "Air Max",
		Variants: []domain.Variant{{USSize: "9", Color: "negro", Quantity: 5}},
	}))

	log := zaptest.NewLogger(t)
	f.engine = engine.New(f.ledger, reservation.NewMemoryStore(), engine.Config{
		TTL:   10 * time.Minute,
		Clock: func() time.Time { return f.clock },
	}, log)
	f.orders = newMemOrders()
	f.deduper = NewMemoryDeduper(time.Hour)
	f.finalizer = New(f.engine, f.orders, f.deduper, log)
	return f
}

func (f *fixture) quantity(t *testing.T) int {
	t.Helper()
	v, err := f.ledger.GetVariant(context.Background(), shoe)
	require.NoError(t, err)
	return v.Quantity
}

func cartLine(qty int) domain.CartLine {
	return domain.CartLine{ProductID: "p1", USSize: "9", Color: "negro", Quantity: qty, Name: "Air Max", UnitPrice: 100}
}

func outcome(tx, status string, qty int) domain.PaymentOutcome {
	return domain.PaymentOutcome{
		TransactionID: tx,
		UserID:        "alice",
		Status:        status,
		StatusDetail:  "accredited",
		Payer:         domain.Payer{Name: "Alice", Email: "alice@example.com"},
		Lines:         []domain.CartLine{cartLine(qty)},
	}
}

func TestHandleOutcome_ApprovedCommitsAndCreatesOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.engine.Reserve(ctx, "alice", []domain.CartLine{cartLine(2)})
	require.NoError(t, err)

	res, err := f.finalizer.HandleOutcome(ctx, outcome("tx-1", "approved", 2))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Committed)
	assert.Zero(t, res.Unreserved)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, 3, f.quantity(t))

	order, err := f.orders.GetOrderByTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentApproved, order.Status)
	assert.Equal(t, "Alice", order.Payer.Name)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)

	holds, err := f.engine.ListReservations(ctx, "alice", false)
	require.NoError(t, err)
	assert.Empty(t, holds)
}

func TestHandleOutcome_RedeliveryIsNoop(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.engine.Reserve(ctx, "alice", []domain.CartLine{cartLine(2)})
	require.NoError(t, err)

	_, err = f.finalizer.HandleOutcome(ctx, outcome("tx-1", "approved", 2))
	require.NoError(t, err)

	res, err := f.finalizer.HandleOutcome(ctx, outcome("tx-1", "approved", 2))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 3, f.quantity(t))
	assert.Equal(t, 1, f.orders.count())
}

func TestHandleOutcome_ExistingOrderShortCircuitsAfterClaimLoss(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.engine.Reserve(ctx, "alice", []domain.CartLine{cartLine(2)})
	require.NoError(t, err)
	_, err = f.finalizer.HandleOutcome(ctx, outcome("tx-1", "approved", 2))
	require.NoError(t, err)

	restarted := New(f.engine, f.orders, NewMemoryDeduper(time.Hour), zaptest.NewLogger(t))
	res, err := restarted.HandleOutcome(ctx, outcome("tx-1", "approved", 2))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 3, f.quantity(t))
}

func TestHandleOutcome_ApprovedAfterHoldExpired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.engine.Reserve(ctx, "alice", []domain.CartLine{cartLine(2)})
	require.NoError(t, err)
	f.clock = f.clock.Add(time.Hour)

	res, err := f.finalizer.HandleOutcome(ctx, outcome("tx-1", "approved", 2))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Committed)
	assert.Equal(t, 1, res.Unreserved)
	assert.Equal(t, 3, f.quantity(t))
	assert.Equal(t, 1, f.orders.count())
}

func TestHandleOutcome_ApprovedWithoutStockIsReconciliation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.engine.Reserve(ctx, "bob", []domain.CartLine{cartLine(5)})
	require.NoError(t, err)

	_, err = f.finalizer.HandleOutcome(ctx, outcome("tx-1", "approved", 1))
	require.ErrorIs(t, err, domain.ErrReconciliation)
	var rec *domain.ReconciliationError
	require.ErrorAs(t, err, &rec)
	assert.Equal(t, "tx-1", rec.TransactionID)
	assert.Equal(t, 5, f.quantity(t))
	assert.Zero(t, f.orders.count())

	// The claim is kept: an operator has to resolve it, redelivery must not retry.
	res, err := f.finalizer.HandleOutcome(ctx, outcome("tx-1", "approved", 1))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestHandleOutcome_OrderCreationFailureKeepsDeduction(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.engine.Reserve(ctx, "alice", []domain.CartLine{cartLine(2)})
	require.NoError(t, err)
	f.orders.createErr = errors.New("disk full")

	_, err = f.finalizer.HandleOutcome(ctx, outcome("tx-1", "approved", 2))
	require.ErrorIs(t, err, domain.ErrReconciliation)
	assert.Equal(t, 3, f.quantity(t))

	res, err := f.finalizer.HandleOutcome(ctx, outcome("tx-1", "approved", 2))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 3, f.quantity(t))
}

func TestHandleOutcome_TransientFailureCanBeRetried(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.engine.Reserve(ctx, "alice", []domain.CartLine{cartLine(2)})
	require.NoError(t, err)
	f.orders.getErr = errors.New("connection reset")

	_, err = f.finalizer.HandleOutcome(ctx, outcome("tx-1", "approved", 2))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrReconciliation)
	assert.Equal(t, 5, f.quantity(t))

	f.orders.getErr = nil
	res, err := f.finalizer.HandleOutcome(ctx, outcome("tx-1", "approved", 2))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 1, res.Committed)
	assert.Equal(t, 3, f.quantity(t))
}

func TestHandleOutcome_RejectedReleasesHolds(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.engine.Reserve(ctx, "alice", []domain.CartLine{cartLine(2)})
	require.NoError(t, err)

	res, err := f.finalizer.HandleOutcome(ctx, outcome("tx-1", "rejected", 2))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Released)
	assert.Empty(t, res.OrderID)
	assert.Equal(t, 5, f.quantity(t))
	assert.Zero(t, f.orders.count())

	holds, err := f.engine.ListReservations(ctx, "alice", false)
	require.NoError(t, err)
	assert.Empty(t, holds)

	res, err = f.finalizer.HandleOutcome(ctx, outcome("tx-1", "rejected", 2))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func TestHandleOutcome_RefundUpdatesExistingOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.engine.Reserve(ctx, "alice", []domain.CartLine{cartLine(2)})
	require.NoError(t, err)
	approved, err := f.finalizer.HandleOutcome(ctx, outcome("tx-1", "approved", 2))
	require.NoError(t, err)

	refund := outcome("tx-1", "refunded", 2)
	refund.StatusDetail = "refunded_by_seller"
	res, err := f.finalizer.HandleOutcome(ctx, refund)
	require.NoError(t, err)
	assert.Equal(t, approved.OrderID, res.OrderID)

	order, err := f.orders.GetOrderByTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, order.Status)
	assert.Equal(t, "refunded_by_seller", order.StatusDetail)
	assert.Equal(t, 3, f.quantity(t))
}

func TestHandleOutcome_PendingKeepsHolds(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.engine.Reserve(ctx, "alice", []domain.CartLine{cartLine(2)})
	require.NoError(t, err)

	res, err := f.finalizer.HandleOutcome(ctx, outcome("tx-1", "in_process", 2))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, res.Status)

	holds, err := f.engine.ListReservations(ctx, "alice", false)
	require.NoError(t, err)
	assert.Len(t, holds, 1)
	assert.Equal(t, 5, f.quantity(t))

	// Pending never claims, so the final approval still goes through.
	res, err = f.finalizer.HandleOutcome(ctx, outcome("tx-1", "approved", 2))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Committed)
}

func TestHandleOutcome_InvalidInput(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.finalizer.HandleOutcome(ctx, outcome("", "approved", 1))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.finalizer.HandleOutcome(ctx, outcome("tx-1", "lost", 1))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.finalizer.HandleOutcome(ctx, outcome("tx-1", "approved", 0))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	noItems := outcome("tx-1", "approved", 1)
	noItems.Lines = nil
	_, err = f.finalizer.HandleOutcome(ctx, noItems)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
