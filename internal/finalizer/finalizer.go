// Package finalizer applies payment outcomes to holds, stock and orders.
package finalizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/orders"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Engine interface {
	Commit(ctx context.Context, userID string, line domain.CartLine) (bool, error)
	DeductUnreserved(ctx context.Context, userID string, line domain.CartLine) error
	Release(ctx context.Context, userID string, lines []domain.CartLine) (int, error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByTransaction(ctx context.Context, transactionID string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, detail string) error
}

// Result describes what HandleOutcome did.
type Result struct {
	Status     domain.PaymentStatus `json:"status"`
	Duplicate  bool                 `json:"duplicate,omitempty"`
	Committed  int                  `json:"committed,omitempty"`
	Unreserved int                  `json:"unreserved,omitempty"`
	Released   int                  `json:"released,omitempty"`
	OrderID    string               `json:"order_id,omitempty"`
}

type Finalizer struct {
	engine  Engine
	orders  OrderRepository
	deduper Deduper
	log     *zap.Logger
	now     func() time.Time
}

func New(engine Engine, orders OrderRepository, deduper Deduper, log *zap.Logger) *Finalizer {
	return &Finalizer{
		engine:  engine,
		orders:  orders,
		deduper: deduper,
		log:     log,
		now:     time.Now,
	}
}

// HandleOutcome is safe to call more than once for the same outcome. Errors
// wrapping domain.ErrReconciliation must not be retried; any other error leaves
// the outcome unclaimed so a redelivery processes it again.
func (f *Finalizer) HandleOutcome(ctx context.Context, outcome domain.PaymentOutcome) (Result, error) {
	status, err := domain.ParsePaymentStatus(outcome.Status)
	if err != nil {
		return Result{}, err
	}
	res := Result{Status: status}

	txID := strings.TrimSpace(outcome.TransactionID)
	if txID == "" {
		return res, domain.InvalidInputf("transaction_id is required")
	}
	userID, err := domain.ValidateUserID(outcome.UserID)
	if err != nil {
		return res, err
	}

	var lines []domain.CartLine
	if status == domain.PaymentApproved || len(outcome.Lines) > 0 {
		lines, err = domain.NormalizeCart(outcome.Lines, status == domain.PaymentApproved)
		if err != nil {
			return res, err
		}
	}

	if status == domain.PaymentPending {
		f.log.Info("payment pending, holds kept",
			zap.String("transaction_id", txID),
			zap.String("user_id", userID))
		return res, nil
	}

	claim := txID + ":" + status.String()
	first, err := f.deduper.Claim(ctx, claim)
	if err != nil {
		return res, fmt.Errorf("claim payment outcome: %w", err)
	}
	if !first {
		res.Duplicate = true
		f.log.Info("duplicate payment outcome ignored",
			zap.String("transaction_id", txID),
			zap.String("status", status.String()))
		return res, nil
	}

	if status == domain.PaymentApproved {
		err = f.approve(ctx, txID, userID, outcome, lines, &res)
	} else {
		err = f.release(ctx, txID, userID, status, outcome.StatusDetail, lines, &res)
	}

	if err != nil && !errors.Is(err, domain.ErrReconciliation) {
		if ferr := f.deduper.Forget(context.WithoutCancel(ctx), claim); ferr != nil {
			f.log.Error("failed to drop outcome claim", zap.String("claim", claim), zap.Error(ferr))
		}
	}
	return res, err
}

func (f *Finalizer) approve(ctx context.Context, txID, userID string, outcome domain.PaymentOutcome, lines []domain.CartLine, res *Result) error {
	existing, err := f.orders.GetOrderByTransaction(ctx, txID)
	if err == nil {
		// Claim store lost its memory (restart, eviction); the order proves the work was done.
		res.Duplicate = true
		res.OrderID = existing.ID
		return nil
	}
	if !errors.Is(err, orders.ErrOrderNotFound) {
		return fmt.Errorf("look up order: %w", err)
	}

	for _, line := range lines {
		committed, err := f.engine.Commit(ctx, userID, line)
		if err == nil && !committed {
			err = f.engine.DeductUnreserved(ctx, userID, line)
			if err == nil {
				res.Unreserved++
				f.log.Warn("approved payment had no valid hold, deducted free stock",
					zap.String("transaction_id", txID),
					zap.String("variant", line.Key().String()),
					zap.Int("quantity", line.Quantity))
				continue
			}
		}
		if err != nil {
			// Once anything was deducted a retry would deduct it again.
			if res.Committed+res.Unreserved > 0 || errors.Is(err, domain.ErrReconciliation) {
				return f.reconcile(txID, line.Key(), "commit failed", err)
			}
			return fmt.Errorf("commit %s: %w", line.Key(), err)
		}
		res.Committed++
	}

	now := f.now().UTC()
	order := &domain.Order{
		ID:            uuid.NewString(),
		TransactionID: txID,
		UserID:        userID,
		Payer:         outcome.Payer,
		Status:        domain.PaymentApproved,
		StatusDetail:  outcome.StatusDetail,
		Items:         domain.OrderItems(lines),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := f.orders.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, orders.ErrDuplicateTransaction) {
			res.Duplicate = true
			return nil
		}
		return f.reconcile(txID, domain.VariantKey{}, "order creation failed after stock was deducted", err)
	}
	res.OrderID = order.ID

	f.log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("transaction_id", txID),
		zap.String("user_id", userID),
		zap.Int("committed", res.Committed),
		zap.Int("unreserved", res.Unreserved))
	return nil
}

func (f *Finalizer) release(ctx context.Context, txID, userID string, status domain.PaymentStatus, detail string, lines []domain.CartLine, res *Result) error {
	if len(lines) > 0 {
		n, err := f.engine.Release(ctx, userID, lines)
		res.Released = n
		if err != nil {
			return fmt.Errorf("release holds: %w", err)
		}
	}

	existing, err := f.orders.GetOrderByTransaction(ctx, txID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up order: %w", err)
	}
	if err := f.orders.UpdateStatus(ctx, existing.ID, status, detail); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	res.OrderID = existing.ID

	if existing.Status == domain.PaymentApproved {
		f.log.Warn("committed order reversed, stock is not restocked automatically",
			zap.String("order_id", existing.ID),
			zap.String("transaction_id", txID),
			zap.String("status", status.String()))
	}
	return nil
}

func (f *Finalizer) reconcile(txID string, key domain.VariantKey, reason string, err error) error {
	var rec *domain.ReconciliationError
	if errors.As(err, &rec) {
		rec.TransactionID = txID
	} else {
		rec = &domain.ReconciliationError{TransactionID: txID, Key: key, Reason: reason, Err: err}
	}
	f.log.Error("reconciliation required",
		zap.String("transaction_id", txID),
		zap.String("variant", rec.Key.String()),
		zap.String("reason", rec.Reason),
		zap.Error(err))
	return rec
}
