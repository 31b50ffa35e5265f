package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/finalizer"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OutcomeHandler interface {
	HandleOutcome(ctx context.Context, outcome domain.PaymentOutcome) (finalizer.Result, error)
}

type PaymentHandler struct {
	finalizer OutcomeHandler
	log       *zap.Logger
}

func NewPaymentHandler(f OutcomeHandler, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{finalizer: f, log: log}
}

// ManualOrderRequest is an approved purchase entered by an operator, for
// payments settled outside the provider.
type ManualOrderRequest struct {
	TransactionID string            `json:"transaction_id,omitempty"`
	UserID        string            `json:"user_id"`
	StatusDetail  string            `json:"status_detail,omitempty"`
	Payer         domain.Payer      `json:"payer"`
	Items         []domain.CartLine `json:"items"`
}

// Webhook handles POST /api/v1/payments/webhook.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var outcome domain.PaymentOutcome
	if err := decodeJSON(r, &outcome); err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	result, err := h.finalizer.HandleOutcome(r.Context(), outcome)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ManualOrder handles POST /api/v1/orders/manual.
func (h *PaymentHandler) ManualOrder(w http.ResponseWriter, r *http.Request) {
	var req ManualOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	txID := strings.TrimSpace(req.TransactionID)
	if txID == "" {
		txID = "manual-" + uuid.NewString()
	}
	detail := req.StatusDetail
	if detail == "" {
		detail = "manual"
	}

	result, err := h.finalizer.HandleOutcome(r.Context(), domain.PaymentOutcome{
		TransactionID: txID,
		UserID:        req.UserID,
		Status:        string(domain.PaymentApproved),
		StatusDetail:  detail,
		Payer:         req.Payer,
		Lines:         req.Items,
	})
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	h.log.Info("manual order registered",
		zap.String("transaction_id", txID),
		zap.String("user_id", req.UserID),
		zap.String("order_id", result.OrderID),
	)
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, result)
}
