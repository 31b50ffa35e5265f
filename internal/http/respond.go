// Package http exposes the reservation engine, the finalizer and orders over JSON.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/orders"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// respondEngineError maps domain and storage errors onto HTTP status codes.
func respondEngineError(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		status int
		code   string
	)

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrReconciliation):
		log.Error("reconciliation required", zap.Error(err))
		status, code = http.StatusInternalServerError, "reconciliation_required"
	case errors.Is(err, domain.ErrInsufficientStock):
		status, code = http.StatusConflict, "insufficient_stock"
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrVariantNotFound),
		errors.Is(err, domain.ErrReservationNotFound),
		errors.Is(err, orders.ErrOrderNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, orders.ErrDuplicateTransaction):
		status, code = http.StatusConflict, "already_exists"
	case orders.IsUnavailable(err):
		status, code = http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	default:
		log.Error("unhandled error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, status, code, err.Error())
}

// failureReason is the message shown to the buyer when a reservation fails.
func failureReason(err error, names map[domain.VariantKey]string) string {
	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		name := names[stockErr.Key]
		if name == "" {
			name = stockErr.Key.ProductID
		}
		return fmt.Sprintf("No hay stock suficiente de %s talle %s color %s", name, stockErr.Key.USSize, stockErr.Key.Color)
	}
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		return "El producto ya no está disponible"
	case errors.Is(err, domain.ErrVariantNotFound):
		return "El talle o color elegido ya no está disponible"
	case errors.Is(err, domain.ErrInvalidInput):
		return "Los datos del carrito no son válidos: " + err.Error()
	default:
		return "No pudimos reservar tu carrito, intentá de nuevo"
	}
}
