package http

import (
	"context"
	"net/http"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/engine"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type StockService interface {
	Availability(ctx context.Context, productID string) (*engine.ProductAvailability, error)
	UpdateStock(ctx context.Context, products []domain.Product) error
	RestoreStock(ctx context.Context, line domain.CartLine) error
}

type StockHandler struct {
	stock StockService
	log   *zap.Logger
}

func NewStockHandler(stock StockService, log *zap.Logger) *StockHandler {
	return &StockHandler{stock: stock, log: log}
}

type UpdateStockRequest struct {
	Products []domain.Product `json:"products"`
}

// GetAvailability handles GET /api/v1/stock/{product_id}.
func (h *StockHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_input", "product_id is required")
		return
	}

	availability, err := h.stock.Availability(r.Context(), productID)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, availability)
}

// UpdateStock handles PUT /api/v1/stock.
func (h *StockHandler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	var req UpdateStockRequest
	if err := decodeJSON(r, &req); err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	if err := h.stock.UpdateStock(r.Context(), req.Products); err != nil {
		respondEngineError(w, h.log, err)
		return
	}
	h.log.Info("stock updated", zap.Int("products", len(req.Products)))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  StatusCompleted,
		"updated": len(req.Products),
	})
}

// RestoreStock handles POST /api/v1/stock/restore.
func (h *StockHandler) RestoreStock(w http.ResponseWriter, r *http.Request) {
	var line domain.CartLine
	if err := decodeJSON(r, &line); err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	if err := h.stock.RestoreStock(r.Context(), line); err != nil {
		respondEngineError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   StatusCompleted,
		"restored": line.Quantity,
	})
}
