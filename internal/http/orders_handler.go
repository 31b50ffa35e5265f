package http

import (
	"context"
	"net/http"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error)
	MarkDelivered(ctx context.Context, id string, delivered bool) error
}

type OrdersHandler struct {
	orders OrderStore
	log    *zap.Logger
}

func NewOrdersHandler(orders OrderStore, log *zap.Logger) *OrdersHandler {
	return &OrdersHandler{orders: orders, log: log}
}

type DeliveryRequest struct {
	Delivered *bool `json:"delivered"`
}

// ListOrders handles GET /api/v1/orders.
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())

	list, err := h.orders.ListOrdersByUserID(r.Context(), userID)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}
	if list == nil {
		list = []*domain.Order{}
	}
	respondJSON(w, http.StatusOK, list)
}

// GetOrder handles GET /api/v1/orders/{order_id}. Orders of other users are
// reported as not found.
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "invalid_input", "order_id is required")
		return
	}

	order, err := h.orders.GetOrderByID(r.Context(), orderID)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}
	if order.UserID != userID {
		respondError(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// MarkDelivered handles PATCH /api/v1/orders/{order_id}/delivery.
func (h *OrdersHandler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "invalid_input", "order_id is required")
		return
	}

	var req DeliveryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondEngineError(w, h.log, err)
		return
	}
	if req.Delivered == nil {
		respondError(w, http.StatusBadRequest, "invalid_input", "delivered is required")
		return
	}

	if err := h.orders.MarkDelivered(r.Context(), orderID, *req.Delivered); err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	order, err := h.orders.GetOrderByID(r.Context(), orderID)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}
