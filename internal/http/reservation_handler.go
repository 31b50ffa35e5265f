package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"go.uber.org/zap"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type ReservationEngine interface {
	Reserve(ctx context.Context, userID string, cart []domain.CartLine) ([]domain.Reservation, error)
	Release(ctx context.Context, userID string, lines []domain.CartLine) (int, error)
	HideReservations(ctx context.Context, userID string) (int, error)
	ListReservations(ctx context.Context, userID string, visibleOnly bool) ([]domain.Reservation, error)
}

type ReservationHandler struct {
	engine ReservationEngine
	log    *zap.Logger
}

func NewReservationHandler(engine ReservationEngine, log *zap.Logger) *ReservationHandler {
	return &ReservationHandler{engine: engine, log: log}
}

type CartRequest struct {
	Items []domain.CartLine `json:"items"`
}

type ReserveResponse struct {
	Status       string               `json:"status"`
	Reason       string               `json:"reason,omitempty"`
	Reservations []domain.Reservation `json:"reservations,omitempty"`
	ExpiresAt    *time.Time           `json:"expires_at,omitempty"`
}

type ReleaseResponse struct {
	Status   string `json:"status"`
	Released int    `json:"released"`
}

type HideResponse struct {
	Status string `json:"status"`
	Hidden int    `json:"hidden"`
}

// Reserve handles POST /api/v1/reservations. Business failures are reported in
// the body with status "failed" and a reason the storefront can show as is.
func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())

	var req CartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, ReserveResponse{Status: StatusFailed, Reason: failureReason(err, nil)})
		return
	}

	holds, err := h.engine.Reserve(r.Context(), userID, req.Items)
	if err != nil {
		status := reserveFailureStatus(err)
		if status == 0 {
			respondEngineError(w, h.log, err)
			return
		}
		h.log.Info("reservation rejected",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		respondJSON(w, status, ReserveResponse{Status: StatusFailed, Reason: failureReason(err, lineNames(req.Items))})
		return
	}

	resp := ReserveResponse{Status: StatusCompleted, Reservations: holds}
	if len(holds) > 0 {
		expires := holds[0].ExpiresAt
		resp.ExpiresAt = &expires
	}
	respondJSON(w, http.StatusOK, resp)
}

// Release handles POST /api/v1/reservations/release.
func (h *ReservationHandler) Release(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())

	var req CartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondEngineError(w, h.log, err)
		return
	}

	released, err := h.engine.Release(r.Context(), userID, req.Items)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, ReleaseResponse{Status: StatusCompleted, Released: released})
}

// Hide handles POST /api/v1/reservations/hide.
func (h *ReservationHandler) Hide(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())

	hidden, err := h.engine.HideReservations(r.Context(), userID)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, HideResponse{Status: StatusCompleted, Hidden: hidden})
}

// List handles GET /api/v1/reservations. Hidden holds are included with ?all=true.
func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	visibleOnly := r.URL.Query().Get("all") != "true"

	holds, err := h.engine.ListReservations(r.Context(), userID, visibleOnly)
	if err != nil {
		respondEngineError(w, h.log, err)
		return
	}
	if holds == nil {
		holds = []domain.Reservation{}
	}
	respondJSON(w, http.StatusOK, holds)
}

// reserveFailureStatus returns 0 for errors that are not a business rejection.
func reserveFailureStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProductNotFound), errors.Is(err, domain.ErrVariantNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return 0
	}
}

// lineNames maps each requested variant to the display name sent by the storefront.
func lineNames(lines []domain.CartLine) map[domain.VariantKey]string {
	names := make(map[domain.VariantKey]string, len(lines))
	for _, line := range lines {
		if line.Name == "" {
			continue
		}
		key, err := domain.NormalizeVariantKey(line.ProductID, string(line.USSize), line.Color)
		if err != nil {
			continue
		}
		names[key] = line.Name
	}
	return names
}
