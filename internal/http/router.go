package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/reservation-service/internal/logger"
)

type RouterConfig struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

type Handlers struct {
	Reservations *ReservationHandler
	Stock        *StockHandler
	Payments     *PaymentHandler
	Orders       *OrdersHandler
}

// NewRouter mounts every endpoint under /api/v1. Stock updates and restores, the payment
// webhook, manual orders and delivery updates are operator or provider calls
// and do not carry a user id.
func NewRouter(h Handlers, cfg RouterConfig, log *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(log))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	if cfg.MaxBodyBytes > 0 {
		r.Use(MaxBodyMiddleware(cfg.MaxBodyBytes))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(UserIDMiddleware)

			r.Post("/reservations", h.Reservations.Reserve)
			r.Get("/reservations", h.Reservations.List)
			r.Post("/reservations/release", h.Reservations.Release)
			r.Post("/reservations/hide", h.Reservations.Hide)

			r.Get("/orders", h.Orders.ListOrders)
			r.Get("/orders/{order_id}", h.Orders.GetOrder)
		})

		r.Get("/stock/{product_id}", h.Stock.GetAvailability)
		r.Put("/stock", h.Stock.UpdateStock)
		r.Post("/stock/restore", h.Stock.RestoreStock)

		r.Post("/payments/webhook", h.Payments.Webhook)
		r.Post("/orders/manual", h.Payments.ManualOrder)
		r.Patch("/orders/{order_id}/delivery", h.Orders.MarkDelivered)
	})

	return r
}
