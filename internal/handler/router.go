package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/pi-marketplace/internal/middleware"
	"github.com/mmeshcher/pi-marketplace/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware маркетплейса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	if h.metrics != nil {
		r.Use(custommiddleware.Metrics(h.metrics))
		r.Handle("/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			h.limit(r)

			r.Post("/auth/login", h.Login)
			r.Get("/products", h.ListProducts)
			r.Get("/products/{productID}", h.GetProduct)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			h.limit(r)

			r.Get("/users/me", h.Me)
			r.Get("/users/me/deposits", h.GetDeposits)
			r.Get("/users/me/violations", h.GetViolations)
			r.Post("/users/deposit/pay", h.PayDeposit)
			r.Post("/users/recharge", h.Recharge)

			r.Post("/products", h.CreateProduct)
			r.Get("/products/my", h.ListMyProducts)
			r.Post("/products/{productID}/activate", h.ActivateProduct)
			r.Post("/products/{productID}/deactivate", h.DeactivateProduct)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders/my", h.GetMyOrders)
			r.Get("/orders/sold", h.GetSoldOrders)
			r.Get("/orders/{orderID}", h.GetOrder)
			r.Post("/orders/{orderID}/ship", h.ShipOrder)
			r.Post("/orders/{orderID}/confirm", h.ConfirmOrder)

			r.Post("/withdrawals", h.Withdraw)
			r.Get("/withdrawals", h.GetWithdrawals)

			r.Post("/complaints", h.FileComplaint)
			r.Get("/complaints", h.GetComplaints)

			r.Route("/admin", func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleAdmin))

				r.Get("/products/pending", h.ListPendingProducts)
				r.Post("/products/{productID}/approve", h.ApproveProduct)

				r.Post("/orders/auto-confirm", h.RunAutoConfirm)
				r.Post("/orders/{orderID}/settle", h.SettleOrder)
				r.Post("/orders/{orderID}/refund", h.RefundOrder)

				r.Get("/withdrawals", h.GetAllWithdrawals)
				r.Post("/withdrawals/{withdrawalID}/review", h.ReviewWithdrawal)

				r.Post("/complaints/{complaintID}/decide", h.DecideComplaint)

				r.Post("/users/{userID}/deposit/release", h.ReleaseDeposit)
				r.Post("/users/{userID}/deposit/penalize", h.PenalizeDeposit)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorStatus(w, http.StatusNotFound, "")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorStatus(w, http.StatusMethodNotAllowed, "")
	})

	return r
}

func (h *Handler) limit(r chi.Router) {
	if h.rateLimiter != nil {
		r.Use(h.rateLimiter.Handler)
	}
}
