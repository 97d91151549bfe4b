// Package handler содержит HTTP-обработчики API маркетплейса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/pi-marketplace/internal/metrics"
	"github.com/mmeshcher/pi-marketplace/internal/middleware"
	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/repository"
	"github.com/mmeshcher/pi-marketplace/internal/service"
	"github.com/mmeshcher/pi-marketplace/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Login(ctx context.Context, piAccessToken string) (*model.User, error)
	GetUser(ctx context.Context, userID string) (*model.User, error)
	ListDeposits(ctx context.Context, userID string) ([]model.Deposit, error)
	ListViolations(ctx context.Context, userID string) ([]model.Violation, error)

	PaySellerDeposit(ctx context.Context, userID, paymentRef string) (*model.User, error)
	PenalizeSellerDeposit(ctx context.Context, userID string, penaltyPoints int64, reason string) (int64, error)
	ReleaseSellerDeposit(ctx context.Context, adminID, userID string) (*model.User, error)
	Recharge(ctx context.Context, userID, paymentRef string, amountPi float64) (*model.User, error)

	CreateProduct(ctx context.Context, sellerID string, in service.ProductInput) (*model.Product, error)
	ApproveProduct(ctx context.Context, adminID, productID string) (*model.Product, error)
	ActivateProduct(ctx context.Context, sellerID, productID string) (*model.Product, error)
	DeactivateProduct(ctx context.Context, sellerID, productID string) (*model.Product, error)
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
	ListProducts(ctx context.Context, filter repository.ProductFilter) ([]model.Product, error)

	CreateOrder(ctx context.Context, productID, buyerID, paymentRef string) (*model.Order, error)
	ShipOrder(ctx context.Context, orderID, sellerID string) (*model.Order, error)
	ConfirmOrder(ctx context.Context, orderID, buyerID string) (*model.Order, error)
	AutoConfirmShippedOrders(ctx context.Context) (int, error)
	GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error)
	ListBuyerOrders(ctx context.Context, buyerID string) ([]model.Order, error)
	ListSellerOrders(ctx context.Context, sellerID string) ([]model.Order, error)

	SettleOrderPayout(ctx context.Context, orderID, adminID string) (*model.Order, error)
	RefundOrder(ctx context.Context, orderID, adminID string) (*model.Order, error)

	RequestWithdrawal(ctx context.Context, userID string, amountPoints int64) (*model.Withdrawal, error)
	ReviewWithdrawal(ctx context.Context, adminID, withdrawalID string, action service.ReviewAction, note string) (*model.Withdrawal, error)
	ListWithdrawals(ctx context.Context, userID string) ([]model.Withdrawal, error)

	FileComplaint(ctx context.Context, buyerID, orderID, reason string) (*model.Complaint, error)
	DecideComplaint(ctx context.Context, adminID, complaintID string, d service.ComplaintDecision) (*model.Complaint, error)
	ListComplaints(ctx context.Context, buyerID string) ([]model.Complaint, error)
}

// Handler реализует HTTP-обработчики API маркетплейса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	rateLimiter    *middleware.RateLimiter
	metrics        *metrics.Collector
}

// Option настраивает необязательные части обработчика.
type Option func(*Handler)

// WithRateLimiter включает ограничение частоты запросов к API.
func WithRateLimiter(rl *middleware.RateLimiter) Option {
	return func(h *Handler) { h.rateLimiter = rl }
}

// WithMetrics включает счётчики запросов и маршрут /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(h *Handler) { h.metrics = c }
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorStatus(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), Code: code})
}

var errorStatuses = map[string]int{
	"NOT_FOUND":            http.StatusNotFound,
	"UNAUTHORIZED":         http.StatusForbidden,
	"INVALID_INPUT":        http.StatusBadRequest,
	"INSUFFICIENT_DEPOSIT": http.StatusPaymentRequired,
	"INSUFFICIENT_BALANCE": http.StatusPaymentRequired,
	"PAYMENT_NOT_VERIFIED": http.StatusPaymentRequired,
	"PRODUCT_UNAVAILABLE":  http.StatusConflict,
	"ALREADY_SETTLED":      http.StatusConflict,
	"INVALID_STATE":        http.StatusConflict,
	"DUPLICATE_PAYMENT":    http.StatusConflict,
}

// writeError переводит доменную ошибку в HTTP-ответ. Неизвестные ошибки логируются и отдаются как 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := model.ErrorCode(err)
	status, ok := errorStatuses[code]
	if !ok {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.Error(op+" error", zap.Error(err), zap.String("path", r.URL.Path))
		writeErrorStatus(w, http.StatusInternalServerError, "")
		return
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "INVALID_INPUT")
		return false
	}
	return true
}

func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeErrorStatus(w, http.StatusUnauthorized, "")
		return "", false
	}
	return userID, true
}

// pathID читает идентификатор из пути запроса и отвечает 400, если он не похож на UUID.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := chi.URLParam(r, name)
	if !validation.IsValidID(id) {
		writeErrorStatus(w, http.StatusBadRequest, "INVALID_INPUT")
		return "", false
	}
	return id, true
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
