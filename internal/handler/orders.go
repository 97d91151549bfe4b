package handler

import (
	"net/http"
	"time"

	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/validation"
)

type createOrderRequest struct {
	ProductID string `json:"product_id"`
	PaymentID string `json:"payment_id"`
}

type orderResponse struct {
	ID           string `json:"id"`
	ProductID    string `json:"product_id"`
	BuyerID      string `json:"buyer_id"`
	SellerID     string `json:"seller_id"`
	AmountPoints int64  `json:"amount_points"`
	FeePoints    int64  `json:"fee_points"`
	EscrowPoints int64  `json:"escrow_points"`
	Status       string `json:"status"`
	Settled      bool   `json:"settled"`
	PaymentID    string `json:"payment_id"`
	ComplaintID  string `json:"complaint_id,omitempty"`
	ShippedAt    string `json:"shipped_at,omitempty"`
	CompletedAt  string `json:"completed_at,omitempty"`
	SettledAt    string `json:"settled_at,omitempty"`
	RefundedAt   string `json:"refunded_at,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:           o.ID,
		ProductID:    o.ProductID,
		BuyerID:      o.BuyerID,
		SellerID:     o.SellerID,
		AmountPoints: o.AmountPoints,
		FeePoints:    o.FeePoints,
		EscrowPoints: o.EscrowPoints,
		Status:       string(o.Status),
		Settled:      o.Settled,
		PaymentID:    o.PaymentRef,
		ShippedAt:    formatTime(o.ShippedAt),
		CompletedAt:  formatTime(o.CompletedAt),
		SettledAt:    formatTime(o.SettledAt),
		RefundedAt:   formatTime(o.RefundedAt),
		CreatedAt:    o.CreatedAt.Format(time.RFC3339),
	}
	if o.ComplaintID != nil {
		resp.ComplaintID = *o.ComplaintID
	}
	return resp
}

func writeOrders(w http.ResponseWriter, orders []model.Order) {
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateOrder оформляет покупку по подтверждённому платежу Pi.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validation.IsValidID(req.ProductID) || !validation.IsValidPaymentRef(req.PaymentID) {
		writeErrorStatus(w, http.StatusBadRequest, "INVALID_INPUT")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), req.ProductID, userID, req.PaymentID)
	if err != nil {
		h.writeError(w, r, "create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// GetMyOrders возвращает покупки текущего пользователя.
func (h *Handler) GetMyOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListBuyerOrders(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "list buyer orders", err)
		return
	}
	writeOrders(w, orders)
}

// GetSoldOrders возвращает продажи текущего пользователя.
func (h *Handler) GetSoldOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListSellerOrders(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "list seller orders", err)
		return
	}
	writeOrders(w, orders)
}

type orderAction func(h *Handler, r *http.Request, userID, orderID string) (*model.Order, error)

func (h *Handler) orderAction(op string, action orderAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := currentUser(w, r)
		if !ok {
			return
		}
		orderID, ok := pathID(w, r, "orderID")
		if !ok {
			return
		}

		order, err := action(h, r, userID, orderID)
		if err != nil {
			h.writeError(w, r, op, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrderResponse(order))
	}
}

// GetOrder возвращает заказ его покупателю, продавцу или администратору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction("get order", func(h *Handler, r *http.Request, userID, orderID string) (*model.Order, error) {
		return h.service.GetOrder(r.Context(), userID, orderID)
	})(w, r)
}

// ShipOrder отмечает отправку заказа продавцом.
func (h *Handler) ShipOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction("ship order", func(h *Handler, r *http.Request, userID, orderID string) (*model.Order, error) {
		return h.service.ShipOrder(r.Context(), orderID, userID)
	})(w, r)
}

// ConfirmOrder подтверждает получение заказа покупателем.
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction("confirm order", func(h *Handler, r *http.Request, userID, orderID string) (*model.Order, error) {
		return h.service.ConfirmOrder(r.Context(), orderID, userID)
	})(w, r)
}

// SettleOrder выплачивает эскроу продавцу.
func (h *Handler) SettleOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction("settle order", func(h *Handler, r *http.Request, adminID, orderID string) (*model.Order, error) {
		return h.service.SettleOrderPayout(r.Context(), orderID, adminID)
	})(w, r)
}

// RefundOrder возвращает покупателю стоимость заказа.
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	h.orderAction("refund order", func(h *Handler, r *http.Request, adminID, orderID string) (*model.Order, error) {
		return h.service.RefundOrder(r.Context(), orderID, adminID)
	})(w, r)
}

type autoConfirmResponse struct {
	Confirmed int `json:"confirmed"`
}

// RunAutoConfirm запускает внеочередной проход автоподтверждения.
func (h *Handler) RunAutoConfirm(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.AutoConfirmShippedOrders(r.Context())
	if err != nil {
		h.writeError(w, r, "auto confirm", err)
		return
	}
	writeJSON(w, http.StatusOK, autoConfirmResponse{Confirmed: n})
}
