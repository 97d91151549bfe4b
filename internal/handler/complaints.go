package handler

import (
	"net/http"
	"time"

	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/service"
	"github.com/mmeshcher/pi-marketplace/internal/validation"
)

type complaintRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type decisionRequest struct {
	Accept        bool   `json:"accept"`
	Decision      string `json:"decision"`
	PenaltyPoints int64  `json:"penalty_points"`
	Note          string `json:"note"`
}

type complaintResponse struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	BuyerID        string `json:"buyer_id"`
	SellerID       string `json:"seller_id"`
	Reason         string `json:"reason"`
	Status         string `json:"status"`
	Decision       string `json:"decision,omitempty"`
	PenaltyPoints  int64  `json:"penalty_points"`
	ResolutionNote string `json:"resolution_note,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func toComplaintResponse(c *model.Complaint) complaintResponse {
	return complaintResponse{
		ID:             c.ID,
		OrderID:        c.OrderID,
		BuyerID:        c.BuyerID,
		SellerID:       c.SellerID,
		Reason:         c.Reason,
		Status:         string(c.Status),
		Decision:       c.Decision,
		PenaltyPoints:  c.PenaltyPoints,
		ResolutionNote: c.ResolutionNote,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
}

// FileComplaint регистрирует жалобу покупателя на заказ.
func (h *Handler) FileComplaint(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req complaintRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validation.IsValidID(req.OrderID) {
		writeErrorStatus(w, http.StatusBadRequest, "INVALID_INPUT")
		return
	}

	c, err := h.service.FileComplaint(r.Context(), userID, req.OrderID, req.Reason)
	if err != nil {
		h.writeError(w, r, "file complaint", err)
		return
	}
	writeJSON(w, http.StatusCreated, toComplaintResponse(c))
}

// GetComplaints возвращает жалобы текущего покупателя.
func (h *Handler) GetComplaints(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	complaints, err := h.service.ListComplaints(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "list complaints", err)
		return
	}

	resp := make([]complaintResponse, 0, len(complaints))
	for i := range complaints {
		resp = append(resp, toComplaintResponse(&complaints[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DecideComplaint выносит решение по жалобе и при необходимости штрафует продавца.
func (h *Handler) DecideComplaint(w http.ResponseWriter, r *http.Request) {
	adminID, ok := currentUser(w, r)
	if !ok {
		return
	}
	complaintID, ok := pathID(w, r, "complaintID")
	if !ok {
		return
	}

	var req decisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.service.DecideComplaint(r.Context(), adminID, complaintID, service.ComplaintDecision{
		Accept:        req.Accept,
		Decision:      req.Decision,
		PenaltyPoints: req.PenaltyPoints,
		Note:          req.Note,
	})
	if err != nil {
		h.writeError(w, r, "decide complaint", err)
		return
	}
	writeJSON(w, http.StatusOK, toComplaintResponse(c))
}
