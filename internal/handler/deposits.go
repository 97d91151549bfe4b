package handler

import (
	"net/http"

	"github.com/mmeshcher/pi-marketplace/internal/validation"
)

// ReleaseDeposit возвращает залог продавца на его баланс.
func (h *Handler) ReleaseDeposit(w http.ResponseWriter, r *http.Request) {
	adminID, ok := currentUser(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	user, err := h.service.ReleaseSellerDeposit(r.Context(), adminID, userID)
	if err != nil {
		h.writeError(w, r, "release deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

type penaltyRequest struct {
	PenaltyPoints int64  `json:"penalty_points"`
	Reason        string `json:"reason"`
}

type penaltyResponse struct {
	DeductedPoints int64 `json:"deducted_points"`
}

// PenalizeDeposit списывает штраф из залога продавца вне процедуры жалоб.
func (h *Handler) PenalizeDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	var req penaltyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validation.IsPositiveAmount(req.PenaltyPoints) {
		writeErrorStatus(w, http.StatusBadRequest, "INVALID_INPUT")
		return
	}

	deducted, err := h.service.PenalizeSellerDeposit(r.Context(), userID, req.PenaltyPoints, req.Reason)
	if err != nil {
		h.writeError(w, r, "penalize deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, penaltyResponse{DeductedPoints: deducted})
}
