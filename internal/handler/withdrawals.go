package handler

import (
	"net/http"
	"time"

	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/service"
	"github.com/mmeshcher/pi-marketplace/internal/validation"
)

type withdrawRequest struct {
	AmountPoints int64 `json:"amount_points"`
}

type reviewRequest struct {
	Action string `json:"action"`
	Note   string `json:"note"`
}

type withdrawalResponse struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	AmountPoints int64  `json:"amount_points"`
	Status       string `json:"status"`
	ReviewNote   string `json:"review_note,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func toWithdrawalResponse(wd *model.Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		ID:           wd.ID,
		UserID:       wd.UserID,
		AmountPoints: wd.AmountPoints,
		Status:       string(wd.Status),
		ReviewNote:   wd.ReviewNote,
		CreatedAt:    wd.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    wd.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) writeWithdrawals(w http.ResponseWriter, r *http.Request, userID string) {
	withdrawals, err := h.service.ListWithdrawals(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "list withdrawals", err)
		return
	}

	if len(withdrawals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]withdrawalResponse, 0, len(withdrawals))
	for i := range withdrawals {
		resp = append(resp, toWithdrawalResponse(&withdrawals[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Withdraw создаёт заявку на вывод и замораживает сумму на балансе.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validation.IsPositiveAmount(req.AmountPoints) {
		writeErrorStatus(w, http.StatusBadRequest, "INVALID_INPUT")
		return
	}

	wd, err := h.service.RequestWithdrawal(r.Context(), userID, req.AmountPoints)
	if err != nil {
		h.writeError(w, r, "request withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalResponse(wd))
}

// GetWithdrawals возвращает заявки на вывод текущего пользователя.
func (h *Handler) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	h.writeWithdrawals(w, r, userID)
}

// GetAllWithdrawals возвращает все заявки на вывод.
func (h *Handler) GetAllWithdrawals(w http.ResponseWriter, r *http.Request) {
	h.writeWithdrawals(w, r, "")
}

// ReviewWithdrawal одобряет, отклоняет или закрывает выплатой заявку на вывод.
func (h *Handler) ReviewWithdrawal(w http.ResponseWriter, r *http.Request) {
	adminID, ok := currentUser(w, r)
	if !ok {
		return
	}
	withdrawalID, ok := pathID(w, r, "withdrawalID")
	if !ok {
		return
	}

	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	wd, err := h.service.ReviewWithdrawal(r.Context(), adminID, withdrawalID, service.ReviewAction(req.Action), req.Note)
	if err != nil {
		h.writeError(w, r, "review withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalResponse(wd))
}
