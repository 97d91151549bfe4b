package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/validation"
)

type loginRequest struct {
	AccessToken string `json:"access_token"`
}

type userResponse struct {
	ID              string `json:"id"`
	PiUserID        string `json:"pi_user_id"`
	Username        string `json:"username"`
	Role            string `json:"role"`
	BalancePoints   int64  `json:"balance_points"`
	FrozenPoints    int64  `json:"frozen_points"`
	AvailablePoints int64  `json:"available_points"`
	DepositPoints   int64  `json:"deposit_points"`
	Violations      int    `json:"violations"`
	CreatedAt       string `json:"created_at"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:              u.ID,
		PiUserID:        u.PiUserID,
		Username:        u.Username,
		Role:            string(u.Role),
		BalancePoints:   u.BalancePoints,
		FrozenPoints:    u.FrozenPoints,
		AvailablePoints: u.AvailablePoints(),
		DepositPoints:   u.DepositPoints,
		Violations:      u.Violations,
		CreatedAt:       u.CreatedAt.Format(time.RFC3339),
	}
}

// Login обменивает токен Pi Network на токен доступа маркетплейса.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	token := strings.TrimSpace(req.AccessToken)
	if token == "" {
		writeErrorStatus(w, http.StatusBadRequest, "INVALID_INPUT")
		return
	}

	user, err := h.service.Login(r.Context(), token)
	if err != nil {
		if errors.Is(err, model.ErrUnauthorized) {
			writeErrorStatus(w, http.StatusUnauthorized, "UNAUTHORIZED")
			return
		}
		h.writeError(w, r, "login", err)
		return
	}

	signed, err := h.authMiddleware.IssueToken(user.ID, user.Role)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err), zap.String("user", user.ID))
		writeErrorStatus(w, http.StatusInternalServerError, "")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: signed, User: toUserResponse(user)})
}

// Me возвращает аккаунт текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "get user", err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

type depositResponse struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	AmountPoints int64  `json:"amount_points"`
	PaymentRef   string `json:"payment_id,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// GetDeposits возвращает журнал зачислений текущего пользователя.
func (h *Handler) GetDeposits(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	deposits, err := h.service.ListDeposits(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "list deposits", err)
		return
	}

	resp := make([]depositResponse, 0, len(deposits))
	for _, d := range deposits {
		resp = append(resp, depositResponse{
			ID:           d.ID,
			Kind:         string(d.Kind),
			AmountPoints: d.AmountPoints,
			PaymentRef:   d.PaymentRef,
			CreatedAt:    d.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type violationResponse struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	PointsDeducted int64  `json:"points_deducted"`
	Note           string `json:"note,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// GetViolations возвращает штрафы текущего пользователя.
func (h *Handler) GetViolations(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	violations, err := h.service.ListViolations(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "list violations", err)
		return
	}

	resp := make([]violationResponse, 0, len(violations))
	for _, v := range violations {
		resp = append(resp, violationResponse{
			ID:             v.ID,
			Type:           v.Type,
			PointsDeducted: v.PointsDeducted,
			Note:           v.Note,
			CreatedAt:      v.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type payDepositRequest struct {
	PaymentID string `json:"payment_id"`
}

// PayDeposit вносит залог продавца подтверждённым платежом Pi. Если залог уже внесён,
// payment_id можно не передавать.
func (h *Handler) PayDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req payDepositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PaymentID != "" && !validation.IsValidPaymentRef(req.PaymentID) {
		writeErrorStatus(w, http.StatusBadRequest, "INVALID_INPUT")
		return
	}

	user, err := h.service.PaySellerDeposit(r.Context(), userID, req.PaymentID)
	if err != nil {
		h.writeError(w, r, "pay deposit", err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

type rechargeRequest struct {
	PaymentID string  `json:"payment_id"`
	AmountPi  float64 `json:"amount_pi"`
}

// Recharge зачисляет на баланс подтверждённый платёж Pi.
func (h *Handler) Recharge(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req rechargeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validation.IsValidPaymentRef(req.PaymentID) || req.AmountPi <= 0 {
		writeErrorStatus(w, http.StatusBadRequest, "INVALID_INPUT")
		return
	}

	user, err := h.service.Recharge(r.Context(), userID, req.PaymentID, req.AmountPi)
	if err != nil {
		h.writeError(w, r, "recharge", err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}
