package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/repository"
)

// ComplaintDecision описывает решение администратора по жалобе.
type ComplaintDecision struct {
	// Accept закрывает жалобу как обоснованную, иначе жалоба отклоняется.
	Accept        bool
	Decision      string
	PenaltyPoints int64
	Note          string
}

// FileComplaint регистрирует жалобу покупателя на заказ. На заказ можно пожаловаться один раз.
func (s *Service) FileComplaint(ctx context.Context, buyerID, orderID, reason string) (*model.Complaint, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason required", model.ErrInvalidInput)
	}

	var complaint *model.Complaint
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != buyerID {
			return fmt.Errorf("%w: not the buyer of order %s", model.ErrUnauthorized, o.ID)
		}
		if o.ComplaintID != nil {
			return fmt.Errorf("%w: order %s already has a complaint", model.ErrInvalidState, o.ID)
		}

		now := s.now()
		complaint = &model.Complaint{
			ID:        newID(),
			OrderID:   o.ID,
			BuyerID:   o.BuyerID,
			SellerID:  o.SellerID,
			Reason:    reason,
			Status:    model.ComplaintStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreateComplaint(ctx, complaint); err != nil {
			return err
		}

		o.ComplaintID = &complaint.ID
		o.UpdatedAt = now
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("complaint filed", zap.String("complaint", complaint.ID), zap.String("order", orderID))
	return complaint, nil
}

// DecideComplaint закрывает жалобу. Штраф по обоснованной жалобе списывается из залога продавца
// в той же транзакции.
func (s *Service) DecideComplaint(ctx context.Context, adminID, complaintID string, d ComplaintDecision) (*model.Complaint, error) {
	if d.PenaltyPoints < 0 {
		return nil, fmt.Errorf("%w: penalty must not be negative", model.ErrInvalidInput)
	}
	if !d.Accept && d.PenaltyPoints > 0 {
		return nil, fmt.Errorf("%w: rejected complaint cannot carry a penalty", model.ErrInvalidInput)
	}
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	var complaint *model.Complaint
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		c, err := tx.GetComplaintForUpdate(ctx, complaintID)
		if err != nil {
			return err
		}
		if c.Status != model.ComplaintStatusPending {
			return fmt.Errorf("%w: complaint is %s", model.ErrInvalidState, c.Status)
		}

		var deducted int64
		if d.PenaltyPoints > 0 {
			kind := d.Decision
			if kind == "" {
				kind = "complaint_decision"
			}
			note := "complaint " + c.ID
			if d.Note != "" {
				note += ": " + d.Note
			}
			deducted, err = s.penalize(ctx, tx, c.SellerID, d.PenaltyPoints, kind, note)
			if err != nil {
				return err
			}
		}

		c.Status = model.ComplaintStatusRejected
		if d.Accept {
			c.Status = model.ComplaintStatusResolved
		}
		c.Decision = d.Decision
		c.PenaltyPoints = deducted
		c.ResolutionNote = d.Note
		c.ResolvedBy = adminID
		c.UpdatedAt = s.now()
		complaint = c
		return tx.UpdateComplaint(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	if complaint.PenaltyPoints > 0 {
		s.metrics.Penalized(complaint.PenaltyPoints)
	}
	s.logger.Info("complaint decided",
		zap.String("complaint", complaint.ID),
		zap.String("status", string(complaint.Status)),
		zap.Int64("penalty", complaint.PenaltyPoints),
	)
	return complaint, nil
}

// ListComplaints возвращает жалобы покупателя, а для пустого buyerID все жалобы.
func (s *Service) ListComplaints(ctx context.Context, buyerID string) ([]model.Complaint, error) {
	return s.store.ListComplaints(ctx, buyerID)
}
