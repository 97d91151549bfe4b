package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/repository"
)

// ReviewAction задаёт решение администратора по заявке на вывод.
type ReviewAction string

const (
	ReviewApprove ReviewAction = "approve"
	ReviewReject  ReviewAction = "reject"
	ReviewPaid    ReviewAction = "paid"
)

// RequestWithdrawal создаёт заявку на вывод и блокирует сумму на балансе.
func (s *Service) RequestWithdrawal(ctx context.Context, userID string, amountPoints int64) (*model.Withdrawal, error) {
	if amountPoints <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", model.ErrInvalidInput)
	}

	var w *model.Withdrawal
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if err := u.Freeze(amountPoints); err != nil {
			return err
		}

		now := s.now()
		u.UpdatedAt = now
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}

		w = &model.Withdrawal{
			ID:           newID(),
			UserID:       u.ID,
			AmountPoints: amountPoints,
			Status:       model.WithdrawalStatusRequested,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.CreateWithdrawal(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal requested", zap.String("withdrawal", w.ID), zap.String("user", userID), zap.Int64("amount", amountPoints))
	return w, nil
}

// ReviewWithdrawal применяет решение администратора к заявке на вывод.
//
//	approve: requested -> approved
//	reject:  requested|approved -> rejected, блокировка снимается
//	paid:    requested|approved -> paid, сумма списывается с баланса вместе с блокировкой
func (s *Service) ReviewWithdrawal(ctx context.Context, adminID, withdrawalID string, action ReviewAction, note string) (*model.Withdrawal, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	var w *model.Withdrawal
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		w, err = tx.GetWithdrawalForUpdate(ctx, withdrawalID)
		if err != nil {
			return err
		}

		open := w.Status == model.WithdrawalStatusRequested || w.Status == model.WithdrawalStatusApproved
		var next model.WithdrawalStatus
		switch {
		case action == ReviewApprove && w.Status == model.WithdrawalStatusRequested:
			next = model.WithdrawalStatusApproved
		case action == ReviewReject && open:
			next = model.WithdrawalStatusRejected
		case action == ReviewPaid && open:
			next = model.WithdrawalStatusPaid
		case action != ReviewApprove && action != ReviewReject && action != ReviewPaid:
			return fmt.Errorf("%w: unknown action %q", model.ErrInvalidInput, action)
		default:
			return fmt.Errorf("%w: cannot %s %s withdrawal", model.ErrInvalidState, action, w.Status)
		}

		now := s.now()
		if next != model.WithdrawalStatusApproved {
			u, err := tx.GetUserForUpdate(ctx, w.UserID)
			if err != nil {
				return err
			}
			if next == model.WithdrawalStatusPaid {
				if err := u.PayOutFrozen(w.AmountPoints); err != nil {
					return err
				}
			} else {
				u.Unfreeze(w.AmountPoints)
			}
			u.UpdatedAt = now
			if err := tx.UpdateUser(ctx, u); err != nil {
				return err
			}
		}

		w.Status = next
		w.ReviewNote = note
		w.UpdatedAt = now
		return tx.UpdateWithdrawal(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal reviewed",
		zap.String("withdrawal", w.ID),
		zap.String("admin", adminID),
		zap.String("status", string(w.Status)),
	)
	return w, nil
}

// ListWithdrawals возвращает заявки пользователя, а для пустого userID все заявки.
func (s *Service) ListWithdrawals(ctx context.Context, userID string) ([]model.Withdrawal, error) {
	return s.store.ListWithdrawals(ctx, userID)
}

// Recharge зачисляет на баланс подтверждённый платёж. Один платёж можно зачислить один раз.
func (s *Service) Recharge(ctx context.Context, userID, paymentRef string, amountPi float64) (*model.User, error) {
	points, err := s.verifyPayment(ctx, paymentRef, amountPi)
	if err != nil {
		return nil, err
	}
	if points <= 0 {
		return nil, fmt.Errorf("%w: payment %s carries no points", model.ErrPaymentNotVerified, paymentRef)
	}

	var user *model.User
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		now := s.now()
		if err := tx.ClaimPayment(ctx, &model.Payment{
			Ref:          paymentRef,
			Purpose:      model.PaymentPurposeRecharge,
			UserID:       u.ID,
			AmountPoints: points,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		if err := u.Credit(points); err != nil {
			return err
		}
		u.UpdatedAt = now
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		user = u

		return tx.CreateDeposit(ctx, &model.Deposit{
			ID:           newID(),
			UserID:       u.ID,
			Kind:         model.DepositKindRecharge,
			AmountPoints: points,
			PaymentRef:   paymentRef,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("balance recharged", zap.String("user", userID), zap.String("payment", paymentRef), zap.Int64("points", points))
	return user, nil
}
