package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/repository"
)

// RequireSellerDeposit возвращает model.ErrInsufficientDeposit, если залог пользователя меньше требуемого.
func (s *Service) RequireSellerDeposit(ctx context.Context, userID string) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.checkDeposit(u)
}

func (s *Service) checkDeposit(u *model.User) error {
	required := s.RequiredDepositPoints()
	if u.DepositPoints < required {
		return fmt.Errorf("%w: have %d, required %d", model.ErrInsufficientDeposit, u.DepositPoints, required)
	}
	return nil
}

// PaySellerDeposit доводит залог пользователя до требуемого размера внешним платежом paymentRef
// и делает его продавцом. Баланс при этом не списывается. Платёж должен покрывать недостающую
// часть залога, излишек зачисляется на баланс. Если залог уже достаточен, меняется только роль
// и платёж не требуется.
func (s *Service) PaySellerDeposit(ctx context.Context, userID, paymentRef string) (*model.User, error) {
	current, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	required := s.RequiredDepositPoints()
	if current.DepositPoints >= required {
		return s.promoteToSeller(ctx, userID)
	}

	points, err := s.verifyPayment(ctx, paymentRef, s.PointsToPi(required-current.DepositPoints))
	if err != nil {
		return nil, err
	}

	var (
		user           *model.User
		delta, surplus int64
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		delta = max(required-u.DepositPoints, 0)
		if points < delta {
			return fmt.Errorf("%w: payment %s covers %d of %d points", model.ErrPaymentNotVerified, paymentRef, points, delta)
		}
		surplus = points - delta

		now := s.now()
		if err := tx.ClaimPayment(ctx, &model.Payment{
			Ref:          paymentRef,
			Purpose:      model.PaymentPurposeDeposit,
			UserID:       u.ID,
			AmountPoints: points,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		if err := u.FundDeposit(delta); err != nil {
			return err
		}
		if err := u.Credit(surplus); err != nil {
			return err
		}
		if u.Role == model.RoleBuyer {
			u.Role = model.RoleSeller
		}
		u.UpdatedAt = now
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		user = u

		entries := []*model.Deposit{
			{Kind: model.DepositKindSellerDeposit, AmountPoints: delta},
			{Kind: model.DepositKindRecharge, AmountPoints: surplus},
		}
		for _, d := range entries {
			if d.AmountPoints == 0 {
				continue
			}
			d.ID = newID()
			d.UserID = u.ID
			d.PaymentRef = paymentRef
			d.CreatedAt = now
			if err := tx.CreateDeposit(ctx, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("seller deposit paid",
		zap.String("user", user.ID),
		zap.String("payment", paymentRef),
		zap.Int64("points", delta),
		zap.Int64("surplus", surplus),
	)
	return user, nil
}

// promoteToSeller назначает роль продавца пользователю с достаточным залогом.
func (s *Service) promoteToSeller(ctx context.Context, userID string) (*model.User, error) {
	var user *model.User
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		user = u
		if u.Role != model.RoleBuyer {
			return nil
		}
		if err := s.checkDeposit(u); err != nil {
			return err
		}
		u.Role = model.RoleSeller
		u.UpdatedAt = s.now()
		return tx.UpdateUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// PenalizeSellerDeposit списывает штраф из залога продавца, но не больше, чем в залоге есть,
// записывает нарушение и возвращает фактически списанную сумму.
func (s *Service) PenalizeSellerDeposit(ctx context.Context, userID string, penaltyPoints int64, reason string) (int64, error) {
	if penaltyPoints <= 0 {
		return 0, fmt.Errorf("%w: penalty must be positive", model.ErrInvalidInput)
	}

	kind := reason
	if kind == "" {
		kind = "penalty"
	}

	var deducted int64
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		deducted, err = s.penalize(ctx, tx, userID, penaltyPoints, kind, reason)
		return err
	})
	if err != nil {
		return 0, err
	}

	if deducted > 0 {
		s.metrics.Penalized(deducted)
	}
	s.logger.Info("seller penalized",
		zap.String("user", userID),
		zap.Int64("requested", penaltyPoints),
		zap.Int64("deducted", deducted),
		zap.String("reason", reason),
	)
	return deducted, nil
}

// penalize списывает штраф из залога и записывает нарушение типа kind.
func (s *Service) penalize(ctx context.Context, tx repository.Tx, userID string, penaltyPoints int64, kind, note string) (int64, error) {
	u, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	deducted := u.DeductDeposit(penaltyPoints)
	u.Violations++
	u.UpdatedAt = now
	if err := tx.UpdateUser(ctx, u); err != nil {
		return 0, err
	}

	if err := tx.CreateViolation(ctx, &model.Violation{
		ID:             newID(),
		UserID:         u.ID,
		Type:           kind,
		PointsDeducted: deducted,
		Note:           note,
		CreatedAt:      now,
	}); err != nil {
		return 0, err
	}
	return deducted, nil
}

// ReleaseSellerDeposit возвращает залог продавца на его баланс. Пока у продавца есть
// незавершённые заказы, вернуть залог нельзя.
func (s *Service) ReleaseSellerDeposit(ctx context.Context, adminID, userID string) (*model.User, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	var (
		user     *model.User
		released int64
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		active, err := tx.CountActiveOrders(ctx, repository.OrderFilter{SellerID: u.ID})
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("%w: seller has %d active orders", model.ErrInvalidState, active)
		}

		now := s.now()
		released = u.ReleaseDeposit()
		if u.Role == model.RoleSeller {
			u.Role = model.RoleBuyer
		}
		u.UpdatedAt = now
		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}
		user = u

		if released == 0 {
			return nil
		}
		return tx.CreateDeposit(ctx, &model.Deposit{
			ID:           newID(),
			UserID:       u.ID,
			Kind:         model.DepositKindDepositRelease,
			AmountPoints: released,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("seller deposit released",
		zap.String("user", user.ID),
		zap.String("admin", adminID),
		zap.Int64("points", released),
	)
	return user, nil
}
