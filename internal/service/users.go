package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/payment"
	"github.com/mmeshcher/pi-marketplace/internal/repository"
)

// Login определяет пользователя Pi Network по токену доступа и возвращает его аккаунт,
// создавая аккаунт при первом входе.
func (s *Service) Login(ctx context.Context, piAccessToken string) (*model.User, error) {
	if s.verifier == nil {
		return nil, fmt.Errorf("%w: no identity provider", model.ErrUnauthorized)
	}

	id, err := s.verifier.Identify(ctx, piAccessToken)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidToken) {
			return nil, fmt.Errorf("%w: %v", model.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("identify pi user: %w", err)
	}

	role := model.RoleBuyer
	if s.opts.AdminPiUserID != "" && id.PiUserID == s.opts.AdminPiUserID {
		role = model.RoleAdmin
	}

	u, err := s.store.GetUserByPiID(ctx, id.PiUserID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		u, err = s.createUser(ctx, id, role)
		if errors.Is(err, repository.ErrUserExists) {
			u, err = s.store.GetUserByPiID(ctx, id.PiUserID)
		}
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	if role == model.RoleAdmin && u.Role != model.RoleAdmin {
		if u, err = s.promoteToAdmin(ctx, u.ID); err != nil {
			return nil, err
		}
	}

	s.logger.Info("user logged in", zap.String("user", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}

func (s *Service) createUser(ctx context.Context, id *payment.Identity, role model.Role) (*model.User, error) {
	now := s.now()
	u := &model.User{
		ID:        newID(),
		PiUserID:  id.PiUserID,
		Username:  id.Username,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", zap.String("user", u.ID), zap.String("pi_user", u.PiUserID))
	return u, nil
}

func (s *Service) promoteToAdmin(ctx context.Context, userID string) (*model.User, error) {
	var user *model.User
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		u.Role = model.RoleAdmin
		u.UpdatedAt = s.now()
		user = u
		return tx.UpdateUser(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser возвращает аккаунт пользователя.
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return s.store.GetUser(ctx, userID)
}

// ListDeposits возвращает журнал пополнений пользователя.
func (s *Service) ListDeposits(ctx context.Context, userID string) ([]model.Deposit, error) {
	return s.store.ListDeposits(ctx, userID)
}

// ListViolations возвращает журнал нарушений пользователя.
func (s *Service) ListViolations(ctx context.Context, userID string) ([]model.Violation, error) {
	return s.store.ListViolations(ctx, userID)
}
