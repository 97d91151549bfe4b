// Package service реализует бизнес-логику маркетплейса: жизненный цикл заказа, эскроу,
// залоги продавцов, выплаты и возвраты.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/pi-marketplace/internal/metrics"
	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/payment"
	"github.com/mmeshcher/pi-marketplace/internal/repository"
	"github.com/mmeshcher/pi-marketplace/internal/validation"
)

// AutoConfirmWindow задаёт время после отправки, по истечении которого заказ подтверждается автоматически.
const AutoConfirmWindow = 48 * time.Hour

// PaymentVerifier описывает внешнюю платёжную сеть.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, paymentID string, claimedPi float64) (*payment.Verification, error)
	Identify(ctx context.Context, accessToken string) (*payment.Identity, error)
}

// Options содержит параметры, прочитанные один раз при старте.
type Options struct {
	PointsPerPi     int
	FeePercent      int
	SellerDepositPi int
	AdminPiUserID   string
}

// Service содержит бизнес-логику маркетплейса.
type Service struct {
	store    repository.Store
	verifier PaymentVerifier
	logger   *zap.Logger
	metrics  *metrics.Collector
	opts     Options

	now func() time.Time
}

// NewService создаёт сервис поверх хранилища и платёжной сети. logger и collector могут быть nil.
func NewService(store repository.Store, verifier PaymentVerifier, logger *zap.Logger, collector *metrics.Collector, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		verifier: verifier,
		logger:   logger,
		metrics:  collector,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// RequiredDepositPoints возвращает размер залога продавца в баллах.
func (s *Service) RequiredDepositPoints() int64 {
	return int64(s.opts.SellerDepositPi) * int64(s.opts.PointsPerPi)
}

// PiToPoints переводит сумму в Pi в баллы с округлением до целого.
func (s *Service) PiToPoints(amountPi float64) int64 {
	return decimal.NewFromFloat(amountPi).
		Mul(decimal.NewFromInt(int64(s.opts.PointsPerPi))).
		Round(0).
		IntPart()
}

// PointsToPi переводит баллы в Pi.
func (s *Service) PointsToPi(points int64) float64 {
	if s.opts.PointsPerPi <= 0 {
		return 0
	}
	return decimal.NewFromInt(points).
		Div(decimal.NewFromInt(int64(s.opts.PointsPerPi))).
		InexactFloat64()
}

// verifyPayment проверяет платёж во внешней сети и возвращает подтверждённую сумму в баллах.
func (s *Service) verifyPayment(ctx context.Context, paymentRef string, claimedPi float64) (int64, error) {
	if !validation.IsValidPaymentRef(paymentRef) {
		return 0, fmt.Errorf("%w: malformed payment reference", model.ErrInvalidInput)
	}
	if s.verifier == nil {
		return 0, fmt.Errorf("%w: no payment verifier", model.ErrPaymentNotVerified)
	}

	v, err := s.verifier.VerifyPayment(ctx, paymentRef, claimedPi)
	if err != nil {
		s.logger.Warn("payment verification failed", zap.String("payment", paymentRef), zap.Error(err))
		return 0, fmt.Errorf("%w: %v", model.ErrPaymentNotVerified, err)
	}
	if !v.Verified {
		return 0, fmt.Errorf("%w: payment %s status %s", model.ErrPaymentNotVerified, paymentRef, v.Status)
	}
	if v.PaymentID != paymentRef {
		s.logger.Warn("payment identifier mismatch",
			zap.String("payment", paymentRef),
			zap.String("verified", v.PaymentID),
		)
		return 0, fmt.Errorf("%w: payment %s resolved to %s", model.ErrPaymentNotVerified, paymentRef, v.PaymentID)
	}
	return s.PiToPoints(v.AmountPi), nil
}

// requireAdmin проверяет, что пользователь существует и является администратором.
func (s *Service) requireAdmin(ctx context.Context, userID string) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("%w: unknown user %s", model.ErrUnauthorized, userID)
		}
		return err
	}
	if u.Role != model.RoleAdmin {
		return fmt.Errorf("%w: admin role required", model.ErrUnauthorized)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}
