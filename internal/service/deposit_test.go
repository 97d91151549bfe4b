package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/payment"
)

func TestRequireSellerDeposit(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.svc.RequireSellerDeposit(context.Background(), f.seller.ID))
	assert.ErrorIs(t, f.svc.RequireSellerDeposit(context.Background(), f.buyer.ID), model.ErrInsufficientDeposit)
	assert.ErrorIs(t, f.svc.RequireSellerDeposit(context.Background(), "missing"), model.ErrNotFound)
}

func TestPaySellerDeposit_FundedByExternalPayment(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, model.User{Role: model.RoleBuyer, DepositPoints: 200})

	paid, err := f.svc.PaySellerDeposit(context.Background(), u.ID, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, model.RoleSeller, paid.Role)
	assert.Equal(t, int64(1000), paid.DepositPoints)
	assert.Equal(t, int64(0), paid.BalancePoints, "the deposit never touches the balance")

	deposits, err := f.svc.ListDeposits(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, model.DepositKindSellerDeposit, deposits[0].Kind)
	assert.Equal(t, int64(800), deposits[0].AmountPoints)
	assert.Equal(t, "dep-1", deposits[0].PaymentRef)
}

func TestPaySellerDeposit_KeepsBalanceIntact(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, model.User{Role: model.RoleBuyer, BalancePoints: 3000})

	paid, err := f.svc.PaySellerDeposit(context.Background(), u.ID, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), paid.BalancePoints)
	assert.Equal(t, int64(1000), paid.DepositPoints)

	again, err := f.svc.PaySellerDeposit(context.Background(), u.ID, "dep-2")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), again.BalancePoints)
	assert.Equal(t, int64(1000), again.DepositPoints)

	deposits, err := f.svc.ListDeposits(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Len(t, deposits, 1)
}

func TestPaySellerDeposit_PaymentCannotBeReused(t *testing.T) {
	f := newFixture(t)
	first := f.seedUser(t, model.User{Role: model.RoleBuyer})
	second := f.seedUser(t, model.User{Role: model.RoleBuyer})

	_, err := f.svc.PaySellerDeposit(context.Background(), first.ID, "dep-shared")
	require.NoError(t, err)

	_, err = f.svc.PaySellerDeposit(context.Background(), second.ID, "dep-shared")
	assert.ErrorIs(t, err, model.ErrDuplicatePayment)

	_, err = f.svc.Recharge(context.Background(), second.ID, "dep-shared", 1000)
	assert.ErrorIs(t, err, model.ErrDuplicatePayment)

	stored := f.user(t, second.ID)
	assert.Equal(t, model.RoleBuyer, stored.Role)
	assert.Equal(t, int64(0), stored.DepositPoints)
}

func TestPaySellerDeposit_SurplusGoesToBalance(t *testing.T) {
	f := newFixtureWith(t, &stubVerifier{
		verification: &payment.Verification{Verified: true, AmountPi: 1200, Status: "completed"},
	}, Options{PointsPerPi: 1, FeePercent: 10, SellerDepositPi: 1000})
	u := f.seedUser(t, model.User{Role: model.RoleBuyer, DepositPoints: 400})

	paid, err := f.svc.PaySellerDeposit(context.Background(), u.ID, "dep-big")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), paid.DepositPoints)
	assert.Equal(t, int64(600), paid.BalancePoints)

	deposits, err := f.svc.ListDeposits(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, deposits, 2)
	byKind := map[model.DepositKind]int64{}
	for _, d := range deposits {
		byKind[d.Kind] = d.AmountPoints
		assert.Equal(t, "dep-big", d.PaymentRef)
	}
	assert.Equal(t, int64(600), byKind[model.DepositKindSellerDeposit])
	assert.Equal(t, int64(600), byKind[model.DepositKindRecharge])
}

func TestPaySellerDeposit_RejectsShortOrUnverifiedPayment(t *testing.T) {
	t.Run("short", func(t *testing.T) {
		f := newFixtureWith(t, &stubVerifier{
			verification: &payment.Verification{Verified: true, AmountPi: 999, Status: "completed"},
		}, Options{PointsPerPi: 1, FeePercent: 10, SellerDepositPi: 1000})
		u := f.seedUser(t, model.User{Role: model.RoleBuyer, BalancePoints: 5000})

		_, err := f.svc.PaySellerDeposit(context.Background(), u.ID, "dep-short")
		assert.ErrorIs(t, err, model.ErrPaymentNotVerified)

		stored := f.user(t, u.ID)
		assert.Equal(t, model.RoleBuyer, stored.Role)
		assert.Equal(t, int64(5000), stored.BalancePoints)
		assert.Equal(t, int64(0), stored.DepositPoints)
	})

	t.Run("pending", func(t *testing.T) {
		f := newFixtureWith(t, &stubVerifier{
			verification: &payment.Verification{Verified: false, AmountPi: 1000, Status: "pending"},
		}, Options{PointsPerPi: 1, FeePercent: 10, SellerDepositPi: 1000})
		u := f.seedUser(t, model.User{Role: model.RoleBuyer})

		_, err := f.svc.PaySellerDeposit(context.Background(), u.ID, "dep-pending")
		assert.ErrorIs(t, err, model.ErrPaymentNotVerified)
		assert.Equal(t, model.RoleBuyer, f.user(t, u.ID).Role)
	})

	t.Run("missing reference", func(t *testing.T) {
		f := newFixture(t)
		u := f.seedUser(t, model.User{Role: model.RoleBuyer})

		_, err := f.svc.PaySellerDeposit(context.Background(), u.ID, "")
		assert.ErrorIs(t, err, model.ErrInvalidInput)
	})
}

func TestPaySellerDeposit_OnlySetsRoleWhenAlreadyCovered(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, model.User{Role: model.RoleBuyer, DepositPoints: 1000, BalancePoints: 50})

	paid, err := f.svc.PaySellerDeposit(context.Background(), u.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.RoleSeller, paid.Role)
	assert.Equal(t, int64(50), paid.BalancePoints)

	deposits, err := f.svc.ListDeposits(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Empty(t, deposits)
}

func TestPenalizeSellerDeposit_NeverNegative(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, model.User{Role: model.RoleSeller, DepositPoints: 500})

	deducted, err := f.svc.PenalizeSellerDeposit(context.Background(), u.ID, 800, "fake goods")
	require.NoError(t, err)
	assert.Equal(t, int64(500), deducted)

	stored := f.user(t, u.ID)
	assert.Equal(t, int64(0), stored.DepositPoints)
	assert.Equal(t, 1, stored.Violations)

	violations, err := f.svc.ListViolations(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, int64(500), violations[0].PointsDeducted)
	assert.Equal(t, "fake goods", violations[0].Type)
	assert.Equal(t, "fake goods", violations[0].Note)

	deducted, err = f.svc.PenalizeSellerDeposit(context.Background(), u.ID, 100, "again")
	require.NoError(t, err)
	assert.Equal(t, int64(0), deducted)
	assert.Equal(t, 2, f.user(t, u.ID).Violations)
}

func TestPenalizeSellerDeposit_PartialPenalty(t *testing.T) {
	f := newFixture(t)

	deducted, err := f.svc.PenalizeSellerDeposit(context.Background(), f.seller.ID, 300, "late delivery")
	require.NoError(t, err)
	assert.Equal(t, int64(300), deducted)
	assert.Equal(t, int64(700), f.user(t, f.seller.ID).DepositPoints)
}

func TestPenalizeSellerDeposit_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.PenalizeSellerDeposit(context.Background(), f.seller.ID, 0, "nothing")
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.svc.PenalizeSellerDeposit(context.Background(), "missing", 10, "nobody")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReleaseSellerDeposit(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 100)

	_, err := f.svc.ReleaseSellerDeposit(context.Background(), f.admin.ID, f.seller.ID)
	assert.ErrorIs(t, err, model.ErrInvalidState, "active orders block the release")

	_, err = f.svc.ReleaseSellerDeposit(context.Background(), f.buyer.ID, f.seller.ID)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = f.svc.ConfirmOrder(context.Background(), o.ID, f.buyer.ID)
	require.NoError(t, err)

	released, err := f.svc.ReleaseSellerDeposit(context.Background(), f.admin.ID, f.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), released.DepositPoints)
	assert.Equal(t, int64(1000), released.BalancePoints)
	assert.Equal(t, model.RoleBuyer, released.Role)

	deposits, err := f.svc.ListDeposits(context.Background(), f.seller.ID)
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, model.DepositKindDepositRelease, deposits[0].Kind)
	assert.Equal(t, int64(1000), deposits[0].AmountPoints)
}
