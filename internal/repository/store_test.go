package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/pi-marketplace/internal/model"
)

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func inTx(t *testing.T, s Store, fn func(ctx context.Context, tx Tx) error) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), fn))
}

func newUser(role model.Role, balance int64) *model.User {
	id := uuid.NewString()
	return &model.User{
		ID:            id,
		PiUserID:      "pi-" + id,
		Username:      "user",
		Role:          role,
		BalancePoints: balance,
		CreatedAt:     baseTime,
		UpdatedAt:     baseTime,
	}
}

func newProduct(sellerID string, stock int) *model.Product {
	return &model.Product{
		ID:          uuid.NewString(),
		SellerID:    sellerID,
		Title:       "ebook",
		PricePoints: 100,
		Stock:       stock,
		Active:      true,
		Approved:    true,
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	}
}

func newOrder(p *model.Product, buyerID string, created time.Time) *model.Order {
	return &model.Order{
		ID:           uuid.NewString(),
		ProductID:    p.ID,
		BuyerID:      buyerID,
		SellerID:     p.SellerID,
		AmountPoints: 100,
		FeePoints:    10,
		EscrowPoints: 90,
		Status:       model.OrderStatusPaid,
		PaymentRef:   uuid.NewString(),
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

// runStoreContract проверяет поведение, общее для всех реализаций Store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("users", func(t *testing.T) {
		s := newStore(t)
		u := newUser(model.RoleBuyer, 10)
		inTx(t, s, func(ctx context.Context, tx Tx) error { return tx.CreateUser(ctx, u) })

		got, err := s.GetUserByPiID(context.Background(), u.PiUserID)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, int64(10), got.BalancePoints)

		dup := newUser(model.RoleBuyer, 0)
		dup.PiUserID = u.PiUserID
		err = s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error { return tx.CreateUser(ctx, dup) })
		assert.ErrorIs(t, err, ErrUserExists)

		_, err = s.GetUser(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("rollback on error", func(t *testing.T) {
		s := newStore(t)
		u := newUser(model.RoleBuyer, 10)
		inTx(t, s, func(ctx context.Context, tx Tx) error { return tx.CreateUser(ctx, u) })

		boom := errors.New("boom")
		err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
			locked, err := tx.GetUserForUpdate(ctx, u.ID)
			if err != nil {
				return err
			}
			locked.BalancePoints = 999
			if err := tx.UpdateUser(ctx, locked); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.GetUser(context.Background(), u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10), got.BalancePoints)
	})

	t.Run("payments are claimed once", func(t *testing.T) {
		s := newStore(t)
		u := newUser(model.RoleBuyer, 0)
		inTx(t, s, func(ctx context.Context, tx Tx) error { return tx.CreateUser(ctx, u) })

		claim := func(purpose model.PaymentPurpose) error {
			return s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
				return tx.ClaimPayment(ctx, &model.Payment{Ref: "pay-1", Purpose: purpose, UserID: u.ID, CreatedAt: baseTime})
			})
		}
		require.NoError(t, claim(model.PaymentPurposePurchase))
		assert.ErrorIs(t, claim(model.PaymentPurposeRecharge), model.ErrDuplicatePayment)
		assert.ErrorIs(t, claim(model.PaymentPurposeDeposit), model.ErrDuplicatePayment)
	})

	t.Run("orders", func(t *testing.T) {
		s := newStore(t)
		seller := newUser(model.RoleSeller, 0)
		buyer := newUser(model.RoleBuyer, 0)
		p := newProduct(seller.ID, 5)
		older := newOrder(p, buyer.ID, baseTime)
		newer := newOrder(p, buyer.ID, baseTime.Add(time.Minute))

		inTx(t, s, func(ctx context.Context, tx Tx) error {
			for _, u := range []*model.User{seller, buyer} {
				if err := tx.CreateUser(ctx, u); err != nil {
					return err
				}
			}
			if err := tx.CreateProduct(ctx, p); err != nil {
				return err
			}
			if err := tx.CreateOrder(ctx, older); err != nil {
				return err
			}
			return tx.CreateOrder(ctx, newer)
		})

		list, err := s.ListOrders(context.Background(), OrderFilter{BuyerID: buyer.ID})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)

		shippedAt := baseTime.Add(-72 * time.Hour)
		inTx(t, s, func(ctx context.Context, tx Tx) error {
			o, err := tx.GetOrderForUpdate(ctx, older.ID)
			if err != nil {
				return err
			}
			o.Status = model.OrderStatusShipped
			o.ShippedAt = &shippedAt
			return tx.UpdateOrder(ctx, o)
		})

		ids, err := s.ListShippedBefore(context.Background(), baseTime.Add(-48*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{older.ID}, ids)

		ids, err = s.ListShippedBefore(context.Background(), shippedAt.Add(-time.Second))
		require.NoError(t, err)
		assert.Empty(t, ids)

		var active int
		inTx(t, s, func(ctx context.Context, tx Tx) error {
			o, err := tx.GetOrderForUpdate(ctx, newer.ID)
			if err != nil {
				return err
			}
			o.Status = model.OrderStatusRefunded
			if err := tx.UpdateOrder(ctx, o); err != nil {
				return err
			}
			active, err = tx.CountActiveOrders(ctx, OrderFilter{SellerID: seller.ID})
			return err
		})
		assert.Equal(t, 1, active)

		got, err := s.GetOrder(context.Background(), older.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ShippedAt)
		assert.True(t, got.ShippedAt.Equal(shippedAt))
	})

	t.Run("products", func(t *testing.T) {
		s := newStore(t)
		seller := newUser(model.RoleSeller, 0)
		live := newProduct(seller.ID, 1)
		pending := newProduct(seller.ID, 1)
		pending.Approved = false
		pending.CreatedAt = baseTime.Add(time.Minute)

		inTx(t, s, func(ctx context.Context, tx Tx) error {
			if err := tx.CreateUser(ctx, seller); err != nil {
				return err
			}
			if err := tx.CreateProduct(ctx, live); err != nil {
				return err
			}
			return tx.CreateProduct(ctx, pending)
		})

		all, err := s.ListProducts(context.Background(), ProductFilter{SellerID: seller.ID})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, pending.ID, all[0].ID)

		onSale, err := s.ListProducts(context.Background(), ProductFilter{OnlyPurchasable: true})
		require.NoError(t, err)
		require.Len(t, onSale, 1)
		assert.Equal(t, live.ID, onSale[0].ID)

		waiting, err := s.ListProducts(context.Background(), ProductFilter{OnlyPending: true})
		require.NoError(t, err)
		require.Len(t, waiting, 1)
		assert.Equal(t, pending.ID, waiting[0].ID)
	})

	t.Run("journals", func(t *testing.T) {
		s := newStore(t)
		u := newUser(model.RoleSeller, 0)
		inTx(t, s, func(ctx context.Context, tx Tx) error {
			if err := tx.CreateUser(ctx, u); err != nil {
				return err
			}
			if err := tx.CreateDeposit(ctx, &model.Deposit{
				ID: uuid.NewString(), UserID: u.ID, Kind: model.DepositKindSellerDeposit, AmountPoints: 50, CreatedAt: baseTime,
			}); err != nil {
				return err
			}
			return tx.CreateViolation(ctx, &model.Violation{
				ID: uuid.NewString(), UserID: u.ID, Type: "complaint", PointsDeducted: 20, CreatedAt: baseTime,
			})
		})

		deposits, err := s.ListDeposits(context.Background(), u.ID)
		require.NoError(t, err)
		require.Len(t, deposits, 1)
		assert.Equal(t, model.DepositKindSellerDeposit, deposits[0].Kind)

		violations, err := s.ListViolations(context.Background(), u.ID)
		require.NoError(t, err)
		require.Len(t, violations, 1)
		assert.Equal(t, int64(20), violations[0].PointsDeducted)
	})

	t.Run("concurrent updates do not lose writes", func(t *testing.T) {
		s := newStore(t)
		u := newUser(model.RoleBuyer, 0)
		inTx(t, s, func(ctx context.Context, tx Tx) error { return tx.CreateUser(ctx, u) })

		const workers = 20
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.WithTx(context.Background(), func(ctx context.Context, tx Tx) error {
					locked, err := tx.GetUserForUpdate(ctx, u.ID)
					if err != nil {
						return err
					}
					if err := locked.Credit(5); err != nil {
						return err
					}
					return tx.UpdateUser(ctx, locked)
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := s.GetUser(context.Background(), u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5*workers), got.BalancePoints)
	})
}
