package service

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
	"github.com/mmeshcher/pi-marketplace/internal/payment"
	"github.com/mmeshcher/pi-marketplace/internal/repository"
)

func TestCreateOrder_SplitsPriceAndTakesStock(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(t, 1000, 5)

	o, err := f.svc.CreateOrder(context.Background(), p.ID, f.buyer.ID, "pay-1")
	require.NoError(t, err)

	assert.Equal(t, model.OrderStatusPaid, o.Status)
	assert.Equal(t, int64(1000), o.AmountPoints)
	assert.Equal(t, int64(100), o.FeePoints)
	assert.Equal(t, int64(900), o.EscrowPoints)
	assert.Equal(t, o.AmountPoints, o.FeePoints+o.EscrowPoints)
	assert.Equal(t, f.seller.ID, o.SellerID)
	assert.Equal(t, "pay-1", o.PaymentRef)
	assert.False(t, o.Settled)

	stored, err := f.repo.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Stock)
	assert.Equal(t, 1, stored.SoldCount)

	buyer := f.user(t, f.buyer.ID)
	assert.Equal(t, int64(0), buyer.BalancePoints, "purchase is paid off-ledger")
}

func TestCreateOrder_AmountIsFeePlusEscrow(t *testing.T) {
	f := newFixture(t)

	for _, price := range []int64{1, 5, 9, 15, 999, 1005, 123457} {
		o := f.placeOrder(t, price)
		assert.Equal(t, price, o.FeePoints+o.EscrowPoints, "price=%d", price)
		assert.GreaterOrEqual(t, o.EscrowPoints, int64(0))
	}
}

func TestCreateOrder_ProductUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *model.Product)
	}{
		{name: "inactive", mutate: func(p *model.Product) { p.Active = false }},
		{name: "not approved", mutate: func(p *model.Product) { p.Approved = false }},
		{name: "out of stock", mutate: func(p *model.Product) { p.Stock = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.seedProduct(t, 100, 1)
			err := f.repo.WithTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
				tt.mutate(p)
				return tx.UpdateProduct(ctx, p)
			})
			require.NoError(t, err)

			_, err = f.svc.CreateOrder(context.Background(), p.ID, f.buyer.ID, uuid.NewString())
			assert.ErrorIs(t, err, model.ErrProductUnavailable)
		})
	}
}

func TestCreateOrder_UnknownBuyerOrProduct(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(t, 100, 1)

	_, err := f.svc.CreateOrder(context.Background(), p.ID, "missing", uuid.NewString())
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.CreateOrder(context.Background(), "missing", f.buyer.ID, uuid.NewString())
	assert.ErrorIs(t, err, model.ErrNotFound)

	stored, err := f.repo.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Stock)
}

func TestCreateOrder_SellerCannotBuyOwnProduct(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(t, 100, 1)

	_, err := f.svc.CreateOrder(context.Background(), p.ID, f.seller.ID, uuid.NewString())
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestCreateOrder_DuplicatePaymentRejected(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(t, 100, 5)

	_, err := f.svc.CreateOrder(context.Background(), p.ID, f.buyer.ID, "pay-dup")
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(context.Background(), p.ID, f.buyer.ID, "pay-dup")
	assert.ErrorIs(t, err, model.ErrDuplicatePayment)

	stored, err := f.repo.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Stock)

	orders, err := f.svc.ListBuyerOrders(context.Background(), f.buyer.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestCreateOrder_PaymentNotVerified(t *testing.T) {
	opts := Options{PointsPerPi: 1, FeePercent: 10, SellerDepositPi: 1000}

	t.Run("unverified", func(t *testing.T) {
		f := newFixtureWith(t, &stubVerifier{verification: &payment.Verification{Verified: false, AmountPi: 100, Status: "pending"}}, opts)
		p := f.seedProduct(t, 100, 1)

		_, err := f.svc.CreateOrder(context.Background(), p.ID, f.buyer.ID, "pay-1")
		assert.ErrorIs(t, err, model.ErrPaymentNotVerified)
	})

	t.Run("underpaid", func(t *testing.T) {
		f := newFixtureWith(t, &stubVerifier{verification: &payment.Verification{Verified: true, AmountPi: 99, Status: "completed"}}, opts)
		p := f.seedProduct(t, 100, 1)

		_, err := f.svc.CreateOrder(context.Background(), p.ID, f.buyer.ID, "pay-1")
		assert.ErrorIs(t, err, model.ErrPaymentNotVerified)
	})

	t.Run("verifier error", func(t *testing.T) {
		f := newFixtureWith(t, &stubVerifier{verifyErr: errors.New("network down")}, opts)
		p := f.seedProduct(t, 100, 1)

		_, err := f.svc.CreateOrder(context.Background(), p.ID, f.buyer.ID, "pay-1")
		assert.ErrorIs(t, err, model.ErrPaymentNotVerified)
	})

	t.Run("missing reference", func(t *testing.T) {
		f := newFixture(t)
		p := f.seedProduct(t, 100, 1)

		_, err := f.svc.CreateOrder(context.Background(), p.ID, f.buyer.ID, "")
		assert.ErrorIs(t, err, model.ErrInvalidInput)
	})
}

func TestCreateOrder_ConcurrentPurchasesOfLastItem(t *testing.T) {
	f := newFixture(t)
	p := f.seedProduct(t, 100, 1)

	const buyers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		other     []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), p.ID, f.buyer.ID, uuid.NewString())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case !errors.Is(err, model.ErrProductUnavailable):
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Empty(t, other)

	stored, err := f.repo.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Stock)
	assert.Equal(t, 1, stored.SoldCount)
}

func TestShipOrder(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 100)

	_, err := f.svc.ShipOrder(context.Background(), o.ID, f.buyer.ID)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = f.svc.ShipOrder(context.Background(), "missing", f.seller.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	shipped, err := f.svc.ShipOrder(context.Background(), o.ID, f.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusShipped, shipped.Status)
	require.NotNil(t, shipped.ShippedAt)
	assert.Equal(t, testNow, *shipped.ShippedAt)

	f.now = testNow.Add(time.Hour)
	again, err := f.svc.ShipOrder(context.Background(), o.ID, f.seller.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow, *again.ShippedAt, "second ship keeps the original timestamp")
}

func TestShipOrder_RejectsFinishedOrders(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 100)

	_, err := f.svc.ConfirmOrder(context.Background(), o.ID, f.buyer.ID)
	require.NoError(t, err)

	_, err = f.svc.ShipOrder(context.Background(), o.ID, f.seller.ID)
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestConfirmOrder(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 100)

	_, err := f.svc.ConfirmOrder(context.Background(), o.ID, f.seller.ID)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = f.svc.ConfirmOrder(context.Background(), "missing", f.buyer.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	confirmed, err := f.svc.ConfirmOrder(context.Background(), o.ID, f.buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, confirmed.Status)
	require.NotNil(t, confirmed.CompletedAt)

	f.now = testNow.Add(time.Hour)
	again, err := f.svc.ConfirmOrder(context.Background(), o.ID, f.buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow, *again.CompletedAt)
}

func TestConfirmOrder_AfterShip(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 100)

	_, err := f.svc.ShipOrder(context.Background(), o.ID, f.seller.ID)
	require.NoError(t, err)

	confirmed, err := f.svc.ConfirmOrder(context.Background(), o.ID, f.buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, confirmed.Status)
	assert.NotNil(t, confirmed.ShippedAt)
}

func TestConfirmOrder_AfterRefundFails(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 100)

	_, err := f.svc.RefundOrder(context.Background(), o.ID, f.admin.ID)
	require.NoError(t, err)

	_, err = f.svc.ConfirmOrder(context.Background(), o.ID, f.buyer.ID)
	assert.ErrorIs(t, err, model.ErrInvalidState)
	assert.Equal(t, model.OrderStatusRefunded, f.order(t, o.ID).Status)
}

func TestAutoConfirmShippedOrders_RespectsWindow(t *testing.T) {
	f := newFixture(t)
	fresh := f.placeOrder(t, 100)
	stale := f.placeOrder(t, 100)
	unshipped := f.placeOrder(t, 100)

	f.now = testNow.Add(-(47*time.Hour + 59*time.Minute))
	_, err := f.svc.ShipOrder(context.Background(), fresh.ID, f.seller.ID)
	require.NoError(t, err)

	f.now = testNow.Add(-(48*time.Hour + time.Minute))
	_, err = f.svc.ShipOrder(context.Background(), stale.ID, f.seller.ID)
	require.NoError(t, err)

	f.now = testNow
	n, err := f.svc.AutoConfirmShippedOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, model.OrderStatusShipped, f.order(t, fresh.ID).Status)
	assert.Equal(t, model.OrderStatusPaid, f.order(t, unshipped.ID).Status)

	completed := f.order(t, stale.ID)
	assert.Equal(t, model.OrderStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	assert.Equal(t, testNow, *completed.CompletedAt)

	n, err = f.svc.AutoConfirmShippedOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAutoConfirmShippedOrders_SkipsOrdersChangedByOthers(t *testing.T) {
	f := newFixture(t)
	confirmed := f.placeOrder(t, 100)
	refunded := f.placeOrder(t, 100)

	f.now = testNow.Add(-72 * time.Hour)
	_, err := f.svc.RefundOrder(context.Background(), refunded.ID, f.admin.ID)
	require.NoError(t, err)
	_, err = f.svc.ShipOrder(context.Background(), confirmed.ID, f.seller.ID)
	require.NoError(t, err)
	f.now = testNow

	_, err = f.svc.ConfirmOrder(context.Background(), confirmed.ID, f.buyer.ID)
	require.NoError(t, err)

	n, err := f.svc.AutoConfirmShippedOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, model.OrderStatusRefunded, f.order(t, refunded.ID).Status)
}

func TestAutoConfirmShippedOrders_RacesWithBuyer(t *testing.T) {
	f := newFixture(t)

	var orders []*model.Order
	f.now = testNow.Add(-72 * time.Hour)
	for i := 0; i < 20; i++ {
		o := f.placeOrder(t, 100)
		_, err := f.svc.ShipOrder(context.Background(), o.ID, f.seller.ID)
		require.NoError(t, err)
		orders = append(orders, o)
	}
	f.now = testNow

	var (
		wg    sync.WaitGroup
		swept int
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, err := f.svc.AutoConfirmShippedOrders(context.Background())
		assert.NoError(t, err)
		swept = n
	}()
	go func() {
		defer wg.Done()
		for _, o := range orders {
			_, err := f.svc.ConfirmOrder(context.Background(), o.ID, f.buyer.ID)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	assert.LessOrEqual(t, swept, len(orders))
	for _, o := range orders {
		assert.Equal(t, model.OrderStatusCompleted, f.order(t, o.ID).Status)
	}
}

func TestGetOrder_Access(t *testing.T) {
	f := newFixture(t)
	o := f.placeOrder(t, 100)
	stranger := f.seedUser(t, model.User{Role: model.RoleBuyer})

	for _, id := range []string{f.buyer.ID, f.seller.ID, f.admin.ID} {
		got, err := f.svc.GetOrder(context.Background(), id, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
	}

	_, err := f.svc.GetOrder(context.Background(), stranger.ID, o.ID)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestListOrders_BySide(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, 100)
	f.placeOrder(t, 200)

	bought, err := f.svc.ListBuyerOrders(context.Background(), f.buyer.ID)
	require.NoError(t, err)
	assert.Len(t, bought, 2)

	sold, err := f.svc.ListSellerOrders(context.Background(), f.seller.ID)
	require.NoError(t, err)
	assert.Len(t, sold, 2)

	none, err := f.svc.ListSellerOrders(context.Background(), f.buyer.ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}
