package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/repository"
)

// CreateOrder оформляет покупку товара после проверки платежа paymentRef.
// Заказ, списание остатка и фиксация платежа выполняются в одной транзакции.
// Баллы покупателя при этом не двигаются: оплата прошла во внешней сети.
func (s *Service) CreateOrder(ctx context.Context, productID, buyerID, paymentRef string) (*model.Order, error) {
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	paidPoints, err := s.verifyPayment(ctx, paymentRef, s.PointsToPi(product.PricePoints))
	if err != nil {
		return nil, err
	}

	var order *model.Order
	err = s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if !p.Purchasable() {
			return fmt.Errorf("%w: product %s", model.ErrProductUnavailable, p.ID)
		}
		if paidPoints < p.PricePoints {
			return fmt.Errorf("%w: paid %d points, price %d", model.ErrPaymentNotVerified, paidPoints, p.PricePoints)
		}

		buyer, err := tx.GetUserForUpdate(ctx, buyerID)
		if err != nil {
			return err
		}
		if buyer.ID == p.SellerID {
			return fmt.Errorf("%w: seller cannot buy own product", model.ErrInvalidInput)
		}
		if _, err := tx.GetUserForUpdate(ctx, p.SellerID); err != nil {
			return err
		}

		now := s.now()
		if err := tx.ClaimPayment(ctx, &model.Payment{
			Ref:          paymentRef,
			Purpose:      model.PaymentPurposePurchase,
			UserID:       buyer.ID,
			AmountPoints: paidPoints,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		fee, escrow := model.CalcOrderFees(p.PricePoints, s.opts.FeePercent)
		order = &model.Order{
			ID:           newID(),
			ProductID:    p.ID,
			BuyerID:      buyer.ID,
			SellerID:     p.SellerID,
			AmountPoints: p.PricePoints,
			FeePoints:    fee,
			EscrowPoints: escrow,
			Status:       model.OrderStatusPaid,
			PaymentRef:   paymentRef,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		p.Stock--
		p.SoldCount++
		p.UpdatedAt = now
		return tx.UpdateProduct(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.OrderCreated()
	s.logger.Info("order created",
		zap.String("order", order.ID),
		zap.String("product", order.ProductID),
		zap.String("buyer", order.BuyerID),
		zap.Int64("amount", order.AmountPoints),
		zap.Int64("fee", order.FeePoints),
	)
	return order, nil
}

// ShipOrder отмечает заказ отправленным. Вызывать может только продавец заказа.
func (s *Service) ShipOrder(ctx context.Context, orderID, sellerID string) (*model.Order, error) {
	var order *model.Order
	changed := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.SellerID != sellerID {
			return fmt.Errorf("%w: not the seller of order %s", model.ErrUnauthorized, o.ID)
		}

		switch o.Status {
		case model.OrderStatusShipped:
			order = o
			return nil
		case model.OrderStatusPaid:
		default:
			return fmt.Errorf("%w: cannot ship %s order", model.ErrInvalidState, o.Status)
		}

		now := s.now()
		o.Status = model.OrderStatusShipped
		o.ShippedAt = &now
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		order, changed = o, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.OrderTransition(string(model.OrderStatusShipped))
		s.logger.Info("order shipped", zap.String("order", order.ID))
	}
	return order, nil
}

// ConfirmOrder подтверждает получение заказа покупателем.
func (s *Service) ConfirmOrder(ctx context.Context, orderID, buyerID string) (*model.Order, error) {
	var order *model.Order
	changed := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != buyerID {
			return fmt.Errorf("%w: not the buyer of order %s", model.ErrUnauthorized, o.ID)
		}

		changed, err = s.complete(ctx, tx, o)
		order = o
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.OrderTransition(string(model.OrderStatusCompleted))
		s.logger.Info("order confirmed", zap.String("order", order.ID))
	}
	return order, nil
}

// complete переводит заказ в COMPLETED. Повторное завершение ничего не меняет,
// возвращённые и отменённые заказы завершить нельзя.
func (s *Service) complete(ctx context.Context, tx repository.Tx, o *model.Order) (bool, error) {
	switch o.Status {
	case model.OrderStatusCompleted:
		return false, nil
	case model.OrderStatusPaid, model.OrderStatusShipped:
	default:
		return false, fmt.Errorf("%w: cannot complete %s order", model.ErrInvalidState, o.Status)
	}

	now := s.now()
	o.Status = model.OrderStatusCompleted
	o.CompletedAt = &now
	o.UpdatedAt = now
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return false, err
	}
	return true, nil
}

// AutoConfirmShippedOrders завершает заказы, отправленные не позже чем AutoConfirmWindow назад.
// Каждый заказ обрабатывается в своей транзакции, ошибки по отдельным заказам логируются
// и не прерывают проход. Возвращает число завершённых заказов.
func (s *Service) AutoConfirmShippedOrders(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-AutoConfirmWindow)

	ids, err := s.store.ListShippedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list shipped orders: %w", err)
	}

	confirmed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return confirmed, ctx.Err()
		}

		changed := false
		err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			o, err := tx.GetOrderForUpdate(ctx, id)
			if err != nil {
				return err
			}
			// Покупатель или администратор мог изменить заказ после выборки.
			if o.Status != model.OrderStatusShipped || o.ShippedAt == nil || o.ShippedAt.After(cutoff) {
				return nil
			}
			changed, err = s.complete(ctx, tx, o)
			return err
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return confirmed, err
			}
			s.metrics.AutoConfirmFailure()
			s.logger.Error("auto-confirm order failed", zap.String("order", id), zap.Error(err))
			continue
		}
		if changed {
			confirmed++
			s.metrics.OrderTransition(string(model.OrderStatusCompleted))
		}
	}

	if confirmed > 0 {
		s.logger.Info("auto-confirmed shipped orders", zap.Int("count", confirmed), zap.Time("cutoff", cutoff))
	}
	return confirmed, nil
}

// GetOrder возвращает заказ его участнику или администратору.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID == userID || o.SellerID == userID {
		return o, nil
	}
	if err := s.requireAdmin(ctx, userID); err != nil {
		return nil, err
	}
	return o, nil
}

// ListBuyerOrders возвращает покупки пользователя.
func (s *Service) ListBuyerOrders(ctx context.Context, buyerID string) ([]model.Order, error) {
	return s.store.ListOrders(ctx, repository.OrderFilter{BuyerID: buyerID})
}

// ListSellerOrders возвращает продажи пользователя.
func (s *Service) ListSellerOrders(ctx context.Context, sellerID string) ([]model.Order, error) {
	return s.store.ListOrders(ctx, repository.OrderFilter{SellerID: sellerID})
}
