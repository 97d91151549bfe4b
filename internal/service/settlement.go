package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/repository"
)

// SettleOrderPayout выплачивает эскроу завершённого заказа продавцу. Повторный вызов
// для уже выплаченного заказа возвращает его без изменений.
func (s *Service) SettleOrderPayout(ctx context.Context, orderID, adminID string) (*model.Order, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	var order *model.Order
	changed := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		changed = false
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		order = o
		if o.Status != model.OrderStatusCompleted {
			return fmt.Errorf("%w: cannot settle %s order", model.ErrInvalidState, o.Status)
		}
		if o.Settled {
			return nil
		}

		seller, err := tx.GetUserForUpdate(ctx, o.SellerID)
		if err != nil {
			return err
		}
		if err := seller.Credit(o.EscrowPoints); err != nil {
			return err
		}

		now := s.now()
		seller.UpdatedAt = now
		if err := tx.UpdateUser(ctx, seller); err != nil {
			return err
		}

		o.Settled = true
		o.SettledAt = &now
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.Settled(order.EscrowPoints)
		s.logger.Info("order settled",
			zap.String("order", order.ID),
			zap.String("seller", order.SellerID),
			zap.String("admin", adminID),
			zap.Int64("escrow", order.EscrowPoints),
		)
	}
	return order, nil
}

// RefundOrder возвращает покупателю полную сумму заказа. Возврат возможен из PAID и из
// завершённого, но не выплаченного заказа. Отправленный заказ вернуть нельзя, повторный
// возврат ничего не меняет, возврат выплаченного продавцу заказа запрещён.
func (s *Service) RefundOrder(ctx context.Context, orderID, adminID string) (*model.Order, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	var order *model.Order
	changed := false
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		changed = false
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		order = o
		if o.Status == model.OrderStatusRefunded {
			return nil
		}
		if o.Settled {
			return fmt.Errorf("%w: order %s", model.ErrAlreadySettled, o.ID)
		}
		if o.Status == model.OrderStatusCanceled || o.Status == model.OrderStatusShipped {
			return fmt.Errorf("%w: cannot refund %s order", model.ErrInvalidState, o.Status)
		}

		buyer, err := tx.GetUserForUpdate(ctx, o.BuyerID)
		if err != nil {
			return err
		}
		if err := buyer.Credit(o.AmountPoints); err != nil {
			return err
		}

		now := s.now()
		buyer.UpdatedAt = now
		if err := tx.UpdateUser(ctx, buyer); err != nil {
			return err
		}

		o.Status = model.OrderStatusRefunded
		o.RefundedAt = &now
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.Refunded(order.AmountPoints)
		s.metrics.OrderTransition(string(model.OrderStatusRefunded))
		s.logger.Info("order refunded",
			zap.String("order", order.ID),
			zap.String("buyer", order.BuyerID),
			zap.String("admin", adminID),
			zap.Int64("amount", order.AmountPoints),
		)
	}
	return order, nil
}
