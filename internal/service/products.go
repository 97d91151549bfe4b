package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/pi-marketplace/internal/model"
	"github.com/mmeshcher/pi-marketplace/internal/repository"
)

// ProductInput содержит данные нового товара.
type ProductInput struct {
	Title       string
	Description string
	PricePoints int64
	Stock       int
}

// CreateProduct создаёт товар продавца. Товар появляется неодобренным, продавец должен внести залог.
func (s *Service) CreateProduct(ctx context.Context, sellerID string, in ProductInput) (*model.Product, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title required", model.ErrInvalidInput)
	}
	if in.PricePoints <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", model.ErrInvalidInput)
	}
	if in.Stock < 0 {
		return nil, fmt.Errorf("%w: stock must not be negative", model.ErrInvalidInput)
	}

	var product *model.Product
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		u, err := tx.GetUserForUpdate(ctx, sellerID)
		if err != nil {
			return err
		}
		if u.Role == model.RoleBuyer {
			return fmt.Errorf("%w: seller role required", model.ErrUnauthorized)
		}
		if err := s.checkDeposit(u); err != nil {
			return err
		}

		now := s.now()
		product = &model.Product{
			ID:          newID(),
			SellerID:    u.ID,
			Title:       in.Title,
			Description: in.Description,
			PricePoints: in.PricePoints,
			Stock:       in.Stock,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.CreateProduct(ctx, product)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("product created", zap.String("product", product.ID), zap.String("seller", sellerID))
	return product, nil
}

// ApproveProduct одобряет товар к продаже.
func (s *Service) ApproveProduct(ctx context.Context, adminID, productID string) (*model.Product, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	return s.updateProduct(ctx, productID, func(_ context.Context, _ repository.Tx, p *model.Product) error {
		p.Approved = true
		return nil
	})
}

// ActivateProduct возвращает товар в продажу.
func (s *Service) ActivateProduct(ctx context.Context, sellerID, productID string) (*model.Product, error) {
	return s.updateProduct(ctx, productID, func(_ context.Context, _ repository.Tx, p *model.Product) error {
		if p.SellerID != sellerID {
			return fmt.Errorf("%w: not the owner of product %s", model.ErrUnauthorized, p.ID)
		}
		p.Active = true
		return nil
	})
}

// DeactivateProduct снимает товар с продажи. Пока по товару есть незавершённые заказы, снять его нельзя.
func (s *Service) DeactivateProduct(ctx context.Context, sellerID, productID string) (*model.Product, error) {
	return s.updateProduct(ctx, productID, func(ctx context.Context, tx repository.Tx, p *model.Product) error {
		if p.SellerID != sellerID {
			return fmt.Errorf("%w: not the owner of product %s", model.ErrUnauthorized, p.ID)
		}
		active, err := tx.CountActiveOrders(ctx, repository.OrderFilter{ProductID: p.ID})
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("%w: product has %d active orders", model.ErrInvalidState, active)
		}
		p.Active = false
		return nil
	})
}

func (s *Service) updateProduct(ctx context.Context, productID string, mutate func(context.Context, repository.Tx, *model.Product) error) (*model.Product, error) {
	var product *model.Product
	err := s.store.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		p, err := tx.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if err := mutate(ctx, tx, p); err != nil {
			return err
		}
		p.UpdatedAt = s.now()
		product = p
		return tx.UpdateProduct(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// GetProduct возвращает товар.
func (s *Service) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	return s.store.GetProduct(ctx, productID)
}

// ListProducts возвращает товары по фильтру.
func (s *Service) ListProducts(ctx context.Context, filter repository.ProductFilter) ([]model.Product, error) {
	return s.store.ListProducts(ctx, filter)
}
