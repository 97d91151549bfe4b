// Package repository содержит хранилища маркетплейса: PostgreSQL и хранилище в памяти.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/pi-marketplace/internal/model"
)

// ErrUserExists возвращается при попытке создать пользователя с уже существующим Pi-идентификатором.
var ErrUserExists = errors.New("user already exists")

// Tx описывает операции внутри одной транзакции. Методы ...ForUpdate блокируют запись
// до конца транзакции, поэтому чтение-изменение-запись внутри Tx не теряет обновлений.
type Tx interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserForUpdate(ctx context.Context, id string) (*model.User, error)
	UpdateUser(ctx context.Context, u *model.User) error

	CreateProduct(ctx context.Context, p *model.Product) error
	GetProductForUpdate(ctx context.Context, id string) (*model.Product, error)
	UpdateProduct(ctx context.Context, p *model.Product) error

	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrderForUpdate(ctx context.Context, id string) (*model.Order, error)
	UpdateOrder(ctx context.Context, o *model.Order) error
	CountActiveOrders(ctx context.Context, filter OrderFilter) (int, error)

	CreateDeposit(ctx context.Context, d *model.Deposit) error
	CreateViolation(ctx context.Context, v *model.Violation) error

	CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error
	GetWithdrawalForUpdate(ctx context.Context, id string) (*model.Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error

	CreateComplaint(ctx context.Context, c *model.Complaint) error
	GetComplaintForUpdate(ctx context.Context, id string) (*model.Complaint, error)
	UpdateComplaint(ctx context.Context, c *model.Complaint) error

	// ClaimPayment сохраняет идентификатор внешнего платежа. Повторный идентификатор даёт model.ErrDuplicatePayment.
	ClaimPayment(ctx context.Context, p *model.Payment) error
}

// OrderFilter ограничивает выборку заказов. Пустые поля не фильтруют.
type OrderFilter struct {
	BuyerID   string
	SellerID  string
	ProductID string
	Status    model.OrderStatus
}

// ProductFilter ограничивает выборку товаров.
type ProductFilter struct {
	SellerID        string
	OnlyPurchasable bool
	OnlyPending     bool
}

// Store описывает хранилище маркетплейса.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error

	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByPiID(ctx context.Context, piUserID string) (*model.User, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]model.Product, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]model.Order, error)
	// ListShippedBefore возвращает идентификаторы отправленных заказов с ShippedAt <= cutoff.
	ListShippedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	ListWithdrawals(ctx context.Context, userID string) ([]model.Withdrawal, error)
	ListDeposits(ctx context.Context, userID string) ([]model.Deposit, error)
	ListViolations(ctx context.Context, userID string) ([]model.Violation, error)
	ListComplaints(ctx context.Context, buyerID string) ([]model.Complaint, error)
}
