// Package model содержит доменные сущности маркетплейса: аккаунты, товары, заказы и записи журналов.
package model

import "time"

// Role описывает роль пользователя.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// User представляет аккаунт пользователя вместе с его балансами в баллах.
type User struct {
	ID            string
	PiUserID      string
	Username      string
	Role          Role
	BalancePoints int64
	FrozenPoints  int64
	DepositPoints int64
	Violations    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Product описывает товар продавца.
type Product struct {
	ID          string
	SellerID    string
	Title       string
	Description string
	PricePoints int64
	Stock       int
	SoldCount   int
	Active      bool
	Approved    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Purchasable сообщает, можно ли сейчас купить товар.
func (p *Product) Purchasable() bool {
	return p.Active && p.Approved && p.Stock > 0
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusRefunded  OrderStatus = "refunded"
	// OrderStatusCanceled зарезервирован, переходов в него нет.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Order описывает сделку: сумму, комиссию площадки и долю продавца на эскроу.
type Order struct {
	ID           string
	ProductID    string
	BuyerID      string
	SellerID     string
	AmountPoints int64
	FeePoints    int64
	EscrowPoints int64
	Status       OrderStatus
	Settled      bool
	PaymentRef   string
	ComplaintID  *string
	ShippedAt    *time.Time
	CompletedAt  *time.Time
	SettledAt    *time.Time
	RefundedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active сообщает, находится ли заказ в процессе исполнения.
func (o *Order) Active() bool {
	return o.Status == OrderStatusPaid || o.Status == OrderStatusShipped
}

// CalcOrderFees делит цену на комиссию площадки и эскроу продавца.
// Комиссия округляется до ближайшего целого, половина округляется вверх.
func CalcOrderFees(pricePoints int64, feePercent int) (feePoints, escrowPoints int64) {
	feePoints = (pricePoints*int64(feePercent) + 50) / 100
	return feePoints, pricePoints - feePoints
}

// DepositKind описывает тип записи журнала пополнений.
type DepositKind string

const (
	DepositKindRecharge       DepositKind = "recharge"
	DepositKindSellerDeposit  DepositKind = "seller_deposit"
	DepositKindDepositRelease DepositKind = "deposit_release"
)

// Deposit описывает неизменяемую запись о зачислении баллов пользователю.
type Deposit struct {
	ID           string
	UserID       string
	Kind         DepositKind
	AmountPoints int64
	PaymentRef   string
	CreatedAt    time.Time
}

// Violation описывает неизменяемую запись о штрафе.
type Violation struct {
	ID             string
	UserID         string
	Type           string
	PointsDeducted int64
	Note           string
	CreatedAt      time.Time
}

// WithdrawalStatus описывает статус заявки на вывод.
type WithdrawalStatus string

const (
	WithdrawalStatusRequested WithdrawalStatus = "requested"
	WithdrawalStatusApproved  WithdrawalStatus = "approved"
	WithdrawalStatusRejected  WithdrawalStatus = "rejected"
	WithdrawalStatusPaid      WithdrawalStatus = "paid"
)

// Withdrawal описывает заявку на вывод баллов.
type Withdrawal struct {
	ID           string
	UserID       string
	AmountPoints int64
	Status       WithdrawalStatus
	ReviewNote   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ComplaintStatus описывает статус жалобы.
type ComplaintStatus string

const (
	ComplaintStatusPending  ComplaintStatus = "pending"
	ComplaintStatusResolved ComplaintStatus = "resolved"
	ComplaintStatusRejected ComplaintStatus = "rejected"
)

// Complaint описывает жалобу покупателя на заказ.
type Complaint struct {
	ID             string
	OrderID        string
	BuyerID        string
	SellerID       string
	Reason         string
	Status         ComplaintStatus
	Decision       string
	PenaltyPoints  int64
	ResolutionNote string
	ResolvedBy     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PaymentPurpose описывает, на что была потрачена внешняя оплата.
type PaymentPurpose string

const (
	PaymentPurposePurchase PaymentPurpose = "purchase"
	PaymentPurposeRecharge PaymentPurpose = "recharge"
	PaymentPurposeDeposit  PaymentPurpose = "seller_deposit"
)

// Payment фиксирует использованный идентификатор внешнего платежа.
type Payment struct {
	Ref          string
	Purpose      PaymentPurpose
	UserID       string
	AmountPoints int64
	CreatedAt    time.Time
}
