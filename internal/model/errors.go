package model

import "errors"

var (
	// ErrNotFound возвращается, если заказ, пользователь, товар или заявка не найдены.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized возвращается, если у вызывающего нет прав на операцию.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrProductUnavailable возвращается, если товар неактивен, не одобрен или закончился.
	ErrProductUnavailable = errors.New("product unavailable")
	// ErrInsufficientDeposit возвращается, если залог продавца меньше требуемого.
	ErrInsufficientDeposit = errors.New("insufficient deposit")
	// ErrInsufficientBalance возвращается, если доступного баланса не хватает.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAlreadySettled возвращается при попытке вернуть деньги по уже выплаченному заказу.
	ErrAlreadySettled = errors.New("order already settled")
	// ErrInvalidState возвращается, если текущий статус запрещает операцию.
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicatePayment возвращается при повторном использовании идентификатора платежа.
	ErrDuplicatePayment = errors.New("payment already used")
	// ErrPaymentNotVerified возвращается, если внешний платёж не подтверждён.
	ErrPaymentNotVerified = errors.New("payment not verified")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "NOT_FOUND"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrProductUnavailable, "PRODUCT_UNAVAILABLE"},
	{ErrInsufficientDeposit, "INSUFFICIENT_DEPOSIT"},
	{ErrInsufficientBalance, "INSUFFICIENT_BALANCE"},
	{ErrAlreadySettled, "ALREADY_SETTLED"},
	{ErrInvalidState, "INVALID_STATE"},
	{ErrInvalidInput, "INVALID_INPUT"},
	{ErrDuplicatePayment, "DUPLICATE_PAYMENT"},
	{ErrPaymentNotVerified, "PAYMENT_NOT_VERIFIED"},
}

// ErrorCode возвращает машиночитаемый код доменной ошибки или пустую строку.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}
