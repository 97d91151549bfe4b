package model

import "fmt"

// Операции над балансами пользователя. Ни одна из них не допускает отрицательных значений,
// при ошибке аккаунт остаётся без изменений.

// AvailablePoints возвращает баланс, не заблокированный под заявки на вывод.
func (u *User) AvailablePoints() int64 {
	return u.BalancePoints - u.FrozenPoints
}

// Credit зачисляет баллы на баланс.
func (u *User) Credit(points int64) error {
	if points < 0 {
		return fmt.Errorf("%w: credit %d", ErrInvalidInput, points)
	}
	u.BalancePoints += points
	return nil
}

// Debit списывает баллы из доступного баланса.
func (u *User) Debit(points int64) error {
	if points < 0 {
		return fmt.Errorf("%w: debit %d", ErrInvalidInput, points)
	}
	if points > u.AvailablePoints() {
		return fmt.Errorf("%w: need %d, available %d", ErrInsufficientBalance, points, u.AvailablePoints())
	}
	u.BalancePoints -= points
	return nil
}

// Freeze блокирует баллы под заявку на вывод.
func (u *User) Freeze(points int64) error {
	if points <= 0 {
		return fmt.Errorf("%w: freeze %d", ErrInvalidInput, points)
	}
	if points > u.AvailablePoints() {
		return fmt.Errorf("%w: need %d, available %d", ErrInsufficientBalance, points, u.AvailablePoints())
	}
	u.FrozenPoints += points
	return nil
}

// Unfreeze снимает блокировку. Блокировка не уходит ниже нуля.
func (u *User) Unfreeze(points int64) {
	u.FrozenPoints -= points
	if u.FrozenPoints < 0 {
		u.FrozenPoints = 0
	}
}

// PayOutFrozen списывает выплаченные баллы вместе с их блокировкой.
func (u *User) PayOutFrozen(points int64) error {
	if points < 0 {
		return fmt.Errorf("%w: payout %d", ErrInvalidInput, points)
	}
	if u.BalancePoints < points {
		return fmt.Errorf("%w: need %d, balance %d", ErrInsufficientBalance, points, u.BalancePoints)
	}
	u.BalancePoints -= points
	u.Unfreeze(points)
	return nil
}

// FundDeposit зачисляет в залог баллы, оплаченные внешним платежом. Баланс не меняется.
func (u *User) FundDeposit(points int64) error {
	if points < 0 {
		return fmt.Errorf("%w: deposit %d", ErrInvalidInput, points)
	}
	u.DepositPoints += points
	return nil
}

// DeductDeposit списывает из залога не больше, чем в нём есть, и возвращает списанную сумму.
func (u *User) DeductDeposit(points int64) int64 {
	if points <= 0 {
		return 0
	}
	deducted := min(u.DepositPoints, points)
	u.DepositPoints -= deducted
	return deducted
}

// ReleaseDeposit возвращает весь залог на баланс и возвращает его размер.
func (u *User) ReleaseDeposit() int64 {
	released := u.DepositPoints
	u.DepositPoints = 0
	u.BalancePoints += released
	return released
}
