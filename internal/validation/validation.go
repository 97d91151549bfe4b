// Package validation содержит функции валидации входных данных.
package validation

import "github.com/google/uuid"

const maxPaymentRefLen = 128

// IsValidID проверяет, что строка является UUID, выданным сервисом.
func IsValidID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// IsValidPaymentRef проверяет идентификатор внешнего платежа: непустой, не длиннее 128 байт,
// только латинские буквы, цифры, '_' и '-'. Идентификатор подставляется в путь запроса к Pi API.
func IsValidPaymentRef(ref string) bool {
	if ref == "" || len(ref) > maxPaymentRefLen {
		return false
	}
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// IsPositiveAmount проверяет сумму в баллах.
func IsPositiveAmount(points int64) bool {
	return points > 0
}
