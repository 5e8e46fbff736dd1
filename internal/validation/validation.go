// Package validation содержит функции валидации входных данных киоска.
package validation

import (
	"strings"
	"unicode"
)

const (
	// DefaultPINLength задаёт длину PIN-кода, который вводит абонент на киоске.
	DefaultPINLength = 4
	// MaxPINLength ограничивает длину PIN, если точная длина не задана.
	MaxPINLength = 12
)

const maxKioskIDLength = 64

// IsValidKioskID проверяет идентификатор киоска: непустой, без пробелов и управляющих символов.
func IsValidKioskID(id string) bool {
	if id == "" || len(id) > maxKioskIDLength {
		return false
	}
	for _, ch := range id {
		if unicode.IsSpace(ch) || !unicode.IsPrint(ch) {
			return false
		}
	}
	return true
}

// IsValidPhone проверяет, что идентификатор абонента похож на номер телефона:
// необязательный "+" и от 9 до 15 цифр.
func IsValidPhone(phone string) bool {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 9 || len(digits) > 15 {
		return false
	}
	return allDigits(digits)
}

// IsValidPIN проверяет, что PIN состоит ровно из length цифр.
// При length <= 0 допускается от 1 до MaxPINLength цифр.
func IsValidPIN(pin string, length int) bool {
	if length > 0 {
		return len(pin) == length && allDigits(pin)
	}
	return pin != "" && len(pin) <= MaxPINLength && allDigits(pin)
}

// CanonicalPhone приводит номер к виду +<код>N, а без кода страны к национальному номеру N.
// Разные записи одного номера дают одинаковый результат.
func CanonicalPhone(phone, countryCode string) string {
	national := nationalNumber(phone, countryCode)
	if countryCode == "" {
		return national
	}
	return "+" + countryCode + national
}

// PhoneVariants возвращает варианты записи номера, под которыми абонент
// мог быть сохранён: как передан, +<код>N, <код>N, 0N и N, где N это национальный номер.
func PhoneVariants(phone, countryCode string) []string {
	national := nationalNumber(phone, countryCode)

	candidates := []string{phone}
	if countryCode != "" {
		candidates = append(candidates, "+"+countryCode+national, countryCode+national)
	}
	candidates = append(candidates, "0"+national, national)

	seen := make(map[string]struct{}, len(candidates))
	res := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		res = append(res, c)
	}
	return res
}

func nationalNumber(phone, countryCode string) string {
	national := strings.TrimPrefix(phone, "+")
	switch {
	case countryCode != "" && strings.HasPrefix(national, countryCode) && len(national) > len(countryCode)+6:
		return strings.TrimPrefix(national, countryCode)
	case strings.HasPrefix(national, "0"):
		return strings.TrimLeft(national, "0")
	}
	return national
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !unicode.IsDigit(rune(s[i])) {
			return false
		}
	}
	return true
}
