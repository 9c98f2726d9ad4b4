package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var emailRegexp = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail проверяет формат email.
func ValidateEmail(email string) error {
	if !emailRegexp.MatchString(strings.TrimSpace(email)) {
		return fmt.Errorf("некорректный email")
	}
	return nil
}

// Константы валидации
const (
	MinProjectTitleLength       = 3
	MaxProjectTitleLength       = 200
	MinProjectDescriptionLength = 10
	MaxProjectDescriptionLength = 5000
	MinMilestoneTitleLength     = 3
	MaxMilestoneTitleLength     = 200
	MaxAcceptanceCriteriaLength = 5000
	MinDisputeReasonLength      = 10
	MaxDisputeReasonLength      = 5000
	MaxRevisionNotesLength      = 5000
	MaxSubmissionNotesLength    = 5000

	// Суммы в минорных единицах валюты
	MinAmount = int64(1)
	MaxAmount = int64(10_000_000_000) // 100 миллионов в мажорных единицах
)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// ValidateAmount проверяет сумму в минорных единицах.
func ValidateAmount(fieldName string, amount int64) error {
	if amount < MinAmount {
		return fmt.Errorf("%s должна быть положительной", fieldName)
	}
	if amount > MaxAmount {
		return fmt.Errorf("%s превышает допустимый максимум", fieldName)
	}
	return nil
}

// ValidateCurrency проверяет код валюты (ISO 4217, три буквы).
func ValidateCurrency(currency string) error {
	if len(currency) != 3 {
		return fmt.Errorf("валюта должна быть трёхбуквенным кодом")
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("валюта должна быть трёхбуквенным кодом в верхнем регистре")
		}
	}
	return nil
}
