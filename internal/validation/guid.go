package validation

import (
	"fmt"
	"regexp"
)

const (
	// MinGuidLen минимальная длина идентификатора записи
	MinGuidLen = 8
	// MaxGuidLen максимальная длина идентификатора, которую принимает sync-сервер
	MaxGuidLen = 64
	// MaxFieldNameLen максимальная длина имени поля схемы (exclusive)
	MaxFieldNameLen = 128
)

// FieldNamePattern определяет допустимый формат имени поля схемы:
// base64url алфавит (a-z, A-Z, 0-9, '-', '_') плюс '$'.
var FieldNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-$]+$`)

// IsValidGuid reports whether id can be used as a record identifier:
// 8..64 bytes of printable ASCII, excluding the comma.
func IsValidGuid(id string) bool {
	return ValidateGuid(id) == nil
}

// ValidateGuid проверяет, что идентификатор совместим с sync-сервером.
func ValidateGuid(id string) error {
	if id == "" {
		return fmt.Errorf("guid cannot be empty")
	}

	if len(id) < MinGuidLen {
		return fmt.Errorf("guid must be at least %d characters long", MinGuidLen)
	}

	if len(id) > MaxGuidLen {
		return fmt.Errorf("guid must not exceed %d characters", MaxGuidLen)
	}

	for i := 0; i < len(id); i++ {
		b := id[i]
		if b < ' ' || b > '~' || b == ',' {
			return fmt.Errorf("guid contains invalid byte 0x%02x at position %d", b, i)
		}
	}

	return nil
}

// ValidateFieldName проверяет имя (или local_name) поля схемы.
func ValidateFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("field name cannot be empty")
	}

	if len(name) >= MaxFieldNameLen {
		return fmt.Errorf("field name must be shorter than %d characters", MaxFieldNameLen)
	}

	if !FieldNamePattern.MatchString(name) {
		return fmt.Errorf("field name can only contain letters, numbers, '_', '-' and '$'")
	}

	return nil
}
