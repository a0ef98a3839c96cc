package auth

import (
	"errors"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
)

// MinPasswordLength is the shortest secret accepted at registration
const MinPasswordLength = 8

// PasswordSymbols lists the characters that satisfy the symbol class
const PasswordSymbols = `!@#$%^&*(),.?":{}|<>`

var (
	errPasswordTooShort = errors.New("must be at least 8 characters long")
	errPasswordUpper    = errors.New("must contain an uppercase letter")
	errPasswordLower    = errors.New("must contain a lowercase letter")
	errPasswordDigit    = errors.New("must contain a digit")
	errPasswordSymbol   = errors.New("must contain a special character")
)

// PasswordStrength is an ozzo-validation rule enforcing the password policy
var PasswordStrength = validation.By(func(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	return checkPasswordStrength(s)
})

// ValidatePasswordStrength returns ErrValidation when secret does not meet
// the policy.
func ValidatePasswordStrength(secret string) error {
	if err := checkPasswordStrength(secret); err != nil {
		return newError(ErrValidation, err, map[string]any{
			"field":  "password",
			"reason": err.Error(),
		})
	}
	return nil
}

func checkPasswordStrength(secret string) error {
	if len([]rune(secret)) < MinPasswordLength {
		return errPasswordTooShort
	}

	var upper, lower, digit, symbol bool
	for _, r := range secret {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		}
	}

	switch {
	case !upper:
		return errPasswordUpper
	case !lower:
		return errPasswordLower
	case !digit:
		return errPasswordDigit
	case !symbol:
		return errPasswordSymbol
	}
	return nil
}
