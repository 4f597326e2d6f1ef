package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates mobile number is empty
	ErrEmptyPhone = errors.New("mobile number cannot be empty")

	// ErrInvalidFormat indicates mobile number contains invalid characters
	ErrInvalidFormat = errors.New("mobile number can only contain digits and an optional leading +")

	// ErrInvalidLength indicates the number is outside the E.164 length range
	ErrInvalidLength = errors.New("mobile number must have between 7 and 15 digits")

	// ErrEmptyEmail indicates email is empty
	ErrEmptyEmail = errors.New("email cannot be empty")

	// ErrInvalidEmail indicates email is malformed
	ErrInvalidEmail = errors.New("invalid email format")
)

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

var (
	digitsRegex = regexp.MustCompile(`^\+?\d+$`)
	emailRegex  = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
)

// ContactValidator validates passenger contact details
type ContactValidator struct{}

// NewContactValidator creates a new contact validator instance
func NewContactValidator() *ContactValidator {
	return &ContactValidator{}
}

// ValidateMobile validates an international mobile number.
// Accepts +971 50 123 4567, 00971501234567, 050-123-4567 and similar.
// Returns the sanitized number (optional + followed by digits).
func (v *ContactValidator) ValidateMobile(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)
	if !digitsRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}

	digits := strings.TrimPrefix(sanitized, "+")
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", ErrInvalidLength
	}

	return sanitized, nil
}

// Sanitize removes common separators and rewrites a 00 international prefix to +
func (v *ContactValidator) Sanitize(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	phone = replacer.Replace(strings.TrimSpace(phone))

	if strings.HasPrefix(phone, "00") {
		phone = "+" + phone[2:]
	}
	return phone
}

// ValidateEmail validates and lower-cases an email address
func (v *ContactValidator) ValidateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmptyEmail
	}
	if !emailRegex.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(email), nil
}

// IsValidMobile is a convenience method that returns true if phone is valid
func (v *ContactValidator) IsValidMobile(phone string) bool {
	_, err := v.ValidateMobile(phone)
	return err == nil
}

// IsValidEmail is a convenience method that returns true if email is valid
func (v *ContactValidator) IsValidEmail(email string) bool {
	_, err := v.ValidateEmail(email)
	return err == nil
}
