package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMobile_ValidNumbers(t *testing.T) {
	validator := NewContactValidator()

	validNumbers := []struct {
		input    string
		expected string
		name     string
	}{
		{"+971501234567", "+971501234567", "E.164"},
		{"+971 50 123 4567", "+971501234567", "With spaces"},
		{"050-123-4567", "0501234567", "With dashes"},
		{"(050) 123.4567", "0501234567", "With parentheses and dots"},
		{"00971501234567", "+971501234567", "Double zero prefix"},
		{"1234567", "1234567", "Minimum length"},
	}

	for _, tc := range validNumbers {
		t.Run(tc.name, func(t *testing.T) {
			sanitized, err := validator.ValidateMobile(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, sanitized)
		})
	}
}

func TestValidateMobile_InvalidNumbers(t *testing.T) {
	validator := NewContactValidator()

	invalidNumbers := []struct {
		input       string
		expectedErr error
		name        string
	}{
		{"", ErrEmptyPhone, "Empty string"},
		{"   ", ErrEmptyPhone, "Whitespace"},
		{"123456", ErrInvalidLength, "Too short"},
		{"+1234567890123456", ErrInvalidLength, "Too long"},
		{"05012345a7", ErrInvalidFormat, "Contains letters"},
		{"050+1234567", ErrInvalidFormat, "Plus in the middle"},
	}

	for _, tc := range invalidNumbers {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validator.ValidateMobile(tc.input)
			assert.ErrorIs(t, err, tc.expectedErr)
		})
	}
}

func TestValidateEmail(t *testing.T) {
	validator := NewContactValidator()

	email, err := validator.ValidateEmail("  Lead.Guest@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "lead.guest@example.com", email)

	_, err = validator.ValidateEmail("")
	assert.ErrorIs(t, err, ErrEmptyEmail)

	_, err = validator.ValidateEmail("not-an-email")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	assert.True(t, validator.IsValidEmail("a@b.io"))
	assert.False(t, validator.IsValidEmail("a@b"))
}
