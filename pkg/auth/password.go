package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/gatekeeper/pkg/apperr"
)

// BcryptCost is used for every stored password hash
const BcryptCost = 12

// MinPasswordLength is the shortest accepted new password
const MinPasswordLength = 8

// MaxPasswordBytes is the longest password bcrypt accepts
const MaxPasswordBytes = 72

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// HashPassword hashes a password with bcrypt at BcryptCost
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// ValidateEmail checks an email address
func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return errors.New("email is required")
	}
	if !emailPattern.MatchString(email) {
		return errors.New("email format is invalid")
	}
	return nil
}

// ValidateUsername checks a username
func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(username))
	switch {
	case n == 0:
		return errors.New("username is required")
	case n < 3:
		return errors.New("username must be at least 3 characters")
	case n > 50:
		return errors.New("username must be at most 50 characters")
	}
	return nil
}

// ValidatePassword checks a new password
func ValidatePassword(password string) error {
	if password == "" {
		return errors.New("password is required")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		return fmt.Errorf("password must be at most %d bytes", MaxPasswordBytes)
	}
	return nil
}

// validateName checks an optional first or last name
func validateName(field, value string) error {
	if utf8.RuneCountInString(value) > 100 {
		return fmt.Errorf("%s must be at most 100 characters", field)
	}
	return nil
}

// collect turns validation failures into a single validation error
func collect(errs ...error) error {
	var fields []string
	for _, err := range errs {
		if err != nil {
			fields = append(fields, err.Error())
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return apperr.Validation(fields...)
}
