// Package idempotency validates and generates the keys that gate at-most-once
// execution of financial operations.
package idempotency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned for empty or malformed idempotency keys.
var ErrInvalidKey = errors.New("invalid idempotency key")

// Generate returns a fresh idempotency key.
func Generate() string {
	return uuid.NewString()
}

// Validate fails fast on keys that are empty or not UUID-shaped. Duplicate
// detection is the caller's job; this only checks shape.
func Validate(key string) error {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if _, err := uuid.Parse(trimmed); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
