package logging

import "strings"

// RedactedValue is the canonical placeholder for masked fields in logs.
const RedactedValue = "[REDACTED]"

// MaskAccountRef keeps the trailing 4 characters of a CBS account reference
// and masks the rest. References of 4 characters or fewer are fully masked.
func MaskAccountRef(ref string) string {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return trimmed
	}
	if len(trimmed) <= 4 {
		return RedactedValue
	}
	return RedactedValue + trimmed[len(trimmed)-4:]
}
