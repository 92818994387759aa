// Package validation provides shared input validation helpers.
package validation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

var (
	addressRe   = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	serviceIDRe = regexp.MustCompile(`^[a-zA-Z0-9._:-]{1,128}$`)
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errors aggregates field-level failures from one request.
type Errors []*ValidationError

func (e Errors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate collects the non-nil results of a set of field checks.
func Validate(checks ...error) Errors {
	var errs Errors
	for _, err := range checks {
		if err == nil {
			continue
		}
		if ve, ok := err.(*ValidationError); ok {
			errs = append(errs, ve)
		} else {
			errs = append(errs, &ValidationError{Field: "", Message: err.Error()})
		}
	}
	return errs
}

// Errorf builds a ValidationError for a field.
func Errorf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Address checks that s is a 0x-prefixed 20-byte hex address.
func Address(field, s string) error {
	if s == "" {
		return Errorf(field, "is required")
	}
	if !addressRe.MatchString(s) {
		return Errorf(field, "must be a 0x-prefixed 40-hex-char address")
	}
	return nil
}

// OptionalAddress checks an address field that may be empty.
func OptionalAddress(field, s string) error {
	if s == "" {
		return nil
	}
	return Address(field, s)
}

// ServiceID checks a human-readable service identifier.
func ServiceID(field, s string) error {
	if s == "" {
		return Errorf(field, "is required")
	}
	if !serviceIDRe.MatchString(s) {
		return Errorf(field, "must be 1-128 chars of [a-zA-Z0-9._:-]")
	}
	return nil
}

// Required checks a generic non-empty string field.
func Required(field, s string) error {
	if strings.TrimSpace(s) == "" {
		return Errorf(field, "is required")
	}
	return nil
}

// MaxLen checks a string length bound.
func MaxLen(field, s string, max int) error {
	if len(s) > max {
		return Errorf(field, "must be at most %d bytes", max)
	}
	return nil
}

// Rating checks a feedback rating. Two scales are accepted: 1-5 stars
// and 0-100 percentage. Anything else is rejected. Note that values in
// [1,5] are always interpreted as stars, so a percentage below 6 can
// only be expressed as 0.
func Rating(field string, r float64) error {
	if r < 0 || r > 100 {
		return Errorf(field, "must be in [1,5] or [0,100]")
	}
	return nil
}

// NormalizeRating maps a validated rating onto the 0-100 scale.
// Values in [1,5] are treated as a star rating (1 star = 20). The result
// is rounded to the nearest whole number, since the registry contract
// stores ratings as integer percentages; without the rounding, fractional
// inputs would truncate on the uint8 conversion (0.5 → 0, 50.7 → 50).
func NormalizeRating(r float64) float64 {
	if r >= 1 && r <= 5 {
		return math.Round(r * 20)
	}
	return math.Round(r)
}

// PositiveAmount checks a wei-denominated decimal string amount.
func PositiveAmount(field, s string) error {
	if s == "" {
		return Errorf(field, "is required")
	}
	if strings.HasPrefix(s, "-") || s == "0" {
		return Errorf(field, "must be positive")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return Errorf(field, "must be a base-10 integer amount")
		}
	}
	return nil
}
