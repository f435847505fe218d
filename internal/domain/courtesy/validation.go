package courtesy

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxQuantity caps the number of tickets one request may ask for.
const MaxQuantity = 1000

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// ValidationError names the first field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("courtesy: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Validate checks req in a fixed order and returns the first failure.
// A blank format is set to DefaultFormat; no other field is touched.
func Validate(req *Request) error {
	if req == nil {
		return invalid("request", "request is null")
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return invalid("email", "email is required")
	}
	if !emailPattern.MatchString(email) {
		return invalid("email", fmt.Sprintf("email %q is malformed", req.Email))
	}
	if req.Quantity <= 0 {
		return invalid("quantity", "quantity must be at least 1")
	}
	if req.Quantity > MaxQuantity {
		return invalid("quantity", fmt.Sprintf("quantity must not exceed %d", MaxQuantity))
	}
	if strings.TrimSpace(req.Place) == "" {
		return invalid("place", "place is required")
	}
	if req.PrintValidity.IsZero() {
		return invalid("printValidity", "print validity date is required")
	}
	if strings.TrimSpace(req.Format) == "" {
		req.Format = string(DefaultFormat)
	}
	if _, ok := ParseFormat(req.Format); !ok {
		return invalid("format", fmt.Sprintf("format %q must be %s or %s", req.Format, FormatPDF, FormatArchive))
	}
	return nil
}
