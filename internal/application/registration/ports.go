package registration

import (
	"context"
	"time"
)

// Registration is one promotion sign-up waiting for its coupon.
type Registration struct {
	ID           int64
	Name         string
	Phone        string
	CPF          string
	Email        string
	RegisteredAt time.Time
	CouponSent   bool
}

// Source lists registrations whose coupon was not sent yet and flags them once
// their request is published. Marked registrations leave the pending set, so
// ListPending always reads the first page.
type Source interface {
	ListPending(ctx context.Context, size int) ([]Registration, error)
	MarkSent(ctx context.Context, r Registration) error
}
