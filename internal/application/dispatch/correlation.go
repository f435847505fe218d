package dispatch

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/courtesy"
	"github.com/cespare/xxhash/v2"
)

// emailHash is a stable, non-cryptographic hash of the normalised email.
func emailHash(email string) uint64 {
	return xxhash.Sum64String(strings.ToLower(strings.TrimSpace(email)))
}

// CorrelationID derives the tracing id of one delivery attempt. It is not
// unique: collisions are tolerated.
func CorrelationID(req *courtesy.Request, offset int64, now time.Time) string {
	if req == nil {
		return fmt.Sprintf("REQ_NULL_%d_%d", offset, now.UnixMilli())
	}
	place := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, req.Place)
	return fmt.Sprintf("REQ_%d_%s_%d_%d_%d",
		emailHash(req.Email)%10000,
		place,
		req.Quantity,
		offset,
		now.UnixMilli()%100000,
	)
}

// OutcomeKey picks the partition key of an outcome: the email hash when an
// email is known, then the correlation id, then a time-based key.
func OutcomeKey(o *courtesy.Outcome, now time.Time) string {
	if o != nil && strings.TrimSpace(o.Email) != "" {
		return fmt.Sprintf("email_%d", emailHash(o.Email)%1000)
	}
	if o != nil && o.RequestID != "" {
		return "req_" + o.RequestID
	}
	return fmt.Sprintf("unknown_%d", now.UnixMilli()%1000)
}
