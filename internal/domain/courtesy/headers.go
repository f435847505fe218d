package courtesy

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
)

// OutcomeSchemaVersion identifies the header layout below. Bump it when a
// header is added, renamed or changes meaning.
const OutcomeSchemaVersion = "1"

const (
	HeaderSchemaVersion = "schemaVersion"
	HeaderRequestID     = "requestId"
	HeaderEmail         = "email"
	HeaderSuccess       = "success"
	HeaderStatus        = "status"
	HeaderTimestamp     = "timestamp"
	HeaderFormat        = "format"
	HeaderQuantity      = "quantity"
	HeaderPlace         = "place"
)

// OutcomeHeaders is the fixed metadata attached to every published outcome.
type OutcomeHeaders struct {
	SchemaVersion string
	RequestID     string
	Email         string
	Success       bool
	Status        string
	Timestamp     time.Time
	Format        string
	Quantity      int
	Place         string
}

func NewOutcomeHeaders(o *Outcome, at time.Time) OutcomeHeaders {
	h := OutcomeHeaders{
		SchemaVersion: OutcomeSchemaVersion,
		Email:         "unknown",
		Status:        "UNKNOWN",
		Timestamp:     at,
	}
	if o == nil {
		return h
	}
	h.RequestID = o.RequestID
	h.Success = o.Success
	if o.Email != "" {
		h.Email = o.Email
	}
	if o.Status != "" {
		h.Status = string(o.Status)
	}
	h.Format = o.Format
	h.Quantity = o.Quantity
	h.Place = o.Place
	return h
}

// Headers encodes h in a stable order. Optional fields are omitted when empty.
func (h OutcomeHeaders) Headers() []messaging.Header {
	out := []messaging.Header{
		{Key: HeaderSchemaVersion, Value: []byte(h.SchemaVersion)},
		{Key: HeaderRequestID, Value: []byte(h.RequestID)},
		{Key: HeaderEmail, Value: []byte(h.Email)},
		{Key: HeaderSuccess, Value: []byte(strconv.FormatBool(h.Success))},
		{Key: HeaderStatus, Value: []byte(h.Status)},
		{Key: HeaderTimestamp, Value: []byte(strconv.FormatInt(h.Timestamp.UnixMilli(), 10))},
	}
	if h.Format != "" {
		out = append(out, messaging.Header{Key: HeaderFormat, Value: []byte(h.Format)})
	}
	if h.Quantity > 0 {
		out = append(out, messaging.Header{Key: HeaderQuantity, Value: []byte(strconv.Itoa(h.Quantity))})
	}
	if h.Place != "" {
		out = append(out, messaging.Header{Key: HeaderPlace, Value: []byte(h.Place)})
	}
	return out
}

// ParseOutcomeHeaders decodes headers written by Headers. Unknown keys are
// ignored; a missing or different schema version is an error.
func ParseOutcomeHeaders(headers []messaging.Header) (OutcomeHeaders, error) {
	var h OutcomeHeaders
	for _, hdr := range headers {
		v := string(hdr.Value)
		switch hdr.Key {
		case HeaderSchemaVersion:
			h.SchemaVersion = v
		case HeaderRequestID:
			h.RequestID = v
		case HeaderEmail:
			h.Email = v
		case HeaderSuccess:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return OutcomeHeaders{}, fmt.Errorf("courtesy: header %s: %w", HeaderSuccess, err)
			}
			h.Success = b
		case HeaderStatus:
			h.Status = v
		case HeaderTimestamp:
			ms, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return OutcomeHeaders{}, fmt.Errorf("courtesy: header %s: %w", HeaderTimestamp, err)
			}
			h.Timestamp = time.UnixMilli(ms)
		case HeaderFormat:
			h.Format = v
		case HeaderQuantity:
			n, err := strconv.Atoi(v)
			if err != nil {
				return OutcomeHeaders{}, fmt.Errorf("courtesy: header %s: %w", HeaderQuantity, err)
			}
			h.Quantity = n
		case HeaderPlace:
			h.Place = v
		}
	}
	if h.SchemaVersion != OutcomeSchemaVersion {
		return OutcomeHeaders{}, fmt.Errorf("courtesy: unsupported outcome header schema %q", h.SchemaVersion)
	}
	return h, nil
}
