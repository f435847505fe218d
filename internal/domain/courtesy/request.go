package courtesy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout    = "2006-01-02"
	displayLayout = "02/01/2006"
	compactLayout = "20060102"
)

type Format string

const (
	FormatPDF     Format = "pdf"
	FormatArchive Format = "archive"

	DefaultFormat = FormatArchive
)

// ParseFormat resolves a wire tag case-insensitively.
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatPDF:
		return FormatPDF, true
	case FormatArchive:
		return FormatArchive, true
	default:
		return "", false
	}
}

// Extension is the file extension used for artifacts of this format.
func (f Format) Extension() string {
	if f == FormatPDF {
		return "pdf"
	}
	return "zip"
}

func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "application/zip"
}

// Date is a calendar date carried as YYYY-MM-DD on the wire.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("courtesy: invalid date %q", s)
	}
	return NewDate(t.Year(), t.Month(), t.Day()), nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// Display renders the date as dd/MM/yyyy.
func (d Date) Display() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(displayLayout)
}

// Compact renders the date as yyyyMMdd.
func (d Date) Compact() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(compactLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("courtesy: date must be a string: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Request asks for Quantity courtesy tickets of Place to be issued to Email.
type Request struct {
	Place         string `json:"place"`
	Quantity      int    `json:"quantity"`
	Email         string `json:"email"`
	Requester     string `json:"requester"`
	Destination   string `json:"destination"`
	PrintValidity Date   `json:"printValidity"`
	Format        string `json:"format"`
}

// DecodeRequest parses a request payload. A JSON null yields a nil request
// and no error so that validation can reject it.
func DecodeRequest(data []byte) (*Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, fmt.Errorf("courtesy: decode request: %w", err)
	}
	return &req, nil
}

func (r *Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// ResolvedFormat returns the parsed format, falling back to the default when unset.
func (r *Request) ResolvedFormat() Format {
	if f, ok := ParseFormat(r.Format); ok {
		return f
	}
	return DefaultFormat
}

// PartitionKey is the key requests are produced under: the lower-cased email,
// or "anon".
func (r *Request) PartitionKey() string {
	if r == nil {
		return "anon"
	}
	if email := strings.ToLower(strings.TrimSpace(r.Email)); email != "" {
		return email
	}
	return "anon"
}
