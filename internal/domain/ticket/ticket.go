package ticket

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("ticket: not found")
	ErrNotSold  = errors.New("ticket: not in sold status")
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusSold      Status = "sold"
	StatusIssued    Status = "issued"
)

// AllPlaces is the place filter that matches every place.
const AllPlaces = "Todas"

const displayDate = "02/01/2006"

type Ticket struct {
	ID            int64
	Sequence      int64
	Barcode       string
	ExpiresAt     time.Time
	Status        Status
	Place         string
	IssuerUserID  int64
	IssuedAt      time.Time
	IssuedEmail   string
	RequesterName string
	Destination   string
	PrintValidity string
}

// IssueStamp carries the fields written onto every ticket of one request.
type IssueStamp struct {
	IssuerUserID  int64
	IssuedAt      time.Time
	Email         string
	RequesterName string
	Destination   string
}

// Issue moves a sold ticket to issued and records who it was issued to.
func (t *Ticket) Issue(stamp IssueStamp) error {
	if t.Status != StatusSold {
		return fmt.Errorf("%w: ticket %d is %s", ErrNotSold, t.ID, t.Status)
	}
	t.Status = StatusIssued
	t.IssuerUserID = stamp.IssuerUserID
	t.IssuedAt = stamp.IssuedAt
	t.IssuedEmail = stamp.Email
	t.RequesterName = stamp.RequesterName
	t.Destination = stamp.Destination
	return nil
}

func (t Ticket) ExpiresAtDisplay() string {
	if t.ExpiresAt.IsZero() {
		return ""
	}
	return t.ExpiresAt.Format(displayDate)
}

func (t Ticket) IssuedAtDisplay() string {
	if t.IssuedAt.IsZero() {
		return ""
	}
	return t.IssuedAt.Format(displayDate)
}

// MatchesPlace reports whether the ticket belongs to place, treating AllPlaces as a wildcard.
func (t Ticket) MatchesPlace(place string) bool {
	return place == AllPlaces || place == "" || t.Place == place
}
