package rest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/ticket"
)

const (
	ticketsPath    = "/cortesias"
	remoteDate     = "2006-01-02"
	defaultPageMax = 1000
)

var (
	toRemoteStatus = map[ticket.Status]string{
		ticket.StatusAvailable: "Disponivel",
		ticket.StatusSold:      "Vendido",
		ticket.StatusIssued:    "Emitido",
	}
	fromRemoteStatus = map[string]ticket.Status{
		"disponivel": ticket.StatusAvailable,
		"vendido":    ticket.StatusSold,
		"emitido":    ticket.StatusIssued,
	}
)

type userRef struct {
	ID int64 `json:"id"`
}

// cortesiaDTO is the wire shape of a ticket in the inventory API.
type cortesiaDTO struct {
	ID                int64    `json:"id"`
	Sequencia         int64    `json:"sequencia"`
	CodigoBarras      string   `json:"codigoBarras"`
	Validade          string   `json:"validade,omitempty"`
	Status            string   `json:"status"`
	Praca             string   `json:"praca"`
	Solicitante       *userRef `json:"solicitante,omitempty"`
	DataEmissao       string   `json:"dataEmissao,omitempty"`
	EmailEmissao      string   `json:"emailEmissao,omitempty"`
	Destinacao        string   `json:"destinacao,omitempty"`
	Quemsolicitou     string   `json:"quemsolicitou,omitempty"`
	ValidadeImpressao string   `json:"validadeImpressao,omitempty"`
}

func (d cortesiaDTO) toTicket() ticket.Ticket {
	t := ticket.Ticket{
		ID:            d.ID,
		Sequence:      d.Sequencia,
		Barcode:       d.CodigoBarras,
		ExpiresAt:     parseRemoteDate(d.Validade),
		Status:        fromRemoteStatus[strings.ToLower(strings.TrimSpace(d.Status))],
		Place:         d.Praca,
		IssuedAt:      parseRemoteDate(d.DataEmissao),
		IssuedEmail:   d.EmailEmissao,
		RequesterName: d.Quemsolicitou,
		Destination:   d.Destinacao,
		PrintValidity: d.ValidadeImpressao,
	}
	if t.Status == "" {
		t.Status = ticket.Status(d.Status)
	}
	if d.Solicitante != nil {
		t.IssuerUserID = d.Solicitante.ID
	}
	return t
}

func fromTicket(t ticket.Ticket) cortesiaDTO {
	d := cortesiaDTO{
		ID:                t.ID,
		Sequencia:         t.Sequence,
		CodigoBarras:      t.Barcode,
		Validade:          formatRemoteDate(t.ExpiresAt),
		Status:            toRemoteStatus[t.Status],
		Praca:             t.Place,
		DataEmissao:       formatRemoteDate(t.IssuedAt),
		EmailEmissao:      t.IssuedEmail,
		Destinacao:        t.Destination,
		Quemsolicitou:     t.RequesterName,
		ValidadeImpressao: t.PrintValidity,
	}
	if d.Status == "" {
		d.Status = string(t.Status)
	}
	if t.IssuerUserID != 0 {
		d.Solicitante = &userRef{ID: t.IssuerUserID}
	}
	return d
}

func parseRemoteDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(remoteDate, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func formatRemoteDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(remoteDate)
}

// TicketGateway is the inventory API seen as a ticket.Gateway. It does not
// implement ticket.BatchReserver: updates are one PUT per ticket and a
// failure part-way leaves the earlier tickets issued.
type TicketGateway struct {
	tickets Resource[cortesiaDTO]
}

var _ ticket.Gateway = (*TicketGateway)(nil)

func NewTicketGateway(client *Client) *TicketGateway {
	return &TicketGateway{tickets: NewEndpoint[cortesiaDTO](client, ticketsPath)}
}

func ticketQuery(status ticket.Status, place string, limit int) Query {
	filters := url.Values{}
	remote, ok := toRemoteStatus[status]
	if !ok {
		remote = string(status)
	}
	filters.Set("status.contains", remote)
	if place != "" && place != ticket.AllPlaces {
		filters.Set("praca.contains", place)
	}
	if limit <= 0 {
		limit = defaultPageMax
	}
	return Query{Page: 0, Size: limit, Sort: []string{"id,asc"}, Filters: filters}
}

func (g *TicketGateway) ListByStatusAndPlace(ctx context.Context, status ticket.Status, place string, limit int) ([]ticket.Ticket, error) {
	dtos, err := g.tickets.Fetch(ctx, ticketQuery(status, place, limit))
	if err != nil {
		return nil, fmt.Errorf("rest: list tickets: %w", err)
	}
	out := make([]ticket.Ticket, 0, len(dtos))
	for _, d := range dtos {
		t := d.toTicket()
		if t.Status != status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (g *TicketGateway) Update(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	updated, err := g.tickets.Update(ctx, t.ID, fromTicket(t))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ticket.Ticket{}, fmt.Errorf("rest: update ticket %d: %w", t.ID, ticket.ErrNotFound)
		}
		return ticket.Ticket{}, fmt.Errorf("rest: update ticket %d: %w", t.ID, err)
	}
	if updated.ID == 0 {
		return t, nil
	}
	return updated.toTicket(), nil
}

// Count returns how many tickets of place have status.
func (g *TicketGateway) Count(ctx context.Context, status ticket.Status, place string) (int, error) {
	n, err := g.tickets.Count(ctx, ticketQuery(status, place, 0))
	if err != nil {
		return 0, fmt.Errorf("rest: count tickets: %w", err)
	}
	return n, nil
}

func (g *TicketGateway) Get(ctx context.Context, id int64) (ticket.Ticket, error) {
	d, err := g.tickets.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ticket.Ticket{}, fmt.Errorf("rest: get ticket %d: %w", id, ticket.ErrNotFound)
		}
		return ticket.Ticket{}, fmt.Errorf("rest: get ticket %d: %w", id, err)
	}
	return d.toTicket(), nil
}
