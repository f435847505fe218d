package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/courtesy"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/ticket"
)

var testNow = time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)

func soldTickets(n int, place string) []ticket.Ticket {
	out := make([]ticket.Ticket, n)
	for i := range out {
		out[i] = ticket.Ticket{
			ID:        int64(i + 1),
			Sequence:  int64(1000 + i),
			Barcode:   fmt.Sprintf("7890000%05d", i+1),
			ExpiresAt: testNow.AddDate(0, 6, 0),
			Status:    ticket.StatusSold,
			Place:     place,
		}
	}
	return out
}

func sampleRequest() *courtesy.Request {
	return &courtesy.Request{
		Place:         "São Paulo",
		Quantity:      5,
		Email:         "ana@example.com",
		Requester:     "Ana",
		Destination:   "Promoção",
		PrintValidity: courtesy.NewDate(2024, time.April, 1),
		Format:        "pdf",
	}
}

type fakeGateway struct {
	mu           sync.Mutex
	tickets      []ticket.Ticket
	listErr      error
	failUpdateAt int
	attempts     int
	updated      []ticket.Ticket
}

func (g *fakeGateway) ListByStatusAndPlace(_ context.Context, status ticket.Status, place string, limit int) ([]ticket.Ticket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	var out []ticket.Ticket
	for _, t := range g.tickets {
		if t.Status != status || !t.MatchesPlace(place) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (g *fakeGateway) Update(_ context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts++
	if g.attempts == g.failUpdateAt {
		return ticket.Ticket{}, errors.New("connection reset by peer")
	}
	for i := range g.tickets {
		if g.tickets[i].ID == t.ID {
			g.tickets[i] = t
		}
	}
	g.updated = append(g.updated, t)
	return t, nil
}

func (g *fakeGateway) issuedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, t := range g.tickets {
		if t.Status == ticket.StatusIssued {
			n++
		}
	}
	return n
}

type batchGateway struct {
	*fakeGateway
	reserveErr error
	reserved   [][]int64
}

func (g *batchGateway) Reserve(_ context.Context, ids []int64, stamp ticket.IssueStamp, printValidity string) (ticket.BatchResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reserved = append(g.reserved, ids)
	if g.reserveErr != nil {
		return ticket.BatchResult{}, g.reserveErr
	}
	var res ticket.BatchResult
	for _, id := range ids {
		for i := range g.tickets {
			if g.tickets[i].ID != id {
				continue
			}
			if err := g.tickets[i].Issue(stamp); err != nil {
				return ticket.BatchResult{}, err
			}
			g.tickets[i].PrintValidity = printValidity
			res.Issued = append(res.Issued, g.tickets[i])
		}
	}
	return res, nil
}

type fakeRenderer struct {
	err    error
	calls  int
	format courtesy.Format
}

func (r *fakeRenderer) Render(_ context.Context, tickets []ticket.Ticket, format courtesy.Format) (courtesy.Artifact, error) {
	r.calls++
	r.format = format
	if r.err != nil {
		return courtesy.Artifact{}, r.err
	}
	return courtesy.Artifact{Format: format, Data: []byte("%PDF-1.3 fake"), Pages: len(tickets)}, nil
}

type fakeMailer struct {
	err  error
	sent []Email
}

func (m *fakeMailer) Send(_ context.Context, e Email) error {
	m.sent = append(m.sent, e)
	return m.err
}

// fakeProducer resolves each send with the next queued result, or success.
type fakeProducer struct {
	mu      sync.Mutex
	sent    []messaging.Record
	results []error
	sendErr error
	hold    chan messaging.Delivery
	flushes int
}

func (p *fakeProducer) Send(_ context.Context, rec messaging.Record) (<-chan messaging.Delivery, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return nil, p.sendErr
	}
	i := len(p.sent)
	p.sent = append(p.sent, rec)
	if p.hold != nil {
		return p.hold, nil
	}
	var err error
	if i < len(p.results) {
		err = p.results[i]
	}
	return messaging.Resolved(messaging.Delivery{Topic: rec.Topic, Offset: int64(i), Err: err}), nil
}

func (p *fakeProducer) Flush(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) records() []messaging.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]messaging.Record(nil), p.sent...)
}

type recordingPublisher struct {
	mu       sync.Mutex
	outcomes []*courtesy.Outcome
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, o *courtesy.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o)
	return p.err
}

func (p *recordingPublisher) last() *courtesy.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.outcomes) == 0 {
		return nil
	}
	return p.outcomes[len(p.outcomes)-1]
}
