package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/ticket"
)

// TicketStore is an in-process ticket inventory. It implements both
// ticket.Gateway and ticket.BatchReserver.
type TicketStore struct {
	mu      sync.RWMutex
	tickets map[int64]*ticket.Ticket
	nextID  int64
}

var (
	_ ticket.Gateway       = (*TicketStore)(nil)
	_ ticket.BatchReserver = (*TicketStore)(nil)
)

func NewTicketStore() *TicketStore {
	return &TicketStore{tickets: make(map[int64]*ticket.Ticket)}
}

// Add stores t, assigning an id, sequence and barcode when missing.
func (s *TicketStore) Add(t ticket.Ticket) ticket.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		s.nextID++
		t.ID = s.nextID
	} else if t.ID > s.nextID {
		s.nextID = t.ID
	}
	if t.Sequence == 0 {
		t.Sequence = t.ID
	}
	if t.Barcode == "" {
		t.Barcode = fmt.Sprintf("789%09d", t.ID)
	}
	s.tickets[t.ID] = cloneTicket(&t)
	return t
}

// Seed adds count sold tickets of place expiring at expiresAt.
func (s *TicketStore) Seed(place string, count int, expiresAt time.Time) []ticket.Ticket {
	out := make([]ticket.Ticket, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, s.Add(ticket.Ticket{Status: ticket.StatusSold, Place: place, ExpiresAt: expiresAt}))
	}
	return out
}

func (s *TicketStore) Get(ctx context.Context, id int64) (ticket.Ticket, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return ticket.Ticket{}, fmt.Errorf("%w: %d", ticket.ErrNotFound, id)
	}
	return *cloneTicket(t), nil
}

// ListByStatusAndPlace returns matching tickets in ascending id order.
func (s *TicketStore) ListByStatusAndPlace(ctx context.Context, status ticket.Status, place string, limit int) ([]ticket.Ticket, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sortedIDs()
	out := make([]ticket.Ticket, 0)
	for _, id := range ids {
		t := s.tickets[id]
		if t.Status != status || !t.MatchesPlace(place) {
			continue
		}
		out = append(out, *cloneTicket(t))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *TicketStore) Update(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; !ok {
		return ticket.Ticket{}, fmt.Errorf("%w: %d", ticket.ErrNotFound, t.ID)
	}
	s.tickets[t.ID] = cloneTicket(&t)
	return t, nil
}

// Reserve issues every id or none. It fails without changes when an id is
// unknown, repeated or not sold.
func (s *TicketStore) Reserve(ctx context.Context, ids []int64, stamp ticket.IssueStamp, printValidity string) (ticket.BatchResult, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make([]ticket.Ticket, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return ticket.BatchResult{}, fmt.Errorf("memory: reserve: ticket %d requested twice", id)
		}
		seen[id] = struct{}{}
		current, ok := s.tickets[id]
		if !ok {
			return ticket.BatchResult{}, fmt.Errorf("memory: reserve: %w: %d", ticket.ErrNotFound, id)
		}
		next := *cloneTicket(current)
		if err := next.Issue(stamp); err != nil {
			return ticket.BatchResult{}, fmt.Errorf("memory: reserve: %w", err)
		}
		next.PrintValidity = printValidity
		staged = append(staged, next)
	}

	for i := range staged {
		s.tickets[staged[i].ID] = cloneTicket(&staged[i])
	}
	return ticket.BatchResult{Issued: staged}, nil
}

// Count returns how many tickets have status.
func (s *TicketStore) Count(status ticket.Status) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tickets {
		if t.Status == status {
			n++
		}
	}
	return n
}

func (s *TicketStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.tickets))
	for id := range s.tickets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func cloneTicket(t *ticket.Ticket) *ticket.Ticket {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}
