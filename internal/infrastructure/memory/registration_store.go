package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application/registration"
)

// RegistrationStore is an in-process registration.Source.
type RegistrationStore struct {
	mu     sync.RWMutex
	items  map[int64]registration.Registration
	nextID int64
}

var _ registration.Source = (*RegistrationStore)(nil)

func NewRegistrationStore() *RegistrationStore {
	return &RegistrationStore{items: make(map[int64]registration.Registration)}
}

func (s *RegistrationStore) Add(r registration.Registration) registration.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		s.nextID++
		r.ID = s.nextID
	} else if r.ID > s.nextID {
		s.nextID = r.ID
	}
	s.items[r.ID] = r
	return r
}

// Seed adds one pending registration per email, named after its local part.
func (s *RegistrationStore) Seed(emails ...string) []registration.Registration {
	out := make([]registration.Registration, 0, len(emails))
	for _, email := range emails {
		name, _, _ := strings.Cut(email, "@")
		out = append(out, s.Add(registration.Registration{Name: name, Email: email}))
	}
	return out
}

func (s *RegistrationStore) ListPending(ctx context.Context, size int) ([]registration.Registration, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]registration.Registration, 0)
	for _, r := range s.items {
		if !r.CouponSent {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if size > 0 && len(out) > size {
		out = out[:size]
	}
	return out, nil
}

func (s *RegistrationStore) MarkSent(ctx context.Context, r registration.Registration) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[r.ID]
	if !ok {
		return fmt.Errorf("memory: registration %d not found", r.ID)
	}
	current.CouponSent = true
	s.items[r.ID] = current
	return nil
}

func (s *RegistrationStore) Get(id int64) (registration.Registration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[id]
	return r, ok
}
