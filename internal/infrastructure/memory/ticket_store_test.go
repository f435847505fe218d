package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application/registration"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/ticket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListFiltersByStatusAndPlace(t *testing.T) {
	t.Parallel()

	store := NewTicketStore()
	expires := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	store.Seed("Online", 3, expires)
	store.Seed("Recife", 2, expires)
	store.Add(ticket.Ticket{Status: ticket.StatusAvailable, Place: "Online"})

	ctx := context.Background()
	online, err := store.ListByStatusAndPlace(ctx, ticket.StatusSold, "Online", 0)
	require.NoError(t, err)
	assert.Len(t, online, 3)

	all, err := store.ListByStatusAndPlace(ctx, ticket.StatusSold, ticket.AllPlaces, 4)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, int64(1), all[0].ID)
	assert.Equal(t, int64(4), all[3].ID)
}

func TestReserveIsAllOrNothing(t *testing.T) {
	t.Parallel()

	store := NewTicketStore()
	seeded := store.Seed("Online", 3, time.Time{})
	store.Add(ticket.Ticket{ID: 10, Status: ticket.StatusAvailable, Place: "Online"})
	stamp := ticket.IssueStamp{IssuerUserID: 1, IssuedAt: time.Now(), Email: "a@example.com"}
	ctx := context.Background()

	_, err := store.Reserve(ctx, []int64{seeded[0].ID, 10}, stamp, "2025-01-31")
	require.ErrorIs(t, err, ticket.ErrNotSold)
	assert.Zero(t, store.Count(ticket.StatusIssued))

	_, err = store.Reserve(ctx, []int64{seeded[0].ID, 99}, stamp, "2025-01-31")
	require.ErrorIs(t, err, ticket.ErrNotFound)
	assert.Zero(t, store.Count(ticket.StatusIssued))

	res, err := store.Reserve(ctx, []int64{seeded[0].ID, seeded[1].ID}, stamp, "2025-01-31")
	require.NoError(t, err)
	require.Len(t, res.Issued, 2)
	assert.Equal(t, 2, store.Count(ticket.StatusIssued))

	got, err := store.Get(ctx, seeded[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.IssuedEmail)
	assert.Equal(t, "2025-01-31", got.PrintValidity)
}

func TestUpdateUnknownTicket(t *testing.T) {
	t.Parallel()

	_, err := NewTicketStore().Update(context.Background(), ticket.Ticket{ID: 5})
	assert.ErrorIs(t, err, ticket.ErrNotFound)
}

func TestRegistrationStorePendingShrinksOnMark(t *testing.T) {
	t.Parallel()

	store := NewRegistrationStore()
	a := store.Add(registration.Registration{Email: "a@example.com"})
	store.Add(registration.Registration{Email: "b@example.com"})
	ctx := context.Background()

	pending, err := store.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, store.MarkSent(ctx, a))
	pending, err = store.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b@example.com", pending[0].Email)

	got, ok := store.Get(a.ID)
	require.True(t, ok)
	assert.True(t, got.CouponSent)
}

func TestRegistrationStoreSeed(t *testing.T) {
	t.Parallel()

	store := NewRegistrationStore()
	seeded := store.Seed("ana@example.com", "bruno@example.com")
	require.Len(t, seeded, 2)
	assert.Equal(t, "ana", seeded[0].Name)

	pending, err := store.ListPending(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ana@example.com", pending[0].Email)
	assert.False(t, pending[0].CouponSent)
}
