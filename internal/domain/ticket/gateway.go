package ticket

import "context"

// Gateway is the view of the external ticket store used while processing a request.
//
// Update persists one ticket at a time. A caller that updates several tickets
// in a loop and fails part-way leaves the earlier tickets updated: the store
// offers no rollback, so callers must report how many updates succeeded.
type Gateway interface {
	ListByStatusAndPlace(ctx context.Context, status Status, place string, limit int) ([]Ticket, error)
	Update(ctx context.Context, t Ticket) (Ticket, error)
}

// BatchReserver is implemented by stores that can issue a set of tickets
// atomically. Either every id is issued with stamp and returned, or none is.
type BatchReserver interface {
	Reserve(ctx context.Context, ids []int64, stamp IssueStamp, printValidity string) (BatchResult, error)
}

type BatchResult struct {
	Issued []Ticket
}
