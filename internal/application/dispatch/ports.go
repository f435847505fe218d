package dispatch

import (
	"context"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/courtesy"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/ticket"
)

// Renderer turns issued tickets into a deliverable artifact.
type Renderer interface {
	Render(ctx context.Context, tickets []ticket.Ticket, format courtesy.Format) (courtesy.Artifact, error)
}

// Email is one outbound message with a single attachment.
type Email struct {
	To          string
	Subject     string
	Body        string
	Attachment  []byte
	Filename    string
	ContentType string
}

// Mailer delivers an artifact by address.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}
