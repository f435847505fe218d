// Package render draws issued tickets as a PDF document or as a ZIP archive
// holding one JPEG per ticket.
package render

import (
	"context"
	"fmt"
	"image"
	"strconv"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application/dispatch"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/courtesy"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/ticket"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability/logctx"
	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
)

const (
	defaultTitle       = "Cortesia CineX"
	defaultJPEGQuality = 90
)

type Option func(*Renderer)

// WithTitle sets the heading printed on every ticket.
func WithTitle(title string) Option {
	return func(r *Renderer) {
		if title != "" {
			r.title = title
		}
	}
}

func WithJPEGQuality(q int) Option {
	return func(r *Renderer) {
		if q > 0 && q <= 100 {
			r.jpegQuality = q
		}
	}
}

type Renderer struct {
	title       string
	jpegQuality int
	log         observability.Logger
}

var _ dispatch.Renderer = (*Renderer)(nil)

func New(logger observability.Logger, opts ...Option) *Renderer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	r := &Renderer{
		title:       defaultTitle,
		jpegQuality: defaultJPEGQuality,
		log:         logger.With(observability.F("component", "renderer")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render produces one page per ticket in the requested format.
func (r *Renderer) Render(ctx context.Context, tickets []ticket.Ticket, format courtesy.Format) (courtesy.Artifact, error) {
	if len(tickets) == 0 {
		return courtesy.Artifact{}, fmt.Errorf("render: no tickets")
	}
	if err := ctx.Err(); err != nil {
		return courtesy.Artifact{}, fmt.Errorf("render: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case courtesy.FormatPDF:
		data, err = r.pdf(ctx, tickets)
	case courtesy.FormatArchive:
		data, err = r.archive(ctx, tickets)
	default:
		return courtesy.Artifact{}, fmt.Errorf("render: unsupported format %q", format)
	}
	if err != nil {
		return courtesy.Artifact{}, err
	}

	logctx.FromOr(ctx, r.log).Info("artifact_rendered",
		observability.F("format", string(format)),
		observability.F("pages", len(tickets)),
		observability.F("bytes", len(data)),
	)
	return courtesy.Artifact{Format: format, Data: data, Pages: len(tickets)}, nil
}

// ticketCode is the barcode content, falling back to the ticket id.
func ticketCode(t ticket.Ticket) string {
	if t.Barcode != "" {
		return t.Barcode
	}
	return strconv.FormatInt(t.ID, 10)
}

func barcodeImage(t ticket.Ticket, width, height int) (image.Image, error) {
	bc, err := code128.Encode(ticketCode(t))
	if err != nil {
		return nil, fmt.Errorf("render: encode barcode for ticket %d: %w", t.ID, err)
	}
	scaled, err := barcode.Scale(bc, width, height)
	if err != nil {
		return nil, fmt.Errorf("render: scale barcode for ticket %d: %w", t.ID, err)
	}
	return scaled, nil
}

// ticketLines are the text rows printed under the heading.
func ticketLines(t ticket.Ticket) []string {
	lines := []string{
		"Praça: " + t.Place,
		"Número: " + strconv.FormatInt(t.Sequence, 10),
		"Validade: " + t.ExpiresAtDisplay(),
	}
	if t.PrintValidity != "" {
		if d, err := courtesy.ParseDate(t.PrintValidity); err == nil {
			lines = append(lines, "Válida a partir de: "+d.Display())
		} else {
			lines = append(lines, "Válida a partir de: "+t.PrintValidity)
		}
	}
	if t.Destination != "" {
		lines = append(lines, "Destinação: "+t.Destination)
	}
	return lines
}
