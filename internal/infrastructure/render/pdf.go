package render

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/ticket"
	"github.com/go-pdf/fpdf"
)

// Page geometry in millimetres; one ticket per A6 landscape page.
const (
	pdfWidth      = 148.0
	pdfHeight     = 105.0
	pdfMargin     = 10.0
	pdfLineHeight = 7.0
	pdfBarcodeH   = 18.0
	barcodePxW    = 600
	barcodePxH    = 120
)

func (r *Renderer) pdf(ctx context.Context, tickets []ticket.Ticket) ([]byte, error) {
	doc := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "L",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: pdfWidth, Ht: pdfHeight},
	})
	doc.SetTitle(r.title, true)
	doc.SetCreator("courtesy-dispatch", true)
	doc.SetCreationDate(time.Unix(0, 0).UTC())
	doc.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	doc.SetAutoPageBreak(false, pdfMargin)
	tr := doc.UnicodeTranslatorFromDescriptor("")

	for i, t := range tickets {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("render: pdf: %w", err)
		}
		if err := r.pdfPage(doc, tr, i, t); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render: pdf output: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) pdfPage(doc *fpdf.Fpdf, tr func(string) string, index int, t ticket.Ticket) error {
	doc.AddPage()
	contentW := pdfWidth - 2*pdfMargin

	doc.SetDrawColor(40, 40, 40)
	doc.Rect(pdfMargin/2, pdfMargin/2, pdfWidth-pdfMargin, pdfHeight-pdfMargin, "D")

	doc.SetFont("Helvetica", "B", 16)
	doc.CellFormat(contentW, 10, tr(r.title), "", 1, "C", false, 0, "")
	doc.Ln(2)

	doc.SetFont("Helvetica", "", 11)
	for _, line := range ticketLines(t) {
		doc.CellFormat(contentW, pdfLineHeight, tr(line), "", 1, "L", false, 0, "")
	}

	img, err := barcodeImage(t, barcodePxW, barcodePxH)
	if err != nil {
		return err
	}
	var encoded bytes.Buffer
	if err := png.Encode(&encoded, img); err != nil {
		return fmt.Errorf("render: encode barcode png: %w", err)
	}
	name := fmt.Sprintf("barcode-%d", index)
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	doc.RegisterImageOptionsReader(name, opts, &encoded)
	y := pdfHeight - pdfMargin - pdfBarcodeH - 5
	doc.ImageOptions(name, pdfMargin, y, contentW, pdfBarcodeH, false, opts, 0, "")

	doc.SetFont("Courier", "", 9)
	doc.SetXY(pdfMargin, y+pdfBarcodeH)
	doc.CellFormat(contentW, 4, ticketCode(t), "", 0, "C", false, 0, "")

	if err := doc.Error(); err != nil {
		return fmt.Errorf("render: pdf page %d: %w", index+1, err)
	}
	return nil
}
