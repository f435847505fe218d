package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/ticket"
	"github.com/klauspost/compress/zip"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Card geometry in pixels. The card is drawn at base size and then scaled by
// cardScale so the bitmap font stays legible when printed.
const (
	cardWidth   = 420
	cardHeight  = 240
	cardScale   = 3
	cardPadding = 16
	cardLine    = 18
	cardBarH    = 48
)

// archiveEntry names the n-th page inside the archive, starting at 1.
func archiveEntry(n int) string {
	return fmt.Sprintf("cortesia_%03d.jpg", n)
}

func (r *Renderer) archive(ctx context.Context, tickets []ticket.Ticket) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for i, t := range tickets {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("render: archive: %w", err)
		}
		page, err := r.card(t)
		if err != nil {
			return nil, err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: archiveEntry(i + 1), Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("render: archive entry %d: %w", i+1, err)
		}
		if err := jpeg.Encode(w, page, &jpeg.Options{Quality: r.jpegQuality}); err != nil {
			return nil, fmt.Errorf("render: encode page %d: %w", i+1, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("render: close archive: %w", err)
	}
	return buf.Bytes(), nil
}

// card draws one ticket as an RGB image.
func (r *Renderer) card(t ticket.Ticket) (image.Image, error) {
	base := image.NewRGBA(image.Rect(0, 0, cardWidth, cardHeight))
	draw.Draw(base, base.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	frame(base, color.RGBA{R: 40, G: 40, B: 40, A: 255})

	d := &font.Drawer{
		Dst:  base,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	y := cardPadding + cardLine
	d.Dot = fixed.P(centered(d, r.title), y)
	d.DrawString(r.title)
	y += cardLine + 4
	for _, line := range ticketLines(t) {
		d.Dot = fixed.P(cardPadding, y)
		d.DrawString(line)
		y += cardLine
	}

	bar, err := barcodeImage(t, cardWidth-2*cardPadding, cardBarH)
	if err != nil {
		return nil, err
	}
	barTop := cardHeight - cardPadding - cardBarH - cardLine
	barRect := image.Rect(cardPadding, barTop, cardWidth-cardPadding, barTop+cardBarH)
	draw.Draw(base, barRect, bar, bar.Bounds().Min, draw.Src)

	code := ticketCode(t)
	d.Dot = fixed.P(centered(d, code), barTop+cardBarH+cardLine-4)
	d.DrawString(code)

	out := image.NewRGBA(image.Rect(0, 0, cardWidth*cardScale, cardHeight*cardScale))
	draw.NearestNeighbor.Scale(out, out.Bounds(), base, base.Bounds(), draw.Src, nil)
	return out, nil
}

func centered(d *font.Drawer, s string) int {
	w := d.MeasureString(s).Round()
	x := (cardWidth - w) / 2
	if x < cardPadding {
		return cardPadding
	}
	return x
}

func frame(img *image.RGBA, c color.Color) {
	b := img.Bounds()
	for x := b.Min.X + 4; x < b.Max.X-4; x++ {
		img.Set(x, b.Min.Y+4, c)
		img.Set(x, b.Max.Y-5, c)
	}
	for y := b.Min.Y + 4; y < b.Max.Y-4; y++ {
		img.Set(b.Min.X+4, y, c)
		img.Set(b.Max.X-5, y, c)
	}
}
