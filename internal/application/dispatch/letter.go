package dispatch

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/courtesy"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const deliverySubject = "Solicitação de Cortesias – Roleta CineX"

const deliveryBody = `Olá %s,

Segue em anexo as cortesias solicitadas.

Detalhes da solicitação:
- Quantidade: %d cortesias
- Solicitante: %s
- Destinação: %s
- Validade: A partir de %s

Bom filme!

Atenciosamente,
Sistema de Emissão de Cortesias CineX
`

var (
	whitespaceRun   = regexp.MustCompile(`\s+`)
	unsafeFilename  = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
	stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

func composeEmail(req *courtesy.Request, artifact courtesy.Artifact, today time.Time) Email {
	return Email{
		To:          req.Email,
		Subject:     deliverySubject,
		Body:        fmt.Sprintf(deliveryBody, req.Requester, req.Quantity, req.Requester, req.Destination, req.PrintValidity.Display()),
		Attachment:  artifact.Data,
		Filename:    artifactFilename(req.Place, today, artifact.Format),
		ContentType: artifact.Format.ContentType(),
	}
}

// artifactFilename builds cortesias_<place>_<yyyyMMdd>.<ext> with the place
// folded to ASCII and whitespace replaced by underscores.
func artifactFilename(place string, today time.Time, format courtesy.Format) string {
	folded, _, err := transform.String(stripDiacritics, strings.TrimSpace(place))
	if err != nil {
		folded = place
	}
	folded = whitespaceRun.ReplaceAllString(folded, "_")
	folded = unsafeFilename.ReplaceAllString(folded, "")
	if folded == "" {
		folded = "cortesias"
	}
	return fmt.Sprintf("cortesias_%s_%s.%s", folded, today.Format("20060102"), format.Extension())
}
