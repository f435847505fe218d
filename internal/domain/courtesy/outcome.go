package courtesy

import (
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusProcessing        Status = "PROCESSING"
	StatusSuccess           Status = "SUCCESS"
	StatusValidationError   Status = "VALIDATION_ERROR"
	StatusAvailabilityError Status = "AVAILABILITY_ERROR"
	StatusRenderError       Status = "RENDER_ERROR"
	StatusDeliveryError     Status = "DELIVERY_ERROR"
	StatusInternalError     Status = "INTERNAL_ERROR"
	StatusCancelled         Status = "CANCELLED"
)

var statusDescriptions = map[Status]string{
	StatusProcessing:        "Processando solicitação",
	StatusSuccess:           "Processado com sucesso",
	StatusValidationError:   "Erro de validação dos dados",
	StatusAvailabilityError: "Cortesias indisponíveis",
	StatusRenderError:       "Erro na geração do relatório",
	StatusDeliveryError:     "Erro no envio do email",
	StatusInternalError:     "Erro interno do sistema",
	StatusCancelled:         "Processamento cancelado",
}

func (s Status) Valid() bool {
	_, ok := statusDescriptions[s]
	return ok
}

func (s Status) Description() string {
	if d, ok := statusDescriptions[s]; ok {
		return d
	}
	return string(s)
}

// Outcome is the correlated result of one request. Build it with Succeeded or
// Failed and derive copies with the With* helpers; never mutate a shared one.
type Outcome struct {
	RequestID   string    `json:"requestId"`
	Email       string    `json:"email,omitempty"`
	Quantity    int       `json:"quantity,omitempty"`
	Place       string    `json:"place,omitempty"`
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	Error       string    `json:"error,omitempty"`
	Status      Status    `json:"status"`
	ProcessedAt time.Time `json:"processedAt"`
	DurationMs  int64     `json:"durationMs"`
	Format      string    `json:"format,omitempty"`
	SizeBytes   int64     `json:"sizeBytes,omitempty"`
	PageCount   int       `json:"pageCount,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

func echo(req *Request, at time.Time) Outcome {
	o := Outcome{ProcessedAt: at}
	if req != nil {
		o.Email = req.Email
		o.Quantity = req.Quantity
		o.Place = req.Place
		o.Format = req.Format
	}
	return o
}

func Succeeded(req *Request, message string, at time.Time) *Outcome {
	o := echo(req, at)
	o.Success = true
	o.Status = StatusSuccess
	o.Message = message
	return &o
}

// Failed builds a failed outcome. A SUCCESS or unknown status is coerced to
// INTERNAL_ERROR so that Success and Status never disagree.
func Failed(req *Request, status Status, message, detail string, at time.Time) *Outcome {
	if status == StatusSuccess || !status.Valid() {
		status = StatusInternalError
	}
	o := echo(req, at)
	o.Status = status
	o.Message = message
	o.Error = detail
	return &o
}

func (o Outcome) WithCorrelation(requestID string, elapsed time.Duration) *Outcome {
	o.RequestID = requestID
	o.DurationMs = elapsed.Milliseconds()
	return &o
}

func (o Outcome) WithDuration(elapsed time.Duration) *Outcome {
	o.DurationMs = elapsed.Milliseconds()
	return &o
}

func (o Outcome) WithArtifact(sizeBytes int64, pages int) *Outcome {
	o.SizeBytes = sizeBytes
	o.PageCount = pages
	return &o
}

func (o Outcome) WithNotes(notes string) *Outcome {
	o.Notes = notes
	return &o
}

func (o *Outcome) Encode() ([]byte, error) {
	if o == nil {
		return nil, fmt.Errorf("courtesy: encode outcome: nil outcome")
	}
	if o.Success != (o.Status == StatusSuccess) {
		return nil, fmt.Errorf("courtesy: encode outcome: success=%t disagrees with status %s", o.Success, o.Status)
	}
	return json.Marshal(o)
}

func DecodeOutcome(data []byte) (*Outcome, error) {
	var o Outcome
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("courtesy: decode outcome: %w", err)
	}
	return &o, nil
}
