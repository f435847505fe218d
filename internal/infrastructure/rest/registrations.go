package rest

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application/registration"
)

const registrationsPath = "/cadastropromocaos"

type cadastroDTO struct {
	ID           int64      `json:"id"`
	Nome         string     `json:"nome"`
	Fone         string     `json:"fone"`
	CPF          string     `json:"cpf"`
	DataCadastro *time.Time `json:"dataCadastro,omitempty"`
	CupomEnviado bool       `json:"cupomEnviado"`
	Email        string     `json:"email"`
}

func (d cadastroDTO) toRegistration() registration.Registration {
	r := registration.Registration{
		ID:         d.ID,
		Name:       d.Nome,
		Phone:      d.Fone,
		CPF:        d.CPF,
		Email:      d.Email,
		CouponSent: d.CupomEnviado,
	}
	if d.DataCadastro != nil {
		r.RegisteredAt = *d.DataCadastro
	}
	return r
}

func fromRegistration(r registration.Registration) cadastroDTO {
	d := cadastroDTO{
		ID:           r.ID,
		Nome:         r.Name,
		Fone:         r.Phone,
		CPF:          r.CPF,
		CupomEnviado: r.CouponSent,
		Email:        r.Email,
	}
	if !r.RegisteredAt.IsZero() {
		at := r.RegisteredAt
		d.DataCadastro = &at
	}
	return d
}

// RegistrationSource reads promotion sign-ups from the registration API.
type RegistrationSource struct {
	registrations Resource[cadastroDTO]
}

var _ registration.Source = (*RegistrationSource)(nil)

func NewRegistrationSource(client *Client) *RegistrationSource {
	return &RegistrationSource{registrations: NewEndpoint[cadastroDTO](client, registrationsPath)}
}

func (s *RegistrationSource) ListPending(ctx context.Context, size int) ([]registration.Registration, error) {
	dtos, err := s.registrations.Fetch(ctx, Query{
		Page:    0,
		Size:    size,
		Filters: url.Values{"cupomEnviado.equals": []string{"false"}},
	})
	if err != nil {
		return nil, fmt.Errorf("rest: list pending registrations: %w", err)
	}
	out := make([]registration.Registration, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toRegistration())
	}
	return out, nil
}

func (s *RegistrationSource) MarkSent(ctx context.Context, r registration.Registration) error {
	r.CouponSent = true
	if _, err := s.registrations.Update(ctx, r.ID, fromRegistration(r)); err != nil {
		return fmt.Errorf("rest: mark registration %d sent: %w", r.ID, err)
	}
	return nil
}
