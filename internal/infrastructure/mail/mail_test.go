package mail

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEmail() dispatch.Email {
	return dispatch.Email{
		To:          "ana@example.com",
		Subject:     "Solicitação de Cortesias",
		Body:        "Olá Ana",
		Attachment:  []byte("%PDF-1.3 fake"),
		Filename:    "cortesias_Sao_Paulo_20240315.pdf",
		ContentType: "application/pdf",
	}
}

func TestBuildMessageCarriesAttachment(t *testing.T) {
	t.Parallel()

	msg, err := buildMessage("cortesias@cinex.com.br", sampleEmail())
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "<ana@example.com>")
	assert.Contains(t, raw, "<cortesias@cinex.com.br>")
	assert.Contains(t, raw, `filename="cortesias_Sao_Paulo_20240315.pdf"`)
	assert.Contains(t, raw, "application/pdf")
}

func TestBuildMessageRejectsBadAddress(t *testing.T) {
	t.Parallel()

	email := sampleEmail()
	email.To = "not an address"
	_, err := buildMessage("cortesias@cinex.com.br", email)
	require.Error(t, err)
}

func TestNewSMTPSenderValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := NewSMTPSender(SMTPConfig{}, nil)
	require.Error(t, err)

	_, err = NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, TLSPolicy: "sometimes"}, nil)
	require.Error(t, err)

	_, err = NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, TLSPolicy: TLSMandatory}, nil)
	require.NoError(t, err)
}

func TestSMTPSenderReportsDialFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s, err := NewSMTPSender(SMTPConfig{
		Host: "127.0.0.1", Port: port, From: "cortesias@cinex.com.br", TLSPolicy: TLSNone, Timeout: time.Second,
	}, nil)
	require.NoError(t, err)

	err = s.Send(context.Background(), sampleEmail())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mail: send to ana@example.com")
}

func TestLogSender(t *testing.T) {
	t.Parallel()

	s := NewLogSender(nil)
	require.NoError(t, s.Send(context.Background(), sampleEmail()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, sampleEmail()), context.Canceled)
}
