// Package mail delivers rendered artifacts by email.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application/dispatch"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability/logctx"
	gomail "github.com/wneessen/go-mail"
)

const (
	TLSMandatory     = "mandatory"
	TLSOpportunistic = "opportunistic"
	TLSNone          = "none"
)

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	TLSPolicy string
	Timeout   time.Duration
}

// SMTPSender opens one SMTP session per email.
type SMTPSender struct {
	cfg SMTPConfig
	log observability.Logger
}

var _ dispatch.Mailer = (*SMTPSender)(nil)

func NewSMTPSender(cfg SMTPConfig, logger observability.Logger) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("mail: smtp host is required")
	}
	if _, err := tlsPolicy(cfg.TLSPolicy); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SMTPSender{cfg: cfg, log: logger.With(observability.F("component", "smtp_sender"))}, nil
}

func tlsPolicy(name string) (gomail.TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case TLSMandatory:
		return gomail.TLSMandatory, nil
	case TLSOpportunistic, "":
		return gomail.TLSOpportunistic, nil
	case TLSNone:
		return gomail.NoTLS, nil
	default:
		return 0, fmt.Errorf("mail: unknown tls policy %q", name)
	}
}

func (s *SMTPSender) client() (*gomail.Client, error) {
	policy, err := tlsPolicy(s.cfg.TLSPolicy)
	if err != nil {
		return nil, err
	}
	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTLSPolicy(policy),
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(s.cfg.Timeout))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	c, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("mail: smtp client: %w", err)
	}
	return c, nil
}

func (s *SMTPSender) Send(ctx context.Context, email dispatch.Email) error {
	msg, err := buildMessage(s.cfg.From, email)
	if err != nil {
		return err
	}
	c, err := s.client()
	if err != nil {
		return err
	}
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mail: send to %s: %w", email.To, err)
	}
	logctx.FromOr(ctx, s.log).Info("email_sent",
		observability.F("to", email.To),
		observability.F("attachment", email.Filename),
		observability.F("bytes", len(email.Attachment)),
	)
	return nil
}

// buildMessage assembles a plain-text email with the artifact attached.
func buildMessage(from string, email dispatch.Email) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("mail: from %q: %w", from, err)
	}
	if err := msg.To(email.To); err != nil {
		return nil, fmt.Errorf("mail: to %q: %w", email.To, err)
	}
	msg.Subject(email.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, email.Body)
	if len(email.Attachment) > 0 {
		contentType := email.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		err := msg.AttachReader(email.Filename, bytes.NewReader(email.Attachment),
			gomail.WithFileContentType(gomail.ContentType(contentType)))
		if err != nil {
			return nil, fmt.Errorf("mail: attach %s: %w", email.Filename, err)
		}
	}
	return msg, nil
}
