package mail

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application/dispatch"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability/logctx"
)

// LogSender records each email in the log instead of delivering it. It is
// meant for local runs.
type LogSender struct {
	log observability.Logger
}

var _ dispatch.Mailer = (*LogSender)(nil)

func NewLogSender(logger observability.Logger) *LogSender {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogSender{log: logger.With(observability.F("component", "log_sender"))}
}

func (s *LogSender) Send(ctx context.Context, email dispatch.Email) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mail: send to %s: %w", email.To, err)
	}
	logctx.FromOr(ctx, s.log).Info("email_logged",
		observability.F("to", email.To),
		observability.F("subject", email.Subject),
		observability.F("attachment", email.Filename),
		observability.F("content_type", email.ContentType),
		observability.F("bytes", len(email.Attachment)),
	)
	return nil
}
