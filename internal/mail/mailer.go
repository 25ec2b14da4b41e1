package mail

import (
	"context"

	"pettrack-auth/internal/observability"
)

type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer records outbound mail in the application log. The body is not
// logged since it carries the verification code.
type LogMailer struct {
	logger *observability.Logger
}

func NewLogMailer(logger *observability.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("mail_dispatched", map[string]any{
		"from":    msg.From,
		"to":      msg.To,
		"subject": msg.Subject,
	})
	return nil
}
