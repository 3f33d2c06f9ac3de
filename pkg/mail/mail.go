package mail

import (
	"context"
	"fmt"

	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Message is a single outbound email
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewSender builds the sender selected by the mail provider setting
func NewSender(cfg config.MailConfig, logger *observability.Logger) (Sender, error) {
	switch cfg.Provider {
	case "", "log":
		return NewLogSender(logger), nil
	case "sendgrid":
		return NewSendGridSender(cfg.SendGridAPIKey, cfg.FromAddress, cfg.FromName)
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// LogSender writes messages to the log instead of delivering them.
// Used in development, where links are copied from the log.
type LogSender struct {
	logger *observability.Logger
}

// NewLogSender creates a new log sender
func NewLogSender(logger *observability.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.WithFields(map[string]interface{}{
		"to":      msg.To,
		"subject": msg.Subject,
		"body":    msg.Text,
	}).Info("Email not delivered (log provider)")
	return nil
}
