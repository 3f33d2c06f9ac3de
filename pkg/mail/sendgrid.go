package mail

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// sendClient is the subset of the SendGrid client used here
type sendClient interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

// SendGridSender delivers messages through the SendGrid v3 API
type SendGridSender struct {
	client sendClient
	from   *sgmail.Email
}

// NewSendGridSender creates a SendGrid sender
func NewSendGridSender(apiKey, fromAddress, fromName string) (*SendGridSender, error) {
	if apiKey == "" || fromAddress == "" {
		return nil, errors.New("invalid SendGrid configuration: API key and from address are required")
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   sgmail.NewEmail(fromName, fromAddress),
	}, nil
}

// Send delivers msg. SendGrid accepts a message with 202 Accepted; any other
// status is an error.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	to := sgmail.NewEmail(msg.ToName, msg.To)
	message := sgmail.NewSingleEmail(s.from, msg.Subject, to, msg.Text, msg.HTML)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode != http.StatusAccepted {
		return fmt.Errorf("failed to send email, status code: %d", response.StatusCode)
	}
	return nil
}
