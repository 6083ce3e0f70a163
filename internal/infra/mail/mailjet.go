package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mailjet "github.com/mailjet/mailjet-apiv3-go"

	"staybook/internal/app/policies"
)

var ErrNoRecipient = errors.New("mail: recipient address missing")

type Sender struct {
	Email string
	Name  string
}

// MailjetNotifier sends plain-text messages through the Send API v3.1.
type MailjetNotifier struct {
	client *mailjet.Client
	from   Sender
	logger *slog.Logger
}

func NewMailjetNotifier(apiKey, secretKey string, from Sender, logger *slog.Logger) (*MailjetNotifier, error) {
	if apiKey == "" || secretKey == "" {
		return nil, errors.New("mail: mailjet credentials required")
	}
	if from.Email == "" {
		return nil, errors.New("mail: sender address required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MailjetNotifier{client: mailjet.NewMailjetClient(apiKey, secretKey), from: from, logger: logger}, nil
}

func (n *MailjetNotifier) Send(ctx context.Context, msg policies.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := buildMessages(n.from, msg)
	if err != nil {
		return err
	}
	res, err := n.client.SendMailV31(payload)
	if err != nil {
		return fmt.Errorf("mail: mailjet send: %w", err)
	}
	for _, r := range res.ResultsV31 {
		if r.Status != "success" {
			return fmt.Errorf("mail: mailjet status %q for %s", r.Status, msg.To)
		}
	}
	n.logger.Debug("mail accepted", "to", msg.To, "event", msg.Event)
	return nil
}

func buildMessages(from Sender, msg policies.Message) (*mailjet.MessagesV31, error) {
	if msg.To == "" {
		return nil, ErrNoRecipient
	}
	info := mailjet.InfoMessagesV31{
		From: &mailjet.RecipientV31{Email: from.Email, Name: from.Name},
		To: &mailjet.RecipientsV31{
			mailjet.RecipientV31{Email: msg.To, Name: msg.Name},
		},
		Subject:  msg.Subject,
		TextPart: msg.Body,
		CustomID: msg.Event,
	}
	return &mailjet.MessagesV31{Info: []mailjet.InfoMessagesV31{info}}, nil
}

var _ policies.Notifier = (*MailjetNotifier)(nil)
