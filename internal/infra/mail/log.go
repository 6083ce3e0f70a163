package mail

import (
	"context"
	"log/slog"

	"staybook/internal/app/policies"
)

// LogNotifier writes messages to the log instead of sending them. Used when no
// mail provider is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Send(ctx context.Context, msg policies.Message) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification", "event", msg.Event, "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}

var _ policies.Notifier = LogNotifier{}
