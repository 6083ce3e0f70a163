package policies

import "context"

// Message is a plain-text notification. Rendering is owned by the mail provider.
type Message struct {
	To      string
	Name    string
	Subject string
	Body    string
	Event   string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
