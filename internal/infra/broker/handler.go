package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"staybook/internal/infra/outbox"
)

// ErrMalformedEvent marks a payload that will never decode; consumers drop or
// dead-letter it instead of redelivering.
var ErrMalformedEvent = errors.New("broker: malformed event")

// Inbox remembers handled event ids.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

// Sink receives decoded events; notify.Dispatcher is the production sink.
type Sink interface {
	Handle(ctx context.Context, name string, payload []byte)
}

// EventHandler unwraps CloudEvents published by the outbox relay.
type EventHandler struct {
	Inbox  Inbox
	Sink   Sink
	Logger *slog.Logger
}

func (h *EventHandler) HandlePayload(ctx context.Context, payload []byte) error {
	var evt outbox.CloudEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if evt.ID == "" || evt.Type == "" {
		return fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	if evt.TraceParent != "" {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier{"traceparent": evt.TraceParent})
	}
	if h.Inbox != nil {
		seen, err := h.Inbox.Seen(ctx, evt.ID)
		if err != nil {
			return err
		}
		if seen {
			h.logger().Debug("duplicate event skipped", "event", evt.Type, "id", evt.ID)
			return nil
		}
	}
	h.Sink.Handle(ctx, evt.EventName(), evt.Data)
	return nil
}

func (h *EventHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
