package memory

import (
	"context"
	"sync"

	appoutbox "staybook/internal/app/outbox"
)

// RelayFunc receives records once the command that produced them finished.
type RelayFunc func(ctx context.Context, record appoutbox.EventRecord)

// Outbox buffers records until Flush and then hands them to the relay.
type Outbox struct {
	mu      sync.Mutex
	records []appoutbox.EventRecord
	relay   RelayFunc
}

func NewOutbox(relay RelayFunc) *Outbox {
	return &Outbox{relay: relay}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, record)
	return nil
}

func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	pending := o.records
	o.records = nil
	o.mu.Unlock()
	if o.relay == nil {
		return nil
	}
	for _, rec := range pending {
		o.relay(ctx, rec)
	}
	return nil
}

var _ appoutbox.Outbox = (*Outbox)(nil)
