package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"staybook/internal/app/outbox"
	"staybook/internal/app/policies"
)

// Dispatcher delivers notifications for committed events. Delivery never
// blocks or fails a booking operation: errors are logged and dropped.
type Dispatcher struct {
	notifier policies.Notifier
	logger   *slog.Logger
	queue    chan outbox.EventRecord
	wg       sync.WaitGroup
	once     sync.Once
}

func NewDispatcher(notifier policies.Notifier, logger *slog.Logger, buffer int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{notifier: notifier, logger: logger, queue: make(chan outbox.EventRecord, buffer)}
}

// Start runs the delivery loop until ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case rec, ok := <-d.queue:
				if !ok {
					return
				}
				d.Handle(ctx, rec.Name, rec.Payload)
			}
		}
	}()
}

// Enqueue hands a record over without blocking. A full queue drops the record.
func (d *Dispatcher) Enqueue(_ context.Context, rec outbox.EventRecord) {
	select {
	case d.queue <- rec:
	default:
		d.logger.Warn("notification queue full, dropping event", "event", rec.Name, "aggregate", rec.Aggregate)
	}
}

// Handle delivers one event synchronously.
func (d *Dispatcher) Handle(ctx context.Context, name string, payload []byte) {
	msgs, err := Compose(name, payload)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			d.logger.Debug("no notification for event", "event", name)
			return
		}
		d.logger.Error("notification compose failed", "event", name, "error", err)
		return
	}
	for _, msg := range msgs {
		if err := d.notifier.Send(ctx, msg); err != nil {
			d.logger.Error("notification delivery failed", "event", name, "to", msg.To, "error", err)
			continue
		}
		d.logger.Info("notification sent", "event", name, "to", msg.To)
	}
}

// Stop closes the queue and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
}
