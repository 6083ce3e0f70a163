package outbox

import (
	"context"
	"time"

	appoutbox "staybook/internal/app/outbox"
)

// Record states shared by the durable stores.
const (
	StateNew     = "NEW"
	StateClaimed = "CLAIMED"
	StateSent    = "SENT"
	StateFailed  = "FAILED"
)

// ClaimLease is how long a claimed record stays invisible to other workers.
// A worker that died mid-publish releases its records once the lease runs out.
const ClaimLease = time.Minute

// Envelope is a claimed outbox record plus its delivery bookkeeping.
type Envelope struct {
	Record   appoutbox.EventRecord
	Attempts int
}

// Store is the relay side of a durable outbox.
type Store interface {
	Claim(ctx context.Context, workerID string, limit int) ([]Envelope, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error
}
