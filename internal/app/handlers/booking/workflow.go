package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"staybook/internal/app/dto"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/outbox"
	"staybook/internal/app/payments"
	"staybook/internal/app/uow"
	domainaccess "staybook/internal/domain/access"
	domainbooking "staybook/internal/domain/booking"
	domainproperty "staybook/internal/domain/property"
)

const maxStatusCommitTry = 3

// Payments is the part of the payment orchestrator the workflow drives.
type Payments interface {
	OpenHold(ctx context.Context, id domainbooking.BookingID, cardToken string) (*domainbooking.Booking, error)
	Capture(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error)
	ReleaseHold(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error)
	Refund(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error)
}

type CredentialAssigner interface {
	Assign(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error)
}

// Workflow holds what the guest and host commands share. Status changes are
// committed in short units; gateway calls run between units.
type Workflow struct {
	UoWFactory    uow.UoWFactory
	Outbox        outbox.Outbox
	Encoder       outbox.EventEncoder
	Payments      Payments
	Credentials   CredentialAssigner
	PreStayWindow time.Duration
	Logger        *slog.Logger
	Clock         support.Clock
}

// ownerCheck rejects bookings the caller may not see. A mismatch reads as not found.
type ownerCheck func(b *domainbooking.Booking) error

func hostOwner(hostID string) ownerCheck {
	return func(b *domainbooking.Booking) error {
		if hostID == "" || string(b.HostID) != hostID {
			return domainbooking.ErrBookingNotFound
		}
		return nil
	}
}

func anyOwner(*domainbooking.Booking) error { return nil }

// commit loads the booking, applies mutate, saves it and records its events.
// On a version conflict it starts over, so a concurrent decision surfaces as an
// illegal transition from the freshly read status.
func (w *Workflow) commit(ctx context.Context, id domainbooking.BookingID, owner ownerCheck, mutate func(b *domainbooking.Booking, now time.Time) error) (*domainbooking.Booking, error) {
	var saved *domainbooking.Booking
	var err error
	for attempt := 0; attempt < maxStatusCommitTry; attempt++ {
		err = support.InUnit(ctx, w.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) error {
			b, err := unit.Bookings().ByID(ctx, id)
			if err != nil {
				return err
			}
			if err := owner(b); err != nil {
				return err
			}
			if err := mutate(b, w.Clock.Now()); err != nil {
				return err
			}
			if err := unit.Bookings().Save(ctx, b); err != nil {
				return err
			}
			saved = b
			return outbox.Drain(ctx, w.Outbox, w.Encoder, b)
		})
		if !errors.Is(err, domainbooking.ErrConcurrentUpdate) {
			break
		}
		w.logger().Debug("booking changed concurrently, retrying", "booking_id", id, "attempt", attempt+1)
	}
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// announce records events that do not change stored state.
func (w *Workflow) announce(ctx context.Context, id domainbooking.BookingID, record func(b *domainbooking.Booking, now time.Time) error) (*domainbooking.Booking, error) {
	var out *domainbooking.Booking
	err := support.InUnit(ctx, w.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) error {
		b, err := unit.Bookings().ByID(ctx, id)
		if err != nil {
			return err
		}
		if err := record(b, w.Clock.Now()); err != nil {
			return err
		}
		out = b
		return outbox.Drain(ctx, w.Outbox, w.Encoder, b)
	})
	return out, err
}

func (w *Workflow) reload(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	unit, execCtx, cleanup, err := support.BeginReadOnlyUnit(ctx, w.UoWFactory)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	return unit.Bookings().ByID(execCtx, id)
}

// settlePayment runs the side effect flagged by the last status commit. Gateway
// failures are already recorded on the booking and reported as a notice; only
// storage failures are returned as errors.
func (w *Workflow) settlePayment(ctx context.Context, b *domainbooking.Booking) (*domainbooking.Booking, string, string, error) {
	var (
		run              func(context.Context, domainbooking.BookingID) (*domainbooking.Booking, error)
		success, failure string
	)
	switch b.Payment.Issue {
	case domainbooking.IssueReleasePending:
		run, success, failure = w.Payments.ReleaseHold, dto.OutcomeReleased, dto.OutcomeReleaseFailed
	case domainbooking.IssueRefundPending:
		run, success, failure = w.Payments.Refund, dto.OutcomeRefunded, dto.OutcomeRefundFailed
	default:
		return b, dto.OutcomeNone, "", nil
	}
	updated, err := run(ctx, b.ID)
	if err == nil {
		return updated, success, "", nil
	}
	if updated == nil {
		return b, failure, "", err
	}
	w.logger().Warn("payment side effect failed", "booking_id", b.ID, "issue", b.Payment.Issue, "error", err)
	return updated, failure, paymentNotice(err), nil
}

// assignIfDue hands out an access credential when the stay starts within the
// pre-stay window. Later stays are picked up by the sweep.
func (w *Workflow) assignIfDue(ctx context.Context, b *domainbooking.Booking) *domainbooking.Booking {
	if w.Credentials == nil || b.HasCredential() {
		return b
	}
	if !b.Range.CheckIn.Before(w.Clock.Now().Add(w.PreStayWindow)) {
		return b
	}
	updated, err := w.Credentials.Assign(ctx, b.ID)
	switch {
	case err == nil:
		return updated
	case errors.Is(err, domainaccess.ErrNoCredentialAvailable), errors.Is(err, domainproperty.ErrRotationDisabled):
		w.logger().Info("no access credential assigned", "booking_id", b.ID, "reason", err)
	default:
		w.logger().Warn("access credential assignment failed", "booking_id", b.ID, "error", err)
	}
	return b
}

func (w *Workflow) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func paymentNotice(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, payments.ErrCaptureFailed):
		return "deposit capture failed, booking flagged for follow-up"
	case errors.Is(err, payments.ErrManualRefundRequired):
		return "deposit was collected manually, refund it outside the gateway"
	default:
		return err.Error()
	}
}
