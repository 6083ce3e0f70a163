package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"staybook/internal/app/handlers/support"
	"staybook/internal/app/policies"
	"staybook/internal/app/uow"
	domainbooking "staybook/internal/domain/booking"
)

var (
	ErrCaptureFailed        = errors.New("payments: capture failed")
	ErrGatewayUnavailable   = errors.New("payments: gateway unavailable")
	ErrHoldAlreadyOpen      = domainbooking.ErrHoldAlreadyOpen
	ErrNothingToRefund      = domainbooking.ErrNothingToRefund
	ErrManualRefundRequired = errors.New("payments: deposit collected outside the gateway, refund manually")
	ErrNotConfigured        = errors.New("payments: orchestrator missing dependencies")
)

const (
	defaultTimeout = 10 * time.Second
	maxPersistTry  = 3
	tracerName     = "staybook/payments"
)

// Orchestrator drives the deposit through the gateway. It reads and writes only
// payment fields; workflow status belongs to the booking handlers.
type Orchestrator struct {
	Gateway    policies.PaymentGateway
	UoWFactory uow.UoWFactory
	Timeout    time.Duration
	Tracer     trace.Tracer
	Logger     *slog.Logger
	Clock      support.Clock
}

// OpenHold authorizes the deposit. It is called once per booking. cardToken is
// the single-use token from checkout and may be empty.
func (o *Orchestrator) OpenHold(ctx context.Context, id domainbooking.BookingID, cardToken string) (*domainbooking.Booking, error) {
	b, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Payment.HoldRef != "" {
		return b, ErrHoldAlreadyOpen
	}
	if !b.RequiresHold() {
		return b, nil
	}
	var holdRef string
	err = o.call(ctx, "payments.open_hold", b, func(ctx context.Context) error {
		ref, err := o.Gateway.OpenHold(ctx, policies.HoldRequest{
			BookingID:        string(b.ID),
			ConfirmationCode: b.ConfirmationCode,
			Amount:           b.Price.Deposit,
			Description:      fmt.Sprintf("Deposit %s %s", b.ConfirmationCode, b.PropertyName),
			GuestEmail:       b.Guest.Email,
			CardToken:        cardToken,
		})
		holdRef = ref
		return err
	})
	if err != nil {
		return b, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	held, err := o.persist(ctx, id, func(b *domainbooking.Booking, now time.Time) error {
		return b.AttachHold(holdRef, now)
	})
	if err != nil {
		return nil, err
	}
	if held.Payment.Issue != domainbooking.IssueReleasePending {
		return held, nil
	}
	o.logger().Info("booking closed while hold was opening, releasing", "booking_id", id, "status", held.Status)
	released, err := o.ReleaseHold(ctx, id)
	if err != nil {
		// release_failed stays on the booking for reconciliation
		o.logger().Warn("late hold release failed", "booking_id", id, "error", err)
		if released != nil {
			return released, nil
		}
		return held, nil
	}
	return released, nil
}

// Capture converts the hold into a charge. A failure is recorded on the booking
// as capture_failed and returned as ErrCaptureFailed; the approval stands.
func (o *Orchestrator) Capture(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	b, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Payment.DepositPaid {
		return b, nil
	}
	if b.Payment.HoldRef == "" {
		return b, domainbooking.ErrPaymentHoldRequired
	}
	var chargeRef string
	callErr := o.call(ctx, "payments.capture", b, func(ctx context.Context) error {
		ref, err := o.Gateway.Capture(ctx, b.Payment.HoldRef)
		chargeRef = ref
		return err
	})
	if callErr != nil {
		updated, err := o.persist(ctx, id, func(b *domainbooking.Booking, now time.Time) error {
			b.CaptureFailed(reasonOf(callErr), now)
			return nil
		})
		if err != nil {
			return nil, errors.Join(classifyCapture(callErr), err)
		}
		return updated, classifyCapture(callErr)
	}
	return o.persist(ctx, id, func(b *domainbooking.Booking, now time.Time) error {
		b.CaptureSucceeded(chargeRef, now)
		return nil
	})
}

// ReleaseHold voids the authorization. Releasing twice, or releasing a booking
// that never had a hold, is a no-op.
func (o *Orchestrator) ReleaseHold(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	b, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Payment.HoldOpen() {
		if b.Payment.Issue == domainbooking.IssueReleasePending {
			return o.persist(ctx, id, func(b *domainbooking.Booking, now time.Time) error {
				b.HoldReleased(now)
				return nil
			})
		}
		return b, nil
	}
	callErr := o.call(ctx, "payments.release_hold", b, func(ctx context.Context) error {
		return o.Gateway.Release(ctx, b.Payment.HoldRef)
	})
	if callErr != nil {
		updated, err := o.persist(ctx, id, func(b *domainbooking.Booking, now time.Time) error {
			b.ReleaseFailed(reasonOf(callErr), now)
			return nil
		})
		wrapped := fmt.Errorf("%w: %w", ErrGatewayUnavailable, callErr)
		if err != nil {
			return nil, errors.Join(wrapped, err)
		}
		return updated, wrapped
	}
	return o.persist(ctx, id, func(b *domainbooking.Booking, now time.Time) error {
		b.HoldReleased(now)
		return nil
	})
}

// Refund returns a captured deposit.
func (o *Orchestrator) Refund(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	b, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Payment.RefundRef != "" {
		return b, nil
	}
	if !b.Payment.DepositPaid || b.Price.Deposit.Amount == 0 {
		return b, ErrNothingToRefund
	}
	if b.Payment.ChargeRef == "" {
		updated, err := o.persist(ctx, id, func(b *domainbooking.Booking, now time.Time) error {
			b.RefundFailed("deposit collected manually", now)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return updated, ErrManualRefundRequired
	}
	var refundRef string
	callErr := o.call(ctx, "payments.refund", b, func(ctx context.Context) error {
		ref, err := o.Gateway.Refund(ctx, b.Payment.ChargeRef, b.Price.Deposit)
		refundRef = ref
		return err
	})
	if callErr != nil {
		updated, err := o.persist(ctx, id, func(b *domainbooking.Booking, now time.Time) error {
			b.RefundFailed(reasonOf(callErr), now)
			return nil
		})
		wrapped := fmt.Errorf("%w: %w", ErrGatewayUnavailable, callErr)
		if err != nil {
			return nil, errors.Join(wrapped, err)
		}
		return updated, wrapped
	}
	return o.persist(ctx, id, func(b *domainbooking.Booking, now time.Time) error {
		b.Refunded(refundRef, now)
		return nil
	})
}

func (o *Orchestrator) load(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	if o.Gateway == nil || o.UoWFactory == nil {
		return nil, ErrNotConfigured
	}
	unit, execCtx, cleanup, err := support.BeginReadOnlyUnit(ctx, o.UoWFactory)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	return unit.Bookings().ByID(execCtx, id)
}

// persist reloads the booking, applies mutate and writes the payment fields.
// A concurrent status commit bumps the version, so the write is retried on a
// fresh copy.
func (o *Orchestrator) persist(ctx context.Context, id domainbooking.BookingID, mutate func(*domainbooking.Booking, time.Time) error) (*domainbooking.Booking, error) {
	var saved *domainbooking.Booking
	var err error
	for attempt := 0; attempt < maxPersistTry; attempt++ {
		err = support.InUnit(ctx, o.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) error {
			b, err := unit.Bookings().ByID(ctx, id)
			if err != nil {
				return err
			}
			if err := mutate(b, o.Clock.Now()); err != nil {
				return err
			}
			if err := unit.Bookings().UpdatePayment(ctx, b); err != nil {
				return err
			}
			saved = b
			return nil
		})
		if !errors.Is(err, domainbooking.ErrConcurrentUpdate) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (o *Orchestrator) call(ctx context.Context, name string, b *domainbooking.Booking, fn func(context.Context) error) error {
	tracer := o.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("booking.id", string(b.ID)),
		attribute.String("booking.confirmation_code", b.ConfirmationCode),
		attribute.Int64("payment.deposit_minor", b.Price.Deposit.Amount),
		attribute.String("payment.currency", b.Price.Deposit.Currency),
	))
	defer span.End()

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger().Warn("payment gateway call failed", "op", name, "booking_id", b.ID, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func classifyCapture(err error) error {
	if errors.Is(err, policies.ErrGatewayDeclined) {
		return fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	return fmt.Errorf("%w: %w: %w", ErrCaptureFailed, ErrGatewayUnavailable, err)
}

func reasonOf(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "gateway timeout"
	}
	return err.Error()
}
