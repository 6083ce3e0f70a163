package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/middleware"
	"staybook/internal/app/outbox"
	"staybook/internal/app/payments"
	"staybook/internal/app/policies"
	"staybook/internal/app/uow"
	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/domain/pricing"
	domainproperty "staybook/internal/domain/property"
	"staybook/internal/domain/shared/daterange"
)

const (
	requestBookingKey = "booking.request"
	maxCodeAttempts   = 5
)

type RequestBookingCommand struct {
	PropertyID      string    `validate:"required"`
	CheckIn         time.Time `validate:"required"`
	CheckOut        time.Time `validate:"required"`
	Guests          int       `validate:"min=1,max=50"`
	GuestName       string    `validate:"required,max=200"`
	GuestEmail      string    `validate:"required,email"`
	GuestPhone      string    `validate:"omitempty,max=40"`
	Message         string    `validate:"max=2000"`
	CardToken       string
	IdempotencyKeyV string
}

func (c RequestBookingCommand) Key() string { return requestBookingKey }

func (c RequestBookingCommand) LogAttrs() []any {
	return []any{"property_id", c.PropertyID, "check_in", c.CheckIn.Format(time.DateOnly), "check_out", c.CheckOut.Format(time.DateOnly)}
}

func (c RequestBookingCommand) IdempotencyKey() string { return c.IdempotencyKeyV }

func (c RequestBookingCommand) ResultPrototype() any { return &RequestBookingResult{} }

type RequestBookingResult struct {
	BookingID string               `json:"booking_id"`
	Booking   dto.GuestBookingView `json:"booking"`
}

type RequestBookingHandler struct {
	*Workflow
	Locker  policies.Locker
	Pricing pricing.Calculator
	IDs     func() string
	Codes   func() (string, error)
}

func (h *RequestBookingHandler) Handle(ctx context.Context, cmd RequestBookingCommand) (*RequestBookingResult, error) {
	now := h.Clock.Now()
	propertyID := domainproperty.PropertyID(cmd.PropertyID)

	// fast rejection without the lock
	prop, dr, price, err := h.check(ctx, propertyID, cmd, now)
	if err != nil {
		return nil, err
	}

	unlock, err := h.Locker.Lock(ctx, policies.PropertyLockKey(cmd.PropertyID))
	if err != nil {
		return nil, fmt.Errorf("booking: lock property: %w", err)
	}
	booking, err := h.insert(ctx, prop, dr, price, cmd, now)
	if unlockErr := unlock(context.WithoutCancel(ctx)); unlockErr != nil {
		h.logger().Warn("property unlock failed", "property_id", cmd.PropertyID, "error", unlockErr)
	}
	if err != nil {
		return nil, err
	}
	h.logger().Info("booking requested", "booking_id", booking.ID, "property_id", booking.PropertyID, "confirmation_code", booking.ConfirmationCode)

	if booking.RequiresHold() {
		held, holdErr := h.Payments.OpenHold(ctx, booking.ID, cmd.CardToken)
		if holdErr != nil {
			h.logger().Warn("payment hold failed, cancelling booking", "booking_id", booking.ID, "error", holdErr)
			if _, err := h.commit(ctx, booking.ID, anyOwner, func(b *domainbooking.Booking, now time.Time) error {
				return b.Cancel(domainbooking.ReasonPaymentHoldFailed, now)
			}); err != nil {
				return nil, errors.Join(holdErr, err)
			}
			if errors.Is(holdErr, payments.ErrGatewayUnavailable) {
				return nil, holdErr
			}
			return nil, fmt.Errorf("%w: %w", payments.ErrGatewayUnavailable, holdErr)
		}
		booking = held
	}
	return &RequestBookingResult{BookingID: string(booking.ID), Booking: dto.MapGuestBookingView(booking)}, nil
}

func (h *RequestBookingHandler) check(ctx context.Context, propertyID domainproperty.PropertyID, cmd RequestBookingCommand, now time.Time) (*domainproperty.Property, daterange.DateRange, pricing.PriceBreakdown, error) {
	unit, execCtx, cleanup, err := support.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, daterange.DateRange{}, pricing.PriceBreakdown{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	prop, err := unit.Properties().ByID(execCtx, propertyID)
	if err != nil {
		return nil, daterange.DateRange{}, pricing.PriceBreakdown{}, err
	}
	dr, err := support.CheckAvailability(execCtx, unit, prop, cmd.CheckIn, cmd.CheckOut, now)
	if err != nil {
		return nil, daterange.DateRange{}, pricing.PriceBreakdown{}, err
	}
	price, err := h.Pricing.Quote(execCtx, pricing.QuoteInput{Property: prop, Range: dr, Guests: cmd.Guests})
	if err != nil {
		return nil, daterange.DateRange{}, pricing.PriceBreakdown{}, err
	}
	return prop, dr, price, nil
}

// insert re-checks availability and stores the booking. It runs under the
// property lock.
func (h *RequestBookingHandler) insert(ctx context.Context, prop *domainproperty.Property, dr daterange.DateRange, price pricing.PriceBreakdown, cmd RequestBookingCommand, now time.Time) (*domainbooking.Booking, error) {
	var booking *domainbooking.Booking
	err := support.InUnit(ctx, h.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) error {
		if _, err := support.CheckAvailability(ctx, unit, prop, dr.CheckIn, dr.CheckOut, now); err != nil {
			return err
		}
		for attempt := 0; attempt < maxCodeAttempts; attempt++ {
			code, err := h.newCode()
			if err != nil {
				return err
			}
			b, err := domainbooking.NewBooking(domainbooking.CreateParams{
				ID:               domainbooking.BookingID(h.newID()),
				ConfirmationCode: code,
				Property:         prop,
				Range:            dr,
				Guests:           cmd.Guests,
				Guest:            domainbooking.Guest{Name: cmd.GuestName, Email: cmd.GuestEmail, Phone: cmd.GuestPhone},
				GuestMessage:     cmd.Message,
				Price:            price,
				CreatedAt:        now,
			})
			if err != nil {
				return err
			}
			err = unit.Bookings().Insert(ctx, b)
			if errors.Is(err, domainbooking.ErrDuplicateConfirmationCode) {
				continue
			}
			if err != nil {
				return err
			}
			booking = b
			return outbox.Drain(ctx, h.Outbox, h.Encoder, b)
		}
		return domainbooking.ErrDuplicateConfirmationCode
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

func (h *RequestBookingHandler) newID() string {
	if h.IDs != nil {
		return h.IDs()
	}
	return uuid.NewString()
}

func (h *RequestBookingHandler) newCode() (string, error) {
	if h.Codes != nil {
		return h.Codes()
	}
	return domainbooking.NewConfirmationCode()
}

var _ commands.Handler[RequestBookingCommand, *RequestBookingResult] = (*RequestBookingHandler)(nil)
var _ middleware.IdempotentCommand = (*RequestBookingCommand)(nil)
