package booking

import (
	"context"
	"strings"
	"time"

	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	"staybook/internal/app/handlers/support"
	domainbooking "staybook/internal/domain/booking"
)

const (
	hostCancelBookingKey  = "host.bookings.cancel"
	guestCancelBookingKey = "guest.bookings.cancel"
)

type HostCancelBookingCommand struct {
	HostID    string `validate:"required"`
	BookingID string `validate:"required"`
	Reason    string `validate:"max=2000"`
}

func (c HostCancelBookingCommand) Key() string { return hostCancelBookingKey }

func (c HostCancelBookingCommand) LogAttrs() []any { return hostAttrs(c.HostID, c.BookingID) }

type HostCancelBookingHandler struct {
	*Workflow
}

func (h *HostCancelBookingHandler) Handle(ctx context.Context, cmd HostCancelBookingCommand) (*dto.HostActionResult, error) {
	booking, outcome, notice, err := h.cancel(ctx, domainbooking.BookingID(cmd.BookingID), hostOwner(cmd.HostID), cmd.Reason)
	if err != nil {
		return nil, err
	}
	return &dto.HostActionResult{Booking: dto.MapHostBookingView(booking), PaymentOutcome: outcome, Notice: notice}, nil
}

// GuestCancelBookingCommand identifies the booking the way the guest sees it:
// confirmation code plus the email used when requesting.
type GuestCancelBookingCommand struct {
	ConfirmationCode string `validate:"required"`
	Email            string `validate:"required,email"`
	Reason           string `validate:"max=2000"`
}

func (c GuestCancelBookingCommand) Key() string { return guestCancelBookingKey }

func (c GuestCancelBookingCommand) LogAttrs() []any {
	return []any{"confirmation_code", domainbooking.NormalizeConfirmationCode(c.ConfirmationCode)}
}

type GuestCancelBookingHandler struct {
	*Workflow
}

func (h *GuestCancelBookingHandler) Handle(ctx context.Context, cmd GuestCancelBookingCommand) (*dto.GuestActionResult, error) {
	found, err := h.byCode(ctx, cmd.ConfirmationCode)
	if err != nil {
		return nil, err
	}
	owner := guestOwner(cmd.Email)
	if err := owner(found); err != nil {
		return nil, err
	}
	booking, outcome, _, err := h.cancel(ctx, found.ID, owner, cmd.Reason)
	if err != nil {
		return nil, err
	}
	return &dto.GuestActionResult{Booking: dto.MapGuestBookingView(booking), PaymentOutcome: outcome}, nil
}

func (w *Workflow) cancel(ctx context.Context, id domainbooking.BookingID, owner ownerCheck, reason string) (*domainbooking.Booking, string, string, error) {
	booking, err := w.commit(ctx, id, owner, func(b *domainbooking.Booking, now time.Time) error {
		return b.Cancel(reason, now)
	})
	if err != nil {
		return nil, "", "", err
	}
	w.logger().Info("booking cancelled", "booking_id", id, "reason", booking.CancelReason)
	return w.settlePayment(ctx, booking)
}

func (w *Workflow) byCode(ctx context.Context, code string) (*domainbooking.Booking, error) {
	normalized := domainbooking.NormalizeConfirmationCode(code)
	if !domainbooking.ValidConfirmationCode(normalized) {
		return nil, domainbooking.ErrBookingNotFound
	}
	unit, execCtx, cleanup, err := support.BeginReadOnlyUnit(ctx, w.UoWFactory)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	return unit.Bookings().ByConfirmationCode(execCtx, normalized)
}

func guestOwner(email string) ownerCheck {
	email = strings.TrimSpace(email)
	return func(b *domainbooking.Booking) error {
		if email == "" || !strings.EqualFold(b.Guest.Email, email) {
			return domainbooking.ErrBookingNotFound
		}
		return nil
	}
}

var (
	_ commands.Handler[HostCancelBookingCommand, *dto.HostActionResult]   = (*HostCancelBookingHandler)(nil)
	_ commands.Handler[GuestCancelBookingCommand, *dto.GuestActionResult] = (*GuestCancelBookingHandler)(nil)
)
