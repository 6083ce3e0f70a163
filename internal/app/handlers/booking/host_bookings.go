package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/middleware"
	"staybook/internal/app/payments"
	"staybook/internal/app/queries"
	"staybook/internal/app/uow"
	domainbooking "staybook/internal/domain/booking"
	domainproperty "staybook/internal/domain/property"
)

const (
	listHostBookingsKey     = "host.bookings.list"
	approveHostBookingKey   = "host.bookings.approve"
	declineHostBookingKey   = "host.bookings.decline"
	settleBalanceKey        = "host.bookings.settle_balance"
	recordDepositKey        = "host.bookings.record_deposit"
	completeHostBookingKey  = "host.bookings.complete"
	allStatusesFilterValue  = "all"
	defaultHostStatusFilter = domainbooking.StatusRequested
)

type ListHostBookingsQuery struct {
	HostID     string `validate:"required"`
	PropertyID string
	Status     string
}

func (q ListHostBookingsQuery) Key() string { return listHostBookingsKey }

func (q ListHostBookingsQuery) LogAttrs() []any { return []any{"host_id", q.HostID, "status", q.Status} }

type ListHostBookingsHandler struct {
	UoWFactory uow.UoWFactory
	Logger     *slog.Logger
}

func (h *ListHostBookingsHandler) Handle(ctx context.Context, q ListHostBookingsQuery) (dto.HostBookingCollection, error) {
	hostID := strings.TrimSpace(q.HostID)
	if hostID == "" {
		return dto.HostBookingCollection{}, fmt.Errorf("%w: host id is required", middleware.ErrValidation)
	}
	filter := domainbooking.Filter{
		HostID:     domainproperty.HostID(hostID),
		PropertyID: domainproperty.PropertyID(strings.TrimSpace(q.PropertyID)),
	}
	statuses, err := parseStatusFilter(q.Status)
	if err != nil {
		return dto.HostBookingCollection{}, err
	}
	filter.Statuses = statuses

	unit, execCtx, cleanup, err := support.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return dto.HostBookingCollection{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	items, err := unit.Bookings().List(execCtx, filter)
	if err != nil {
		return dto.HostBookingCollection{}, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Range.CheckIn.Equal(items[j].Range.CheckIn) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].Range.CheckIn.Before(items[j].Range.CheckIn)
	})
	return dto.MapHostBookingCollection(items), nil
}

// parseStatusFilter accepts a comma separated list. Empty means requested,
// "all" means no filter.
func parseStatusFilter(raw string) ([]domainbooking.Status, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "":
		return []domainbooking.Status{defaultHostStatusFilter}, nil
	case allStatusesFilterValue:
		return nil, nil
	}
	var out []domainbooking.Status
	for _, part := range strings.Split(raw, ",") {
		s, err := domainbooking.ParseStatus(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", middleware.ErrValidation, err)
		}
		out = append(out, s)
	}
	return out, nil
}

type ApproveBookingCommand struct {
	HostID    string `validate:"required"`
	BookingID string `validate:"required"`
	Message   string `validate:"max=2000"`
}

func (c ApproveBookingCommand) Key() string { return approveHostBookingKey }

func (c ApproveBookingCommand) LogAttrs() []any { return hostAttrs(c.HostID, c.BookingID) }

type ApproveBookingHandler struct {
	*Workflow
}

// Handle commits the approval, then captures the deposit. A failed capture
// leaves the booking approved with a capture_failed issue; the event is
// recorded once the outcome is known.
func (h *ApproveBookingHandler) Handle(ctx context.Context, cmd ApproveBookingCommand) (*dto.HostActionResult, error) {
	id := domainbooking.BookingID(cmd.BookingID)
	booking, err := h.commit(ctx, id, hostOwner(cmd.HostID), func(b *domainbooking.Booking, now time.Time) error {
		return b.Approve(cmd.Message, now)
	})
	if err != nil {
		return nil, err
	}
	h.logger().Info("booking approved", "booking_id", id, "host_id", cmd.HostID)

	announce := func() (*domainbooking.Booking, error) {
		return h.announce(ctx, id, func(b *domainbooking.Booking, now time.Time) error {
			return b.AnnounceApproval(now)
		})
	}

	outcome, notice := dto.OutcomeNone, ""
	if booking.Payment.Issue == domainbooking.IssueCapturePending {
		captured, captureErr := h.Payments.Capture(ctx, id)
		switch {
		case captureErr == nil:
			booking, outcome = captured, dto.OutcomeCaptured
		case errors.Is(captureErr, payments.ErrCaptureFailed) && captured != nil:
			h.logger().Warn("deposit capture failed", "booking_id", id, "error", captureErr)
			booking, outcome, notice = captured, dto.OutcomeCaptureFailed, paymentNotice(captureErr)
		default:
			// the approval is committed with capture_pending; it is still announced
			h.logger().Error("deposit capture outcome not recorded", "booking_id", id, "error", captureErr)
			if _, err := announce(); err != nil {
				return nil, errors.Join(captureErr, err)
			}
			return nil, captureErr
		}
	}

	announced, err := announce()
	if err != nil {
		return nil, err
	}
	booking = h.assignIfDue(ctx, announced)
	return &dto.HostActionResult{Booking: dto.MapHostBookingView(booking), PaymentOutcome: outcome, Notice: notice}, nil
}

type DeclineBookingCommand struct {
	HostID    string `validate:"required"`
	BookingID string `validate:"required"`
	Reason    string `validate:"max=2000"`
}

func (c DeclineBookingCommand) Key() string { return declineHostBookingKey }

func (c DeclineBookingCommand) LogAttrs() []any { return hostAttrs(c.HostID, c.BookingID) }

type DeclineBookingHandler struct {
	*Workflow
}

func (h *DeclineBookingHandler) Handle(ctx context.Context, cmd DeclineBookingCommand) (*dto.HostActionResult, error) {
	booking, err := h.commit(ctx, domainbooking.BookingID(cmd.BookingID), hostOwner(cmd.HostID), func(b *domainbooking.Booking, now time.Time) error {
		return b.Decline(cmd.Reason, now)
	})
	if err != nil {
		return nil, err
	}
	h.logger().Info("booking declined", "booking_id", booking.ID, "host_id", cmd.HostID)
	booking, outcome, notice, err := h.settlePayment(ctx, booking)
	if err != nil {
		return nil, err
	}
	return &dto.HostActionResult{Booking: dto.MapHostBookingView(booking), PaymentOutcome: outcome, Notice: notice}, nil
}

type SettleBalanceCommand struct {
	HostID    string `validate:"required"`
	BookingID string `validate:"required"`
	Method    string `validate:"required,oneof=gateway cash bank_transfer card other"`
}

func (c SettleBalanceCommand) Key() string { return settleBalanceKey }

func (c SettleBalanceCommand) LogAttrs() []any { return hostAttrs(c.HostID, c.BookingID) }

type SettleBalanceHandler struct {
	*Workflow
}

func (h *SettleBalanceHandler) Handle(ctx context.Context, cmd SettleBalanceCommand) (*dto.HostActionResult, error) {
	booking, err := h.commit(ctx, domainbooking.BookingID(cmd.BookingID), hostOwner(cmd.HostID), func(b *domainbooking.Booking, now time.Time) error {
		return b.SettleBalance(domainbooking.PaymentMethod(cmd.Method), now)
	})
	if err != nil {
		return nil, err
	}
	h.logger().Info("booking confirmed", "booking_id", booking.ID, "method", cmd.Method)
	booking = h.assignIfDue(ctx, booking)
	return &dto.HostActionResult{Booking: dto.MapHostBookingView(booking), PaymentOutcome: dto.OutcomeRecorded}, nil
}

type RecordDepositCommand struct {
	HostID    string `validate:"required"`
	BookingID string `validate:"required"`
	Method    string `validate:"required,oneof=gateway cash bank_transfer card other"`
}

func (c RecordDepositCommand) Key() string { return recordDepositKey }

func (c RecordDepositCommand) LogAttrs() []any { return hostAttrs(c.HostID, c.BookingID) }

type RecordDepositHandler struct {
	*Workflow
}

// Handle reconciles a deposit the host collected outside the gateway. An open
// hold is released afterwards.
func (h *RecordDepositHandler) Handle(ctx context.Context, cmd RecordDepositCommand) (*dto.HostActionResult, error) {
	id := domainbooking.BookingID(cmd.BookingID)
	booking, err := h.commit(ctx, id, hostOwner(cmd.HostID), func(b *domainbooking.Booking, now time.Time) error {
		return b.RecordDepositPayment(domainbooking.PaymentMethod(cmd.Method), now)
	})
	if err != nil {
		return nil, err
	}
	h.logger().Info("deposit recorded", "booking_id", id, "method", cmd.Method)
	booking, outcome, notice, err := h.settlePayment(ctx, booking)
	if err != nil {
		return nil, err
	}
	if outcome == dto.OutcomeNone {
		outcome = dto.OutcomeRecorded
	}
	return &dto.HostActionResult{Booking: dto.MapHostBookingView(booking), PaymentOutcome: outcome, Notice: notice}, nil
}

type CompleteBookingCommand struct {
	HostID    string `validate:"required"`
	BookingID string `validate:"required"`
}

func (c CompleteBookingCommand) Key() string { return completeHostBookingKey }

func (c CompleteBookingCommand) LogAttrs() []any { return hostAttrs(c.HostID, c.BookingID) }

type CompleteBookingHandler struct {
	*Workflow
}

func (h *CompleteBookingHandler) Handle(ctx context.Context, cmd CompleteBookingCommand) (*dto.HostActionResult, error) {
	booking, err := h.commit(ctx, domainbooking.BookingID(cmd.BookingID), hostOwner(cmd.HostID), func(b *domainbooking.Booking, now time.Time) error {
		return b.Complete(now)
	})
	if err != nil {
		return nil, err
	}
	h.logger().Info("booking completed", "booking_id", booking.ID)
	return &dto.HostActionResult{Booking: dto.MapHostBookingView(booking), PaymentOutcome: dto.OutcomeNone}, nil
}

var (
	_ queries.Handler[ListHostBookingsQuery, dto.HostBookingCollection] = (*ListHostBookingsHandler)(nil)
	_ commands.Handler[ApproveBookingCommand, *dto.HostActionResult]    = (*ApproveBookingHandler)(nil)
	_ commands.Handler[DeclineBookingCommand, *dto.HostActionResult]    = (*DeclineBookingHandler)(nil)
	_ commands.Handler[SettleBalanceCommand, *dto.HostActionResult]     = (*SettleBalanceHandler)(nil)
	_ commands.Handler[RecordDepositCommand, *dto.HostActionResult]     = (*RecordDepositHandler)(nil)
	_ commands.Handler[CompleteBookingCommand, *dto.HostActionResult]   = (*CompleteBookingHandler)(nil)
)

func hostAttrs(hostID, bookingID string) []any {
	return []any{"host_id", hostID, "booking_id", bookingID}
}
