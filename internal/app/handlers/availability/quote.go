package availability

import (
	"context"
	"errors"
	"time"

	"staybook/internal/app/dto"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/queries"
	"staybook/internal/app/uow"
	domainavailability "staybook/internal/domain/availability"
	"staybook/internal/domain/pricing"
	domainproperty "staybook/internal/domain/property"
)

const quoteKey = "availability.quote"

type QuoteQuery struct {
	PropertyID string    `validate:"required"`
	CheckIn    time.Time `validate:"required"`
	CheckOut   time.Time `validate:"required"`
	Guests     int       `validate:"omitempty,min=1,max=50"`
}

func (q QuoteQuery) Key() string { return quoteKey }

// QuoteHandler answers whether a stay can be booked and what it costs. Rejections
// are part of the answer, not errors; a conflict never reveals the other booking.
type QuoteHandler struct {
	UoWFactory uow.UoWFactory
	Pricing    pricing.Calculator
	Clock      support.Clock
}

func (h *QuoteHandler) Handle(ctx context.Context, q QuoteQuery) (dto.Quote, error) {
	unit, execCtx, cleanup, err := support.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return dto.Quote{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	prop, err := unit.Properties().ByID(execCtx, domainproperty.PropertyID(q.PropertyID))
	if err != nil {
		return dto.Quote{}, err
	}
	quote := dto.Quote{
		PropertyID: string(prop.ID),
		CheckIn:    q.CheckIn,
		CheckOut:   q.CheckOut,
		MinNights:  prop.MinNights,
		MaxNights:  prop.MaxNights,
	}
	dr, err := support.CheckAvailability(execCtx, unit, prop, q.CheckIn, q.CheckOut, h.Clock.Now())
	if reason, ok := rejectionReason(err); ok {
		quote.Reason = reason
		return quote, nil
	}
	if err != nil {
		return dto.Quote{}, err
	}
	guests := q.Guests
	if guests == 0 {
		guests = 1
	}
	price, err := h.Pricing.Quote(execCtx, pricing.QuoteInput{Property: prop, Range: dr, Guests: guests})
	if err != nil {
		return dto.Quote{}, err
	}
	breakdown := dto.MapPriceBreakdown(price)
	quote.CheckIn, quote.CheckOut = dr.CheckIn, dr.CheckOut
	quote.Available = true
	quote.Breakdown = &breakdown
	return quote, nil
}

func rejectionReason(err error) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, domainavailability.ErrDateConflict):
		return dto.ReasonUnavailable, true
	case errors.Is(err, domainavailability.ErrStayLengthViolation):
		return dto.ReasonStayLength, true
	case errors.Is(err, domainavailability.ErrInvalidRange):
		return dto.ReasonInvalidRange, true
	}
	return "", false
}

var _ queries.Handler[QuoteQuery, dto.Quote] = (*QuoteHandler)(nil)
