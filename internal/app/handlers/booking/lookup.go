package booking

import (
	"context"

	"staybook/internal/app/dto"
	"staybook/internal/app/queries"
)

const lookupBookingKey = "guest.bookings.lookup"

type LookupBookingQuery struct {
	ConfirmationCode string `validate:"required"`
	Email            string `validate:"required,email"`
}

func (q LookupBookingQuery) Key() string { return lookupBookingKey }

// LookupBookingHandler serves the guest's redacted view. The confirmation code
// alone is not enough: the guest email must match, as the view may carry the
// door code.
type LookupBookingHandler struct {
	*Workflow
}

func (h *LookupBookingHandler) Handle(ctx context.Context, q LookupBookingQuery) (dto.GuestBookingView, error) {
	b, err := h.byCode(ctx, q.ConfirmationCode)
	if err != nil {
		return dto.GuestBookingView{}, err
	}
	if err := guestOwner(q.Email)(b); err != nil {
		return dto.GuestBookingView{}, err
	}
	return dto.MapGuestBookingView(b), nil
}

var _ queries.Handler[LookupBookingQuery, dto.GuestBookingView] = (*LookupBookingHandler)(nil)
