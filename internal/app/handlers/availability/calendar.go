package availability

import (
	"context"
	"time"

	"staybook/internal/app/dto"
	"staybook/internal/app/handlers/support"
	"staybook/internal/app/queries"
	"staybook/internal/app/uow"
	domainbooking "staybook/internal/domain/booking"
	domainproperty "staybook/internal/domain/property"
)

const getCalendarKey = "availability.calendar"

type GetCalendarQuery struct {
	HostID     string `validate:"required"`
	PropertyID string `validate:"required"`
	From       time.Time
	To         time.Time
}

func (q GetCalendarQuery) Key() string { return getCalendarKey }

func (q GetCalendarQuery) LogAttrs() []any { return []any{"host_id", q.HostID, "property_id", q.PropertyID} }

// GetCalendarHandler lists the dates held on a property owned by the host.
type GetCalendarHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *GetCalendarHandler) Handle(ctx context.Context, q GetCalendarQuery) (dto.Calendar, error) {
	unit, execCtx, cleanup, err := support.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return dto.Calendar{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	prop, err := unit.Properties().ByID(execCtx, domainproperty.PropertyID(q.PropertyID))
	if err != nil {
		return dto.Calendar{}, err
	}
	if string(prop.Host) != q.HostID {
		return dto.Calendar{}, domainproperty.ErrPropertyNotFound
	}
	bookings, err := unit.Bookings().List(execCtx, domainbooking.Filter{
		PropertyID: prop.ID,
		Statuses:   domainbooking.ActiveStatuses,
	})
	if err != nil {
		return dto.Calendar{}, err
	}
	inWindow := bookings[:0]
	for _, b := range bookings {
		if !q.To.IsZero() && !b.Range.CheckIn.Before(q.To) {
			continue
		}
		if !q.From.IsZero() && !b.Range.CheckOut.After(q.From) {
			continue
		}
		inWindow = append(inWindow, b)
	}
	return dto.MapCalendar(string(prop.ID), inWindow), nil
}

var _ queries.Handler[GetCalendarQuery, dto.Calendar] = (*GetCalendarHandler)(nil)
