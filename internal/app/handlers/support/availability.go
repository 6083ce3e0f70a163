package support

import (
	"context"
	"time"

	"staybook/internal/app/uow"
	domainavailability "staybook/internal/domain/availability"
	domainproperty "staybook/internal/domain/property"
	"staybook/internal/domain/shared/daterange"
)

// CheckAvailability fetches the active candidates of the property and runs the
// availability checker over them.
func CheckAvailability(ctx context.Context, unit uow.UnitOfWork, prop *domainproperty.Property, checkIn, checkOut, now time.Time) (daterange.DateRange, error) {
	dr, err := domainavailability.ValidateRange(checkIn, checkOut, now)
	if err != nil {
		return daterange.DateRange{}, err
	}
	existing, err := unit.Bookings().ActiveOverlapping(ctx, prop.ID, dr)
	if err != nil {
		return daterange.DateRange{}, err
	}
	occupied := make([]domainavailability.Occupancy, 0, len(existing))
	for _, b := range existing {
		occupied = append(occupied, b.Occupancy())
	}
	return domainavailability.Check(domainavailability.Request{
		CheckIn:  dr.CheckIn,
		CheckOut: dr.CheckOut,
		Policy:   domainavailability.Policy{MinNights: prop.MinNights, MaxNights: prop.MaxNights},
		Existing: occupied,
		Now:      now,
	})
}
