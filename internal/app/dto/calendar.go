package dto

import (
	"time"

	domainbooking "staybook/internal/domain/booking"
)

type CalendarBlock struct {
	From             time.Time `json:"from"`
	To               time.Time `json:"to"`
	Status           string    `json:"status"`
	ConfirmationCode string    `json:"confirmation_code"`
}

// Calendar lists the nights held by active bookings of one property.
type Calendar struct {
	PropertyID string          `json:"property_id"`
	Blocks     []CalendarBlock `json:"blocks"`
}

func MapCalendar(propertyID string, bookings []*domainbooking.Booking) Calendar {
	blocks := make([]CalendarBlock, 0, len(bookings))
	for _, b := range bookings {
		if !b.Status.Active() {
			continue
		}
		blocks = append(blocks, CalendarBlock{
			From:             b.Range.CheckIn,
			To:               b.Range.CheckOut,
			Status:           string(b.Status),
			ConfirmationCode: b.ConfirmationCode,
		})
	}
	return Calendar{PropertyID: propertyID, Blocks: blocks}
}
