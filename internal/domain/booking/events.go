package booking

import (
	"time"

	"staybook/internal/domain/shared/money"
)

// Summary is the denormalized view every booking event carries, so consumers
// never need to read the store.
type Summary struct {
	BookingID        BookingID     `json:"booking_id"`
	ConfirmationCode string        `json:"confirmation_code"`
	PropertyID       string        `json:"property_id"`
	PropertyName     string        `json:"property_name"`
	HostEmail        string        `json:"host_email"`
	GuestName        string        `json:"guest_name"`
	GuestEmail       string        `json:"guest_email"`
	GuestPhone       string        `json:"guest_phone,omitempty"`
	CheckIn          time.Time     `json:"check_in"`
	CheckOut         time.Time     `json:"check_out"`
	Nights           int           `json:"nights"`
	Total            money.Money   `json:"total"`
	Deposit          money.Money   `json:"deposit"`
	Balance          money.Money   `json:"balance"`
	Status           Status        `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
}

func (b *Booking) Summary() Summary {
	return Summary{
		BookingID:        b.ID,
		ConfirmationCode: b.ConfirmationCode,
		PropertyID:       string(b.PropertyID),
		PropertyName:     b.PropertyName,
		HostEmail:        b.HostEmail,
		GuestName:        b.Guest.Name,
		GuestEmail:       b.Guest.Email,
		GuestPhone:       b.Guest.Phone,
		CheckIn:          b.Range.CheckIn,
		CheckOut:         b.Range.CheckOut,
		Nights:           b.Nights,
		Total:            b.Price.Total,
		Deposit:          b.Price.Deposit,
		Balance:          b.Price.Balance,
		Status:           b.Status,
		PaymentStatus:    b.Payment.Status,
	}
}

type BookingRequested struct {
	Summary
	GuestMessage string    `json:"guest_message,omitempty"`
	At           time.Time `json:"at"`
}

func (e BookingRequested) EventName() string     { return "booking.requested" }
func (e BookingRequested) AggregateID() string   { return string(e.BookingID) }
func (e BookingRequested) OccurredAt() time.Time { return e.At }

type BookingApproved struct {
	Summary
	PaymentIssue PaymentIssue `json:"payment_issue,omitempty"`
	At           time.Time    `json:"at"`
}

func (e BookingApproved) EventName() string     { return "booking.approved" }
func (e BookingApproved) AggregateID() string   { return string(e.BookingID) }
func (e BookingApproved) OccurredAt() time.Time { return e.At }

type BookingDeclined struct {
	Summary
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

func (e BookingDeclined) EventName() string     { return "booking.declined" }
func (e BookingDeclined) AggregateID() string   { return string(e.BookingID) }
func (e BookingDeclined) OccurredAt() time.Time { return e.At }

type BookingConfirmed struct {
	Summary
	At time.Time `json:"at"`
}

func (e BookingConfirmed) EventName() string     { return "booking.confirmed" }
func (e BookingConfirmed) AggregateID() string   { return string(e.BookingID) }
func (e BookingConfirmed) OccurredAt() time.Time { return e.At }

type BookingCancelled struct {
	Summary
	Reason        string    `json:"reason,omitempty"`
	RefundPending bool      `json:"refund_pending"`
	At            time.Time `json:"at"`
}

func (e BookingCancelled) EventName() string     { return "booking.cancelled" }
func (e BookingCancelled) AggregateID() string   { return string(e.BookingID) }
func (e BookingCancelled) OccurredAt() time.Time { return e.At }

type BookingCompleted struct {
	Summary
	At time.Time `json:"at"`
}

func (e BookingCompleted) EventName() string     { return "booking.completed" }
func (e BookingCompleted) AggregateID() string   { return string(e.BookingID) }
func (e BookingCompleted) OccurredAt() time.Time { return e.At }

type CredentialAssigned struct {
	Summary
	CredentialID string    `json:"credential_id"`
	Code         string    `json:"code"`
	At           time.Time `json:"at"`
}

func (e CredentialAssigned) EventName() string     { return "access.credential_assigned" }
func (e CredentialAssigned) AggregateID() string   { return string(e.BookingID) }
func (e CredentialAssigned) OccurredAt() time.Time { return e.At }
