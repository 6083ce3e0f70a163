package booking

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusRequested Status = "requested"
	StatusApproved  Status = "approved"
	StatusDeclined  Status = "declined"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPartial  PaymentStatus = "partial"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

var ErrIllegalTransition = errors.New("booking: illegal status transition")

// TransitionError is returned when an event does not apply to the current status.
type TransitionError struct {
	Current Status
	Event   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("booking: cannot %s a booking in status %q", e.Event, e.Current)
}

func (e *TransitionError) Is(target error) bool { return target == ErrIllegalTransition }

func illegal(current Status, event string) error {
	return &TransitionError{Current: current, Event: event}
}

// ActiveStatuses hold their dates on the calendar.
var ActiveStatuses = []Status{StatusRequested, StatusApproved, StatusConfirmed}

var allowedPayment = map[Status][]PaymentStatus{
	StatusRequested: {PaymentPending},
	StatusApproved:  {PaymentPending, PaymentPartial, PaymentPaid},
	StatusDeclined:  {PaymentPending},
	StatusConfirmed: {PaymentPaid},
	StatusCompleted: {PaymentPaid},
	StatusCancelled: {PaymentPending, PaymentPartial, PaymentPaid, PaymentRefunded},
}

func (s Status) Valid() bool {
	_, ok := allowedPayment[s]
	return ok
}

func (s Status) Active() bool {
	switch s {
	case StatusRequested, StatusApproved, StatusConfirmed:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusDeclined, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPartial, PaymentPaid, PaymentRefunded:
		return true
	}
	return false
}

// Compatible reports whether the pair may be persisted together.
func Compatible(s Status, p PaymentStatus) bool {
	for _, allowed := range allowedPayment[s] {
		if allowed == p {
			return true
		}
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("booking: unknown status %q", raw)
	}
	return s, nil
}
