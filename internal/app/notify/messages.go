package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"staybook/internal/app/policies"
	"staybook/internal/domain/shared/money"
)

var ErrUnknownEvent = errors.New("notify: unknown event")

// envelope is the union of the booking event payloads.
type envelope struct {
	BookingID        string      `json:"booking_id"`
	ConfirmationCode string      `json:"confirmation_code"`
	PropertyName     string      `json:"property_name"`
	HostEmail        string      `json:"host_email"`
	GuestName        string      `json:"guest_name"`
	GuestEmail       string      `json:"guest_email"`
	CheckIn          time.Time   `json:"check_in"`
	CheckOut         time.Time   `json:"check_out"`
	Nights           int         `json:"nights"`
	Total            money.Money `json:"total"`
	Deposit          money.Money `json:"deposit"`
	Balance          money.Money `json:"balance"`
	GuestMessage     string      `json:"guest_message"`
	PaymentIssue     string      `json:"payment_issue"`
	Reason           string      `json:"reason"`
	RefundPending    bool        `json:"refund_pending"`
	Code             string      `json:"code"`
}

// Compose turns one event into the messages it produces. Unknown events yield
// ErrUnknownEvent so relays can skip them.
func Compose(name string, payload []byte) ([]policies.Message, error) {
	var e envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("notify: decode %s: %w", name, err)
	}
	stay := fmt.Sprintf("%s, %s to %s (%d nights)", e.PropertyName,
		e.CheckIn.Format(time.DateOnly), e.CheckOut.Format(time.DateOnly), e.Nights)
	guest := func(subject string, lines ...string) policies.Message {
		return policies.Message{To: e.GuestEmail, Name: e.GuestName, Subject: subject, Body: body(lines...), Event: name}
	}
	host := func(subject string, lines ...string) policies.Message {
		return policies.Message{To: e.HostEmail, Subject: subject, Body: body(lines...), Event: name}
	}

	var out []policies.Message
	switch name {
	case "booking.requested":
		out = append(out,
			guest("Booking request "+e.ConfirmationCode+" received",
				"Hi "+e.GuestName+",",
				"We passed your request for "+stay+" to the host.",
				"Total "+e.Total.String()+", deposit "+e.Deposit.String()+" reserved on your card."),
			host("New booking request "+e.ConfirmationCode,
				e.GuestName+" asks for "+stay+".",
				optional("Message: ", e.GuestMessage)))
	case "booking.approved":
		lines := []string{
			"Hi " + e.GuestName + ",",
			"Your stay at " + stay + " is approved.",
			"Deposit " + e.Deposit.String() + ", balance due " + e.Balance.String() + ".",
		}
		out = append(out, guest("Booking "+e.ConfirmationCode+" approved", lines...))
		if e.PaymentIssue != "" {
			out = append(out, host("Payment follow-up for "+e.ConfirmationCode,
				"The deposit for "+stay+" could not be collected automatically ("+e.PaymentIssue+").",
				"Record the payment once settled."))
		}
	case "booking.declined":
		out = append(out, guest("Booking request "+e.ConfirmationCode+" declined",
			"Hi "+e.GuestName+",",
			"The host declined your request for "+stay+". The deposit hold has been released.",
			optional("Host note: ", e.Reason)))
	case "booking.confirmed":
		out = append(out, guest("Booking "+e.ConfirmationCode+" confirmed",
			"Hi "+e.GuestName+",",
			"Payment received in full. See you at "+stay+"."))
	case "booking.cancelled":
		refund := "No payment was taken."
		if e.RefundPending {
			refund = "Your deposit of " + e.Deposit.String() + " is being refunded."
		}
		out = append(out,
			guest("Booking "+e.ConfirmationCode+" cancelled", "Hi "+e.GuestName+",", "Your booking for "+stay+" was cancelled.", refund),
			host("Booking "+e.ConfirmationCode+" cancelled", "The stay "+stay+" was cancelled.", optional("Reason: ", e.Reason)))
	case "booking.completed":
		out = append(out, guest("Thanks for staying at "+e.PropertyName,
			"Hi "+e.GuestName+",",
			"We hope you enjoyed "+stay+"."))
	case "access.credential_assigned":
		out = append(out, guest("Your access code for "+e.PropertyName,
			"Hi "+e.GuestName+",",
			"Your access code for "+stay+" is "+e.Code+".",
			"It is valid for your booking "+e.ConfirmationCode+" only."))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	filtered := out[:0]
	for _, m := range out {
		if strings.TrimSpace(m.To) != "" {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

func body(lines ...string) string {
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func optional(prefix, value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return prefix + value
}
