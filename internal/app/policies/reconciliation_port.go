package policies

import (
	"context"
	"time"
)

// PaymentIssueRow is one booking awaiting manual payment follow-up.
type PaymentIssueRow struct {
	BookingID        string    `json:"booking_id"`
	ConfirmationCode string    `json:"confirmation_code"`
	PropertyID       string    `json:"property_id"`
	Status           string    `json:"status"`
	PaymentStatus    string    `json:"payment_status"`
	Issue            string    `json:"issue"`
	Reason           string    `json:"reason,omitempty"`
	HoldRef          string    `json:"hold_ref,omitempty"`
	ChargeRef        string    `json:"charge_ref,omitempty"`
	DepositMinor     int64     `json:"deposit_minor"`
	Currency         string    `json:"currency"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type ReconciliationExporter interface {
	Export(ctx context.Context, generatedAt time.Time, rows []PaymentIssueRow) (location string, err error)
}
