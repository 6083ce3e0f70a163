package dto

import (
	"time"

	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/domain/shared/money"
)

type MoneyDTO struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func MapMoney(value money.Money) MoneyDTO {
	return MoneyDTO{
		Amount:   value.Amount,
		Currency: value.Currency,
	}
}

type AmountsDTO struct {
	Total   MoneyDTO `json:"total"`
	Deposit MoneyDTO `json:"deposit"`
	Balance MoneyDTO `json:"balance"`
}

// GuestBookingView is what a confirmation code unlocks: no internal ids, no
// host data, no payment references.
type GuestBookingView struct {
	ConfirmationCode string     `json:"confirmation_code"`
	PropertyName     string     `json:"property_name"`
	CheckIn          time.Time  `json:"check_in"`
	CheckOut         time.Time  `json:"check_out"`
	Nights           int        `json:"nights"`
	Guests           int        `json:"guests"`
	Status           string     `json:"status"`
	PaymentStatus    string     `json:"payment_status"`
	Amounts          AmountsDTO `json:"amounts"`
	DepositPaid      bool       `json:"deposit_paid"`
	BalancePaid      bool       `json:"balance_paid"`
	AccessCode       string     `json:"access_code,omitempty"`
}

type PaymentDTO struct {
	Status        string    `json:"status"`
	HoldRef       string    `json:"hold_ref,omitempty"`
	HoldReleased  bool      `json:"hold_released"`
	ChargeRef     string    `json:"charge_ref,omitempty"`
	RefundRef     string    `json:"refund_ref,omitempty"`
	DepositPaid   bool      `json:"deposit_paid"`
	DepositPaidAt time.Time `json:"deposit_paid_at,omitempty"`
	DepositMethod string    `json:"deposit_method,omitempty"`
	BalancePaid   bool      `json:"balance_paid"`
	BalancePaidAt time.Time `json:"balance_paid_at,omitempty"`
	BalanceMethod string    `json:"balance_method,omitempty"`
	Issue         string    `json:"issue,omitempty"`
	IssueReason   string    `json:"issue_reason,omitempty"`
}

type GuestContactDTO struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type HostBookingView struct {
	ID                 string          `json:"id"`
	ConfirmationCode   string          `json:"confirmation_code"`
	PropertyID         string          `json:"property_id"`
	PropertyName       string          `json:"property_name"`
	CheckIn            time.Time       `json:"check_in"`
	CheckOut           time.Time       `json:"check_out"`
	Nights             int             `json:"nights"`
	Guests             int             `json:"guests"`
	Guest              GuestContactDTO `json:"guest"`
	GuestMessage       string          `json:"guest_message,omitempty"`
	HostMessage        string          `json:"host_message,omitempty"`
	Status             string          `json:"status"`
	Amounts            AmountsDTO      `json:"amounts"`
	Payment            PaymentDTO      `json:"payment"`
	CredentialID       string          `json:"credential_id,omitempty"`
	AccessCode         string          `json:"access_code,omitempty"`
	CancelReason       string          `json:"cancel_reason,omitempty"`
	CancelledAt        time.Time       `json:"cancelled_at,omitempty"`
	PreStayProcessedAt time.Time       `json:"pre_stay_processed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type HostBookingCollection struct {
	Items []HostBookingView `json:"items"`
}

// Payment outcomes reported next to host actions.
const (
	OutcomeNone          = "none"
	OutcomeCaptured      = "captured"
	OutcomeCaptureFailed = "capture_failed"
	OutcomeReleased      = "released"
	OutcomeReleaseFailed = "release_failed"
	OutcomeRefunded      = "refunded"
	OutcomeRefundFailed  = "refund_failed"
	OutcomeRecorded      = "recorded"
)

type HostActionResult struct {
	Booking        HostBookingView `json:"booking"`
	PaymentOutcome string          `json:"payment_outcome"`
	Notice         string          `json:"notice,omitempty"`
}

type GuestActionResult struct {
	Booking        GuestBookingView `json:"booking"`
	PaymentOutcome string           `json:"payment_outcome"`
}

func mapAmounts(b *domainbooking.Booking) AmountsDTO {
	return AmountsDTO{
		Total:   MapMoney(b.Price.Total),
		Deposit: MapMoney(b.Price.Deposit),
		Balance: MapMoney(b.Price.Balance),
	}
}

func MapGuestBookingView(b *domainbooking.Booking) GuestBookingView {
	view := GuestBookingView{
		ConfirmationCode: b.ConfirmationCode,
		PropertyName:     b.PropertyName,
		CheckIn:          b.Range.CheckIn,
		CheckOut:         b.Range.CheckOut,
		Nights:           b.Nights,
		Guests:           b.Guests,
		Status:           string(b.Status),
		PaymentStatus:    string(b.Payment.Status),
		Amounts:          mapAmounts(b),
		DepositPaid:      b.Payment.DepositPaid,
		BalancePaid:      b.Payment.BalancePaid,
	}
	if b.Status == domainbooking.StatusApproved || b.Status == domainbooking.StatusConfirmed {
		view.AccessCode = b.CredentialCode
	}
	return view
}

func MapHostBookingView(b *domainbooking.Booking) HostBookingView {
	p := b.Payment
	return HostBookingView{
		ID:               string(b.ID),
		ConfirmationCode: b.ConfirmationCode,
		PropertyID:       string(b.PropertyID),
		PropertyName:     b.PropertyName,
		CheckIn:          b.Range.CheckIn,
		CheckOut:         b.Range.CheckOut,
		Nights:           b.Nights,
		Guests:           b.Guests,
		Guest:            GuestContactDTO{Name: b.Guest.Name, Email: b.Guest.Email, Phone: b.Guest.Phone},
		GuestMessage:     b.GuestMessage,
		HostMessage:      b.HostMessage,
		Status:           string(b.Status),
		Amounts:          mapAmounts(b),
		Payment: PaymentDTO{
			Status:        string(p.Status),
			HoldRef:       p.HoldRef,
			HoldReleased:  p.HoldReleased,
			ChargeRef:     p.ChargeRef,
			RefundRef:     p.RefundRef,
			DepositPaid:   p.DepositPaid,
			DepositPaidAt: p.DepositPaidAt,
			DepositMethod: string(p.DepositMethod),
			BalancePaid:   p.BalancePaid,
			BalancePaidAt: p.BalancePaidAt,
			BalanceMethod: string(p.BalanceMethod),
			Issue:         string(p.Issue),
			IssueReason:   p.IssueReason,
		},
		CredentialID:       string(b.CredentialID),
		AccessCode:         b.CredentialCode,
		CancelReason:       b.CancelReason,
		CancelledAt:        b.CancelledAt,
		PreStayProcessedAt: b.PreStayProcessedAt,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
}

func MapHostBookingCollection(items []*domainbooking.Booking) HostBookingCollection {
	out := HostBookingCollection{Items: make([]HostBookingView, 0, len(items))}
	for _, b := range items {
		out.Items = append(out.Items, MapHostBookingView(b))
	}
	return out
}
