package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"staybook/internal/domain/access"
	"staybook/internal/domain/availability"
	"staybook/internal/domain/pricing"
	"staybook/internal/domain/property"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/events"
)

var (
	ErrBookingNotFound            = errors.New("booking: not found")
	ErrInvalidGuests              = errors.New("booking: guests count must be positive")
	ErrGuestContactRequired       = errors.New("booking: guest name and email are required")
	ErrPaymentHoldRequired        = errors.New("booking: payment hold required before approval")
	ErrHoldAlreadyOpen            = errors.New("booking: payment hold already open")
	ErrDepositOutstanding         = errors.New("booking: deposit must be settled before the balance")
	ErrDepositAlreadyPaid         = errors.New("booking: deposit already paid")
	ErrNothingToRefund            = errors.New("booking: deposit was not paid, nothing to refund")
	ErrStayNotFinished            = errors.New("booking: checkout date not reached")
	ErrCredentialAlreadyAssigned  = errors.New("booking: access credential already assigned")
	ErrInvalidPaymentMethod       = errors.New("booking: unknown payment method")
	ErrInvalidState               = errors.New("booking: status and payment status are incompatible")
	ErrMoneyNotConserved          = errors.New("booking: deposit and balance do not add up to total")
	ErrDuplicateConfirmationCode  = errors.New("booking: confirmation code already in use")
	ErrConcurrentUpdate           = errors.New("booking: concurrent update detected")
	ErrCredentialSnapshotMismatch = errors.New("booking: credential id and code must be set together")
)

const ReasonPaymentHoldFailed = "payment_hold_failed"

type BookingID string

type Guest struct {
	Name  string
	Email string
	Phone string
}

type Booking struct {
	ID                 BookingID
	ConfirmationCode   string
	PropertyID         property.PropertyID
	HostID             property.HostID
	HostEmail          string
	PropertyName       string
	Range              daterange.DateRange
	Nights             int
	Guests             int
	Guest              Guest
	GuestMessage       string
	Price              pricing.PriceBreakdown
	Status             Status
	Payment            Payment
	CredentialID       access.CredentialID
	CredentialCode     string
	HostMessage        string
	CancelReason       string
	CancelledAt        time.Time
	PreStayProcessedAt time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int64
	events.EventRecorder
}

// Filter narrows listings. Empty fields match everything.
type Filter struct {
	PropertyID property.PropertyID
	HostID     property.HostID
	Statuses   []Status
}

type Repository interface {
	ByID(ctx context.Context, id BookingID) (*Booking, error)
	ByConfirmationCode(ctx context.Context, code string) (*Booking, error)
	// ActiveOverlapping returns bookings of the property in an active status whose
	// stay intersects dr. Storage only fetches candidates; callers decide overlap.
	ActiveOverlapping(ctx context.Context, propertyID property.PropertyID, dr daterange.DateRange) ([]*Booking, error)
	List(ctx context.Context, filter Filter) ([]*Booking, error)
	// DueForPreStay returns approved or confirmed bookings checking in before
	// until that have not been processed by the sweep yet.
	DueForPreStay(ctx context.Context, until time.Time) ([]*Booking, error)
	DueForCompletion(ctx context.Context, now time.Time) ([]*Booking, error)
	WithPaymentIssues(ctx context.Context) ([]*Booking, error)
	Insert(ctx context.Context, b *Booking) error
	// Save persists the whole aggregate when the stored version matches b.Version.
	Save(ctx context.Context, b *Booking) error
	// UpdatePayment persists only the payment fields, guarded by b.Version.
	UpdatePayment(ctx context.Context, b *Booking) error
	// AttachCredential persists the credential only when none is stored yet.
	AttachCredential(ctx context.Context, b *Booking) error
}

type CreateParams struct {
	ID               BookingID
	ConfirmationCode string
	Property         *property.Property
	Range            daterange.DateRange
	Guests           int
	Guest            Guest
	GuestMessage     string
	Price            pricing.PriceBreakdown
	CreatedAt        time.Time
}

func NewBooking(params CreateParams) (*Booking, error) {
	if params.Property == nil {
		return nil, property.ErrPropertyNotFound
	}
	if params.Guests <= 0 {
		return nil, ErrInvalidGuests
	}
	guest := Guest{
		Name:  strings.TrimSpace(params.Guest.Name),
		Email: strings.TrimSpace(params.Guest.Email),
		Phone: strings.TrimSpace(params.Guest.Phone),
	}
	if guest.Name == "" || guest.Email == "" {
		return nil, ErrGuestContactRequired
	}
	if err := params.Range.Validate(); err != nil {
		return nil, err
	}
	price := params.Price.Copy()
	if err := price.CheckConservation(); err != nil {
		return nil, err
	}
	now := params.CreatedAt.UTC()
	b := &Booking{
		ID:               params.ID,
		ConfirmationCode: params.ConfirmationCode,
		PropertyID:       params.Property.ID,
		HostID:           params.Property.Host,
		HostEmail:        params.Property.HostEmail,
		PropertyName:     params.Property.Name,
		Range:            params.Range,
		Nights:           params.Range.Nights(),
		Guests:           params.Guests,
		Guest:            guest,
		GuestMessage:     strings.TrimSpace(params.GuestMessage),
		Price:            price,
		Status:           StatusRequested,
		Payment:          Payment{Status: PaymentPending},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	b.Record(BookingRequested{Summary: b.Summary(), GuestMessage: b.GuestMessage, At: now})
	return b, nil
}

func (b *Booking) Occupancy() availability.Occupancy {
	return availability.Occupancy{Range: b.Range, Active: b.Status.Active()}
}

func (b *Booking) RequiresHold() bool {
	return b.Price.Deposit.Amount > 0
}

func (b *Booking) HasCredential() bool {
	return b.CredentialID != ""
}

// Approve moves a requested booking to approved. When a deposit is due the
// capture_pending flag is set in the same write; the capture outcome is then
// applied with CaptureSucceeded or CaptureFailed. AnnounceApproval records the
// event once the outcome is known.
func (b *Booking) Approve(hostMessage string, now time.Time) error {
	if b.Status != StatusRequested {
		return illegal(b.Status, "approve")
	}
	if b.RequiresHold() && b.Payment.HoldRef == "" {
		return ErrPaymentHoldRequired
	}
	now = now.UTC()
	b.Status = StatusApproved
	b.HostMessage = strings.TrimSpace(hostMessage)
	if b.RequiresHold() {
		b.Payment.flag(IssueCapturePending, "")
	} else {
		b.Payment.DepositPaid = true
		b.Payment.DepositPaidAt = now
		b.Payment.Status = b.paidStatus()
	}
	b.UpdatedAt = now
	return nil
}

func (b *Booking) AnnounceApproval(now time.Time) error {
	if b.Status != StatusApproved {
		return illegal(b.Status, "announce approval of")
	}
	b.Record(BookingApproved{Summary: b.Summary(), PaymentIssue: b.Payment.Issue, At: now.UTC()})
	return nil
}

func (b *Booking) Decline(reason string, now time.Time) error {
	if b.Status != StatusRequested {
		return illegal(b.Status, "decline")
	}
	now = now.UTC()
	b.Status = StatusDeclined
	b.HostMessage = strings.TrimSpace(reason)
	if b.Payment.HoldOpen() {
		b.Payment.flag(IssueReleasePending, "")
	}
	b.UpdatedAt = now
	b.Record(BookingDeclined{Summary: b.Summary(), Reason: b.HostMessage, At: now})
	return nil
}

// SettleBalance confirms an approved booking once the guest paid the rest.
func (b *Booking) SettleBalance(method PaymentMethod, now time.Time) error {
	if b.Status != StatusApproved {
		return illegal(b.Status, "settle the balance of")
	}
	if !method.Valid() {
		return ErrInvalidPaymentMethod
	}
	if !b.Payment.DepositPaid {
		return ErrDepositOutstanding
	}
	now = now.UTC()
	b.Payment.BalancePaid = true
	b.Payment.BalancePaidAt = now
	b.Payment.BalanceMethod = method
	b.Payment.Status = PaymentPaid
	b.Status = StatusConfirmed
	b.UpdatedAt = now
	b.Record(BookingConfirmed{Summary: b.Summary(), At: now})
	return nil
}

// RecordDepositPayment reconciles a deposit collected outside the gateway,
// typically after a failed capture.
func (b *Booking) RecordDepositPayment(method PaymentMethod, now time.Time) error {
	if b.Status != StatusApproved {
		return illegal(b.Status, "record a deposit for")
	}
	if !method.Valid() {
		return ErrInvalidPaymentMethod
	}
	if b.Payment.DepositPaid {
		return ErrDepositAlreadyPaid
	}
	now = now.UTC()
	b.Payment.DepositPaid = true
	b.Payment.DepositPaidAt = now
	b.Payment.DepositMethod = method
	b.Payment.Status = b.paidStatus()
	if b.Payment.Issue == IssueCaptureFailed || b.Payment.Issue == IssueCapturePending {
		b.Payment.clearIssue()
	}
	if b.Payment.HoldOpen() {
		b.Payment.flag(IssueReleasePending, "")
	}
	b.UpdatedAt = now
	return nil
}

// Cancel frees the dates. A paid deposit is flagged refund_pending, an open hold
// release_pending; the caller then runs the matching payment side effect.
func (b *Booking) Cancel(reason string, now time.Time) error {
	if !b.Status.Active() {
		return illegal(b.Status, "cancel")
	}
	now = now.UTC()
	b.Status = StatusCancelled
	b.CancelReason = strings.TrimSpace(reason)
	b.CancelledAt = now
	switch {
	case b.Payment.DepositPaid && b.Price.Deposit.Amount > 0:
		b.Payment.flag(IssueRefundPending, "")
	case b.Payment.HoldOpen():
		b.Payment.flag(IssueReleasePending, "")
	}
	b.UpdatedAt = now
	b.Record(BookingCancelled{
		Summary:       b.Summary(),
		Reason:        b.CancelReason,
		RefundPending: b.Payment.Issue == IssueRefundPending,
		At:            now,
	})
	return nil
}

func (b *Booking) Complete(now time.Time) error {
	if b.Status != StatusConfirmed {
		return illegal(b.Status, "complete")
	}
	if daterange.Day(now).Before(b.Range.CheckOut) {
		return ErrStayNotFinished
	}
	now = now.UTC()
	b.Status = StatusCompleted
	b.UpdatedAt = now
	b.Record(BookingCompleted{Summary: b.Summary(), At: now})
	return nil
}

// AssignCredential snapshots the code on the booking. It never overwrites.
func (b *Booking) AssignCredential(c access.Credential, now time.Time) error {
	if b.Status != StatusApproved && b.Status != StatusConfirmed {
		return illegal(b.Status, "assign a credential to")
	}
	if b.HasCredential() {
		return ErrCredentialAlreadyAssigned
	}
	now = now.UTC()
	b.CredentialID = c.ID
	b.CredentialCode = c.Code
	b.UpdatedAt = now
	b.Record(CredentialAssigned{Summary: b.Summary(), CredentialID: string(c.ID), Code: c.Code, At: now})
	return nil
}

func (b *Booking) MarkPreStayProcessed(now time.Time) {
	b.PreStayProcessedAt = now.UTC()
	b.UpdatedAt = now.UTC()
}

// Payment transitions. They never touch the workflow status.

// AttachHold records the authorization. A booking that left requested while
// the gateway call was in flight keeps the hold flagged release_pending.
func (b *Booking) AttachHold(ref string, now time.Time) error {
	if b.Payment.HoldRef != "" {
		return ErrHoldAlreadyOpen
	}
	b.Payment.HoldRef = ref
	if b.Status.Terminal() {
		b.Payment.flag(IssueReleasePending, "")
	}
	b.UpdatedAt = now.UTC()
	return nil
}

func (b *Booking) CaptureSucceeded(chargeRef string, now time.Time) {
	now = now.UTC()
	b.Payment.ChargeRef = chargeRef
	b.Payment.DepositPaid = true
	b.Payment.DepositPaidAt = now
	b.Payment.DepositMethod = MethodGateway
	b.Payment.Status = b.paidStatus()
	b.Payment.clearIssue()
	b.UpdatedAt = now
}

func (b *Booking) CaptureFailed(reason string, now time.Time) {
	b.Payment.flag(IssueCaptureFailed, reason)
	b.UpdatedAt = now.UTC()
}

func (b *Booking) HoldReleased(now time.Time) {
	b.Payment.HoldReleased = true
	if b.Payment.Issue == IssueReleasePending || b.Payment.Issue == IssueReleaseFailed {
		b.Payment.clearIssue()
	}
	b.UpdatedAt = now.UTC()
}

func (b *Booking) ReleaseFailed(reason string, now time.Time) {
	b.Payment.flag(IssueReleaseFailed, reason)
	b.UpdatedAt = now.UTC()
}

func (b *Booking) Refunded(refundRef string, now time.Time) {
	b.Payment.RefundRef = refundRef
	b.Payment.Status = PaymentRefunded
	b.Payment.clearIssue()
	b.UpdatedAt = now.UTC()
}

func (b *Booking) RefundFailed(reason string, now time.Time) {
	b.Payment.flag(IssueRefundFailed, reason)
	b.UpdatedAt = now.UTC()
}

func (b *Booking) paidStatus() PaymentStatus {
	if b.Payment.BalancePaid || b.Price.Balance.Amount == 0 {
		return PaymentPaid
	}
	return PaymentPartial
}

// Validate checks the invariants every repository enforces on write.
func (b *Booking) Validate() error {
	if !b.Status.Valid() || !b.Payment.Status.Valid() {
		return ErrInvalidState
	}
	if !Compatible(b.Status, b.Payment.Status) {
		return ErrInvalidState
	}
	if err := b.Range.Validate(); err != nil {
		return err
	}
	if b.Guests <= 0 {
		return ErrInvalidGuests
	}
	if err := b.Price.CheckConservation(); err != nil {
		return ErrMoneyNotConserved
	}
	p := b.Payment
	if (p.HoldReleased || p.ChargeRef != "") && p.HoldRef == "" {
		return ErrInvalidState
	}
	if (p.Status == PaymentPartial || p.Status == PaymentPaid) && !p.DepositPaid {
		return ErrInvalidState
	}
	if p.Status == PaymentRefunded && p.RefundRef == "" {
		return ErrInvalidState
	}
	if (b.CredentialID == "") != (b.CredentialCode == "") {
		return ErrCredentialSnapshotMismatch
	}
	return nil
}

// Clone returns a deep copy without pending events.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Price = b.Price.Copy()
	cp.EventRecorder = events.EventRecorder{}
	return &cp
}
