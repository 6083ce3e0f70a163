package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	domainaccess "staybook/internal/domain/access"
	domainavailability "staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	domainpricing "staybook/internal/domain/pricing"
	domainproperty "staybook/internal/domain/property"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
)

// BookingRepository maps the booking aggregate onto one row. Writes are
// guarded by the version column; the bookings_no_overlap exclusion constraint
// rejects overlapping active stays even if a caller skipped the lock.
type BookingRepository struct {
	db *gorm.DB
}

func NewBookingRepository(db *gorm.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	return r.takeOne(conn(ctx, r.db).Where("id = ?", string(id)))
}

func (r *BookingRepository) ByConfirmationCode(ctx context.Context, code string) (*domainbooking.Booking, error) {
	return r.takeOne(conn(ctx, r.db).Where("confirmation_code = ?", code))
}

func (r *BookingRepository) ActiveOverlapping(ctx context.Context, propertyID domainproperty.PropertyID, dr daterange.DateRange) ([]*domainbooking.Booking, error) {
	q := conn(ctx, r.db).
		Where("property_id = ? AND status IN ?", string(propertyID), statusStrings(domainbooking.ActiveStatuses)).
		Where("check_in < ? AND check_out > ?", dr.CheckOut, dr.CheckIn)
	return r.find(q)
}

func (r *BookingRepository) List(ctx context.Context, filter domainbooking.Filter) ([]*domainbooking.Booking, error) {
	q := conn(ctx, r.db)
	if filter.PropertyID != "" {
		q = q.Where("property_id = ?", string(filter.PropertyID))
	}
	if filter.HostID != "" {
		q = q.Where("host_id = ?", string(filter.HostID))
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(filter.Statuses))
	}
	return r.find(q)
}

func (r *BookingRepository) DueForPreStay(ctx context.Context, until time.Time) ([]*domainbooking.Booking, error) {
	q := conn(ctx, r.db).
		Where("status IN ?", []string{string(domainbooking.StatusApproved), string(domainbooking.StatusConfirmed)}).
		Where("check_in < ? AND pre_stay_processed_at IS NULL", until.UTC())
	return r.find(q)
}

func (r *BookingRepository) DueForCompletion(ctx context.Context, now time.Time) ([]*domainbooking.Booking, error) {
	q := conn(ctx, r.db).
		Where("status = ? AND check_out <= ?", string(domainbooking.StatusConfirmed), daterange.Day(now))
	return r.find(q)
}

func (r *BookingRepository) WithPaymentIssues(ctx context.Context) ([]*domainbooking.Booking, error) {
	return r.find(conn(ctx, r.db).Where("payment_issue <> ''"))
}

func (r *BookingRepository) Insert(ctx context.Context, b *domainbooking.Booking) error {
	if err := b.Validate(); err != nil {
		return err
	}
	row, err := newBookingRow(b)
	if err != nil {
		return err
	}
	row.Version = 1
	if err := conn(ctx, r.db).Create(&row).Error; err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return domainbooking.ErrDuplicateConfirmationCode
		case pgExclusionViolation:
			return &domainavailability.ConflictError{Range: b.Range}
		}
		return err
	}
	b.Version = row.Version
	return nil
}

func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	if err := b.Validate(); err != nil {
		return err
	}
	row, err := newBookingRow(b)
	if err != nil {
		return err
	}
	cols := row.columns()
	cols["version"] = b.Version + 1
	return r.guardedUpdate(ctx, b, cols)
}

func (r *BookingRepository) UpdatePayment(ctx context.Context, b *domainbooking.Booking) error {
	if err := b.Validate(); err != nil {
		return err
	}
	cols := paymentColumns(b.Payment)
	cols["updated_at"] = b.UpdatedAt.UTC()
	cols["version"] = b.Version + 1
	return r.guardedUpdate(ctx, b, cols)
}

func (r *BookingRepository) AttachCredential(ctx context.Context, b *domainbooking.Booking) error {
	if err := b.Validate(); err != nil {
		return err
	}
	var out versionRow
	res := conn(ctx, r.db).Raw(
		`UPDATE bookings SET credential_id = ?, credential_code = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND credential_id = '' RETURNING version`,
		string(b.CredentialID), b.CredentialCode, b.UpdatedAt.UTC(), string(b.ID),
	).Scan(&out)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.ByID(ctx, b.ID); err != nil {
			return err
		}
		return domainbooking.ErrCredentialAlreadyAssigned
	}
	b.Version = out.Version
	return nil
}

func (r *BookingRepository) guardedUpdate(ctx context.Context, b *domainbooking.Booking, cols map[string]any) error {
	res := conn(ctx, r.db).Model(&bookingRow{}).
		Where("id = ? AND version = ?", string(b.ID), b.Version).
		Updates(cols)
	if res.Error != nil {
		if pgCode(res.Error) == pgExclusionViolation {
			return &domainavailability.ConflictError{Range: b.Range}
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainbooking.ErrConcurrentUpdate
	}
	b.Version++
	return nil
}

func (r *BookingRepository) takeOne(q *gorm.DB) (*domainbooking.Booking, error) {
	var row bookingRow
	if err := q.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainbooking.ErrBookingNotFound
		}
		return nil, err
	}
	return row.toAggregate()
}

func (r *BookingRepository) find(q *gorm.DB) ([]*domainbooking.Booking, error) {
	var rows []bookingRow
	if err := q.Order("check_in ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domainbooking.Booking, 0, len(rows))
	for _, row := range rows {
		b, err := row.toAggregate()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func statusStrings(statuses []domainbooking.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

type versionRow struct {
	Version int64
}

type feeJSON struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

func newBookingRow(b *domainbooking.Booking) (bookingRow, error) {
	fees := make([]feeJSON, 0, len(b.Price.Fees))
	for _, f := range b.Price.Fees {
		fees = append(fees, feeJSON{Name: f.Name, Amount: f.Amount.Amount})
	}
	feesRaw, err := json.Marshal(fees)
	if err != nil {
		return bookingRow{}, err
	}
	row := bookingRow{
		ID:                 string(b.ID),
		ConfirmationCode:   b.ConfirmationCode,
		PropertyID:         string(b.PropertyID),
		HostID:             string(b.HostID),
		HostEmail:          b.HostEmail,
		PropertyName:       b.PropertyName,
		CheckIn:            b.Range.CheckIn.UTC(),
		CheckOut:           b.Range.CheckOut.UTC(),
		Nights:             b.Nights,
		Guests:             b.Guests,
		GuestName:          b.Guest.Name,
		GuestEmail:         b.Guest.Email,
		GuestPhone:         b.Guest.Phone,
		GuestMessage:       b.GuestMessage,
		Currency:           b.Price.Total.Currency,
		NightlyAmount:      b.Price.Nightly.Amount,
		BaseAmount:         b.Price.Base.Amount,
		Fees:               feesRaw,
		TotalAmount:        b.Price.Total.Amount,
		DepositBasisPoints: b.Price.DepositBasisPoints,
		DepositAmount:      b.Price.Deposit.Amount,
		BalanceAmount:      b.Price.Balance.Amount,
		Status:             string(b.Status),
		CredentialID:       string(b.CredentialID),
		CredentialCode:     b.CredentialCode,
		HostMessage:        b.HostMessage,
		CancelReason:       b.CancelReason,
		CancelledAt:        optionalTime(b.CancelledAt),
		PreStayProcessedAt: optionalTime(b.PreStayProcessedAt),
		CreatedAt:          b.CreatedAt.UTC(),
		UpdatedAt:          b.UpdatedAt.UTC(),
		Version:            b.Version,
	}
	row.setPayment(b.Payment)
	return row, nil
}

func (row *bookingRow) setPayment(p domainbooking.Payment) {
	row.PaymentStatus = string(p.Status)
	row.HoldRef = p.HoldRef
	row.HoldReleased = p.HoldReleased
	row.ChargeRef = p.ChargeRef
	row.RefundRef = p.RefundRef
	row.DepositPaid = p.DepositPaid
	row.DepositPaidAt = optionalTime(p.DepositPaidAt)
	row.DepositMethod = string(p.DepositMethod)
	row.BalancePaid = p.BalancePaid
	row.BalancePaidAt = optionalTime(p.BalancePaidAt)
	row.BalanceMethod = string(p.BalanceMethod)
	row.PaymentIssue = string(p.Issue)
	row.PaymentIssueReason = p.IssueReason
}

// columns lists every mutable column. Updates with a map writes zero values,
// which a struct update would skip.
func (row bookingRow) columns() map[string]any {
	cols := map[string]any{
		"property_name":         row.PropertyName,
		"check_in":              row.CheckIn,
		"check_out":             row.CheckOut,
		"nights":                row.Nights,
		"guests":                row.Guests,
		"guest_name":            row.GuestName,
		"guest_email":           row.GuestEmail,
		"guest_phone":           row.GuestPhone,
		"guest_message":         row.GuestMessage,
		"status":                row.Status,
		"credential_id":         row.CredentialID,
		"credential_code":       row.CredentialCode,
		"host_message":          row.HostMessage,
		"cancel_reason":         row.CancelReason,
		"cancelled_at":          row.CancelledAt,
		"pre_stay_processed_at": row.PreStayProcessedAt,
		"updated_at":            row.UpdatedAt,
	}
	for k, v := range row.paymentColumns() {
		cols[k] = v
	}
	return cols
}

func (row bookingRow) paymentColumns() map[string]any {
	return map[string]any{
		"payment_status":       row.PaymentStatus,
		"hold_ref":             row.HoldRef,
		"hold_released":        row.HoldReleased,
		"charge_ref":           row.ChargeRef,
		"refund_ref":           row.RefundRef,
		"deposit_paid":         row.DepositPaid,
		"deposit_paid_at":      row.DepositPaidAt,
		"deposit_method":       row.DepositMethod,
		"balance_paid":         row.BalancePaid,
		"balance_paid_at":      row.BalancePaidAt,
		"balance_method":       row.BalanceMethod,
		"payment_issue":        row.PaymentIssue,
		"payment_issue_reason": row.PaymentIssueReason,
	}
}

func paymentColumns(p domainbooking.Payment) map[string]any {
	var row bookingRow
	row.setPayment(p)
	return row.paymentColumns()
}

func (row bookingRow) toAggregate() (*domainbooking.Booking, error) {
	var fees []feeJSON
	if len(row.Fees) > 0 {
		if err := json.Unmarshal(row.Fees, &fees); err != nil {
			return nil, err
		}
	}
	cur := row.Currency
	price := domainpricing.PriceBreakdown{
		Nights:             row.Nights,
		Nightly:            money.Money{Amount: row.NightlyAmount, Currency: cur},
		Base:               money.Money{Amount: row.BaseAmount, Currency: cur},
		Total:              money.Money{Amount: row.TotalAmount, Currency: cur},
		DepositBasisPoints: row.DepositBasisPoints,
		Deposit:            money.Money{Amount: row.DepositAmount, Currency: cur},
		Balance:            money.Money{Amount: row.BalanceAmount, Currency: cur},
	}
	for _, f := range fees {
		price.Fees = append(price.Fees, domainpricing.Fee{Name: f.Name, Amount: money.Money{Amount: f.Amount, Currency: cur}})
	}
	return &domainbooking.Booking{
		ID:               domainbooking.BookingID(row.ID),
		ConfirmationCode: row.ConfirmationCode,
		PropertyID:       domainproperty.PropertyID(row.PropertyID),
		HostID:           domainproperty.HostID(row.HostID),
		HostEmail:        row.HostEmail,
		PropertyName:     row.PropertyName,
		Range:            daterange.DateRange{CheckIn: daterange.Day(row.CheckIn), CheckOut: daterange.Day(row.CheckOut)},
		Nights:           row.Nights,
		Guests:           row.Guests,
		Guest:            domainbooking.Guest{Name: row.GuestName, Email: row.GuestEmail, Phone: row.GuestPhone},
		GuestMessage:     row.GuestMessage,
		Price:            price,
		Status:           domainbooking.Status(row.Status),
		Payment: domainbooking.Payment{
			Status:        domainbooking.PaymentStatus(row.PaymentStatus),
			HoldRef:       row.HoldRef,
			HoldReleased:  row.HoldReleased,
			ChargeRef:     row.ChargeRef,
			RefundRef:     row.RefundRef,
			DepositPaid:   row.DepositPaid,
			DepositPaidAt: valueTime(row.DepositPaidAt),
			DepositMethod: domainbooking.PaymentMethod(row.DepositMethod),
			BalancePaid:   row.BalancePaid,
			BalancePaidAt: valueTime(row.BalancePaidAt),
			BalanceMethod: domainbooking.PaymentMethod(row.BalanceMethod),
			Issue:         domainbooking.PaymentIssue(row.PaymentIssue),
			IssueReason:   row.PaymentIssueReason,
		},
		CredentialID:       domainaccess.CredentialID(row.CredentialID),
		CredentialCode:     row.CredentialCode,
		HostMessage:        row.HostMessage,
		CancelReason:       row.CancelReason,
		CancelledAt:        valueTime(row.CancelledAt),
		PreStayProcessedAt: valueTime(row.PreStayProcessedAt),
		CreatedAt:          row.CreatedAt.UTC(),
		UpdatedAt:          row.UpdatedAt.UTC(),
		Version:            row.Version,
	}, nil
}

var _ domainbooking.Repository = (*BookingRepository)(nil)
