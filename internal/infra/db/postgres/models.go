package postgres

import (
	"time"
)

type propertyRow struct {
	ID                 string `gorm:"primaryKey"`
	HostID             string `gorm:"index"`
	HostEmail          string
	Name               string
	Currency           string `gorm:"size:3"`
	NightlyAmount      int64
	CleaningAmount     int64
	MinNights          int
	MaxNights          int
	DepositBasisPoints int
	RotationEnabled    bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (propertyRow) TableName() string { return "properties" }

type credentialRow struct {
	ID         string `gorm:"primaryKey"`
	PropertyID string `gorm:"index:idx_credentials_property_active"`
	Index      int    `gorm:"column:idx"`
	Code       string
	Label      string
	Active     bool `gorm:"index:idx_credentials_property_active"`
	LastUsedAt *time.Time
	UsageCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (credentialRow) TableName() string { return "access_credentials" }

type cursorRow struct {
	PropertyID string `gorm:"primaryKey"`
	Value      int
	UpdatedAt  time.Time
}

func (cursorRow) TableName() string { return "rotation_cursors" }

type bookingRow struct {
	ID                 string    `gorm:"primaryKey"`
	ConfirmationCode   string    `gorm:"uniqueIndex"`
	PropertyID         string    `gorm:"index:idx_bookings_property_status"`
	HostID             string    `gorm:"index"`
	HostEmail          string
	PropertyName       string
	CheckIn            time.Time `gorm:"type:date"`
	CheckOut           time.Time `gorm:"type:date"`
	Nights             int
	Guests             int
	GuestName          string
	GuestEmail         string
	GuestPhone         string
	GuestMessage       string
	Currency           string `gorm:"size:3"`
	NightlyAmount      int64
	BaseAmount         int64
	Fees               []byte `gorm:"type:jsonb"`
	TotalAmount        int64
	DepositBasisPoints int
	DepositAmount      int64
	BalanceAmount      int64
	Status             string `gorm:"index:idx_bookings_property_status"`
	PaymentStatus      string
	HoldRef            string
	HoldReleased       bool
	ChargeRef          string
	RefundRef          string
	DepositPaid        bool
	DepositPaidAt      *time.Time
	DepositMethod      string
	BalancePaid        bool
	BalancePaidAt      *time.Time
	BalanceMethod      string
	PaymentIssue       string `gorm:"index"`
	PaymentIssueReason string
	CredentialID       string
	CredentialCode     string
	HostMessage        string
	CancelReason       string
	CancelledAt        *time.Time
	PreStayProcessedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int64
}

func (bookingRow) TableName() string { return "bookings" }

type outboxRow struct {
	ID            string `gorm:"primaryKey"`
	Name          string
	Payload       []byte `gorm:"type:jsonb"`
	OccurredAt    time.Time
	Aggregate     string
	Headers       []byte `gorm:"type:jsonb"`
	State         string `gorm:"index:idx_outbox_state_next"`
	Attempts      int
	NextAttemptAt time.Time `gorm:"index:idx_outbox_state_next"`
	ClaimedBy     string
	ClaimedAt     *time.Time
	SentAt        *time.Time
	LastError     string
	CreatedAt     time.Time
}

func (outboxRow) TableName() string { return "app_outbox" }

type idempotencyRow struct {
	Key         string `gorm:"primaryKey"`
	Fingerprint string
	Payload     []byte
	OccurredAt  time.Time
	ExpiresAt   time.Time `gorm:"index"`
}

func (idempotencyRow) TableName() string { return "app_idempotency" }

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func valueTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
