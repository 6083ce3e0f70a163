package property

import (
	"context"
	"errors"
	"strings"
	"time"

	"staybook/internal/domain/shared/money"
)

var (
	ErrPropertyNotFound = errors.New("property: not found")
	ErrRotationDisabled = errors.New("property: access code rotation disabled")
	ErrNightsRange      = errors.New("property: min nights must be <= max nights")
	ErrNightlyRate      = errors.New("property: nightly rate must be positive")
	ErrCleaningFee      = errors.New("property: cleaning fee must be non-negative")
	ErrDepositFraction  = errors.New("property: deposit fraction must be within 0..10000 basis points")
	ErrNameRequired     = errors.New("property: name is required")
)

type PropertyID string
type HostID string

// Property is the read-only view of a rental the booking engine consumes.
// Its lifecycle is owned by property management.
type Property struct {
	ID                 PropertyID
	Host               HostID
	HostEmail          string
	Name               string
	NightlyRate        money.Money
	CleaningFee        money.Money
	MinNights          int
	MaxNights          int
	DepositBasisPoints int
	RotationEnabled    bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Repository interface {
	ByID(ctx context.Context, id PropertyID) (*Property, error)
	Save(ctx context.Context, p *Property) error
}

func (p *Property) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrNameRequired
	}
	if p.NightlyRate.Amount <= 0 {
		return ErrNightlyRate
	}
	if p.CleaningFee.Amount < 0 {
		return ErrCleaningFee
	}
	if _, err := money.New(p.NightlyRate.Amount, p.NightlyRate.Currency); err != nil {
		return err
	}
	if p.MinNights < 1 {
		p.MinNights = 1
	}
	if p.MaxNights > 0 && p.MinNights > p.MaxNights {
		return ErrNightsRange
	}
	if p.DepositBasisPoints < 0 || p.DepositBasisPoints > money.BasisPointsWhole {
		return ErrDepositFraction
	}
	return nil
}

// Currency is the currency of the rate card.
func (p *Property) Currency() string {
	return p.NightlyRate.Currency
}
