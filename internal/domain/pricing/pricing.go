package pricing

import (
	"context"
	"errors"

	"staybook/internal/domain/property"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
)

var (
	ErrNegativeComponent = errors.New("pricing: components cannot be negative")
	ErrCurrencyUnset     = errors.New("pricing: currency must be defined")
	ErrNightsRequired    = errors.New("pricing: nights must be positive")
	ErrSplitDrift        = errors.New("pricing: deposit and balance do not add up to total")
)

const FeeCleaning = "cleaning_fee"

type Fee struct {
	Name   string
	Amount money.Money
}

// PriceBreakdown is the quote frozen on a booking at creation.
type PriceBreakdown struct {
	Nights             int
	Nightly            money.Money
	Base               money.Money
	Fees               []Fee
	Total              money.Money
	DepositBasisPoints int
	Deposit            money.Money
	Balance            money.Money
}

func (p *PriceBreakdown) Validate() error {
	if p.Nightly.Currency == "" {
		return ErrCurrencyUnset
	}
	if p.Nights <= 0 {
		return ErrNightsRequired
	}
	return nil
}

// RecalculateTotal derives base and total from nights, nightly rate and fees.
func (p *PriceBreakdown) RecalculateTotal() error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.Base = p.Nightly.Multiply(int64(p.Nights))
	total := p.Base
	for _, fee := range p.Fees {
		if fee.Amount.Amount < 0 {
			return ErrNegativeComponent
		}
		sum, err := total.Add(fee.Amount)
		if err != nil {
			return err
		}
		total = sum
	}
	p.Total = total
	return nil
}

// Split freezes the deposit as a fraction of the total; the balance is the remainder
// so deposit + balance == total holds exactly.
func (p *PriceBreakdown) Split(depositBasisPoints int) error {
	deposit, err := p.Total.Fraction(depositBasisPoints)
	if err != nil {
		return err
	}
	balance, err := p.Total.Sub(deposit)
	if err != nil {
		return err
	}
	p.DepositBasisPoints = depositBasisPoints
	p.Deposit = deposit
	p.Balance = balance
	return nil
}

// CheckConservation verifies deposit + balance == total.
func (p PriceBreakdown) CheckConservation() error {
	sum, err := p.Deposit.Add(p.Balance)
	if err != nil {
		return err
	}
	if !sum.Equal(p.Total) {
		return ErrSplitDrift
	}
	return nil
}

func (p PriceBreakdown) CleaningFee() money.Money {
	for _, fee := range p.Fees {
		if fee.Name == FeeCleaning {
			return fee.Amount
		}
	}
	return money.Zero(p.Nightly.Currency)
}

func (p PriceBreakdown) Copy() PriceBreakdown {
	clone := p
	clone.Fees = append([]Fee(nil), p.Fees...)
	return clone
}

type QuoteInput struct {
	Property *property.Property
	Range    daterange.DateRange
	Guests   int
}

type Calculator interface {
	Quote(ctx context.Context, input QuoteInput) (PriceBreakdown, error)
}

// RateCardCalculator prices a stay from the property's rate card.
type RateCardCalculator struct{}

func (RateCardCalculator) Quote(_ context.Context, input QuoteInput) (PriceBreakdown, error) {
	if input.Property == nil {
		return PriceBreakdown{}, property.ErrPropertyNotFound
	}
	p := input.Property
	breakdown := PriceBreakdown{
		Nights:  input.Range.Nights(),
		Nightly: p.NightlyRate,
	}
	if !p.CleaningFee.IsZero() {
		breakdown.Fees = append(breakdown.Fees, Fee{Name: FeeCleaning, Amount: p.CleaningFee})
	}
	if err := breakdown.RecalculateTotal(); err != nil {
		return PriceBreakdown{}, err
	}
	if err := breakdown.Split(p.DepositBasisPoints); err != nil {
		return PriceBreakdown{}, err
	}
	return breakdown, nil
}

var _ Calculator = RateCardCalculator{}
