package dto

import (
	"time"

	"staybook/internal/domain/pricing"
)

// Rejection reasons returned by a quote.
const (
	ReasonInvalidRange = "invalid_range"
	ReasonStayLength   = "stay_length"
	ReasonUnavailable  = "unavailable"
)

type FeeDTO struct {
	Name   string   `json:"name"`
	Amount MoneyDTO `json:"amount"`
}

type PriceBreakdownDTO struct {
	Nights             int      `json:"nights"`
	Nightly            MoneyDTO `json:"nightly"`
	Base               MoneyDTO `json:"base"`
	Fees               []FeeDTO `json:"fees"`
	Total              MoneyDTO `json:"total"`
	DepositBasisPoints int      `json:"deposit_basis_points"`
	Deposit            MoneyDTO `json:"deposit"`
	Balance            MoneyDTO `json:"balance"`
}

type Quote struct {
	PropertyID string             `json:"property_id"`
	CheckIn    time.Time          `json:"check_in"`
	CheckOut   time.Time          `json:"check_out"`
	Available  bool               `json:"available"`
	Reason     string             `json:"reason,omitempty"`
	MinNights  int                `json:"min_nights,omitempty"`
	MaxNights  int                `json:"max_nights,omitempty"`
	Breakdown  *PriceBreakdownDTO `json:"breakdown,omitempty"`
}

func MapPriceBreakdown(p pricing.PriceBreakdown) PriceBreakdownDTO {
	fees := make([]FeeDTO, 0, len(p.Fees))
	for _, f := range p.Fees {
		fees = append(fees, FeeDTO{Name: f.Name, Amount: MapMoney(f.Amount)})
	}
	return PriceBreakdownDTO{
		Nights:             p.Nights,
		Nightly:            MapMoney(p.Nightly),
		Base:               MapMoney(p.Base),
		Fees:               fees,
		Total:              MapMoney(p.Total),
		DepositBasisPoints: p.DepositBasisPoints,
		Deposit:            MapMoney(p.Deposit),
		Balance:            MapMoney(p.Balance),
	}
}
