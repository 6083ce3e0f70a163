package pricing

import (
	"context"
	"testing"
	"time"

	"staybook/internal/domain/property"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
)

func TestRateCardCalculatorScenario(t *testing.T) {
	p := &property.Property{
		ID:                 "prop-1",
		Name:               "Harbor Loft",
		NightlyRate:        money.Must(17500, "USD"),
		CleaningFee:        money.Must(10000, "USD"),
		DepositBasisPoints: 1000,
	}
	checkIn := time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)
	dr, err := daterange.New(checkIn, checkIn.AddDate(0, 0, 4))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	quote, err := RateCardCalculator{}.Quote(context.Background(), QuoteInput{Property: p, Range: dr, Guests: 2})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Nights != 4 {
		t.Fatalf("nights = %d", quote.Nights)
	}
	if quote.Base.Amount != 70000 {
		t.Fatalf("base = %s", quote.Base)
	}
	if quote.Total.Amount != 80000 {
		t.Fatalf("total = %s", quote.Total)
	}
	if quote.Deposit.Amount != 8000 || quote.Balance.Amount != 72000 {
		t.Fatalf("deposit/balance = %s/%s", quote.Deposit, quote.Balance)
	}
	if quote.CleaningFee().Amount != 10000 {
		t.Fatalf("cleaning fee = %s", quote.CleaningFee())
	}
	if err := quote.CheckConservation(); err != nil {
		t.Fatalf("conservation: %v", err)
	}
}

func TestSplitConservesOddAmounts(t *testing.T) {
	for total := int64(1); total < 2000; total += 37 {
		for _, bps := range []int{0, 1, 333, 1000, 2500, 9999, 10000} {
			b := PriceBreakdown{Nights: 1, Nightly: money.Must(total, "EUR")}
			if err := b.RecalculateTotal(); err != nil {
				t.Fatalf("recalculate: %v", err)
			}
			if err := b.Split(bps); err != nil {
				t.Fatalf("split: %v", err)
			}
			if err := b.CheckConservation(); err != nil {
				t.Fatalf("total %d bps %d: %v", total, bps, err)
			}
		}
	}
}

func TestRecalculateRejectsNegativeFee(t *testing.T) {
	b := PriceBreakdown{Nights: 1, Nightly: money.Must(100, "USD"), Fees: []Fee{{Name: "x", Amount: money.Must(-1, "USD")}}}
	if err := b.RecalculateTotal(); err != ErrNegativeComponent {
		t.Fatalf("expected ErrNegativeComponent, got %v", err)
	}
}
