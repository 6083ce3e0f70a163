package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"staybook/internal/app/dto"
	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/domain/pricing"
	domainproperty "staybook/internal/domain/property"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
	"staybook/internal/infra/storage/memory"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return time.Date(2025, 3, 1+n, 0, 0, 0, 0, time.UTC)
}

func seed(t *testing.T) (memory.Factory, *domainproperty.Property) {
	t.Helper()
	factory, props, _, bookings := memory.NewStore()
	ctx := context.Background()
	prop := &domainproperty.Property{
		ID: "prop-1", Host: "host-1", HostEmail: "host@example.com", Name: "Harbour Loft",
		NightlyRate: money.Must(17500, "USD"), CleaningFee: money.Must(10000, "USD"),
		MinNights: 2, MaxNights: 14, DepositBasisPoints: 1000,
	}
	if err := props.Save(ctx, prop); err != nil {
		t.Fatalf("seed property: %v", err)
	}
	dr, err := daterange.New(day(10), day(13))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	price, err := pricing.RateCardCalculator{}.Quote(ctx, pricing.QuoteInput{Property: prop, Range: dr, Guests: 2})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	b, err := domainbooking.NewBooking(domainbooking.CreateParams{
		ID: "b-1", ConfirmationCode: "ABC234", Property: prop, Range: dr, Guests: 2,
		Guest: domainbooking.Guest{Name: "Ana", Email: "ana@example.com"},
		Price: price, CreatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("new booking: %v", err)
	}
	if err := bookings.Insert(ctx, b); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return factory, prop
}

func TestQuoteAvailableStay(t *testing.T) {
	factory, _ := seed(t)
	h := &QuoteHandler{UoWFactory: factory, Pricing: pricing.RateCardCalculator{}, Clock: func() time.Time { return testNow }}

	q, err := h.Handle(context.Background(), QuoteQuery{PropertyID: "prop-1", CheckIn: day(2), CheckOut: day(6), Guests: 2})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.Available || q.Breakdown == nil {
		t.Fatalf("expected available quote, got %+v", q)
	}
	if q.Breakdown.Total.Amount != 80000 || q.Breakdown.Deposit.Amount != 8000 || q.Breakdown.Balance.Amount != 72000 {
		t.Fatalf("unexpected amounts %+v", q.Breakdown)
	}
}

func TestQuoteRejections(t *testing.T) {
	factory, _ := seed(t)
	h := &QuoteHandler{UoWFactory: factory, Pricing: pricing.RateCardCalculator{}, Clock: func() time.Time { return testNow }}
	cases := map[string]struct {
		in, out int
		want    string
	}{
		"overlaps existing stay": {11, 14, dto.ReasonUnavailable},
		"below minimum nights":   {2, 3, dto.ReasonStayLength},
		"check-out before in":    {5, 4, dto.ReasonInvalidRange},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			q, err := h.Handle(context.Background(), QuoteQuery{PropertyID: "prop-1", CheckIn: day(tc.in), CheckOut: day(tc.out)})
			if err != nil {
				t.Fatalf("quote: %v", err)
			}
			if q.Available || q.Reason != tc.want {
				t.Fatalf("expected %q rejection, got %+v", tc.want, q)
			}
			if q.Breakdown != nil {
				t.Fatal("rejected quote carries a price")
			}
		})
	}
}

func TestQuoteBackToBackIsAvailable(t *testing.T) {
	factory, _ := seed(t)
	h := &QuoteHandler{UoWFactory: factory, Pricing: pricing.RateCardCalculator{}, Clock: func() time.Time { return testNow }}
	q, err := h.Handle(context.Background(), QuoteQuery{PropertyID: "prop-1", CheckIn: day(13), CheckOut: day(15)})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.Available {
		t.Fatalf("check-in on another stay's check-out must be free, got %+v", q)
	}
}

func TestCalendarListsHostBlocks(t *testing.T) {
	factory, _ := seed(t)
	h := &GetCalendarHandler{UoWFactory: factory}

	cal, err := h.Handle(context.Background(), GetCalendarQuery{HostID: "host-1", PropertyID: "prop-1"})
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	if len(cal.Blocks) != 1 || cal.Blocks[0].ConfirmationCode != "ABC234" {
		t.Fatalf("unexpected blocks %+v", cal.Blocks)
	}

	cal, err = h.Handle(context.Background(), GetCalendarQuery{HostID: "host-1", PropertyID: "prop-1", From: day(13), To: day(20)})
	if err != nil {
		t.Fatalf("calendar window: %v", err)
	}
	if len(cal.Blocks) != 0 {
		t.Fatalf("stay ending at the window start must be excluded, got %+v", cal.Blocks)
	}
}

func TestCalendarHidesOtherHostsProperty(t *testing.T) {
	factory, _ := seed(t)
	h := &GetCalendarHandler{UoWFactory: factory}
	_, err := h.Handle(context.Background(), GetCalendarQuery{HostID: "host-2", PropertyID: "prop-1"})
	if !errors.Is(err, domainproperty.ErrPropertyNotFound) {
		t.Fatalf("expected ErrPropertyNotFound, got %v", err)
	}
}
