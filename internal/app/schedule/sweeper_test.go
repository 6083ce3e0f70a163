package schedule

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	accesshandlers "staybook/internal/app/handlers/access"
	appoutbox "staybook/internal/app/outbox"
	"staybook/internal/app/policies"
	domainaccess "staybook/internal/domain/access"
	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/domain/pricing"
	domainproperty "staybook/internal/domain/property"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
	"staybook/internal/infra/storage/memory"
)

var testNow = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

type recordingExporter struct {
	mu   sync.Mutex
	rows []policies.PaymentIssueRow
}

func (e *recordingExporter) Export(_ context.Context, generatedAt time.Time, rows []policies.PaymentIssueRow) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rows = append(e.rows, rows...)
	return fmt.Sprintf("memory://%s.json", generatedAt.Format(time.DateOnly)), nil
}

type sweepFixture struct {
	sweeper  *Sweeper
	bookings *memory.BookingRepository
	exporter *recordingExporter
	events   []string
	prop     *domainproperty.Property
	seq      int
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	factory, props, creds, bookings := memory.NewStore()
	ctx := context.Background()
	prop := &domainproperty.Property{
		ID: "prop-1", Host: "host-1", Name: "Dune House",
		NightlyRate: money.Must(20000, "USD"), MinNights: 1, RotationEnabled: true,
	}
	if err := props.Save(ctx, prop); err != nil {
		t.Fatalf("seed property: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := creds.Save(ctx, &domainaccess.Credential{
			ID: domainaccess.CredentialID(fmt.Sprintf("cred-%d", i)), PropertyID: prop.ID,
			Index: i, Code: fmt.Sprintf("77%02d", i), Active: true,
		}); err != nil {
			t.Fatalf("seed credential: %v", err)
		}
	}
	f := &sweepFixture{bookings: bookings, exporter: &recordingExporter{}, prop: prop}
	clock := func() time.Time { return testNow }
	box := memory.NewOutbox(func(_ context.Context, rec appoutbox.EventRecord) {
		f.events = append(f.events, rec.Name)
	})
	encoder := appoutbox.JSONEventEncoder{}
	f.sweeper = &Sweeper{
		UoWFactory: factory,
		Assigner: &accesshandlers.Assigner{
			UoWFactory: factory, Locker: memory.NewLocker(), Outbox: box, Encoder: encoder, Clock: clock,
		},
		Outbox:      box,
		Encoder:     encoder,
		Exporter:    f.exporter,
		Concurrency: 1,
		Clock:       clock,
	}
	return f
}

// seed stores a booking spanning [fromDay, toDay) relative to testNow after
// applying advance to it.
func (f *sweepFixture) seed(t *testing.T, fromDay, toDay int, advance func(b *domainbooking.Booking)) domainbooking.BookingID {
	t.Helper()
	f.seq++
	dr, err := daterange.New(testNow.AddDate(0, 0, fromDay), testNow.AddDate(0, 0, toDay))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	price, err := pricing.RateCardCalculator{}.Quote(context.Background(), pricing.QuoteInput{Property: f.prop, Range: dr, Guests: 2})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	b, err := domainbooking.NewBooking(domainbooking.CreateParams{
		ID:               domainbooking.BookingID(fmt.Sprintf("bk-%d", f.seq)),
		ConfirmationCode: fmt.Sprintf("SB-SWEEPZZ%c", "ABCDEFGH"[f.seq]),
		Property:         f.prop,
		Range:            dr,
		Guests:           2,
		Guest:            domainbooking.Guest{Name: "Noa", Email: "noa@example.com"},
		Price:            price,
		CreatedAt:        testNow.AddDate(0, 0, -30),
	})
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if advance != nil {
		advance(b)
	}
	b.Drain()
	if err := f.bookings.Insert(context.Background(), b); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return b.ID
}

func approved(b *domainbooking.Booking) {
	_ = b.Approve("", testNow)
}

func confirmed(b *domainbooking.Booking) {
	_ = b.Approve("", testNow)
	_ = b.SettleBalance(domainbooking.MethodCash, testNow)
}

func TestRunOncePreparesDueStays(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	soon := f.seed(t, 1, 3, approved)
	later := f.seed(t, 20, 22, approved)
	// requested and inside the window, back-to-back with soon
	pending := f.seed(t, 3, 5, nil)

	report, err := f.sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.PreStayProcessed != 1 || report.PreStayFailed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	b, _ := f.bookings.ByID(ctx, soon)
	if !b.HasCredential() || b.PreStayProcessedAt.IsZero() {
		t.Fatalf("due booking not prepared: %+v", b)
	}
	for _, id := range []domainbooking.BookingID{later, pending} {
		other, _ := f.bookings.ByID(ctx, id)
		if other.HasCredential() || !other.PreStayProcessedAt.IsZero() {
			t.Fatalf("booking %s processed too early", id)
		}
	}

	again, err := f.sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again.PreStayProcessed != 0 {
		t.Fatalf("marked booking processed twice")
	}
	if len(f.events) != 1 || f.events[0] != "access.credential_assigned" {
		t.Fatalf("unexpected events %v", f.events)
	}
}

func TestRunOnceCompletesFinishedStays(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	finished := f.seed(t, -5, -1, confirmed)
	ongoing := f.seed(t, -1, 2, confirmed)

	report, err := f.sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Completed != 1 {
		t.Fatalf("expected one completion, got %+v", report)
	}
	b, _ := f.bookings.ByID(ctx, finished)
	if b.Status != domainbooking.StatusCompleted {
		t.Fatalf("expected completed, got %s", b.Status)
	}
	o, _ := f.bookings.ByID(ctx, ongoing)
	if o.Status != domainbooking.StatusConfirmed {
		t.Fatalf("ongoing stay must stay confirmed, got %s", o.Status)
	}
}

func TestRunOnceExportsPaymentIssues(t *testing.T) {
	f := newSweepFixture(t)
	f.prop.DepositBasisPoints = 2000
	flagged := f.seed(t, 30, 33, func(b *domainbooking.Booking) {
		_ = b.AttachHold("hold_0001", testNow)
		_ = b.Approve("", testNow)
		b.CaptureFailed("insufficient_funds", testNow)
	})

	report, err := f.sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.PaymentIssues != 1 || report.ExportLocation == "" {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(f.exporter.rows) != 1 {
		t.Fatalf("expected one exported row, got %d", len(f.exporter.rows))
	}
	row := f.exporter.rows[0]
	if row.BookingID != string(flagged) || row.Issue != string(domainbooking.IssueCaptureFailed) || row.Reason != "insufficient_funds" {
		t.Fatalf("unexpected row %+v", row)
	}
}

func TestRunOnceStopsOnCancelledContext(t *testing.T) {
	f := newSweepFixture(t)
	f.seed(t, 1, 2, approved)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.sweeper.RunOnce(ctx); err == nil {
		t.Fatalf("expected cancellation error")
	}
}
