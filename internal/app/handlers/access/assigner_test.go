package access

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	appoutbox "staybook/internal/app/outbox"
	domainaccess "staybook/internal/domain/access"
	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/domain/pricing"
	domainproperty "staybook/internal/domain/property"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
	"staybook/internal/infra/storage/memory"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	assigner   *Assigner
	deactivate *DeactivateCredentialHandler
	props      *memory.PropertyRepository
	creds      *memory.CredentialRepository
	bookings   *memory.BookingRepository
	prop       *domainproperty.Property
	seq        int
}

func newFixture(t *testing.T, rotation bool, credentials int) *fixture {
	t.Helper()
	factory, props, creds, bookings := memory.NewStore()
	ctx := context.Background()
	prop := &domainproperty.Property{
		ID: "prop-1", Host: "host-1", Name: "Cabin",
		NightlyRate: money.Must(10000, "EUR"), MinNights: 1, RotationEnabled: rotation,
	}
	if err := props.Save(ctx, prop); err != nil {
		t.Fatalf("seed property: %v", err)
	}
	for i := 0; i < credentials; i++ {
		if err := creds.Save(ctx, &domainaccess.Credential{
			ID: domainaccess.CredentialID(fmt.Sprintf("cred-%d", i)), PropertyID: prop.ID,
			Index: i, Code: fmt.Sprintf("%04d", 4000+i), Active: true,
		}); err != nil {
			t.Fatalf("seed credential: %v", err)
		}
	}
	clock := func() time.Time { return testNow }
	return &fixture{
		assigner: &Assigner{
			UoWFactory: factory,
			Locker:     memory.NewLocker(),
			Outbox:     memory.NewOutbox(nil),
			Encoder:    appoutbox.JSONEventEncoder{},
			Clock:      clock,
		},
		deactivate: &DeactivateCredentialHandler{UoWFactory: factory, Clock: clock},
		props:      props,
		creds:      creds,
		bookings:   bookings,
		prop:       prop,
	}
}

func (f *fixture) approvedBooking(t *testing.T) domainbooking.BookingID {
	t.Helper()
	f.seq++
	dr, err := daterange.New(testNow.AddDate(0, 0, 3*f.seq), testNow.AddDate(0, 0, 3*f.seq+2))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	price, err := pricing.RateCardCalculator{}.Quote(context.Background(), pricing.QuoteInput{Property: f.prop, Range: dr, Guests: 1})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	b, err := domainbooking.NewBooking(domainbooking.CreateParams{
		ID:               domainbooking.BookingID(fmt.Sprintf("bk-%d", f.seq)),
		ConfirmationCode: fmt.Sprintf("SB-AAAAAAA%c", "ABCDEFGHJK"[f.seq]),
		Property:         f.prop,
		Range:            dr,
		Guests:           1,
		Guest:            domainbooking.Guest{Name: "Lea", Email: "lea@example.com"},
		Price:            price,
		CreatedAt:        testNow,
	})
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if err := b.Approve("", testNow); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.bookings.Insert(context.Background(), b); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return b.ID
}

func TestAssignIsStable(t *testing.T) {
	f := newFixture(t, true, 2)
	ctx := context.Background()
	id := f.approvedBooking(t)
	first, err := f.assigner.Assign(ctx, id)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	again, err := f.assigner.Assign(ctx, id)
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if first.CredentialID != again.CredentialID || first.CredentialCode != again.CredentialCode {
		t.Fatalf("credential changed: %s -> %s", first.CredentialID, again.CredentialID)
	}
	cred, _ := f.creds.ByID(ctx, first.CredentialID)
	if cred.UsageCount != 1 || !cred.LastUsedAt.Equal(testNow) {
		t.Fatalf("usage not recorded once: %+v", cred)
	}
}

func TestAssignWithoutCredentials(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, true, 0)
	if _, err := f.assigner.Assign(ctx, f.approvedBooking(t)); !errors.Is(err, domainaccess.ErrNoCredentialAvailable) {
		t.Fatalf("expected ErrNoCredentialAvailable, got %v", err)
	}

	disabled := newFixture(t, false, 2)
	if _, err := disabled.assigner.Assign(ctx, disabled.approvedBooking(t)); !errors.Is(err, domainproperty.ErrRotationDisabled) {
		t.Fatalf("expected ErrRotationDisabled, got %v", err)
	}
}

func TestDeactivatedCredentialIsSkipped(t *testing.T) {
	f := newFixture(t, true, 3)
	ctx := context.Background()

	if _, err := f.deactivate.Handle(ctx, DeactivateCredentialCommand{HostID: "host-2", CredentialID: "cred-1"}); !errors.Is(err, domainaccess.ErrCredentialNotFound) {
		t.Fatalf("foreign host must not deactivate, got %v", err)
	}
	res, err := f.deactivate.Handle(ctx, DeactivateCredentialCommand{HostID: "host-1", CredentialID: "cred-1"})
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if res.Active {
		t.Fatalf("credential still active")
	}

	for i := 0; i < 4; i++ {
		b, err := f.assigner.Assign(ctx, f.approvedBooking(t))
		if err != nil {
			t.Fatalf("assign %d: %v", i, err)
		}
		if b.CredentialID == "cred-1" {
			t.Fatalf("deactivated credential handed out")
		}
	}
}
