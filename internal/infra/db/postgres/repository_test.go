package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	domainaccess "staybook/internal/domain/access"
	domainavailability "staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	domainpricing "staybook/internal/domain/pricing"
	domainproperty "staybook/internal/domain/property"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := openDialector(postgres.New(postgres.Config{Conn: sqlDB}), nil)
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	return db, mock
}

func sampleBooking() *domainbooking.Booking {
	checkIn := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	usd := func(v int64) money.Money { return money.Must(v, "USD") }
	return &domainbooking.Booking{
		ID:               "bk-1",
		ConfirmationCode: "SB-ABCDEFGH",
		PropertyID:       "prop-1",
		HostID:           "host-1",
		PropertyName:     "Lake House",
		Range:            daterange.DateRange{CheckIn: checkIn, CheckOut: checkIn.AddDate(0, 0, 4)},
		Nights:           4,
		Guests:           2,
		Guest:            domainbooking.Guest{Name: "Ana", Email: "ana@example.com"},
		Price: domainpricing.PriceBreakdown{
			Nights:             4,
			Nightly:            usd(17500),
			Base:               usd(70000),
			Fees:               []domainpricing.Fee{{Name: "cleaning", Amount: usd(10000)}},
			Total:              usd(80000),
			DepositBasisPoints: 1000,
			Deposit:            usd(8000),
			Balance:            usd(72000),
		},
		Status:    domainbooking.StatusRequested,
		Payment:   domainbooking.Payment{Status: domainbooking.PaymentPending},
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Version:   1,
	}
}

func TestBookingInsertMapsConstraintViolations(t *testing.T) {
	cases := []struct {
		name string
		code string
		want error
	}{
		{name: "overlap", code: pgExclusionViolation, want: domainavailability.ErrDateConflict},
		{name: "duplicate code", code: pgUniqueViolation, want: domainbooking.ErrDuplicateConfirmationCode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectExec(`INSERT INTO "bookings"`).WillReturnError(&pgconn.PgError{Code: tc.code})

			err := NewBookingRepository(db).Insert(context.Background(), sampleBooking())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("expectations: %v", err)
			}
		})
	}
}

func TestBookingSaveDetectsStaleVersion(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE "bookings" SET`).WillReturnResult(sqlmock.NewResult(0, 0))

	b := sampleBooking()
	err := NewBookingRepository(db).Save(context.Background(), b)
	if !errors.Is(err, domainbooking.ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
	if b.Version != 1 {
		t.Fatalf("version must not move on a failed save, got %d", b.Version)
	}
}

func TestBookingSaveBumpsVersion(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(`UPDATE "bookings" SET .+ WHERE id = \$\d+ AND version = \$\d+`).WillReturnResult(sqlmock.NewResult(0, 1))

	b := sampleBooking()
	if err := NewBookingRepository(db).Save(context.Background(), b); err != nil {
		t.Fatalf("save: %v", err)
	}
	if b.Version != 2 {
		t.Fatalf("expected version 2, got %d", b.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBookingByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "bookings" WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewBookingRepository(db).ByID(context.Background(), "missing")
	if !errors.Is(err, domainbooking.ErrBookingNotFound) {
		t.Fatalf("expected ErrBookingNotFound, got %v", err)
	}
}

func TestBookingActiveOverlappingMapsRows(t *testing.T) {
	db, mock := newMockDB(t)
	checkIn := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "confirmation_code", "property_id", "check_in", "check_out", "nights", "status",
		"payment_status", "currency", "nightly_amount", "base_amount", "fees", "total_amount",
		"deposit_amount", "balance_amount", "version",
	}).AddRow(
		"bk-9", "SB-QWERTYUP", "prop-1", checkIn, checkIn.AddDate(0, 0, 3), 3, "approved",
		"partial", "USD", 10000, 30000, []byte(`[{"name":"cleaning","amount":5000}]`), 35000,
		3500, 31500, 4,
	)
	mock.ExpectQuery(`SELECT \* FROM "bookings" WHERE .*property_id = \$1`).WillReturnRows(rows)

	dr := daterange.DateRange{CheckIn: checkIn.AddDate(0, 0, 1), CheckOut: checkIn.AddDate(0, 0, 5)}
	got, err := NewBookingRepository(db).ActiveOverlapping(context.Background(), "prop-1", dr)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one booking, got %d", len(got))
	}
	b := got[0]
	if b.Status != domainbooking.StatusApproved || b.Version != 4 || !b.Range.Overlaps(dr) {
		t.Fatalf("unexpected booking %+v", b)
	}
	if len(b.Price.Fees) != 1 || b.Price.Fees[0].Amount != money.Must(5000, "USD") {
		t.Fatalf("fees not decoded: %+v", b.Price.Fees)
	}
}

func TestBookingAttachCredentialAlreadyAssigned(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE bookings SET credential_id`)).WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectQuery(`SELECT \* FROM "bookings" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "currency", "credential_id"}).AddRow("bk-1", "approved", "USD", "cred-2"))

	b := sampleBooking()
	b.CredentialID = "cred-1"
	b.CredentialCode = "1111"
	err := NewBookingRepository(db).AttachCredential(context.Background(), b)
	if !errors.Is(err, domainbooking.ErrCredentialAlreadyAssigned) {
		t.Fatalf("expected ErrCredentialAlreadyAssigned, got %v", err)
	}
}

func TestCredentialAdvanceCursor(t *testing.T) {
	cases := []struct {
		stored int
		count  int
		want   int
	}{
		{stored: 1, count: 3, want: 0},
		{stored: 2, count: 3, want: 1},
		{stored: 0, count: 3, want: 2},
		{stored: 0, count: 1, want: 0},
	}
	for _, tc := range cases {
		db, mock := newMockDB(t)
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO rotation_cursors`)).
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(tc.stored))

		got, err := NewCredentialRepository(db).AdvanceCursor(context.Background(), "prop-1", tc.count)
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		if got != tc.want {
			t.Errorf("stored %d of %d: slot %d, want %d", tc.stored, tc.count, got, tc.want)
		}
	}
}

func TestCredentialAdvanceCursorWithoutCredentials(t *testing.T) {
	db, _ := newMockDB(t)
	_, err := NewCredentialRepository(db).AdvanceCursor(context.Background(), "prop-1", 0)
	if !errors.Is(err, domainaccess.ErrNoCredentialAvailable) {
		t.Fatalf("expected ErrNoCredentialAvailable, got %v", err)
	}
}

func TestPropertyByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "properties" WHERE id = \$1`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewPropertyRepository(db).ByID(context.Background(), domainproperty.PropertyID("nope"))
	if !errors.Is(err, domainproperty.ErrPropertyNotFound) {
		t.Fatalf("expected ErrPropertyNotFound, got %v", err)
	}
}

func TestOutboxClaimDecodesEnvelopes(t *testing.T) {
	db, mock := newMockDB(t)
	occurred := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE app_outbox SET state`)).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "payload", "occurred_at", "aggregate", "headers", "attempts"}).
			AddRow("ev-1", "booking.approved", []byte(`{"booking_id":"bk-1"}`), occurred, "bk-1", []byte(`{"traceparent":"00-a-b-01"}`), 2),
	)

	got, err := NewOutboxStore(db).Claim(context.Background(), "worker-1", 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one envelope, got %d", len(got))
	}
	if got[0].Record.Name != "booking.approved" || got[0].Attempts != 2 || got[0].Record.Headers["traceparent"] != "00-a-b-01" {
		t.Fatalf("unexpected envelope %+v", got[0])
	}
}
