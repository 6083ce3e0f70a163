package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domainaccess "staybook/internal/domain/access"
	domainavailability "staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/domain/pricing"
	domainproperty "staybook/internal/domain/property"
	"staybook/internal/domain/shared/daterange"
	"staybook/internal/domain/shared/money"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleBooking(t *testing.T, id, code string, from, to int) *domainbooking.Booking {
	t.Helper()
	p := &domainproperty.Property{
		ID: "prop-1", Host: "host-1", Name: "Loft",
		NightlyRate: money.Must(10000, "USD"), CleaningFee: money.Must(0, "USD"),
		MinNights: 1, DepositBasisPoints: 0,
	}
	dr, err := daterange.New(now.AddDate(0, 0, from), now.AddDate(0, 0, to))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	price, err := pricing.RateCardCalculator{}.Quote(context.Background(), pricing.QuoteInput{Property: p, Range: dr, Guests: 1})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	b, err := domainbooking.NewBooking(domainbooking.CreateParams{
		ID: domainbooking.BookingID(id), ConfirmationCode: code, Property: p, Range: dr,
		Guests: 1, Guest: domainbooking.Guest{Name: "Ana", Email: "ana@example.com"}, Price: price, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	return b
}

func TestInsertRejectsOverlapAndDuplicateCode(t *testing.T) {
	repo := NewBookingRepository()
	ctx := context.Background()
	if err := repo.Insert(ctx, sampleBooking(t, "b1", "SB-AAAAAAAA", 5, 8)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := repo.Insert(ctx, sampleBooking(t, "b2", "SB-BBBBBBBB", 7, 9))
	if !errors.Is(err, domainavailability.ErrDateConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := repo.Insert(ctx, sampleBooking(t, "b3", "SB-AAAAAAAA", 10, 12)); !errors.Is(err, domainbooking.ErrDuplicateConfirmationCode) {
		t.Fatalf("expected duplicate code, got %v", err)
	}
	if err := repo.Insert(ctx, sampleBooking(t, "b4", "SB-CCCCCCCC", 8, 10)); err != nil {
		t.Fatalf("back-to-back insert: %v", err)
	}
}

func TestSaveDetectsStaleVersion(t *testing.T) {
	repo := NewBookingRepository()
	ctx := context.Background()
	b := sampleBooking(t, "b1", "SB-AAAAAAAA", 5, 8)
	if err := repo.Insert(ctx, b); err != nil {
		t.Fatalf("insert: %v", err)
	}
	first, _ := repo.ByID(ctx, "b1")
	second, _ := repo.ByID(ctx, "b1")
	if err := first.Approve("", now); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := second.Decline("", now); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if err := repo.Save(ctx, second); !errors.Is(err, domainbooking.ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
	stored, _ := repo.ByID(ctx, "b1")
	if stored.Status != domainbooking.StatusApproved {
		t.Fatalf("stale write applied: %s", stored.Status)
	}
}

func TestReadsAreIsolated(t *testing.T) {
	repo := NewBookingRepository()
	ctx := context.Background()
	_ = repo.Insert(ctx, sampleBooking(t, "b1", "SB-AAAAAAAA", 5, 8))
	b, _ := repo.ByID(ctx, "b1")
	b.Status = domainbooking.StatusCancelled
	again, _ := repo.ByConfirmationCode(ctx, "sb-aaaaaaaa")
	if again.Status != domainbooking.StatusRequested {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestAttachCredentialOnlyOnce(t *testing.T) {
	repo := NewBookingRepository()
	ctx := context.Background()
	_ = repo.Insert(ctx, sampleBooking(t, "b1", "SB-AAAAAAAA", 5, 8))
	b, _ := repo.ByID(ctx, "b1")
	_ = b.Approve("", now)
	_ = repo.Save(ctx, b)

	one, _ := repo.ByID(ctx, "b1")
	two, _ := repo.ByID(ctx, "b1")
	_ = one.AssignCredential(domainaccess.Credential{ID: "c1", Code: "1111"}, now)
	_ = two.AssignCredential(domainaccess.Credential{ID: "c2", Code: "2222"}, now)
	if err := repo.AttachCredential(ctx, one); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := repo.AttachCredential(ctx, two); !errors.Is(err, domainbooking.ErrCredentialAlreadyAssigned) {
		t.Fatalf("expected ErrCredentialAlreadyAssigned, got %v", err)
	}
	stored, _ := repo.ByID(ctx, "b1")
	if stored.CredentialID != "c1" {
		t.Fatalf("credential overwritten: %s", stored.CredentialID)
	}
}

func TestUpdatePaymentLeavesStatusAlone(t *testing.T) {
	repo := NewBookingRepository()
	ctx := context.Background()
	_ = repo.Insert(ctx, sampleBooking(t, "b1", "SB-AAAAAAAA", 5, 8))
	b, _ := repo.ByID(ctx, "b1")
	b.Status = domainbooking.StatusCancelled
	b.Payment.HoldRef = "hold-1"
	if err := repo.UpdatePayment(ctx, b); err != nil {
		t.Fatalf("update payment: %v", err)
	}
	stored, _ := repo.ByID(ctx, "b1")
	if stored.Status != domainbooking.StatusRequested || stored.Payment.HoldRef != "hold-1" {
		t.Fatalf("unexpected stored booking %s/%s", stored.Status, stored.Payment.HoldRef)
	}
	if b.Version != stored.Version {
		t.Fatalf("caller version not refreshed: %d vs %d", b.Version, stored.Version)
	}
}

func TestAdvanceCursorConcurrent(t *testing.T) {
	repo := NewCredentialRepository()
	ctx := context.Background()
	const k = 5
	const rounds = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	counts := make(map[int]int)
	for i := 0; i < k*rounds; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := repo.AdvanceCursor(ctx, "prop-1", k)
			if err != nil {
				t.Errorf("advance: %v", err)
				return
			}
			mu.Lock()
			counts[slot]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	for slot := 0; slot < k; slot++ {
		if counts[slot] != rounds {
			t.Fatalf("slot %d used %d times, want %d", slot, counts[slot], rounds)
		}
	}
}

func TestCursorSurvivesShrinkingActiveSet(t *testing.T) {
	repo := NewCredentialRepository()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = repo.AdvanceCursor(ctx, "prop-1", 4)
	}
	slot, err := repo.AdvanceCursor(ctx, "prop-1", 2)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if slot != 1 {
		t.Fatalf("expected slot 1 after shrinking, got %d", slot)
	}
	if _, err := repo.AdvanceCursor(ctx, "prop-1", 0); !errors.Is(err, domainaccess.ErrNoCredentialAvailable) {
		t.Fatalf("expected ErrNoCredentialAvailable, got %v", err)
	}
}

func TestLockerSerializesAndHonoursContext(t *testing.T) {
	l := NewLocker()
	unlock, err := l.Lock(context.Background(), "property:1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "property:1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	other, err := l.Lock(context.Background(), "property:2")
	if err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
	_ = other(context.Background())
	_ = unlock(context.Background())
	_ = unlock(context.Background())
	again, err := l.Lock(context.Background(), "property:1")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	_ = again(context.Background())
}
