package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"staybook/internal/app/dto"
	accesshandlers "staybook/internal/app/handlers/access"
	appoutbox "staybook/internal/app/outbox"
	"staybook/internal/app/payments"
	"staybook/internal/app/policies"
	domainaccess "staybook/internal/domain/access"
	domainavailability "staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/domain/pricing"
	domainproperty "staybook/internal/domain/property"
	"staybook/internal/domain/shared/money"
	"staybook/internal/infra/payments/fake"
	"staybook/internal/infra/storage/memory"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type eventLog struct {
	mu      sync.Mutex
	records []appoutbox.EventRecord
}

func (l *eventLog) relay(_ context.Context, rec appoutbox.EventRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

func (l *eventLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r.Name)
	}
	return out
}

func (l *eventLog) last(name string) (appoutbox.EventRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].Name == name {
			return l.records[i], true
		}
	}
	return appoutbox.EventRecord{}, false
}

type scenario struct {
	workflow *Workflow
	request  *RequestBookingHandler
	approve  *ApproveBookingHandler
	decline  *DeclineBookingHandler
	settle   *SettleBalanceHandler
	deposit  *RecordDepositHandler
	cancel   *GuestCancelBookingHandler
	lookup   *LookupBookingHandler
	list     *ListHostBookingsHandler
	gateway  *fake.Gateway
	bookings *memory.BookingRepository
	creds    *memory.CredentialRepository
	box      *memory.Outbox
	events   *eventLog
}

func newScenario(t *testing.T, depositBPS, credentials int) *scenario {
	t.Helper()
	factory, props, creds, bookings := memory.NewStore()
	ctx := context.Background()
	prop := &domainproperty.Property{
		ID: "prop-1", Host: "host-1", HostEmail: "host@example.com", Name: "Harbour Loft",
		NightlyRate: money.Must(17500, "USD"), CleaningFee: money.Must(10000, "USD"),
		MinNights: 1, MaxNights: 14, DepositBasisPoints: depositBPS, RotationEnabled: true,
	}
	if err := props.Save(ctx, prop); err != nil {
		t.Fatalf("seed property: %v", err)
	}
	for i := 0; i < credentials; i++ {
		c := &domainaccess.Credential{
			ID: domainaccess.CredentialID(fmt.Sprintf("cred-%d", i)), PropertyID: prop.ID,
			Index: i, Code: fmt.Sprintf("10%02d", i), Active: true,
		}
		if err := creds.Save(ctx, c); err != nil {
			t.Fatalf("seed credential: %v", err)
		}
	}

	clock := func() time.Time { return testNow }
	events := &eventLog{}
	box := memory.NewOutbox(events.relay)
	gw := fake.NewGateway()
	locker := memory.NewLocker()
	encoder := appoutbox.JSONEventEncoder{}
	orch := &payments.Orchestrator{Gateway: gw, UoWFactory: factory, Timeout: time.Second, Clock: clock}
	assigner := &accesshandlers.Assigner{UoWFactory: factory, Locker: locker, Outbox: box, Encoder: encoder, Clock: clock}
	wf := &Workflow{
		UoWFactory:    factory,
		Outbox:        box,
		Encoder:       encoder,
		Payments:      orch,
		Credentials:   assigner,
		PreStayWindow: 72 * time.Hour,
		Clock:         clock,
	}
	return &scenario{
		workflow: wf,
		request:  &RequestBookingHandler{Workflow: wf, Locker: locker, Pricing: pricing.RateCardCalculator{}},
		approve:  &ApproveBookingHandler{Workflow: wf},
		decline:  &DeclineBookingHandler{Workflow: wf},
		settle:   &SettleBalanceHandler{Workflow: wf},
		deposit:  &RecordDepositHandler{Workflow: wf},
		cancel:   &GuestCancelBookingHandler{Workflow: wf},
		lookup:   &LookupBookingHandler{Workflow: wf},
		list:     &ListHostBookingsHandler{UoWFactory: factory},
		gateway:  gw,
		bookings: bookings,
		creds:    creds,
		box:      box,
		events:   events,
	}
}

func (s *scenario) requestStay(t *testing.T, fromDay, nights int) *RequestBookingResult {
	t.Helper()
	res, err := s.request.Handle(context.Background(), s.stay(fromDay, nights))
	if err != nil {
		t.Fatalf("request booking: %v", err)
	}
	return res
}

func (s *scenario) stay(fromDay, nights int) RequestBookingCommand {
	return RequestBookingCommand{
		PropertyID: "prop-1",
		CheckIn:    testNow.AddDate(0, 0, fromDay),
		CheckOut:   testNow.AddDate(0, 0, fromDay+nights),
		Guests:     2,
		GuestName:  "Ana Silva",
		GuestEmail: "ana@example.com",
		CardToken:  "tokn_test",
	}
}

func (s *scenario) stored(t *testing.T, id string) *domainbooking.Booking {
	t.Helper()
	b, err := s.bookings.ByID(context.Background(), domainbooking.BookingID(id))
	if err != nil {
		t.Fatalf("load booking: %v", err)
	}
	return b
}

func (s *scenario) flush(t *testing.T) {
	t.Helper()
	if err := s.box.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestHappyPath(t *testing.T) {
	s := newScenario(t, 1000, 0)
	ctx := context.Background()

	res := s.requestStay(t, 10, 4)
	if res.Booking.Amounts.Total.Amount != 80000 || res.Booking.Amounts.Deposit.Amount != 8000 || res.Booking.Amounts.Balance.Amount != 72000 {
		t.Fatalf("unexpected amounts %+v", res.Booking.Amounts)
	}
	if res.Booking.Status != string(domainbooking.StatusRequested) {
		t.Fatalf("expected requested, got %s", res.Booking.Status)
	}
	if b := s.stored(t, res.BookingID); b.Payment.HoldRef == "" {
		t.Fatalf("expected an open hold")
	}

	approved, err := s.approve.Handle(ctx, ApproveBookingCommand{HostID: "host-1", BookingID: res.BookingID})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.PaymentOutcome != dto.OutcomeCaptured {
		t.Fatalf("expected captured, got %s", approved.PaymentOutcome)
	}
	if approved.Booking.Payment.Status != string(domainbooking.PaymentPartial) || approved.Booking.Payment.Issue != "" {
		t.Fatalf("unexpected payment %+v", approved.Booking.Payment)
	}

	confirmed, err := s.settle.Handle(ctx, SettleBalanceCommand{HostID: "host-1", BookingID: res.BookingID, Method: "cash"})
	if err != nil {
		t.Fatalf("settle balance: %v", err)
	}
	if confirmed.Booking.Status != string(domainbooking.StatusConfirmed) || confirmed.Booking.Payment.Status != string(domainbooking.PaymentPaid) {
		t.Fatalf("unexpected state %s/%s", confirmed.Booking.Status, confirmed.Booking.Payment.Status)
	}

	s.flush(t)
	want := []string{"booking.requested", "booking.approved", "booking.confirmed"}
	got := s.events.names()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	if err := s.stored(t, res.BookingID).Price.CheckConservation(); err != nil {
		t.Fatalf("money not conserved: %v", err)
	}
}

func TestConcurrentRequestsBookOnce(t *testing.T) {
	s := newScenario(t, 1000, 0)
	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		other     []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.request.Handle(context.Background(), s.stay(5, 3))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domainavailability.ErrDateConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || conflicts != n-1 || len(other) != 0 {
		t.Fatalf("successes=%d conflicts=%d other=%v", successes, conflicts, other)
	}
}

func TestApproveIsOneShot(t *testing.T) {
	s := newScenario(t, 1000, 0)
	ctx := context.Background()
	res := s.requestStay(t, 10, 4)
	cmd := ApproveBookingCommand{HostID: "host-1", BookingID: res.BookingID}
	if _, err := s.approve.Handle(ctx, cmd); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := s.approve.Handle(ctx, cmd)
	var te *domainbooking.TransitionError
	if !errors.As(err, &te) || te.Current != domainbooking.StatusApproved {
		t.Fatalf("expected transition error from approved, got %v", err)
	}
	if calls := s.gateway.Calls(fake.OpCapture); calls != 1 {
		t.Fatalf("expected one capture, got %d", calls)
	}
}

func TestApproveRequiresOwnership(t *testing.T) {
	s := newScenario(t, 1000, 0)
	res := s.requestStay(t, 10, 2)
	_, err := s.approve.Handle(context.Background(), ApproveBookingCommand{HostID: "host-2", BookingID: res.BookingID})
	if !errors.Is(err, domainbooking.ErrBookingNotFound) {
		t.Fatalf("expected not found for foreign host, got %v", err)
	}
	if s.stored(t, res.BookingID).Status != domainbooking.StatusRequested {
		t.Fatalf("foreign host must not change the booking")
	}
}

func TestCaptureFailureStillApproves(t *testing.T) {
	s := newScenario(t, 1000, 0)
	ctx := context.Background()
	res := s.requestStay(t, 10, 4)
	s.gateway.FailNext(fake.OpCapture, fmt.Errorf("%w: card expired", policies.ErrGatewayDeclined))

	out, err := s.approve.Handle(ctx, ApproveBookingCommand{HostID: "host-1", BookingID: res.BookingID})
	if err != nil {
		t.Fatalf("approve must succeed despite capture failure: %v", err)
	}
	if out.PaymentOutcome != dto.OutcomeCaptureFailed || out.Notice == "" {
		t.Fatalf("unexpected outcome %q notice %q", out.PaymentOutcome, out.Notice)
	}
	b := s.stored(t, res.BookingID)
	if b.Status != domainbooking.StatusApproved || b.Payment.Status != domainbooking.PaymentPending || b.Payment.Issue != domainbooking.IssueCaptureFailed {
		t.Fatalf("unexpected state %s/%s/%s", b.Status, b.Payment.Status, b.Payment.Issue)
	}

	s.flush(t)
	rec, ok := s.events.last("booking.approved")
	if !ok {
		t.Fatalf("approval event missing")
	}
	var payload struct {
		PaymentIssue string `json:"payment_issue"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.PaymentIssue != string(domainbooking.IssueCaptureFailed) {
		t.Fatalf("expected payment issue in event, got %q", payload.PaymentIssue)
	}

	reconciled, err := s.deposit.Handle(ctx, RecordDepositCommand{HostID: "host-1", BookingID: res.BookingID, Method: "bank_transfer"})
	if err != nil {
		t.Fatalf("record deposit: %v", err)
	}
	if reconciled.Booking.Payment.Issue != "" || reconciled.Booking.Payment.Status != string(domainbooking.PaymentPartial) {
		t.Fatalf("reconciliation left %+v", reconciled.Booking.Payment)
	}
	if !s.gateway.Released(b.Payment.HoldRef) {
		t.Fatalf("uncaptured hold should be released after manual deposit")
	}
}

// lostCapture loses the capture outcome, as when the payment write fails.
type lostCapture struct {
	Payments
}

func (lostCapture) Capture(context.Context, domainbooking.BookingID) (*domainbooking.Booking, error) {
	return nil, errors.New("write payment: connection refused")
}

func TestApprovalAnnouncedWhenCaptureOutcomeLost(t *testing.T) {
	s := newScenario(t, 1000, 0)
	ctx := context.Background()
	res := s.requestStay(t, 10, 4)
	s.workflow.Payments = lostCapture{Payments: s.workflow.Payments}

	if _, err := s.approve.Handle(ctx, ApproveBookingCommand{HostID: "host-1", BookingID: res.BookingID}); err == nil {
		t.Fatal("expected the storage error to surface")
	}
	b := s.stored(t, res.BookingID)
	if b.Status != domainbooking.StatusApproved || b.Payment.Issue != domainbooking.IssueCapturePending {
		t.Fatalf("unexpected state %s/%s", b.Status, b.Payment.Issue)
	}

	s.flush(t)
	rec, ok := s.events.last("booking.approved")
	if !ok {
		t.Fatalf("approval event missing, got %v", s.events.names())
	}
	var payload struct {
		PaymentIssue string `json:"payment_issue"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.PaymentIssue != string(domainbooking.IssueCapturePending) {
		t.Fatalf("expected capture_pending in event, got %q", payload.PaymentIssue)
	}
}

func TestDeclineReleasesHold(t *testing.T) {
	s := newScenario(t, 1000, 0)
	res := s.requestStay(t, 10, 3)
	holdRef := s.stored(t, res.BookingID).Payment.HoldRef

	out, err := s.decline.Handle(context.Background(), DeclineBookingCommand{HostID: "host-1", BookingID: res.BookingID, Reason: "maintenance"})
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if out.PaymentOutcome != dto.OutcomeReleased {
		t.Fatalf("expected released, got %s", out.PaymentOutcome)
	}
	if !s.gateway.Released(holdRef) || s.gateway.Calls(fake.OpCapture) != 0 {
		t.Fatalf("hold must be released without a charge")
	}
	b := s.stored(t, res.BookingID)
	if b.Status != domainbooking.StatusDeclined || b.HostMessage != "maintenance" || b.Payment.HasIssue() {
		t.Fatalf("unexpected booking %+v", b)
	}
	// the dates are free again
	s.requestStay(t, 10, 3)
}

func TestHoldFailureCancelsRequest(t *testing.T) {
	s := newScenario(t, 1000, 0)
	s.gateway.FailNext(fake.OpOpenHold, errors.New("connection reset"))

	_, err := s.request.Handle(context.Background(), s.stay(10, 2))
	if !errors.Is(err, payments.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	all, _ := s.bookings.List(context.Background(), domainbooking.Filter{PropertyID: "prop-1"})
	if len(all) != 1 || all[0].Status != domainbooking.StatusCancelled || all[0].CancelReason != domainbooking.ReasonPaymentHoldFailed {
		t.Fatalf("expected one cancelled booking, got %+v", all)
	}
	s.requestStay(t, 10, 2)
}

func TestGuestCancelRefundsDeposit(t *testing.T) {
	s := newScenario(t, 1000, 0)
	ctx := context.Background()
	res := s.requestStay(t, 10, 4)
	if _, err := s.approve.Handle(ctx, ApproveBookingCommand{HostID: "host-1", BookingID: res.BookingID}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err := s.cancel.Handle(ctx, GuestCancelBookingCommand{ConfirmationCode: res.Booking.ConfirmationCode, Email: "someone@example.com"})
	if !errors.Is(err, domainbooking.ErrBookingNotFound) {
		t.Fatalf("wrong email must read as not found, got %v", err)
	}

	out, err := s.cancel.Handle(ctx, GuestCancelBookingCommand{ConfirmationCode: res.Booking.ConfirmationCode, Email: "ANA@example.com", Reason: "flight cancelled"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.PaymentOutcome != dto.OutcomeRefunded || out.Booking.PaymentStatus != string(domainbooking.PaymentRefunded) {
		t.Fatalf("unexpected outcome %s / %s", out.PaymentOutcome, out.Booking.PaymentStatus)
	}
	if s.gateway.Calls(fake.OpRefund) != 1 {
		t.Fatalf("expected one refund")
	}
}

func TestLookupIsRedacted(t *testing.T) {
	s := newScenario(t, 1000, 0)
	res := s.requestStay(t, 10, 2)
	view, err := s.lookup.Handle(context.Background(), LookupBookingQuery{ConfirmationCode: " " + res.Booking.ConfirmationCode, Email: "ANA@example.com"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if view.ConfirmationCode != res.Booking.ConfirmationCode || view.Status != string(domainbooking.StatusRequested) {
		t.Fatalf("unexpected view %+v", view)
	}
	if _, err := s.lookup.Handle(context.Background(), LookupBookingQuery{ConfirmationCode: "SB-ZZZZZZZZ", Email: "ana@example.com"}); !errors.Is(err, domainbooking.ErrBookingNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLookupNeedsGuestEmailForAccessCode(t *testing.T) {
	s := newScenario(t, 0, 1)
	ctx := context.Background()
	res := s.requestStay(t, 10, 2)
	if _, err := s.approve.Handle(ctx, ApproveBookingCommand{HostID: "host-1", BookingID: res.BookingID}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	code := res.Booking.ConfirmationCode
	for _, email := range []string{"", "mallory@example.com"} {
		if _, err := s.lookup.Handle(ctx, LookupBookingQuery{ConfirmationCode: code, Email: email}); !errors.Is(err, domainbooking.ErrBookingNotFound) {
			t.Fatalf("email %q: expected not found, got %v", email, err)
		}
	}
	view, err := s.lookup.Handle(ctx, LookupBookingQuery{ConfirmationCode: code, Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if view.AccessCode == "" {
		t.Fatalf("guest should see the access code once approved, got %+v", view)
	}
}

func TestRotationCoversEveryCredential(t *testing.T) {
	const k = 3
	s := newScenario(t, 0, k)
	s.workflow.PreStayWindow = 60 * 24 * time.Hour
	ctx := context.Background()

	seen := make(map[domainaccess.CredentialID]int)
	for i := 0; i < 2*k; i++ {
		res := s.requestStay(t, 1+2*i, 2)
		out, err := s.approve.Handle(ctx, ApproveBookingCommand{HostID: "host-1", BookingID: res.BookingID})
		if err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
		if out.Booking.CredentialID == "" {
			t.Fatalf("booking %d got no credential", i)
		}
		seen[domainaccess.CredentialID(out.Booking.CredentialID)]++
	}
	if len(seen) != k {
		t.Fatalf("expected all %d credentials used, got %v", k, seen)
	}
	for id, n := range seen {
		if n != 2 {
			t.Fatalf("credential %s used %d times, want 2", id, n)
		}
	}
}

func TestConcurrentApprovalsNeverShareCredential(t *testing.T) {
	const k = 4
	s := newScenario(t, 0, k)
	s.workflow.PreStayWindow = 60 * 24 * time.Hour
	ctx := context.Background()

	ids := make([]string, 0, k)
	for i := 0; i < k; i++ {
		ids = append(ids, s.requestStay(t, 1+3*i, 2).BookingID)
	}
	var wg sync.WaitGroup
	errs := make(chan error, k)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := s.approve.Handle(ctx, ApproveBookingCommand{HostID: "host-1", BookingID: id}); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("approve: %v", err)
	}
	seen := make(map[domainaccess.CredentialID]bool)
	for _, id := range ids {
		b := s.stored(t, id)
		if b.CredentialID == "" || seen[b.CredentialID] {
			t.Fatalf("credential %q missing or reused", b.CredentialID)
		}
		seen[b.CredentialID] = true
	}
}

func TestListHostBookingsFiltersByStatus(t *testing.T) {
	s := newScenario(t, 1000, 0)
	ctx := context.Background()
	first := s.requestStay(t, 10, 2)
	s.requestStay(t, 20, 2)
	if _, err := s.decline.Handle(ctx, DeclineBookingCommand{HostID: "host-1", BookingID: first.BookingID}); err != nil {
		t.Fatalf("decline: %v", err)
	}

	requested, err := s.list.Handle(ctx, ListHostBookingsQuery{HostID: "host-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(requested.Items) != 1 {
		t.Fatalf("expected one requested booking, got %d", len(requested.Items))
	}
	all, err := s.list.Handle(ctx, ListHostBookingsQuery{HostID: "host-1", Status: "all"})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all.Items) != 2 {
		t.Fatalf("expected two bookings, got %d", len(all.Items))
	}
	foreign, err := s.list.Handle(ctx, ListHostBookingsQuery{HostID: "host-2", Status: "all"})
	if err != nil || len(foreign.Items) != 0 {
		t.Fatalf("foreign host sees %d bookings (err %v)", len(foreign.Items), err)
	}
	if _, err := s.list.Handle(ctx, ListHostBookingsQuery{HostID: "host-1", Status: "bogus"}); err == nil {
		t.Fatalf("expected validation error for unknown status")
	}
}
