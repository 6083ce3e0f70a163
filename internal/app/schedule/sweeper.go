package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"staybook/internal/app/handlers/support"
	"staybook/internal/app/outbox"
	"staybook/internal/app/policies"
	"staybook/internal/app/uow"
	domainaccess "staybook/internal/domain/access"
	domainbooking "staybook/internal/domain/booking"
	domainproperty "staybook/internal/domain/property"
)

const (
	defaultInterval      = 24 * time.Hour
	defaultPreStayWindow = 72 * time.Hour
	defaultConcurrency   = 4
	maxMarkTry           = 3
)

var ErrSweeperNotConfigured = errors.New("schedule: sweeper missing dependencies")

type CredentialAssigner interface {
	Assign(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error)
}

// Report summarizes one pass.
type Report struct {
	PreStayProcessed int
	PreStayFailed    int
	Completed        int
	PaymentIssues    int
	ExportLocation   string
}

// Sweeper runs the periodic booking maintenance: pre-stay credential
// assignment, automatic completion and the payment issue export. Every booking
// is handled on its own, so an interrupted pass resumes where it stopped.
type Sweeper struct {
	UoWFactory    uow.UoWFactory
	Assigner      CredentialAssigner
	Outbox        outbox.Outbox
	Encoder       outbox.EventEncoder
	Exporter      policies.ReconciliationExporter
	Interval      time.Duration
	PreStayWindow time.Duration
	Concurrency   int
	Logger        *slog.Logger
	Clock         support.Clock
}

// Run sweeps immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.UoWFactory == nil {
		return ErrSweeperNotConfigured
	}
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()
	for {
		report, err := s.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger().Error("sweep failed", "error", err)
		} else if err == nil {
			s.logger().Info("sweep finished",
				"pre_stay_processed", report.PreStayProcessed,
				"pre_stay_failed", report.PreStayFailed,
				"completed", report.Completed,
				"payment_issues", report.PaymentIssues,
				"export", report.ExportLocation)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	var report Report
	if s.UoWFactory == nil {
		return report, ErrSweeperNotConfigured
	}
	now := s.Clock.Now()

	processed, failed, err := s.preStay(ctx, now)
	report.PreStayProcessed, report.PreStayFailed = processed, failed
	if err != nil {
		return report, err
	}
	if report.Completed, err = s.complete(ctx, now); err != nil {
		return report, err
	}
	if report.PaymentIssues, report.ExportLocation, err = s.exportIssues(ctx, now); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Sweeper) preStay(ctx context.Context, now time.Time) (int, int, error) {
	due, err := s.read(ctx, func(ctx context.Context, repo domainbooking.Repository) ([]*domainbooking.Booking, error) {
		return repo.DueForPreStay(ctx, now.Add(s.preStayWindow()))
	})
	if err != nil {
		return 0, 0, err
	}
	var processed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency())
	for _, b := range due {
		id := b.ID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := s.prepareStay(gctx, id); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				s.logger().Warn("pre-stay processing failed", "booking_id", id, "error", err)
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(processed.Load()), int(failed.Load()), err
}

// prepareStay assigns the credential and marks the booking. A booking without
// rotation or without codes is still marked; the host hands out access manually.
func (s *Sweeper) prepareStay(ctx context.Context, id domainbooking.BookingID) error {
	if s.Assigner != nil {
		_, err := s.Assigner.Assign(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, domainaccess.ErrNoCredentialAvailable), errors.Is(err, domainproperty.ErrRotationDisabled):
			s.logger().Info("pre-stay without access credential", "booking_id", id, "reason", err)
		default:
			return err
		}
	}
	return s.apply(ctx, id, func(b *domainbooking.Booking, now time.Time) error {
		b.MarkPreStayProcessed(now)
		return nil
	})
}

func (s *Sweeper) complete(ctx context.Context, now time.Time) (int, error) {
	due, err := s.read(ctx, func(ctx context.Context, repo domainbooking.Repository) ([]*domainbooking.Booking, error) {
		return repo.DueForCompletion(ctx, now)
	})
	if err != nil {
		return 0, err
	}
	completed := 0
	for _, b := range due {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		err := s.apply(ctx, b.ID, func(b *domainbooking.Booking, now time.Time) error {
			return b.Complete(now)
		})
		if err != nil {
			s.logger().Warn("auto-complete failed", "booking_id", b.ID, "error", err)
			continue
		}
		completed++
	}
	return completed, nil
}

func (s *Sweeper) exportIssues(ctx context.Context, now time.Time) (int, string, error) {
	flagged, err := s.read(ctx, func(ctx context.Context, repo domainbooking.Repository) ([]*domainbooking.Booking, error) {
		return repo.WithPaymentIssues(ctx)
	})
	if err != nil || len(flagged) == 0 || s.Exporter == nil {
		return len(flagged), "", err
	}
	rows := make([]policies.PaymentIssueRow, 0, len(flagged))
	for _, b := range flagged {
		rows = append(rows, policies.PaymentIssueRow{
			BookingID:        string(b.ID),
			ConfirmationCode: b.ConfirmationCode,
			PropertyID:       string(b.PropertyID),
			Status:           string(b.Status),
			PaymentStatus:    string(b.Payment.Status),
			Issue:            string(b.Payment.Issue),
			Reason:           b.Payment.IssueReason,
			HoldRef:          b.Payment.HoldRef,
			ChargeRef:        b.Payment.ChargeRef,
			DepositMinor:     b.Price.Deposit.Amount,
			Currency:         b.Price.Deposit.Currency,
			UpdatedAt:        b.UpdatedAt,
		})
	}
	location, err := s.Exporter.Export(ctx, now, rows)
	if err != nil {
		s.logger().Warn("payment issue export failed", "rows", len(rows), "error", err)
		return len(rows), "", nil
	}
	return len(rows), location, nil
}

func (s *Sweeper) read(ctx context.Context, fn func(context.Context, domainbooking.Repository) ([]*domainbooking.Booking, error)) ([]*domainbooking.Booking, error) {
	unit, execCtx, cleanup, err := support.BeginReadOnlyUnit(ctx, s.UoWFactory)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	return fn(execCtx, unit.Bookings())
}

func (s *Sweeper) apply(ctx context.Context, id domainbooking.BookingID, mutate func(*domainbooking.Booking, time.Time) error) error {
	var err error
	for attempt := 0; attempt < maxMarkTry; attempt++ {
		err = support.InUnit(ctx, s.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) error {
			b, err := unit.Bookings().ByID(ctx, id)
			if err != nil {
				return err
			}
			if err := mutate(b, s.Clock.Now()); err != nil {
				return err
			}
			if err := unit.Bookings().Save(ctx, b); err != nil {
				return err
			}
			if s.Outbox == nil {
				return nil
			}
			return outbox.Drain(ctx, s.Outbox, s.Encoder, b)
		})
		if !errors.Is(err, domainbooking.ErrConcurrentUpdate) {
			break
		}
	}
	if err != nil {
		return err
	}
	if s.Outbox != nil {
		return s.Outbox.Flush(context.WithoutCancel(ctx))
	}
	return nil
}

func (s *Sweeper) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return defaultInterval
}

func (s *Sweeper) preStayWindow() time.Duration {
	if s.PreStayWindow > 0 {
		return s.PreStayWindow
	}
	return defaultPreStayWindow
}

func (s *Sweeper) concurrency() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	return defaultConcurrency
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
