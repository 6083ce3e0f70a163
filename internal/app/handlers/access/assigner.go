package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"staybook/internal/app/handlers/support"
	"staybook/internal/app/outbox"
	"staybook/internal/app/policies"
	"staybook/internal/app/uow"
	domainaccess "staybook/internal/domain/access"
	domainbooking "staybook/internal/domain/booking"
	domainproperty "staybook/internal/domain/property"
)

// Assigner hands out access credentials round-robin per property. The whole
// select-advance-persist sequence runs under the property lock; the cursor
// advance is atomic in storage as well.
type Assigner struct {
	UoWFactory uow.UoWFactory
	Locker     policies.Locker
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Logger     *slog.Logger
	Clock      support.Clock
}

// Assign returns the booking with its credential. A booking that already has
// one is returned unchanged.
func (a *Assigner) Assign(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	b, prop, err := a.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.HasCredential() {
		return b, nil
	}
	if !prop.RotationEnabled {
		return b, domainproperty.ErrRotationDisabled
	}

	unlock, err := a.Locker.Lock(ctx, policies.PropertyLockKey(string(prop.ID)))
	if err != nil {
		return nil, fmt.Errorf("access: lock property: %w", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			a.logger().Warn("property unlock failed", "property_id", prop.ID, "error", err)
		}
	}()

	var assigned *domainbooking.Booking
	err = support.InUnit(ctx, a.UoWFactory, func(ctx context.Context, unit uow.UnitOfWork) error {
		current, err := unit.Bookings().ByID(ctx, id)
		if err != nil {
			return err
		}
		if current.HasCredential() {
			assigned = current
			return nil
		}
		active, err := unit.Credentials().Active(ctx, prop.ID)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return domainaccess.ErrNoCredentialAvailable
		}
		slot, err := unit.Credentials().AdvanceCursor(ctx, prop.ID, len(active))
		if err != nil {
			return err
		}
		chosen, err := domainaccess.Select(active, slot)
		if err != nil {
			return err
		}
		now := a.Clock.Now()
		if err := current.AssignCredential(chosen, now); err != nil {
			return err
		}
		if err := unit.Credentials().MarkUsed(ctx, chosen.ID, now); err != nil {
			return err
		}
		if err := unit.Bookings().AttachCredential(ctx, current); err != nil {
			return err
		}
		assigned = current
		return outbox.Drain(ctx, a.Outbox, a.Encoder, current)
	})
	if errors.Is(err, domainbooking.ErrCredentialAlreadyAssigned) {
		return a.reload(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	a.logger().Info("access credential assigned", "booking_id", id, "property_id", prop.ID, "credential_id", assigned.CredentialID)
	return assigned, nil
}

func (a *Assigner) load(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, *domainproperty.Property, error) {
	unit, execCtx, cleanup, err := support.BeginReadOnlyUnit(ctx, a.UoWFactory)
	if err != nil {
		return nil, nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	b, err := unit.Bookings().ByID(execCtx, id)
	if err != nil {
		return nil, nil, err
	}
	prop, err := unit.Properties().ByID(execCtx, b.PropertyID)
	if err != nil {
		return nil, nil, err
	}
	return b, prop, nil
}

func (a *Assigner) reload(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	b, _, err := a.load(ctx, id)
	return b, err
}

func (a *Assigner) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
