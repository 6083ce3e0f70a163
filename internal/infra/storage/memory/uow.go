package memory

import (
	"context"
	"errors"

	"staybook/internal/app/uow"
	domainaccess "staybook/internal/domain/access"
	domainbooking "staybook/internal/domain/booking"
	domainproperty "staybook/internal/domain/property"
)

// Factory wires in-memory repositories into a unit-of-work boundary.
type Factory struct {
	PropertyRepo   domainproperty.Repository
	CredentialRepo domainaccess.Repository
	BookingRepo    domainbooking.Repository
}

// ErrFactoryMisconfigured indicates missing repositories.
var ErrFactoryMisconfigured = errors.New("memory: unit of work factory misconfigured")

// Begin starts a lightweight boundary. Writes are applied immediately; the
// per-property lock and versioned writes provide the isolation.
func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.PropertyRepo == nil || f.CredentialRepo == nil || f.BookingRepo == nil {
		return nil, ErrFactoryMisconfigured
	}
	return &Unit{properties: f.PropertyRepo, credentials: f.CredentialRepo, bookings: f.BookingRepo}, nil
}

// Unit is a uow.UnitOfWork backed by in-memory stores.
type Unit struct {
	properties  domainproperty.Repository
	credentials domainaccess.Repository
	bookings    domainbooking.Repository
}

func (u *Unit) Properties() domainproperty.Repository {
	return u.properties
}

func (u *Unit) Credentials() domainaccess.Repository {
	return u.credentials
}

func (u *Unit) Bookings() domainbooking.Repository {
	return u.bookings
}

func (u *Unit) Commit(ctx context.Context) error {
	return nil
}

func (u *Unit) Rollback(ctx context.Context) error {
	return nil
}

// NewStore builds empty repositories and their factory.
func NewStore() (Factory, *PropertyRepository, *CredentialRepository, *BookingRepository) {
	props := NewPropertyRepository()
	creds := NewCredentialRepository()
	bookings := NewBookingRepository()
	return Factory{PropertyRepo: props, CredentialRepo: creds, BookingRepo: bookings}, props, creds, bookings
}
