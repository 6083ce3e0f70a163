package postgres

import (
	"context"
	"database/sql"
	"errors"

	"gorm.io/gorm"

	"staybook/internal/app/uow"
	domainaccess "staybook/internal/domain/access"
	domainbooking "staybook/internal/domain/booking"
	domainproperty "staybook/internal/domain/property"
)

var ErrUnitOfWorkNotConfigured = errors.New("postgres: unit of work factory missing database")

// Factory opens a database transaction per unit; repositories pick the
// transaction up from the context.
type Factory struct {
	DB *gorm.DB

	PropertyRepo   domainproperty.Repository
	CredentialRepo domainaccess.Repository
	BookingRepo    domainbooking.Repository
}

func NewFactory(db *gorm.DB) Factory {
	return Factory{
		DB:             db,
		PropertyRepo:   NewPropertyRepository(db),
		CredentialRepo: NewCredentialRepository(db),
		BookingRepo:    NewBookingRepository(db),
	}
}

func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.DB == nil {
		return nil, ErrUnitOfWorkNotConfigured
	}
	tx := f.DB.WithContext(ctx).Begin(&sql.TxOptions{ReadOnly: opts.ReadOnly})
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &Unit{
		tx:          tx,
		properties:  f.PropertyRepo,
		credentials: f.CredentialRepo,
		bookings:    f.BookingRepo,
	}, nil
}

type Unit struct {
	tx *gorm.DB

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
	return u.tx.Commit().Error
}

func (u *Unit) Rollback(ctx context.Context) error {
	err := u.tx.Rollback().Error
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// InjectContext makes the transaction visible to repositories.
func (u *Unit) InjectContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, txKey{}, u.tx)
}

type txKey struct{}

// conn returns the transaction carried by ctx, or the pool.
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

var (
	_ uow.UnitOfWork      = (*Unit)(nil)
	_ uow.ContextInjector = (*Unit)(nil)
)
