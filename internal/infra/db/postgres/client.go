package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

// Open connects with the pgx-backed gorm dialector. Writes always run inside a
// unit of work, so gorm's implicit per-statement transaction is disabled.
func Open(dsn string, log *slog.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	return openDialector(postgres.Open(dsn), log)
}

func openDialector(dialector gorm.Dialector, log *slog.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if log != nil {
		log.Info("postgres connected")
	}
	return db, nil
}

// Ping checks the pool for the readiness probe.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate creates tables, then the overlap exclusion constraint that backs the
// no-double-booking rule at the storage layer.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(
		&propertyRow{},
		&credentialRow{},
		&cursorRow{},
		&bookingRow{},
		&outboxRow{},
		&idempotencyRow{},
	); err != nil {
		return fmt.Errorf("postgres: automigrate: %w", err)
	}
	for _, stmt := range schemaStatements {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,
	`DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'bookings_no_overlap') THEN
		ALTER TABLE bookings ADD CONSTRAINT bookings_no_overlap EXCLUDE USING gist (
			property_id WITH =,
			daterange(check_in, check_out, '[)') WITH &&
		) WHERE (status IN ('requested', 'approved', 'confirmed'));
	END IF;
END $$`,
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
