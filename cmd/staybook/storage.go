package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"staybook/internal/app/middleware"
	appoutbox "staybook/internal/app/outbox"
	"staybook/internal/app/policies"
	"staybook/internal/app/uow"
	domainaccess "staybook/internal/domain/access"
	domainproperty "staybook/internal/domain/property"
	"staybook/internal/infra/config"
	mongostore "staybook/internal/infra/db/mongo"
	"staybook/internal/infra/db/postgres"
	redisstore "staybook/internal/infra/db/redis"
	infraoutbox "staybook/internal/infra/outbox"
	"staybook/internal/infra/storage/memory"
)

// backend is everything the application needs from the selected storage
// driver. outbox is nil for memory storage; records then go straight to the
// in-process relay.
type backend struct {
	factory     uow.UoWFactory
	properties  domainproperty.Repository
	credentials domainaccess.Repository
	locker      policies.Locker
	idempotency middleware.IdempotencyStore
	outbox      interface {
		appoutbox.Outbox
		infraoutbox.Store
	}
	checks        map[string]func(context.Context) error
	cleanups      []func(context.Context) error
	pgIdempotency *postgres.IdempotencyStore
}

func (b *backend) close(ctx context.Context, logger *slog.Logger) {
	for i := len(b.cleanups) - 1; i >= 0; i-- {
		if err := b.cleanups[i](ctx); err != nil {
			logger.Warn("storage close failed", "error", err)
		}
	}
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{checks: map[string]func(context.Context) error{}}
	var mongoClient *mongostore.Client

	switch cfg.StorageDriver {
	case config.DriverMemory:
		factory, props, creds, _ := memory.NewStore()
		b.factory, b.properties, b.credentials = factory, props, creds
		b.idempotency = memory.NewIdempotencyStore(cfg.IdempotencyTTL)
	case config.DriverMongo:
		client, err := mongostore.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		mongoClient = client
		b.cleanups = append(b.cleanups, client.Close)
		b.checks["mongo"] = client.Ping
		factory := mongostore.NewFactory(client.DB)
		b.factory, b.properties, b.credentials = factory, factory.PropertyRepo, factory.CredentialRepo
		b.idempotency = mongostore.NewIdempotencyStore(client.DB, cfg.IdempotencyTTL)
		b.outbox = mongostore.NewOutboxStore(client.DB)
	case config.DriverPostgres:
		db, err := postgres.Open(cfg.PostgresDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres open: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		b.cleanups = append(b.cleanups, func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		b.checks["postgres"] = func(ctx context.Context) error { return postgres.Ping(ctx, db) }
		factory := postgres.NewFactory(db)
		b.factory, b.properties, b.credentials = factory, factory.PropertyRepo, factory.CredentialRepo
		b.pgIdempotency = postgres.NewIdempotencyStore(db, cfg.IdempotencyTTL)
		b.idempotency = b.pgIdempotency
		b.outbox = postgres.NewOutboxStore(db)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	switch cfg.LockDriver {
	case config.DriverRedis:
		client, err := redisstore.New(ctx, redisstore.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			b.close(ctx, logger)
			return nil, err
		}
		b.cleanups = append(b.cleanups, func(context.Context) error { return client.Close() })
		b.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		b.locker = redisstore.NewLocker(client, cfg.LockTTL)
		if cfg.StorageDriver == config.DriverMemory {
			b.idempotency = redisstore.NewIdempotencyStore(client, cfg.IdempotencyTTL)
		}
	case config.DriverMongo:
		if mongoClient == nil {
			client, err := mongostore.New(cfg.MongoURI, cfg.MongoDB)
			if err != nil {
				b.close(ctx, logger)
				return nil, fmt.Errorf("mongo connect: %w", err)
			}
			mongoClient = client
			b.cleanups = append(b.cleanups, client.Close)
		}
		b.locker = mongostore.NewLocker(mongoClient.DB, cfg.LockTTL)
	default:
		b.locker = memory.NewLocker()
	}
	return b, nil
}

// purgeIdempotency drops expired postgres keys; the other stores expire
// entries on their own.
func purgeIdempotency(ctx context.Context, store *postgres.IdempotencyStore, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Purge(ctx)
			if err != nil {
				logger.Warn("idempotency purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("idempotency keys purged", "count", n)
			}
		}
	}
}
