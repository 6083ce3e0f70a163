package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"

	"staybook/internal/app/commands"
	accessapp "staybook/internal/app/handlers/access"
	availabilityapp "staybook/internal/app/handlers/availability"
	bookingapp "staybook/internal/app/handlers/booking"
	"staybook/internal/app/middleware"
	"staybook/internal/app/notify"
	appoutbox "staybook/internal/app/outbox"
	"staybook/internal/app/payments"
	"staybook/internal/app/policies"
	"staybook/internal/app/queries"
	"staybook/internal/app/schedule"
	domainavailability "staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	"staybook/internal/domain/pricing"
	domainproperty "staybook/internal/domain/property"
	"staybook/internal/infra/broker"
	"staybook/internal/infra/broker/kafka"
	"staybook/internal/infra/broker/rabbitmq"
	"staybook/internal/infra/config"
	ginserver "staybook/internal/infra/http/gin"
	"staybook/internal/infra/mail"
	infraoutbox "staybook/internal/infra/outbox"
	"staybook/internal/infra/payments/fake"
	"staybook/internal/infra/payments/omise"
	"staybook/internal/infra/storage/memory"
	"staybook/internal/infra/storage/s3"
)

const serviceName = "staybook"

// businessOutcomes are command and query errors that answer the caller rather
// than signal a fault.
var businessOutcomes = []error{
	domainavailability.ErrDateConflict,
	domainavailability.ErrStayLengthViolation,
	domainavailability.ErrInvalidRange,
	domainbooking.ErrIllegalTransition,
	domainbooking.ErrBookingNotFound,
	domainproperty.ErrPropertyNotFound,
	policies.ErrLockNotAcquired,
}

type application struct {
	handlers   ginserver.Handlers
	sweeper    *schedule.Sweeper
	relay      *infraoutbox.Worker
	dispatcher *notify.Dispatcher
	closers    []func() error
}

func buildApplication(cfg config.Config, store *backend, logger *slog.Logger) (*application, error) {
	app := &application{}
	app.dispatcher = notify.NewDispatcher(newNotifier(cfg, logger), logger, cfg.NotifyBuffer)

	var box appoutbox.Outbox
	if store.outbox != nil {
		box = store.outbox
		producer, closeFn, err := newProducer(cfg, app.dispatcher, logger)
		if err != nil {
			return nil, err
		}
		if closeFn != nil {
			app.closers = append(app.closers, closeFn)
		}
		app.relay = &infraoutbox.Worker{
			Store:       store.outbox,
			Producer:    producer,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Source:      "/" + serviceName,
			Backoff:     cfg.RetryBackoff,
			Logger:      logger,
		}
	} else {
		box = memory.NewOutbox(app.dispatcher.Enqueue)
	}

	gateway, err := newGateway(cfg)
	if err != nil {
		return nil, err
	}
	encoder := appoutbox.JSONEventEncoder{}
	orchestrator := &payments.Orchestrator{
		Gateway:    gateway,
		UoWFactory: store.factory,
		Timeout:    cfg.PaymentTimeout,
		Tracer:     otel.Tracer("staybook/payments"),
		Logger:     logger,
	}
	assigner := &accessapp.Assigner{
		UoWFactory: store.factory,
		Locker:     store.locker,
		Outbox:     box,
		Encoder:    encoder,
		Logger:     logger,
	}
	workflow := &bookingapp.Workflow{
		UoWFactory:    store.factory,
		Outbox:        box,
		Encoder:       encoder,
		Payments:      orchestrator,
		Credentials:   assigner,
		PreStayWindow: cfg.PreStayWindow,
		Logger:        logger,
	}
	calculator := pricing.RateCardCalculator{}

	commandBus := commands.NewInMemoryBus()
	commands.RegisterHandler(commandBus, bookingapp.RequestBookingCommand{}.Key(), &bookingapp.RequestBookingHandler{
		Workflow: workflow,
		Locker:   store.locker,
		Pricing:  calculator,
	})
	commands.RegisterHandler(commandBus, bookingapp.ApproveBookingCommand{}.Key(), &bookingapp.ApproveBookingHandler{Workflow: workflow})
	commands.RegisterHandler(commandBus, bookingapp.DeclineBookingCommand{}.Key(), &bookingapp.DeclineBookingHandler{Workflow: workflow})
	commands.RegisterHandler(commandBus, bookingapp.SettleBalanceCommand{}.Key(), &bookingapp.SettleBalanceHandler{Workflow: workflow})
	commands.RegisterHandler(commandBus, bookingapp.RecordDepositCommand{}.Key(), &bookingapp.RecordDepositHandler{Workflow: workflow})
	commands.RegisterHandler(commandBus, bookingapp.CompleteBookingCommand{}.Key(), &bookingapp.CompleteBookingHandler{Workflow: workflow})
	commands.RegisterHandler(commandBus, bookingapp.HostCancelBookingCommand{}.Key(), &bookingapp.HostCancelBookingHandler{Workflow: workflow})
	commands.RegisterHandler(commandBus, bookingapp.GuestCancelBookingCommand{}.Key(), &bookingapp.GuestCancelBookingHandler{Workflow: workflow})
	commands.RegisterHandler(commandBus, accessapp.DeactivateCredentialCommand{}.Key(), &accessapp.DeactivateCredentialHandler{
		UoWFactory: store.factory,
		Logger:     logger,
	})

	queryBus := queries.NewInMemoryBus()
	queries.RegisterHandler(queryBus, bookingapp.LookupBookingQuery{}.Key(), &bookingapp.LookupBookingHandler{Workflow: workflow})
	queries.RegisterHandler(queryBus, bookingapp.ListHostBookingsQuery{}.Key(), &bookingapp.ListHostBookingsHandler{UoWFactory: store.factory, Logger: logger})
	queries.RegisterHandler(queryBus, availabilityapp.QuoteQuery{}.Key(), &availabilityapp.QuoteHandler{UoWFactory: store.factory, Pricing: calculator})
	queries.RegisterHandler(queryBus, availabilityapp.GetCalendarQuery{}.Key(), &availabilityapp.GetCalendarHandler{UoWFactory: store.factory})

	logger.Debug("buses wired", "commands", commandBus.Keys(), "queries", queryBus.Keys())
	validator := middleware.NewStructValidator()
	commandBusWithMiddleware := middleware.ChainCommands(
		commandBus,
		middleware.Logging(logger, businessOutcomes...),
		middleware.Validation(validator),
		middleware.Idempotency(store.idempotency, nil),
		middleware.OutboxFlush(box),
	)
	queryBusWithMiddleware := middleware.ChainQueries(queryBus,
		middleware.QueryLogging(logger, businessOutcomes...),
		middleware.QueryValidation(validator),
	)

	exporter, err := newExporter(cfg, logger)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		store.checks["s3"] = exporter.Ping
	}
	app.sweeper = &schedule.Sweeper{
		UoWFactory:    store.factory,
		Assigner:      assigner,
		Outbox:        box,
		Encoder:       encoder,
		Interval:      cfg.SweepInterval,
		PreStayWindow: cfg.PreStayWindow,
		Concurrency:   cfg.SweepConcurrency,
		Logger:        logger,
	}
	if exporter != nil {
		app.sweeper.Exporter = exporter
	}

	auth := ginserver.AuthMiddleware{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer, Logger: logger}
	app.handlers = ginserver.Handlers{
		Guest:          ginserver.GuestHandler{Commands: commandBusWithMiddleware, Queries: queryBusWithMiddleware, Logger: logger},
		Host:           ginserver.HostHandler{Commands: commandBusWithMiddleware, Queries: queryBusWithMiddleware, Logger: logger},
		AuthMiddleware: auth.Handle,
	}
	return app, nil
}

func (a *application) close(logger *slog.Logger) {
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}

func newGateway(cfg config.Config) (policies.PaymentGateway, error) {
	switch cfg.PaymentGateway {
	case config.GatewayOmise:
		gw, err := omise.NewGateway(cfg.OmisePublicKey, cfg.OmiseSecretKey, cfg.OmiseCustomer)
		if err != nil {
			return nil, fmt.Errorf("omise gateway: %w", err)
		}
		return gw, nil
	default:
		return fake.NewGateway(), nil
	}
}

func newNotifier(cfg config.Config, logger *slog.Logger) policies.Notifier {
	if cfg.MailjetAPIKey == "" {
		return mail.LogNotifier{Logger: logger}
	}
	n, err := mail.NewMailjetNotifier(cfg.MailjetAPIKey, cfg.MailjetSecretKey, mail.Sender{Email: cfg.MailFrom, Name: cfg.MailFromName}, logger)
	if err != nil {
		logger.Warn("mailjet disabled, logging notifications", "error", err)
		return mail.LogNotifier{Logger: logger}
	}
	return n
}

// newExporter returns nil when no object store is configured.
func newExporter(cfg config.Config, logger *slog.Logger) (*s3.Exporter, error) {
	if strings.TrimSpace(cfg.S3Endpoint) == "" {
		return nil, nil
	}
	return s3.NewExporter(s3.Config{
		Endpoint:  cfg.S3Endpoint,
		UseSSL:    cfg.S3UseSSL,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		Prefix:    "reconciliation",
	}, logger)
}

// newProducer picks where the relay publishes. Without a broker the relay
// hands events to the local dispatcher, so durable storage still notifies.
func newProducer(cfg config.Config, dispatcher *notify.Dispatcher, logger *slog.Logger) (infraoutbox.Producer, func() error, error) {
	switch cfg.Broker {
	case config.BrokerKafka:
		p, err := kafka.NewProducer(cfg.KafkaBrokers, sarama.NewConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("kafka producer: %w", err)
		}
		return p, p.Close, nil
	case config.BrokerRabbitMQ:
		p, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, fmt.Errorf("rabbitmq publisher: %w", err)
		}
		return p, p.Close, nil
	default:
		handler := &broker.EventHandler{Sink: dispatcher, Logger: logger}
		return localProducer{handler: handler}, nil, nil
	}
}

type localProducer struct {
	handler *broker.EventHandler
}

func (p localProducer) Publish(ctx context.Context, _ string, _ string, payload []byte, _ map[string]string) error {
	return p.handler.HandlePayload(ctx, payload)
}
