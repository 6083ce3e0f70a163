package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"staybook/internal/app/notify"
	"staybook/internal/app/policies"
	"staybook/internal/infra/broker"
	"staybook/internal/infra/broker/kafka"
	"staybook/internal/infra/broker/rabbitmq"
	"staybook/internal/infra/config"
	mongostore "staybook/internal/infra/db/mongo"
	redisstore "staybook/internal/infra/db/redis"
	"staybook/internal/infra/mail"
	"staybook/internal/infra/obs"
	infraoutbox "staybook/internal/infra/outbox"
)

const (
	consumerName   = "notifier"
	inboxRetention = 7 * 24 * time.Hour
)

// eventStreams are the event families the notifier reacts to.
var eventStreams = []string{"booking.requested", "access.credential_assigned"}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		obs.NewLogger("dev").Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env).With("component", consumerName)
	if _, err := obs.InitTracer(ctx, "staybook-notifier", cfg.Env, ""); err != nil {
		logger.Warn("propagator setup failed", "error", err)
	}

	inbox, closeInbox, err := openInbox(ctx, cfg, logger)
	if err != nil {
		logger.Error("inbox init failed", "error", err)
		os.Exit(1)
	}
	defer closeInbox()

	dispatcher := notify.NewDispatcher(newNotifier(cfg, logger), logger, cfg.NotifyBuffer)
	handler := &broker.EventHandler{Inbox: inbox, Sink: dispatcher, Logger: logger}

	if err := consume(ctx, cfg, handler, logger); err != nil {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("notifier stopped")
}

func consume(ctx context.Context, cfg config.Config, handler *broker.EventHandler, logger *slog.Logger) error {
	topics := make([]string, 0, len(eventStreams))
	for _, name := range eventStreams {
		topics = append(topics, infraoutbox.TopicFor(cfg.KafkaTopicPrefix, name))
	}
	switch cfg.Broker {
	case config.BrokerKafka:
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, sarama.NewConfig(), handler, logger)
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		defer consumer.Close()
		logger.Info("notifier consuming", "broker", cfg.Broker, "topics", topics)
		return consumer.Run(ctx, topics)
	case config.BrokerRabbitMQ:
		consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
			URL:      cfg.AMQPURL,
			Exchange: cfg.AMQPExchange,
			Queue:    cfg.AMQPQueue,
			Bindings: topics,
			Tag:      consumerName,
		}, handler, logger)
		if err != nil {
			return fmt.Errorf("rabbitmq consumer: %w", err)
		}
		defer consumer.Close()
		logger.Info("notifier consuming", "broker", cfg.Broker, "queue", cfg.AMQPQueue, "bindings", topics)
		return consumer.Run(ctx)
	default:
		return errors.New("notifier needs BROKER=kafka or BROKER=rabbitmq")
	}
}

// openInbox prefers the document store and falls back to redis. Without
// either, redeliveries may send duplicate mail.
func openInbox(ctx context.Context, cfg config.Config, logger *slog.Logger) (broker.Inbox, func(), error) {
	switch {
	case cfg.MongoURI != "":
		client, err := mongostore.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := client.Close(context.Background()); err != nil {
				logger.Warn("mongo close failed", "error", err)
			}
		}
		return mongostore.NewInboxStore(client.DB, consumerName, inboxRetention), closeFn, nil
	case cfg.RedisAddr != "":
		client, err := redisstore.New(ctx, redisstore.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, nil, err
		}
		return redisstore.NewInboxStore(client, consumerName, inboxRetention), func() { _ = client.Close() }, nil
	default:
		logger.Warn("no inbox store configured, duplicate deliveries are not filtered")
		return nil, func() {}, nil
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
