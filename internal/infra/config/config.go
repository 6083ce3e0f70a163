package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"

	BrokerNone     = "none"
	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"

	GatewayFake  = "fake"
	GatewayOmise = "omise"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env      string `envconfig:"APP_ENV" default:"dev"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"memory"`
	LockDriver    string `envconfig:"LOCK_DRIVER"`
	FixturesPath  string `envconfig:"FIXTURES_PATH"`

	MongoURI    string `envconfig:"MONGO_URI"`
	MongoDB     string `envconfig:"MONGO_DB" default:"staybook"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	LockTTL       time.Duration `envconfig:"LOCK_TTL" default:"15s"`

	Broker           string   `envconfig:"BROKER" default:"none"`
	KafkaBrokers     []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopicPrefix string   `envconfig:"KAFKA_TOPIC_PREFIX"`
	KafkaGroupID     string   `envconfig:"KAFKA_GROUP_ID" default:"staybook-notifier"`
	AMQPURL          string   `envconfig:"AMQP_URL"`
	AMQPExchange     string   `envconfig:"AMQP_EXCHANGE" default:"staybook.events"`
	AMQPQueue        string   `envconfig:"AMQP_QUEUE" default:"staybook.notifier"`

	IdempotencyTTL     time.Duration   `envconfig:"IDEMP_TTL" default:"168h"`
	OutboxPollInterval time.Duration   `envconfig:"OUTBOX_POLL_INTERVAL" default:"500ms"`
	RetryBackoff       []time.Duration `envconfig:"RETRY_BACKOFF" default:"1s,5s,30s"`

	PaymentGateway string        `envconfig:"PAYMENT_GATEWAY" default:"fake"`
	PaymentTimeout time.Duration `envconfig:"PAYMENT_TIMEOUT" default:"10s"`
	OmisePublicKey string        `envconfig:"OMISE_PUBLIC_KEY"`
	OmiseSecretKey string        `envconfig:"OMISE_SECRET_KEY"`
	OmiseCustomer  string        `envconfig:"OMISE_CUSTOMER"`

	MailjetAPIKey    string `envconfig:"MAILJET_API_KEY"`
	MailjetSecretKey string `envconfig:"MAILJET_SECRET_KEY"`
	MailFrom         string `envconfig:"MAIL_FROM" default:"bookings@staybook.local"`
	MailFromName     string `envconfig:"MAIL_FROM_NAME" default:"Staybook"`
	NotifyBuffer     int    `envconfig:"NOTIFY_BUFFER" default:"256"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" default:"minioadmin"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" default:"minioadmin"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"staybook-reconciliation"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`

	JWTSecret   string   `envconfig:"JWT_SECRET"`
	JWTIssuer   string   `envconfig:"JWT_ISSUER"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173"`

	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"24h"`
	PreStayWindow    time.Duration `envconfig:"PRE_STAY_WINDOW" default:"72h"`
	SweepConcurrency int           `envconfig:"SWEEP_CONCURRENCY" default:"4"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads an optional .env file and parses configuration from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.Broker = strings.ToLower(strings.TrimSpace(c.Broker))
	c.PaymentGateway = strings.ToLower(strings.TrimSpace(c.PaymentGateway))
	c.LockDriver = strings.ToLower(strings.TrimSpace(c.LockDriver))
	if c.LockDriver == "" {
		switch {
		case c.RedisAddr != "":
			c.LockDriver = DriverRedis
		case c.StorageDriver == DriverMongo:
			c.LockDriver = DriverMongo
		default:
			c.LockDriver = DriverMemory
		}
	}
}

// Validate checks the settings each selected driver needs.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory:
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo driver")
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.LockDriver {
	case DriverMemory:
	case DriverRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis lock")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo lock")
		}
	default:
		return fmt.Errorf("unknown LOCK_DRIVER %q", c.LockDriver)
	}
	switch c.Broker {
	case BrokerNone:
	case BrokerKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for the kafka broker")
		}
	case BrokerRabbitMQ:
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required for the rabbitmq broker")
		}
	default:
		return fmt.Errorf("unknown BROKER %q", c.Broker)
	}
	if c.Broker != BrokerNone && c.StorageDriver == DriverMemory {
		return fmt.Errorf("BROKER %q needs a durable outbox, set STORAGE_DRIVER", c.Broker)
	}
	switch c.PaymentGateway {
	case GatewayFake:
	case GatewayOmise:
		if c.OmiseSecretKey == "" || c.OmisePublicKey == "" {
			return fmt.Errorf("OMISE_PUBLIC_KEY and OMISE_SECRET_KEY are required for the omise gateway")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_GATEWAY %q", c.PaymentGateway)
	}
	if c.PreStayWindow <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL and PRE_STAY_WINDOW must be positive")
	}
	return nil
}
