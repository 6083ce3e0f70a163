package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageDriver != DriverMemory || cfg.LockDriver != DriverMemory || cfg.Broker != BrokerNone {
		t.Fatalf("unexpected drivers %q/%q/%q", cfg.StorageDriver, cfg.LockDriver, cfg.Broker)
	}
	if cfg.PreStayWindow != 72*time.Hour || cfg.SweepInterval != 24*time.Hour {
		t.Fatalf("unexpected sweep settings %v/%v", cfg.PreStayWindow, cfg.SweepInterval)
	}
	if len(cfg.RetryBackoff) != 3 || cfg.RetryBackoff[2] != 30*time.Second {
		t.Fatalf("unexpected backoff %v", cfg.RetryBackoff)
	}
}

func TestLoadPicksLockDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LockDriver != DriverMongo {
		t.Fatalf("expected mongo lock, got %q", cfg.LockDriver)
	}

	t.Setenv("REDIS_ADDR", "localhost:6379")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LockDriver != DriverRedis {
		t.Fatalf("expected redis lock, got %q", cfg.LockDriver)
	}
}

func TestValidateRejectsMissingSettings(t *testing.T) {
	cases := map[string]Config{
		"postgres without dsn":  {StorageDriver: DriverPostgres, LockDriver: DriverMemory, Broker: BrokerNone, PaymentGateway: GatewayFake, PreStayWindow: time.Hour, SweepInterval: time.Hour},
		"kafka without brokers": {StorageDriver: DriverMongo, MongoURI: "mongodb://x", LockDriver: DriverMemory, Broker: BrokerKafka, PaymentGateway: GatewayFake, PreStayWindow: time.Hour, SweepInterval: time.Hour},
		"broker on memory":      {StorageDriver: DriverMemory, LockDriver: DriverMemory, Broker: BrokerRabbitMQ, AMQPURL: "amqp://x", PaymentGateway: GatewayFake, PreStayWindow: time.Hour, SweepInterval: time.Hour},
		"omise without keys":    {StorageDriver: DriverMemory, LockDriver: DriverMemory, Broker: BrokerNone, PaymentGateway: GatewayOmise, PreStayWindow: time.Hour, SweepInterval: time.Hour},
		"unknown storage":       {StorageDriver: "sqlite", LockDriver: DriverMemory, Broker: BrokerNone, PaymentGateway: GatewayFake, PreStayWindow: time.Hour, SweepInterval: time.Hour},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
