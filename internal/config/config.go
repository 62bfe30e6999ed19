package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"payment-gateway/internal/ledger"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverBolt     = "bolt"
	DriverDynamoDB = "dynamodb"

	TransferBank  = "bank"
	TransferAgent = "agent"
)

type Postgres struct {
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"-"`
	Name     string `mapstructure:"name" yaml:"name"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	SSLMode  string `mapstructure:"ssl-mode" yaml:"ssl-mode"`
	MaxConns int32  `mapstructure:"max-conns" yaml:"max-conns"`
}

func (p Postgres) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.Name, p.SSLMode)
}

type SQLite struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type Bolt struct {
	Path      string `mapstructure:"path" yaml:"path"`
	TimeoutMs int    `mapstructure:"timeout-ms" yaml:"timeout-ms"`
}

type DynamoDB struct {
	Table       string `mapstructure:"table" yaml:"table"`
	Region      string `mapstructure:"region" yaml:"region"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	CreateTable bool   `mapstructure:"create-table" yaml:"create-table"`
	LockLeaseMs int    `mapstructure:"lock-lease-ms" yaml:"lock-lease-ms"`
	LockWaitMs  int    `mapstructure:"lock-wait-ms" yaml:"lock-wait-ms"`
}

type Database struct {
	Driver   string   `mapstructure:"driver" yaml:"driver"`
	Migrate  bool     `mapstructure:"migrate" yaml:"migrate"`
	Postgres Postgres `mapstructure:"postgres" yaml:"postgres"`
	SQLite   SQLite   `mapstructure:"sqlite" yaml:"sqlite"`
	Bolt     Bolt     `mapstructure:"bolt" yaml:"bolt"`
	DynamoDB DynamoDB `mapstructure:"dynamodb" yaml:"dynamodb"`
}

type Limits struct {
	Currency    int `mapstructure:"currency" yaml:"currency"`
	Reference   int `mapstructure:"reference" yaml:"reference"`
	Description int `mapstructure:"description" yaml:"description"`
	Metadata    int `mapstructure:"metadata" yaml:"metadata"`
}

type Ledger struct {
	Owner        string `mapstructure:"owner" yaml:"owner"`
	Platform     string `mapstructure:"platform" yaml:"platform"`
	FeeRateBps   int    `mapstructure:"fee-rate-bps" yaml:"fee-rate-bps"`
	RefundPolicy string `mapstructure:"refund-policy" yaml:"refund-policy"`
	Limits       Limits `mapstructure:"limits" yaml:"limits"`
}

type Agent struct {
	URL       string `mapstructure:"url" yaml:"url"`
	TimeoutMs int    `mapstructure:"timeout-ms" yaml:"timeout-ms"`
}

type Account struct {
	Principal string `mapstructure:"principal" yaml:"principal"`
	Balance   uint64 `mapstructure:"balance" yaml:"balance"`
}

type Bank struct {
	Accounts []Account `mapstructure:"accounts" yaml:"accounts"`
}

type Transfer struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Agent  Agent  `mapstructure:"agent" yaml:"agent"`
	Bank   Bank   `mapstructure:"bank" yaml:"bank"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size" yaml:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms" yaml:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type KafkaTopic struct {
	PaymentEvents   string `mapstructure:"payment-events" yaml:"payment-events"`
	PaymentCommands string `mapstructure:"payment-commands" yaml:"payment-commands"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id" yaml:"group-id"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer" yaml:"writer"`
	Broker KafkaBroker `mapstructure:"broker" yaml:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic" yaml:"topic"`
	Reader KafkaReader `mapstructure:"reader" yaml:"reader"`
}

type Outbox struct {
	Enabled            bool `mapstructure:"enabled" yaml:"enabled"`
	PollingIntervalMs  int  `mapstructure:"polling-interval-ms" yaml:"polling-interval-ms"`
	FetchSize          int  `mapstructure:"fetch-size" yaml:"fetch-size"`
	RescheduleDelayMs  int  `mapstructure:"reschedule-delay-ms" yaml:"reschedule-delay-ms"`
	MaxPublishAttempts int  `mapstructure:"max-publish-attempts" yaml:"max-publish-attempts"`
}

type Command struct {
	Enabled     bool `mapstructure:"enabled" yaml:"enabled"`
	Parallelism int  `mapstructure:"parallelism" yaml:"parallelism"`
}

type Server struct {
	Port string `mapstructure:"port" yaml:"port"`
}

type Metrics struct {
	URL          string `mapstructure:"url" yaml:"url"`
	IntervalMs   int    `mapstructure:"interval-ms" yaml:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels" yaml:"common-labels"`
}

type Logs struct {
	URL   string `mapstructure:"url" yaml:"url"`
	Level string `mapstructure:"level" yaml:"level"`
}

type Config struct {
	Server   Server   `mapstructure:"server" yaml:"server"`
	Database Database `mapstructure:"database" yaml:"database"`
	Ledger   Ledger   `mapstructure:"ledger" yaml:"ledger"`
	Transfer Transfer `mapstructure:"transfer" yaml:"transfer"`
	Kafka    Kafka    `mapstructure:"kafka" yaml:"kafka"`
	Outbox   Outbox   `mapstructure:"outbox" yaml:"outbox"`
	Command  Command  `mapstructure:"command" yaml:"command"`
	Metrics  Metrics  `mapstructure:"metrics" yaml:"metrics"`
	Logs     Logs     `mapstructure:"logs" yaml:"logs"`
}

// defaults lists every key so that environment variables can override any of them.
var defaults = map[string]any{
	"server.port": "8080",

	"database.driver":                 DriverMemory,
	"database.migrate":                true,
	"database.postgres.user":          "postgres",
	"database.postgres.password":      "postgres",
	"database.postgres.name":          "payments",
	"database.postgres.host":          "localhost",
	"database.postgres.port":          "5432",
	"database.postgres.ssl-mode":      "disable",
	"database.postgres.max-conns":     10,
	"database.sqlite.path":            "payments.db",
	"database.bolt.path":              "payments.bolt",
	"database.bolt.timeout-ms":        1000,
	"database.dynamodb.table":         "payment-gateway",
	"database.dynamodb.region":        "us-east-1",
	"database.dynamodb.endpoint":      "",
	"database.dynamodb.create-table":  false,
	"database.dynamodb.lock-lease-ms": 60_000,
	"database.dynamodb.lock-wait-ms":  5_000,

	"ledger.owner":              "",
	"ledger.platform":           "",
	"ledger.fee-rate-bps":       int(ledger.DefaultFeeRate),
	"ledger.refund-policy":      string(ledger.RefundFull),
	"ledger.limits.currency":    ledger.DefaultLimits.MaxCurrency,
	"ledger.limits.reference":   ledger.DefaultLimits.MaxReference,
	"ledger.limits.description": ledger.DefaultLimits.MaxDescription,
	"ledger.limits.metadata":    ledger.DefaultLimits.MaxMetadata,

	"transfer.driver":           TransferBank,
	"transfer.agent.url":        "http://localhost:8090/always-success",
	"transfer.agent.timeout-ms": 10_000,

	"kafka.broker.url":              "localhost:9092",
	"kafka.topic.payment-events":    "payment-events",
	"kafka.topic.payment-commands":  "payment-commands",
	"kafka.reader.group-id":         "payment-gateway",
	"kafka.writer.batch-size":       100,
	"kafka.writer.batch-timeout-ms": 100,

	"outbox.enabled":              false,
	"outbox.polling-interval-ms":  500,
	"outbox.fetch-size":           200,
	"outbox.reschedule-delay-ms":  10_000,
	"outbox.max-publish-attempts": 3,

	"command.enabled":     false,
	"command.parallelism": 8,

	"metrics.url":           "",
	"metrics.interval-ms":   10_000,
	"metrics.common-labels": `service="payment-gateway"`,

	"logs.url":   "",
	"logs.level": "info",
}

// LoadConfig reads config.yaml from path when present, then applies .env and
// environment overrides such as DATABASE_DRIVER or LEDGER_FEE_RATE_BPS.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory, DriverPostgres, DriverSQLite, DriverBolt, DriverDynamoDB:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Transfer.Driver {
	case TransferBank, TransferAgent:
	default:
		return fmt.Errorf("unknown transfer driver %q", c.Transfer.Driver)
	}
	if c.Ledger.Owner == "" {
		return errors.New("ledger.owner is required")
	}
	if c.Ledger.Platform == "" {
		return errors.New("ledger.platform is required")
	}
	if c.Ledger.FeeRateBps < 0 || c.Ledger.FeeRateBps > int(ledger.MaxFeeRate) {
		return fmt.Errorf("ledger.fee-rate-bps must be within [0, %d]", ledger.MaxFeeRate)
	}
	if _, err := ledger.ParseRefundPolicy(c.Ledger.RefundPolicy); err != nil {
		return err
	}
	if c.Command.Parallelism < 1 {
		return errors.New("command.parallelism must be at least 1")
	}
	if c.Transfer.Driver == TransferAgent && c.Transfer.Agent.TimeoutMs <= 0 {
		return errors.New("transfer.agent.timeout-ms must be positive")
	}
	if c.Database.Driver == DriverDynamoDB {
		return c.Database.DynamoDB.validateLease(c.Transfer.Agent)
	}
	return nil
}

// LeaseTransferCalls is the most transfer calls one locked mutation makes:
// two sequential legs and their two reversals.
const LeaseTransferCalls = 4

// validateLease keeps the intent lease longer than every transfer call that
// can run while it is held.
func (d DynamoDB) validateLease(agent Agent) error {
	if d.LockLeaseMs <= 0 || d.LockWaitMs <= 0 {
		return errors.New("database.dynamodb.lock-lease-ms and lock-wait-ms must be positive")
	}
	if d.LockLeaseMs <= LeaseTransferCalls*agent.TimeoutMs {
		return fmt.Errorf("database.dynamodb.lock-lease-ms (%d) must exceed %d x transfer.agent.timeout-ms (%d)",
			d.LockLeaseMs, LeaseTransferCalls, agent.TimeoutMs)
	}
	return nil
}

func (l Limits) Ledger() ledger.Limits {
	return ledger.Limits{
		MaxCurrency:    l.Currency,
		MaxReference:   l.Reference,
		MaxDescription: l.Description,
		MaxMetadata:    l.Metadata,
	}
}

func (b Bolt) Timeout() time.Duration {
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

func (d DynamoDB) LockLease() time.Duration {
	return time.Duration(d.LockLeaseMs) * time.Millisecond
}

func (d DynamoDB) LockWait() time.Duration {
	return time.Duration(d.LockWaitMs) * time.Millisecond
}

func (a Agent) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

func (w KafkaWriter) BatchTimeout() time.Duration {
	return time.Duration(w.BatchTimeoutMs) * time.Millisecond
}

func (o Outbox) PollingInterval() time.Duration {
	return time.Duration(o.PollingIntervalMs) * time.Millisecond
}

func (o Outbox) RescheduleDelay() time.Duration {
	return time.Duration(o.RescheduleDelayMs) * time.Millisecond
}

func (m Metrics) Interval() time.Duration {
	return time.Duration(m.IntervalMs) * time.Millisecond
}
