// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// KafkaBrokers is a comma-separated list of Kafka bootstrap addresses (e.g. "broker:29092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// KafkaTopic is the topic carrying user records.
	KafkaTopic string `mapstructure:"KAFKA_TOPIC"`
	// DatabaseURL is the Postgres DSN of the destination; required by run, provision and inspect.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DatabaseMaxConns caps the pgx pool size.
	DatabaseMaxConns int32 `mapstructure:"DATABASE_MAX_CONNS"`
	// DestNamespace is the Postgres schema holding the destination table.
	DestNamespace string `mapstructure:"DEST_NAMESPACE"`
	// DestTable is the destination table name.
	DestTable string `mapstructure:"DEST_TABLE"`
	// StartingOffsets is earliest, latest or resume-from-checkpoint.
	StartingOffsets string `mapstructure:"STARTING_OFFSETS"`
	// BatchSize caps messages per micro-batch.
	BatchSize int `mapstructure:"BATCH_SIZE"`
	// PollTimeout bounds the wait for one micro-batch.
	PollTimeout time.Duration `mapstructure:"POLL_TIMEOUT"`
	// WriteTimeout bounds one upsert.
	WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
	// MaxConsecutiveWriteFailures fails the pipeline when reached; 0 disables escalation.
	MaxConsecutiveWriteFailures int `mapstructure:"MAX_CONSECUTIVE_WRITE_FAILURES"`
	// ChannelMaxRetries bounds retries of channel and checkpoint errors.
	ChannelMaxRetries int `mapstructure:"CHANNEL_MAX_RETRIES"`
	// ChannelRetryMaxInterval caps the retry backoff.
	ChannelRetryMaxInterval time.Duration `mapstructure:"CHANNEL_RETRY_MAX_INTERVAL"`
	// CheckpointBackend is postgres or memory. memory loses progress on restart.
	CheckpointBackend string `mapstructure:"CHECKPOINT_BACKEND"`
	// CheckpointLocation groups this pipeline's checkpoints; two pipelines must not share one.
	CheckpointLocation string `mapstructure:"CHECKPOINT_LOCATION"`
	// SchemaStrict rejects records with absent fields instead of storing nulls.
	SchemaStrict bool `mapstructure:"SCHEMA_STRICT"`
	// MetricsAddr serves /metrics, /healthz and /readyz; empty disables.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	// GRPCAddr serves the gRPC health service; empty disables.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// OTLPEndpoint is the OpenTelemetry collector; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to an https collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production"); added to telemetry resources.
	Env string `mapstructure:"APP_ENV"`
}

// Checkpoint backends.
const (
	CheckpointPostgres = "postgres"
	CheckpointMemory   = "memory"
)

// flagBindings maps config keys to the CLI flags that may override them.
var flagBindings = map[string]string{
	"KAFKA_BROKERS":    "brokers",
	"KAFKA_TOPIC":      "topic",
	"DATABASE_URL":     "database-url",
	"DEST_NAMESPACE":   "namespace",
	"DEST_TABLE":       "table",
	"STARTING_OFFSETS": "starting-offsets",
	"BATCH_SIZE":       "batch-size",
	"METRICS_ADDR":     "metrics-addr",
	"GRPC_ADDR":        "grpc-addr",
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	return LoadWithFlags(nil)
}

// LoadWithFlags is Load with flags taking precedence over env for the keys in flagBindings.
// Only flags the user actually set override; unset flags fall through to env and defaults.
func LoadWithFlags(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("KAFKA_BROKERS", "broker:29092")
	v.SetDefault("KAFKA_TOPIC", "users_data")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_MAX_CONNS", 8)
	v.SetDefault("DEST_NAMESPACE", "spark_streams")
	v.SetDefault("DEST_TABLE", "created_users")
	v.SetDefault("STARTING_OFFSETS", "earliest")
	v.SetDefault("BATCH_SIZE", 500)
	v.SetDefault("POLL_TIMEOUT", "1s")
	v.SetDefault("WRITE_TIMEOUT", "5s")
	v.SetDefault("MAX_CONSECUTIVE_WRITE_FAILURES", 10)
	v.SetDefault("CHANNEL_MAX_RETRIES", 5)
	v.SetDefault("CHANNEL_RETRY_MAX_INTERVAL", "10s")
	v.SetDefault("CHECKPOINT_BACKEND", CheckpointPostgres)
	v.SetDefault("CHECKPOINT_LOCATION", "postgres:ingest_checkpoints")
	v.SetDefault("SCHEMA_STRICT", false)
	v.SetDefault("METRICS_ADDR", ":9093")
	v.SetDefault("GRPC_ADDR", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.KafkaBrokersList()) == 0 {
		return errors.New("config: KAFKA_BROKERS must be set")
	}
	if strings.TrimSpace(c.KafkaTopic) == "" {
		return errors.New("config: KAFKA_TOPIC must be set")
	}
	if c.DestNamespace == "" || c.DestTable == "" {
		return errors.New("config: DEST_NAMESPACE and DEST_TABLE must be set")
	}
	switch c.StartingOffsets {
	case "earliest", "latest", "resume-from-checkpoint":
	default:
		return fmt.Errorf("config: STARTING_OFFSETS must be earliest, latest or resume-from-checkpoint, got %q", c.StartingOffsets)
	}
	if c.BatchSize <= 0 {
		return errors.New("config: BATCH_SIZE must be positive")
	}
	if c.PollTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.New("config: POLL_TIMEOUT and WRITE_TIMEOUT must be positive")
	}
	if c.MaxConsecutiveWriteFailures < 0 || c.ChannelMaxRetries < 0 {
		return errors.New("config: MAX_CONSECUTIVE_WRITE_FAILURES and CHANNEL_MAX_RETRIES must not be negative")
	}
	if c.DatabaseMaxConns <= 0 {
		c.DatabaseMaxConns = 8
	}
	switch c.CheckpointBackend {
	case CheckpointPostgres, CheckpointMemory:
	default:
		return fmt.Errorf("config: CHECKPOINT_BACKEND must be postgres or memory, got %q", c.CheckpointBackend)
	}
	if c.CheckpointLocation == "" {
		return errors.New("config: CHECKPOINT_LOCATION must be set")
	}
	return nil
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// RegisterFlags adds the overridable flags to fs. Defaults are empty so env and .env still apply.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("brokers", "", "Kafka bootstrap addresses, comma-separated (env KAFKA_BROKERS)")
	fs.String("topic", "", "Kafka topic (env KAFKA_TOPIC)")
	fs.String("database-url", "", "Postgres DSN (env DATABASE_URL)")
	fs.String("namespace", "", "destination schema (env DEST_NAMESPACE)")
	fs.String("table", "", "destination table (env DEST_TABLE)")
	fs.String("starting-offsets", "", "earliest, latest or resume-from-checkpoint (env STARTING_OFFSETS)")
	fs.Int("batch-size", 0, "max messages per micro-batch (env BATCH_SIZE)")
	fs.String("metrics-addr", "", "HTTP address for /metrics and /healthz (env METRICS_ADDR)")
	fs.String("grpc-addr", "", "gRPC health address (env GRPC_ADDR)")
}
