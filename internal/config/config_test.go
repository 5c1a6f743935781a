package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.KafkaBrokers != "broker:29092" {
		t.Errorf("KafkaBrokers = %q, want %q", cfg.KafkaBrokers, "broker:29092")
	}
	if cfg.KafkaTopic != "users_data" {
		t.Errorf("KafkaTopic = %q, want %q", cfg.KafkaTopic, "users_data")
	}
	if cfg.DestNamespace != "spark_streams" || cfg.DestTable != "created_users" {
		t.Errorf("destination = %s.%s, want spark_streams.created_users", cfg.DestNamespace, cfg.DestTable)
	}
	if cfg.StartingOffsets != "earliest" {
		t.Errorf("StartingOffsets = %q, want earliest", cfg.StartingOffsets)
	}
	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.PollTimeout != time.Second {
		t.Errorf("PollTimeout = %v, want 1s", cfg.PollTimeout)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Errorf("WriteTimeout = %v, want 5s", cfg.WriteTimeout)
	}
	if cfg.MaxConsecutiveWriteFailures != 10 {
		t.Errorf("MaxConsecutiveWriteFailures = %d, want 10", cfg.MaxConsecutiveWriteFailures)
	}
	if cfg.ChannelMaxRetries != 5 {
		t.Errorf("ChannelMaxRetries = %d, want 5", cfg.ChannelMaxRetries)
	}
	if cfg.ChannelRetryMaxInterval != 10*time.Second {
		t.Errorf("ChannelRetryMaxInterval = %v, want 10s", cfg.ChannelRetryMaxInterval)
	}
	if cfg.CheckpointBackend != CheckpointPostgres {
		t.Errorf("CheckpointBackend = %q, want postgres", cfg.CheckpointBackend)
	}
	if cfg.SchemaStrict {
		t.Error("SchemaStrict should default to false")
	}
	if cfg.MetricsAddr != ":9093" {
		t.Errorf("MetricsAddr = %q, want :9093", cfg.MetricsAddr)
	}
	if cfg.GRPCAddr != "" {
		t.Errorf("GRPCAddr = %q, want empty", cfg.GRPCAddr)
	}
	if cfg.DatabaseMaxConns != 8 {
		t.Errorf("DatabaseMaxConns = %d, want 8", cfg.DatabaseMaxConns)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("KAFKA_TOPIC", "people")
	os.Setenv("BATCH_SIZE", "50")
	os.Setenv("POLL_TIMEOUT", "250ms")
	os.Setenv("SCHEMA_STRICT", "true")
	os.Setenv("CHECKPOINT_BACKEND", "memory")
	os.Setenv("STARTING_OFFSETS", "resume-from-checkpoint")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.KafkaTopic != "people" {
		t.Errorf("KafkaTopic = %q, want people", cfg.KafkaTopic)
	}
	if cfg.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", cfg.BatchSize)
	}
	if cfg.PollTimeout != 250*time.Millisecond {
		t.Errorf("PollTimeout = %v, want 250ms", cfg.PollTimeout)
	}
	if !cfg.SchemaStrict {
		t.Error("SchemaStrict should be true")
	}
	if cfg.CheckpointBackend != CheckpointMemory {
		t.Errorf("CheckpointBackend = %q, want memory", cfg.CheckpointBackend)
	}
	if cfg.StartingOffsets != "resume-from-checkpoint" {
		t.Errorf("StartingOffsets = %q", cfg.StartingOffsets)
	}
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown starting offsets", "STARTING_OFFSETS", "beginning"},
		{"zero batch", "BATCH_SIZE", "0"},
		{"negative batch", "BATCH_SIZE", "-3"},
		{"zero poll timeout", "POLL_TIMEOUT", "0s"},
		{"negative threshold", "MAX_CONSECUTIVE_WRITE_FAILURES", "-1"},
		{"unknown backend", "CHECKPOINT_BACKEND", "s3"},
		{"blank brokers", "KAFKA_BROKERS", " , "},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv(tc.key, tc.value)

			cfg, err := Load()
			if err == nil {
				t.Fatalf("Load should fail for %s=%q", tc.key, tc.value)
			}
			if cfg != nil {
				t.Error("Load should return nil config on error")
			}
		})
	}
}

func TestLoadWithFlags_Override(t *testing.T) {
	os.Clearenv()
	os.Setenv("KAFKA_TOPIC", "from-env")
	os.Setenv("DEST_TABLE", "env_table")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--topic", "from-flag", "--batch-size", "7"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := LoadWithFlags(fs)
	if err != nil {
		t.Fatalf("LoadWithFlags: %v", err)
	}
	if cfg.KafkaTopic != "from-flag" {
		t.Errorf("KafkaTopic = %q, want from-flag", cfg.KafkaTopic)
	}
	if cfg.BatchSize != 7 {
		t.Errorf("BatchSize = %d, want 7", cfg.BatchSize)
	}
	// Unset flags must not shadow env.
	if cfg.DestTable != "env_table" {
		t.Errorf("DestTable = %q, want env_table", cfg.DestTable)
	}
	if cfg.DestNamespace != "spark_streams" {
		t.Errorf("DestNamespace = %q, want default", cfg.DestNamespace)
	}
}

func TestKafkaBrokersList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a:9092", []string{"a:9092"}},
		{"a:9092, b:9092 ,,", []string{"a:9092", "b:9092"}},
	}
	for _, tt := range tests {
		c := &Config{KafkaBrokers: tt.in}
		got := c.KafkaBrokersList()
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("KafkaBrokersList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil")
	}
}

func TestEnvExample_ListsEveryKey(t *testing.T) {
	data, err := os.ReadFile("../../.env.example")
	if err != nil {
		t.Fatalf("read .env.example: %v", err)
	}
	listed := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if key, _, ok := strings.Cut(line, "="); ok {
			listed[key] = true
		}
	}
	typ := reflect.TypeOf(Config{})
	for i := 0; i < typ.NumField(); i++ {
		key := typ.Field(i).Tag.Get("mapstructure")
		if key != "" && !listed[key] {
			t.Errorf(".env.example is missing %s", key)
		}
	}
}
