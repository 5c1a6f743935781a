package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"user-stream-ingestor/internal/checkpoint"
	"user-stream-ingestor/internal/config"
	"user-stream-ingestor/internal/user/domain"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "provision", "inspect"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered (err=%v)", name, err)
		}
	}
	for _, flag := range []string{"brokers", "topic", "database-url", "table", "starting-offsets"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("persistent flag --%s missing", flag)
		}
	}
}

func TestProvision_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	root := newRootCmd()
	root.SetArgs([]string{"provision"})
	root.SetOut(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("err = %v, want DATABASE_URL error", err)
	}
}

func TestCheckpoints_MemoryBackend(t *testing.T) {
	a := &app{cfg: &config.Config{CheckpointBackend: config.CheckpointMemory}}
	store, prov := a.checkpoints()
	if _, ok := store.(*checkpoint.MemoryStore); !ok {
		t.Fatalf("store = %T, want *checkpoint.MemoryStore", store)
	}
	if err := prov.EnsureDestination(context.Background()); err != nil {
		t.Fatalf("memory provisioning: %v", err)
	}
}

func TestPrintRecords(t *testing.T) {
	schema := domain.UserSchema(false)
	id, first := "u1", "Ada"
	rec, err := schema.Validate(map[string]*string{domain.FieldID: &id, domain.FieldFirstName: &first})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	var buf bytes.Buffer
	if err := printRecords(&buf, schema, []*domain.Record{rec}); err != nil {
		t.Fatalf("printRecords: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 row:\n%s", len(lines), buf.String())
	}
	header, row := strings.Fields(lines[0]), strings.Fields(lines[1])
	if len(header) != len(schema.Names()) || header[0] != domain.FieldID {
		t.Errorf("header = %v", header)
	}
	if row[0] != "u1" || row[1] != "Ada" || row[2] != "-" {
		t.Errorf("row = %v, want u1 Ada - ...", row)
	}
}
