package audit

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/katta-cluster/katta/pkg/config"
	"github.com/katta-cluster/katta/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable, mirroring
// the integration-test pattern used across the rest of this module.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	cfg := testPostgresConfig()
	db, err := postgres.New(cfg)
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:     envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:     envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database: envOrDefault("TEST_POSTGRES_DB", "katta_test"),
		User:     envOrDefault("TEST_POSTGRES_USER", "katta"),
		Password: envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:  "disable",
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func TestLog_RecordAndListForIndex(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()

	if _, err := db.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS index_audit_log (
			id          BIGSERIAL PRIMARY KEY,
			index_name  TEXT NOT NULL,
			from_state  TEXT NOT NULL,
			to_state    TEXT NOT NULL,
			error_msg   TEXT NOT NULL DEFAULT '',
			actor       TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	t.Cleanup(func() {
		db.DB.ExecContext(ctx, `DELETE FROM index_audit_log WHERE index_name = $1`, "audit-test-index")
	})

	log := New(db)
	log.Record(ctx, "audit-test-index", "CREATED", "DEPLOYING", "", "operator@example.com")
	log.Record(ctx, "audit-test-index", "DEPLOYING", "OPEN", "", "operator@example.com")

	entries, err := log.ListForIndex(ctx, "audit-test-index", 10)
	if err != nil {
		t.Fatalf("ListForIndex: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ToState != "OPEN" {
		t.Fatalf("expected newest-first order, got %+v", entries[0])
	}
}

func TestLog_ListRecent(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()

	log := New(db)
	log.Record(ctx, "audit-test-index-2", "OPEN", "ERROR", "shard open failed", "master-node-1")

	entries, err := log.ListRecent(ctx, 50)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Index == "audit-test-index-2" && e.ToState == "ERROR" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected to find the recorded ERROR transition among recent entries")
	}
	t.Cleanup(func() {
		db.DB.ExecContext(ctx, `DELETE FROM index_audit_log WHERE index_name = $1`, "audit-test-index-2")
	})
}
