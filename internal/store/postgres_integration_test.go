//go:build integration

// Integration tests for the PostgreSQL store implementation.
//
// Run with: go test -tags=integration -v ./internal/store/...
//
// By default a throwaway PostgreSQL container is started via testcontainers,
// which requires a working Docker daemon. Set DATABASE_URL to reuse an
// existing database instead.
package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS telemetry_records (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    fields     JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (collection, id)
)`

// setupDB opens a database for integration testing, preferring DATABASE_URL
// and falling back to a disposable container.
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("readpulse"),
			tcpostgres.WithUsername("readpulse"),
			tcpostgres.WithPassword("readpulse"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			t.Skipf("could not start postgres container (is Docker running?): %v", err)
		}
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(ctr); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		dsn, err = ctr.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("failed to build connection string: %v", err)
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	if _, err := db.Exec("TRUNCATE telemetry_records"); err != nil {
		t.Fatalf("failed to truncate table: %v", err)
	}
	return db
}

func TestPostgresStore_AppendGetUpsert(t *testing.T) {
	db := setupDB(t)
	s := NewPostgresStore(db, nil)
	ctx := context.Background()

	if err := s.AppendRecord(ctx, CollectionEvents, "e1", map[string]any{"user_id": "u1", "n": 1}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := s.AppendRecord(ctx, CollectionEvents, "e1", map[string]any{}); !errors.Is(err, ErrRecordExists) {
		t.Errorf("Expected ErrRecordExists, got %v", err)
	}

	rec, err := s.GetRecord(ctx, CollectionEvents, "e1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rec.Fields["user_id"] != "u1" {
		t.Errorf("Expected user_id u1, got %v", rec.Fields["user_id"])
	}

	// Upsert merges new fields and preserves existing ones.
	if err := s.UpsertRecord(ctx, CollectionEvents, "e1", map[string]any{"extra": true}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	rec, _ = s.GetRecord(ctx, CollectionEvents, "e1")
	if rec.Fields["extra"] != true || rec.Fields["user_id"] != "u1" {
		t.Errorf("Expected merged fields, got %v", rec.Fields)
	}

	if _, err := s.GetRecord(ctx, CollectionEvents, "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestPostgresStore_QueryLatest(t *testing.T) {
	db := setupDB(t)
	s := NewPostgresStore(db, nil)
	ctx := context.Background()

	records := []struct {
		id string
		ts string
		ev string
	}{
		{"e1", "2026-03-01T10:00:00Z", "view"},
		{"e2", "2026-03-01T11:00:00Z", "view"},
		{"e3", "2026-03-01T12:00:00Z", "like"},
	}
	for _, r := range records {
		err := s.AppendRecord(ctx, CollectionEvents, r.id, map[string]any{
			"user_id":    "u1",
			"passage_id": "p1",
			"event_type": r.ev,
			"timestamp":  r.ts,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	rec, err := s.QueryLatest(ctx, CollectionEvents, map[string]any{
		"user_id":    "u1",
		"passage_id": "p1",
		"event_type": "view",
	}, "timestamp")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if rec.ID != "e2" {
		t.Errorf("Expected latest view event e2, got %q", rec.ID)
	}

	_, err = s.QueryLatest(ctx, CollectionEvents, map[string]any{"event_type": "bookmark"}, "timestamp")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestPostgresStore_CommitBatch_Atomic(t *testing.T) {
	db := setupDB(t)
	s := NewPostgresStore(db, nil)
	ctx := context.Background()

	writes := []Write{
		{Op: WriteAppend, Collection: CollectionEvents, ID: "e1", Fields: map[string]any{"k": "v"}},
		{Op: WriteUpsert, Collection: CollectionSessions, ID: "s1", Fields: map[string]any{"quality": "high"}},
		{Op: WriteUpdate, Collection: CollectionEvents, ID: "e1", Fields: map[string]any{"k": "v2"}},
	}
	if err := s.CommitBatch(ctx, writes); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	rec, err := s.GetRecord(ctx, CollectionEvents, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Fields["k"] != "v2" {
		t.Errorf("Expected update applied within batch, got %v", rec.Fields["k"])
	}

	// A failing write rolls the whole batch back.
	bad := []Write{
		{Op: WriteAppend, Collection: CollectionEvents, ID: "e2", Fields: map[string]any{}},
		{Op: WriteUpdate, Collection: CollectionEvents, ID: "missing", Fields: map[string]any{}},
	}
	if err := s.CommitBatch(ctx, bad); err == nil {
		t.Fatal("Expected batch failure on missing update target")
	}
	if _, err := s.GetRecord(ctx, CollectionEvents, "e2"); !errors.Is(err, ErrRecordNotFound) {
		t.Error("Expected failed batch to be rolled back")
	}
}
