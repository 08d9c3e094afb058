package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/testutil"
)

type cannedState struct {
	data []byte
}

func (s cannedState) MarshalState() ([]byte, error) { return s.data, nil }

func setupMigrated(t *testing.T) (*Migrator, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	m := NewMigrator(db, "../../migrations")
	if err := m.Up(context.Background()); err != nil {
		cleanup()
		t.Fatalf("migrate up: %v", err)
	}
	return m, cleanup
}

func TestWriteEventBatchIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	if err := NewMigrator(db, "../../migrations").Up(context.Background()); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	ctx := context.Background()
	w := NewEventLogWriter(db)

	rows := []EventRow{
		{
			EventID:   uuid.NewString(),
			EventType: "position_changed",
			MarketID:  "ETH-USD",
			Payload:   []byte(`{"fee":"10000000000000000"}`),
			Timestamp: time.Now().UTC(),
		},
		{
			EventID:   uuid.NewString(),
			EventType: "pnl_settled",
			Payload:   []byte(`{"amount":"-1"}`),
			Timestamp: time.Now().UTC(),
		},
	}

	if err := w.WriteEventBatch(ctx, rows); err != nil {
		t.Fatalf("first write: %v", err)
	}
	// Replaying the same batch must not duplicate rows.
	if err := w.WriteEventBatch(ctx, rows); err != nil {
		t.Fatalf("replay write: %v", err)
	}

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM clearing.events WHERE event_id IN ($1, $2)",
		rows[0].EventID, rows[1].EventID).Scan(&count)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("events stored = %d, want 2", count)
	}

	// An event without a market stores NULL, not an empty string.
	var marketNull bool
	err = db.QueryRow("SELECT market_id IS NULL FROM clearing.events WHERE event_id = $1", rows[1].EventID).Scan(&marketNull)
	if err != nil {
		t.Fatalf("market null check: %v", err)
	}
	if !marketNull {
		t.Error("empty market id stored as non-NULL")
	}
}

func TestWriteEventBatchEmpty(t *testing.T) {
	w := NewEventLogWriter(nil)
	if err := w.WriteEventBatch(context.Background(), nil); err != nil {
		t.Errorf("empty batch: %v", err)
	}
}

func TestSnapshotSaveLoadPrune(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	if err := NewMigrator(db, "../../migrations").Up(context.Background()); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	ctx := context.Background()
	store := NewSnapshotStore(db)

	if data, err := store.LoadLatest(ctx); err != nil || data != nil {
		t.Fatalf("empty store: data=%v err=%v", data, err)
	}

	// The data column is JSONB, so readback compares semantically.
	noteOf := func(data []byte) string {
		var doc struct {
			Note string `json:"note"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Fatalf("unmarshal snapshot: %v", err)
		}
		return doc.Note
	}

	first := []byte(`{"markets":[],"note":"first"}`)
	second := []byte(`{"markets":[],"note":"second"}`)
	if err := store.Save(ctx, cannedState{first}); err != nil {
		t.Fatalf("save first: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := store.Save(ctx, cannedState{second}); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := store.LoadLatest(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if noteOf(got) != "second" {
		t.Errorf("latest = %s, want the second snapshot", got)
	}

	// Pruning with zero retention keeps the newest snapshot.
	if err := store.Prune(ctx, 0); err != nil {
		t.Fatalf("prune: %v", err)
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM clearing.snapshots").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("snapshots after prune = %d, want 1", count)
	}
	got, err = store.LoadLatest(ctx)
	if err != nil {
		t.Fatalf("load after prune: %v", err)
	}
	if noteOf(got) != "second" {
		t.Errorf("latest after prune = %s", got)
	}
}

func TestMigratorUpIsIdempotent(t *testing.T) {
	m, cleanup := setupMigrated(t)
	defer cleanup()

	// A second Up sees all versions applied and does nothing.
	if err := m.Up(context.Background()); err != nil {
		t.Fatalf("second up: %v", err)
	}
}
