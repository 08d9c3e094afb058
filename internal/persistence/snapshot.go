package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotStore persists periodic state snapshots of the settlement
// engine: all balance records, open orders, and pool state, serialized
// by the engine itself. Snapshots are audit artifacts and the starting
// point for offline reconciliation against the event log.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// StateMarshaler is the slice of the engine the store needs.
type StateMarshaler interface {
	MarshalState() ([]byte, error)
}

// Save serializes the current engine state and writes it as a new
// snapshot row.
func (s *SnapshotStore) Save(ctx context.Context, src StateMarshaler) error {
	data, err := src.MarshalState()
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clearing.snapshots (snapshot_id, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), data, len(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LoadLatest returns the most recent snapshot blob, or nil when none
// exists.
func (s *SnapshotStore) LoadLatest(ctx context.Context) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM clearing.snapshots
		ORDER BY created_at DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return data, nil
}

// Prune deletes snapshots older than the retention window, keeping at
// least one.
func (s *SnapshotStore) Prune(ctx context.Context, retain time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM clearing.snapshots
		WHERE created_at < $1
		  AND snapshot_id <> (SELECT snapshot_id FROM clearing.snapshots ORDER BY created_at DESC LIMIT 1)
	`, time.Now().UTC().Add(-retain))
	return err
}
