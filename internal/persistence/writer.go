package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter appends domain events to Postgres using multi-row
// INSERT. Writes are idempotent on event_id, so replays after a crash
// never duplicate rows.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow is a row in clearing.events.
type EventRow struct {
	EventID   string
	EventType string
	MarketID  string
	Payload   []byte // JSON-encoded event
	Timestamp time.Time
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events to clearing.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO clearing.events
		(event_id, event_type, market_id, payload, created_at)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*5)

	for i, e := range events {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		var marketID interface{}
		if e.MarketID != "" {
			marketID = e.MarketID
		}
		args = append(args, e.EventID, e.EventType, marketID, e.Payload, e.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (event_id) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// MarshalEventPayload serializes an event for storage.
func MarshalEventPayload(payload interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
