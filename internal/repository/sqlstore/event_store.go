package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/repository"
)

const insertEventSQL = `
	INSERT INTO events (id, stream_id, stream_type, version, event_type, payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

type eventStore struct {
	db *sql.DB
}

// NewEventStore creates an EventStore on the events table.
func NewEventStore(db *sql.DB) repository.EventStore {
	return &eventStore{db: db}
}

func (s *eventStore) SaveEvents(ctx context.Context, streamID string, streamType string, expectedVersion int, events []entity.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := appendEvents(ctx, tx, streamID, streamType, expectedVersion, events); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// appendEvents writes events as versions expectedVersion+1 onwards. A
// stream that moved on, or a writer racing for the same version, yields
// ErrConcurrentModification.
func appendEvents(ctx context.Context, tx *sql.Tx, streamID, streamType string, expectedVersion int, events []entity.Event) error {
	var current int
	err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = $1", streamID).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read version of stream %s: %w", streamID, err)
	}
	if current != expectedVersion {
		return fmt.Errorf("%w: stream %s is at version %d, expected %d",
			entity.ErrConcurrentModification, streamID, current, expectedVersion)
	}

	recordedAt := time.Now().UTC()
	for i, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", e.EventType(), err)
		}

		version := expectedVersion + i + 1
		_, err = tx.ExecContext(ctx, insertEventSQL,
			uuid.NewString(), streamID, streamType, version, e.EventType(), payload, recordedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: stream %s version %d was written concurrently",
				entity.ErrConcurrentModification, streamID, version)
		}
		if err != nil {
			return fmt.Errorf("failed to insert event %s: %w", e.EventType(), err)
		}
	}
	return nil
}

// LoadEvents returns the stream in version order.
func (s *eventStore) LoadEvents(ctx context.Context, streamID string) ([]entity.EventStoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stream_id, stream_type, version, event_type, payload, created_at
		FROM events WHERE stream_id = $1 ORDER BY version`, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stream %s: %w", streamID, err)
	}
	defer rows.Close()

	var records []entity.EventStoreRecord
	for rows.Next() {
		var r entity.EventStoreRecord
		if err := rows.Scan(&r.ID, &r.StreamID, &r.StreamType, &r.Version, &r.EventType, &r.Payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event of stream %s: %w", streamID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
