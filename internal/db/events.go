package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventLog is one row of the append-only event_logs audit table shared by
// appointments, calls and payments.
type EventLog struct {
	ID        int64
	EventType string
	SubjectID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

func InsertEvent(ctx context.Context, q Querier, ev EventLog) error {
	_, err := q.Exec(ctx, `
		INSERT INTO event_logs (event_type, subject_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.SubjectID, ev.Payload, NullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}
