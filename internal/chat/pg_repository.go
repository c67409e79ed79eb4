package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/telehealth-consult/internal/db"
)

const messageColumns = `id, sender_id, recipient_id, appointment_id, body, read_at, created_at`

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.AppointmentID, &m.Body, &m.ReadAt, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *PgRepository) Insert(ctx context.Context, m Message) (*Message, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO messages (id, sender_id, recipient_id, appointment_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING `+messageColumns,
		uuid.New(), m.SenderID, m.RecipientID, m.AppointmentID, m.Body)
	return scanMessage(row)
}

func (r *PgRepository) ListBetween(ctx context.Context, userID, peerID uuid.UUID, before time.Time, limit int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
		  AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, userID, peerID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *PgRepository) MarkRead(ctx context.Context, recipientID, senderID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET read_at = $3
		WHERE recipient_id = $1 AND sender_id = $2 AND read_at IS NULL
	`, recipientID, senderID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM messages WHERE recipient_id = $1 AND read_at IS NULL
	`, userID).Scan(&n)
	return n, err
}

func (r *PgRepository) Conversations(ctx context.Context, userID uuid.UUID) ([]Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (peer_id)
		       peer_id, body, created_at,
		       count(*) FILTER (WHERE recipient_id = $1 AND read_at IS NULL) OVER (PARTITION BY peer_id)
		FROM (
		  SELECT CASE WHEN sender_id = $1 THEN recipient_id ELSE sender_id END AS peer_id,
		         recipient_id, body, read_at, created_at
		  FROM messages
		  WHERE sender_id = $1 OR recipient_id = $1
		) m
		ORDER BY peer_id, created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.PeerID, &c.LastMessage, &c.LastAt, &c.Unread); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
