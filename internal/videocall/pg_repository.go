package videocall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/telehealth-consult/internal/db"
)

const callColumns = `id, appointment_id, doctor_id, patient_id, room_name, room_url, status,
	patient_joined_at, doctor_joined_at, started_at, ended_at, created_at, updated_at`

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanCall(row pgx.Row) (*VideoCall, error) {
	var c VideoCall
	var roomURL *string

	err := row.Scan(
		&c.ID,
		&c.AppointmentID,
		&c.DoctorID,
		&c.PatientID,
		&c.RoomName,
		&roomURL,
		&c.Status,
		&c.PatientJoinedAt,
		&c.DoctorJoinedAt,
		&c.StartedAt,
		&c.EndedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCallNotFound
		}
		return nil, err
	}

	if roomURL != nil {
		c.RoomURL = *roomURL
	}
	return &c, nil
}

func (r *PgRepository) Create(ctx context.Context, c VideoCall) (*VideoCall, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO video_calls (appointment_id, doctor_id, patient_id, room_name, room_url, status)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), 'scheduled')
		ON CONFLICT (appointment_id) DO UPDATE SET updated_at = video_calls.updated_at
		RETURNING `+callColumns,
		c.AppointmentID, c.DoctorID, c.PatientID, c.RoomName, c.RoomURL,
	)
	call, err := scanCall(row)
	if err != nil {
		return nil, fmt.Errorf("insert video call: %w", err)
	}
	return call, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*VideoCall, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM video_calls WHERE id = $1`, id)
	return scanCall(row)
}

func (r *PgRepository) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*VideoCall, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM video_calls WHERE appointment_id = $1`, appointmentID)
	return scanCall(row)
}

func (r *PgRepository) SetRoom(ctx context.Context, id uuid.UUID, roomURL string) (*VideoCall, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE video_calls
		SET room_url = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+callColumns, id, roomURL)
	return scanCall(row)
}

// conditional runs a guarded UPDATE. No row means either the call does not
// exist or the guard failed; the two are told apart with a follow-up read.
func (r *PgRepository) conditional(ctx context.Context, id uuid.UUID, sql string, args ...any) (*VideoCall, error) {
	call, err := scanCall(r.pool.QueryRow(ctx, sql, args...))
	if err == nil {
		return call, nil
	}
	if !errors.Is(err, ErrCallNotFound) {
		return nil, err
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrConditionFailed
}

func (r *PgRepository) MarkPatientJoined(ctx context.Context, id uuid.UUID, at time.Time) (*VideoCall, error) {
	return r.conditional(ctx, id, `
		UPDATE video_calls
		SET patient_joined_at = $2,
		    status = CASE WHEN status = 'active' THEN 'active' ELSE 'waiting' END,
		    updated_at = now()
		WHERE id = $1 AND status <> 'ended'
		RETURNING `+callColumns, id, at)
}

func (r *PgRepository) Admit(ctx context.Context, id uuid.UUID, at time.Time) (*VideoCall, error) {
	return r.conditional(ctx, id, `
		UPDATE video_calls
		SET status = 'active', started_at = $2, doctor_joined_at = COALESCE(doctor_joined_at, $2), updated_at = now()
		WHERE id = $1 AND status = 'waiting' AND patient_joined_at IS NOT NULL
		RETURNING `+callColumns, id, at)
}

func (r *PgRepository) End(ctx context.Context, id uuid.UUID, from []Status, at time.Time) (*VideoCall, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	return r.conditional(ctx, id, `
		UPDATE video_calls
		SET status = 'ended', ended_at = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+callColumns, id, states, at)
}

func (r *PgRepository) FindStale(ctx context.Context, cutoff time.Time) ([]VideoCall, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+prefixed("vc")+`
		FROM video_calls vc
		JOIN appointments a ON a.id = vc.appointment_id
		JOIN appointment_slots s ON s.id = a.slot_id
		WHERE vc.status IN ('scheduled', 'waiting')
		  AND s.end_time < $1
		ORDER BY s.end_time
		LIMIT 100
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale calls: %w", err)
	}
	defer rows.Close()

	var out []VideoCall
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale call: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev db.EventLog) error {
	return db.InsertEvent(ctx, r.pool, ev)
}

func prefixed(alias string) string {
	return alias + ".id, " + alias + ".appointment_id, " + alias + ".doctor_id, " + alias + ".patient_id, " +
		alias + ".room_name, " + alias + ".room_url, " + alias + ".status, " +
		alias + ".patient_joined_at, " + alias + ".doctor_joined_at, " + alias + ".started_at, " +
		alias + ".ended_at, " + alias + ".created_at, " + alias + ".updated_at"
}
