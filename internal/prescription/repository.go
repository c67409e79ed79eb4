package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/telehealth-consult/internal/db"
)

var ErrPrescriptionNotFound = errors.New("prescription not found")

type Repository interface {
	Create(ctx context.Context, p Prescription) (*Prescription, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Prescription, error)
	InsertEvent(ctx context.Context, ev db.EventLog) error
}

const prescriptionColumns = `id, appointment_id, doctor_id, patient_id, diagnosis, medications, notes, created_at`

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var (
		p    Prescription
		meds []byte
	)
	if err := row.Scan(&p.ID, &p.AppointmentID, &p.DoctorID, &p.PatientID, &p.Diagnosis, &meds, &p.Notes, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(meds, &p.Medications); err != nil {
		return nil, fmt.Errorf("decode medications: %w", err)
	}
	return &p, nil
}

func (r *PgRepository) Create(ctx context.Context, p Prescription) (*Prescription, error) {
	meds, err := json.Marshal(p.Medications)
	if err != nil {
		return nil, fmt.Errorf("encode medications: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO prescriptions (id, appointment_id, doctor_id, patient_id, diagnosis, medications, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING `+prescriptionColumns,
		uuid.New(), p.AppointmentID, p.DoctorID, p.PatientID, p.Diagnosis, meds, p.Notes)
	return scanPrescription(row)
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+prescriptionColumns+` FROM prescriptions WHERE id = $1`, id)
	return scanPrescription(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Prescription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+prescriptionColumns+`
		FROM prescriptions
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}
	defer rows.Close()

	var out []Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev db.EventLog) error {
	return db.InsertEvent(ctx, r.pool, ev)
}
