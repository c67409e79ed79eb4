package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-consult/internal/config"
	"github.com/hackgods/telehealth-consult/internal/db"
	"github.com/hackgods/telehealth-consult/internal/logging"
)

const (
	doctorCount    = 40
	patientCount   = 2000
	slotsPerDoctor = 24
	slotLength     = 30 * time.Minute
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "dev")
		boot.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctors, err := seedDoctors(ctx, pool, logger, doctorCount, cfg.ConsultFeePaise)
	if err != nil {
		logger.Error().Err(err).Msg("seed doctors")
		os.Exit(1)
	}
	if err := seedPatients(ctx, pool, logger, patientCount); err != nil {
		logger.Error().Err(err).Msg("seed patients")
		os.Exit(1)
	}
	if err := seedSlots(ctx, pool, logger, doctors, slotsPerDoctor); err != nil {
		logger.Error().Err(err).Msg("seed slots")
		os.Exit(1)
	}

	logger.Info().Msg("seed complete")
}

// upsertProfile mirrors what the auth provider's sign-up trigger would
// create so seeded users can sign in and chat.
func upsertProfile(ctx context.Context, tx pgx.Tx, id uuid.UUID, name, role, email, phone string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO profiles (id, full_name, role, email, phone, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO NOTHING
	`, id, name, role, email, phone)
	return err
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger, count int, baseFee int64) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		email := gofakeit.Email()
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]
		// fees vary in 50 rupee steps around the configured base
		fee := baseFee + int64(gofakeit.Number(-4, 8))*5000
		if fee <= 0 {
			fee = baseFee
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, email, specialty, consult_fee_paise, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, id, name, email, specialty, fee); err != nil {
			return nil, err
		}
		if err := upsertProfile(ctx, tx, id, name, "doctor", email, gofakeit.Phone()); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info().Msg("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger, count int) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()
			phone := gofakeit.Phone()

			if _, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, name, email, phone); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
			if err := upsertProfile(ctx, tx, id, name, "patient", email, phone); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}

// seedSlots lays out consecutive half-hour slots per doctor starting at the
// next full hour.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger, doctors []uuid.UUID, perDoctor int) error {
	logger.Info().Int("doctors", len(doctors)).Int("per_doctor", perDoctor).Msg("seeding slots")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	first := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
	for _, doctorID := range doctors {
		for i := 0; i < perDoctor; i++ {
			start := first.Add(time.Duration(i) * slotLength)
			if _, err := tx.Exec(ctx, `
				INSERT INTO appointment_slots (id, doctor_id, start_time, end_time, status, capacity, created_at, updated_at)
				VALUES ($1, $2, $3, $4, 'open', 1, now(), now())
			`, uuid.New(), doctorID, start, start.Add(slotLength)); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Int("slots", len(doctors)*perDoctor).Msg("slots seeded")
	return nil
}
