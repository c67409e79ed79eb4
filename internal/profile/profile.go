// Package profile completes a user's profile after sign-up. The profile row
// itself is created by a trigger on the auth store, so the first update can
// race it.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-consult/internal/db"
	"github.com/hackgods/telehealth-consult/internal/retry"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

var (
	ErrProfileNotReady = errors.New("profile row not created yet")
	ErrInvalidRole     = errors.New("role must be patient or doctor")
	ErrNameRequired    = errors.New("full name is required")
)

type SignUp struct {
	UserID    uuid.UUID `json:"user_id"`
	Role      Role      `json:"role"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone,omitempty"`
	Specialty *string   `json:"specialty,omitempty"`
}

// Result reports whether the profile was synced. Sign-up succeeds either way.
type Result struct {
	Synced   bool `json:"synced"`
	Attempts int  `json:"attempts"`
}

type Repository interface {
	// UpdateProfile fills the trigger-created row. It returns
	// ErrProfileNotReady when the row does not exist yet.
	UpdateProfile(ctx context.Context, s SignUp) error
	// UpsertDirectory mirrors the profile into the patients or doctors table.
	UpsertDirectory(ctx context.Context, s SignUp) error
}

type Service struct {
	repo   Repository
	policy retry.Policy
	logger zerolog.Logger
}

func NewService(repo Repository, attempts int, delay time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		policy: retry.Policy{
			MaxAttempts: attempts,
			Backoff:     retry.Fixed(delay),
		},
		logger: logger.With().Str("component", "profile").Logger(),
	}
}

// EnsureProfile writes the sign-up details onto the profile row with a
// bounded retry. When every attempt fails it logs and reports Synced=false
// instead of failing the sign-up.
func (s *Service) EnsureProfile(ctx context.Context, in SignUp) (Result, error) {
	if in.Role != RolePatient && in.Role != RoleDoctor {
		return Result{}, ErrInvalidRole
	}
	if in.FullName == "" {
		return Result{}, ErrNameRequired
	}

	var res Result
	policy := s.policy
	policy.Fallback = func(_ context.Context, err error) error {
		s.logger.Warn().Err(err).
			Str("user_id", in.UserID.String()).
			Int("attempts", res.Attempts).
			Msg("giving up on profile sync after sign-up")
		return nil
	}

	_ = policy.Do(ctx, func(ctx context.Context, attempt int) error {
		res.Attempts = attempt
		if err := s.repo.UpdateProfile(ctx, in); err != nil {
			return err
		}
		res.Synced = true
		return nil
	})

	if !res.Synced {
		return res, nil
	}

	if err := s.repo.UpsertDirectory(ctx, in); err != nil {
		return res, fmt.Errorf("sync %s directory: %w", in.Role, err)
	}
	return res, nil
}

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) UpdateProfile(ctx context.Context, s SignUp) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE profiles
		SET full_name = $2, role = $3, email = $4, phone = $5, updated_at = now()
		WHERE id = $1
	`, s.UserID, s.FullName, s.Role, s.Email, s.Phone)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotReady
	}
	return nil
}

func (r *PgRepository) UpsertDirectory(ctx context.Context, s SignUp) error {
	var err error
	switch s.Role {
	case RoleDoctor:
		_, err = r.pool.Exec(ctx, `
			INSERT INTO doctors (id, name, email, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, email = EXCLUDED.email, specialty = EXCLUDED.specialty, updated_at = now()
		`, s.UserID, s.FullName, s.Email, s.Specialty)
	default:
		_, err = r.pool.Exec(ctx, `
			INSERT INTO patients (id, name, email, phone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone, updated_at = now()
		`, s.UserID, s.FullName, s.Email, s.Phone)
	}
	return err
}
