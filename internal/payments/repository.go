package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/telehealth-consult/internal/db"
)

var (
	ErrOrderNotFound      = errors.New("payment order not found")
	ErrOrderAlreadyClosed = errors.New("payment order already settled")
)

type Repository interface {
	CreateOrder(ctx context.Context, o Order) (*Order, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error)
	// MarkPaid and MarkFailed only move orders still in the created state.
	MarkPaid(ctx context.Context, id uuid.UUID, paymentID string) (*Order, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (*Order, error)
	InsertEvent(ctx context.Context, ev db.EventLog) error
}

const orderColumns = `id, appointment_id, patient_id, gateway_order_id, gateway_payment_id,
	amount_paise, currency, status, created_at, updated_at`

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.AppointmentID,
		&o.PatientID,
		&o.GatewayOrderID,
		&o.GatewayPaymentID,
		&o.AmountPaise,
		&o.Currency,
		&o.Status,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *PgRepository) CreateOrder(ctx context.Context, o Order) (*Order, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO payment_orders (id, appointment_id, patient_id, gateway_order_id, amount_paise, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'created')
		RETURNING `+orderColumns,
		uuid.New(), o.AppointmentID, o.PatientID, o.GatewayOrderID, o.AmountPaise, o.Currency,
	)
	order, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("insert payment order: %w", err)
	}
	return order, nil
}

func (r *PgRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM payment_orders WHERE gateway_order_id = $1`, gatewayOrderID)
	return scanOrder(row)
}

func (r *PgRepository) MarkPaid(ctx context.Context, id uuid.UUID, paymentID string) (*Order, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE payment_orders
		SET status = 'paid', gateway_payment_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'created'
		RETURNING `+orderColumns, id, paymentID)
	return settle(scanOrder(row))
}

func (r *PgRepository) MarkFailed(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE payment_orders
		SET status = 'failed', updated_at = now()
		WHERE id = $1 AND status = 'created'
		RETURNING `+orderColumns, id)
	return settle(scanOrder(row))
}

func settle(o *Order, err error) (*Order, error) {
	if errors.Is(err, ErrOrderNotFound) {
		return nil, ErrOrderAlreadyClosed
	}
	return o, err
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev db.EventLog) error {
	return db.InsertEvent(ctx, r.pool, ev)
}
