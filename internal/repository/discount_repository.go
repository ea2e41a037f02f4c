package repository

import (
	"context"

	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DiscountRepository handles discount code data access.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository creates a new DiscountRepository.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// GetActiveByCode retrieves an active discount code. Returns pgx.ErrNoRows
// for unknown or deactivated codes.
func (r *DiscountRepository) GetActiveByCode(ctx context.Context, code string) (*model.DiscountCode, error) {
	d := &model.DiscountCode{}
	err := r.pool.QueryRow(ctx,
		`SELECT code, kind, value, active, expires_at
		 FROM discount_codes
		 WHERE code = $1 AND active = TRUE`, code,
	).Scan(&d.Code, &d.Kind, &d.Value, &d.Active, &d.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}
