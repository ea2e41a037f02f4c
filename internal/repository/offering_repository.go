package repository

import (
	"context"

	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OfferingRepository handles class offering data access.
type OfferingRepository struct {
	pool *pgxpool.Pool
}

// NewOfferingRepository creates a new OfferingRepository.
func NewOfferingRepository(pool *pgxpool.Pool) *OfferingRepository {
	return &OfferingRepository{pool: pool}
}

// GetByID retrieves an offering by id.
func (r *OfferingRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Offering, error) {
	o := &model.Offering{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, program_id, name, description, price_cents, capacity,
		        enrolled_count, schedule, status, created_at, updated_at
		 FROM offerings
		 WHERE id = $1`, id,
	).Scan(&o.ID, &o.ProgramID, &o.Name, &o.Description, &o.PriceCents,
		&o.Capacity, &o.EnrolledCount, &o.Schedule, &o.Status,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ListOpen retrieves all offerings currently open for enrollment.
func (r *OfferingRepository) ListOpen(ctx context.Context) ([]model.Offering, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, program_id, name, description, price_cents, capacity,
		        enrolled_count, schedule, status, created_at, updated_at
		 FROM offerings
		 WHERE status = 'OPEN'
		 ORDER BY name ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offerings []model.Offering
	for rows.Next() {
		var o model.Offering
		if err := rows.Scan(&o.ID, &o.ProgramID, &o.Name, &o.Description,
			&o.PriceCents, &o.Capacity, &o.EnrolledCount, &o.Schedule,
			&o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		offerings = append(offerings, o)
	}
	return offerings, rows.Err()
}

// ListFees retrieves all custom fees attached to an offering.
func (r *OfferingRepository) ListFees(ctx context.Context, offeringID uuid.UUID) ([]model.OfferingFee, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, offering_id, name, amount_cents, required
		 FROM offering_fees
		 WHERE offering_id = $1
		 ORDER BY required DESC, name ASC`, offeringID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fees []model.OfferingFee
	for rows.Next() {
		var f model.OfferingFee
		if err := rows.Scan(&f.ID, &f.OfferingID, &f.Name, &f.AmountCents, &f.Required); err != nil {
			return nil, err
		}
		fees = append(fees, f)
	}
	return fees, rows.Err()
}

// GetProgram retrieves the program scope for an offering.
func (r *OfferingRepository) GetProgram(ctx context.Context, programID uuid.UUID) (*model.Program, error) {
	p := &model.Program{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, school_id, name, sibling_discount_cents
		 FROM programs
		 WHERE id = $1`, programID,
	).Scan(&p.ID, &p.SchoolID, &p.Name, &p.SiblingDiscountCents)
	if err != nil {
		return nil, err
	}
	return p, nil
}
