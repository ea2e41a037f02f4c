package repository

import (
	"context"

	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChildRepository handles child data access.
type ChildRepository struct {
	pool *pgxpool.Pool
}

// NewChildRepository creates a new ChildRepository.
func NewChildRepository(pool *pgxpool.Pool) *ChildRepository {
	return &ChildRepository{pool: pool}
}

// ListByParent retrieves all children on a parent's account.
func (r *ChildRepository) ListByParent(ctx context.Context, parentID int) ([]model.Child, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, parent_id, name, birth_date, created_at
		 FROM children
		 WHERE parent_id = $1
		 ORDER BY created_at ASC`, parentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var children []model.Child
	for rows.Next() {
		var c model.Child
		if err := rows.Scan(&c.ID, &c.ParentID, &c.Name, &c.BirthDate, &c.CreatedAt); err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return children, rows.Err()
}

// Create inserts a new child under a parent.
func (r *ChildRepository) Create(ctx context.Context, c *model.Child) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO children (parent_id, name, birth_date)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		c.ParentID, c.Name, c.BirthDate,
	).Scan(&c.ID, &c.CreatedAt)
}

// EnrolledChildIDs returns the ids of the parent's children that already hold
// a confirmed enrollment (paid or free order) in the given offering.
func (r *ChildRepository) EnrolledChildIDs(ctx context.Context, offeringID uuid.UUID, parentID int) (map[int]bool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT oc.child_id
		 FROM order_children oc
		 JOIN orders o ON oc.order_id = o.id
		 WHERE o.offering_id = $1
		   AND o.parent_id = $2
		   AND o.status IN ('PAID', 'FREE_CONFIRMED')`,
		offeringID, parentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	enrolled := make(map[int]bool)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		enrolled[id] = true
	}
	return enrolled, rows.Err()
}
