package repository

import (
	"context"
	"errors"

	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyWaitlisted is returned when the child is already on the waitlist.
var ErrAlreadyWaitlisted = errors.New("child already waitlisted for offering")

// WaitlistRepository handles waitlist entry data access.
type WaitlistRepository struct {
	pool *pgxpool.Pool
}

// NewWaitlistRepository creates a new WaitlistRepository.
func NewWaitlistRepository(pool *pgxpool.Pool) *WaitlistRepository {
	return &WaitlistRepository{pool: pool}
}

// Join adds a child to an offering's waitlist. Joining twice is rejected
// with ErrAlreadyWaitlisted.
func (r *WaitlistRepository) Join(ctx context.Context, e *model.WaitlistEntry) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO waitlist_entries (id, offering_id, child_id, parent_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (offering_id, child_id) DO NOTHING
		 RETURNING created_at`,
		e.ID, e.OfferingID, e.ChildID, e.ParentID,
	).Scan(&e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAlreadyWaitlisted
	}
	return err
}

// ListByParent retrieves all waitlist entries for a parent's children.
func (r *WaitlistRepository) ListByParent(ctx context.Context, parentID int) ([]model.WaitlistEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, offering_id, child_id, parent_id, created_at
		 FROM waitlist_entries
		 WHERE parent_id = $1
		 ORDER BY created_at DESC`, parentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.WaitlistEntry
	for rows.Next() {
		var e model.WaitlistEntry
		if err := rows.Scan(&e.ID, &e.OfferingID, &e.ChildID, &e.ParentID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
