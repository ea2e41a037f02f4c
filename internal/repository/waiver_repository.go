package repository

import (
	"context"

	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WaiverRepository handles waiver template and acceptance data access.
type WaiverRepository struct {
	pool *pgxpool.Pool
}

// NewWaiverRepository creates a new WaiverRepository.
func NewWaiverRepository(pool *pgxpool.Pool) *WaiverRepository {
	return &WaiverRepository{pool: pool}
}

// ListPendingForChild retrieves required waiver templates in the given
// program/school scope that the child has not yet signed.
func (r *WaiverRepository) ListPendingForChild(ctx context.Context, childID int, programID, schoolID uuid.UUID) ([]model.WaiverTemplate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT t.id, t.program_id, t.school_id, t.title, t.body, t.required
		 FROM waiver_templates t
		 WHERE t.required = TRUE
		   AND (t.program_id = $2 OR t.school_id = $3)
		   AND NOT EXISTS (
		       SELECT 1 FROM waiver_acceptances a
		       WHERE a.template_id = t.id AND a.child_id = $1
		   )
		 ORDER BY t.title ASC`,
		childID, programID, schoolID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []model.WaiverTemplate
	for rows.Next() {
		var t model.WaiverTemplate
		if err := rows.Scan(&t.ID, &t.ProgramID, &t.SchoolID, &t.Title, &t.Body, &t.Required); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// CreateAcceptances records a batch of signed waivers in one transaction.
// Re-signing an already-accepted template is a no-op.
func (r *WaiverRepository) CreateAcceptances(ctx context.Context, parentID, childID int, templateIDs []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, tid := range templateIDs {
		batch.Queue(
			`INSERT INTO waiver_acceptances (id, template_id, child_id, parent_id)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (template_id, child_id) DO NOTHING`,
			uuid.New(), tid, childID, parentID,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range templateIDs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
