package repository

import (
	"context"

	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ParentRepository handles parent account data access.
type ParentRepository struct {
	pool *pgxpool.Pool
}

// NewParentRepository creates a new ParentRepository.
func NewParentRepository(pool *pgxpool.Pool) *ParentRepository {
	return &ParentRepository{pool: pool}
}

// GetByEmail retrieves a parent by email for login.
func (r *ParentRepository) GetByEmail(ctx context.Context, email string) (*model.Parent, error) {
	p := &model.Parent{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, created_at
		 FROM parents
		 WHERE email = $1`, email,
	).Scan(&p.ID, &p.Email, &p.Name, &p.PasswordHash, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetByID retrieves a parent by id.
func (r *ParentRepository) GetByID(ctx context.Context, id int) (*model.Parent, error) {
	p := &model.Parent{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, created_at
		 FROM parents
		 WHERE id = $1`, id,
	).Scan(&p.ID, &p.Email, &p.Name, &p.PasswordHash, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create inserts a new parent account.
func (r *ParentRepository) Create(ctx context.Context, p *model.Parent) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO parents (email, name, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		p.Email, p.Name, p.PasswordHash,
	).Scan(&p.ID, &p.CreatedAt)
}
