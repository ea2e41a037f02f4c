package main

import (
	"context"
	"fmt"

	"github.com/fieldday/fieldday-backend/internal/config"
	"github.com/fieldday/fieldday-backend/internal/database"
	"github.com/fieldday/fieldday-backend/internal/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Seeds a small demo catalog: one school-scoped program, two offerings with
// fees, a required waiver, and a pair of discount codes.
func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	if err := seed(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}

	fmt.Println("Catalog seeded successfully")
}

func seed(ctx context.Context, pool *pgxpool.Pool) error {
	schoolID := uuid.New()
	programID := uuid.New()

	if _, err := pool.Exec(ctx,
		`INSERT INTO programs (id, school_id, name, sibling_discount_cents)
		 VALUES ($1, $2, 'Spring Soccer', 1500)`,
		programID, schoolID,
	); err != nil {
		return fmt.Errorf("insert program: %w", err)
	}

	soccer := uuid.New()
	if _, err := pool.Exec(ctx,
		`INSERT INTO offerings (id, program_id, name, description, price_cents, capacity, schedule, status)
		 VALUES ($1, $2, 'Soccer Stars U8', 'Intro soccer for ages 6-8', 10000, 12, 'Tue 15:30', 'OPEN')`,
		soccer, programID,
	); err != nil {
		return fmt.Errorf("insert offering: %w", err)
	}

	chess := uuid.New()
	if _, err := pool.Exec(ctx,
		`INSERT INTO offerings (id, program_id, name, description, price_cents, capacity, schedule, status)
		 VALUES ($1, $2, 'Chess Club', 'Free after-school chess', 0, 20, 'Thu 15:30', 'OPEN')`,
		chess, programID,
	); err != nil {
		return fmt.Errorf("insert offering: %w", err)
	}

	fees := []struct {
		offering uuid.UUID
		name     string
		amount   int64
		required bool
	}{
		{soccer, "Uniform", 2500, true},
		{soccer, "Team photo", 1000, false},
		{soccer, "End-of-season trophy", 800, false},
	}
	for _, f := range fees {
		if _, err := pool.Exec(ctx,
			`INSERT INTO offering_fees (id, offering_id, name, amount_cents, required)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), f.offering, f.name, f.amount, f.required,
		); err != nil {
			return fmt.Errorf("insert fee %q: %w", f.name, err)
		}
	}

	if _, err := pool.Exec(ctx,
		`INSERT INTO waiver_templates (id, program_id, school_id, title, body, required)
		 VALUES ($1, $2, $3, 'Athletic Activity Waiver',
		         'I acknowledge the risks of athletic participation.', TRUE)`,
		uuid.New(), programID, schoolID,
	); err != nil {
		return fmt.Errorf("insert waiver template: %w", err)
	}

	if _, err := pool.Exec(ctx,
		`INSERT INTO discount_codes (code, kind, value, active, expires_at)
		 VALUES ('EARLYBIRD10', 'PERCENT', 10, TRUE, NOW() + INTERVAL '90 days'),
		        ('WELCOME5', 'FIXED', 500, TRUE, NULL)`,
	); err != nil {
		return fmt.Errorf("insert discount codes: %w", err)
	}

	return nil
}
