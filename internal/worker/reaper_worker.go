package worker

import (
	"context"
	"time"

	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/fieldday/fieldday-backend/internal/repository"
	"github.com/fieldday/fieldday-backend/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const ReaperInterval = time.Minute

// CheckoutReaperWorker expires stale pending orders so abandoned checkouts do
// not hold capacity forever. The checkout snapshot, if still alive, drops back
// to the preview so the parent can try again.
type CheckoutReaperWorker struct {
	pool      *pgxpool.Pool
	snapshots *repository.SnapshotRepository
	publisher service.EventPublisher
	ttl       time.Duration
	log       zerolog.Logger
}

// NewCheckoutReaperWorker creates a new CheckoutReaperWorker.
func NewCheckoutReaperWorker(pool *pgxpool.Pool, snapshots *repository.SnapshotRepository, publisher service.EventPublisher, ttl time.Duration, log zerolog.Logger) *CheckoutReaperWorker {
	return &CheckoutReaperWorker{
		pool:      pool,
		snapshots: snapshots,
		publisher: publisher,
		ttl:       ttl,
		log:       log.With().Str("component", "reaper_worker").Logger(),
	}
}

func (w *CheckoutReaperWorker) Start(ctx context.Context) {
	w.log.Info().Msg("CheckoutReaperWorker started")

	ticker := time.NewTicker(ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested")
			return
		case <-ticker.C:
			w.reap(ctx)
		}
	}
}

type expiredOrder struct {
	OrderID    uuid.UUID
	CheckoutID uuid.UUID
}

func (w *CheckoutReaperWorker) reap(ctx context.Context) {
	cutoff := time.Now().Add(-w.ttl)

	rows, err := w.pool.Query(ctx,
		`UPDATE orders
		 SET status = 'EXPIRED'
		 WHERE status = 'PENDING' AND created_at < $1
		 RETURNING id, checkout_id`, cutoff,
	)
	if err != nil {
		w.log.Error().Err(err).Msg("Expire query failed")
		return
	}

	var expired []expiredOrder
	for rows.Next() {
		var e expiredOrder
		if err := rows.Scan(&e.OrderID, &e.CheckoutID); err != nil {
			rows.Close()
			w.log.Error().Err(err).Msg("Scan failed")
			return
		}
		expired = append(expired, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		w.log.Error().Err(err).Msg("Expire rows error")
		return
	}

	for _, e := range expired {
		w.log.Info().
			Str("order_id", e.OrderID.String()).
			Msg("Expired stale pending order")
		w.resetCheckout(ctx, e)
	}
}

// resetCheckout drops a still-live snapshot back to the preview after its
// pending order expired.
func (w *CheckoutReaperWorker) resetCheckout(ctx context.Context, e expiredOrder) {
	snap, err := w.snapshots.Get(ctx, e.CheckoutID)
	if err != nil {
		return
	}
	if snap.Order == nil || snap.Order.ID != e.OrderID {
		return
	}

	snap.Order = nil
	snap.Fingerprint = ""
	snap.Phase = model.PhaseOrderPreview
	snap.LastError = &model.CheckoutError{
		Code:      "ORDER_EXPIRED",
		Step:      service.StepOrderCreate,
		Retryable: true,
	}

	if err := w.snapshots.Save(ctx, snap); err != nil {
		w.log.Error().Err(err).Str("checkout_id", e.CheckoutID.String()).Msg("Failed to reset snapshot")
		return
	}

	if w.publisher != nil {
		w.publisher.Publish(ctx, &model.CheckoutEvent{
			Type:     model.EventSnapshot,
			Phase:    snap.Phase,
			Snapshot: snap,
		})
	}
}
