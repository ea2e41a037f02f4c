package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fieldday/fieldday-backend/internal/config"
	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/fieldday/fieldday-backend/internal/service"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	SettleBatchSize    = 50
	SettleBatchTimeout = 2 * time.Second
	SettlePollTimeout  = 1 * time.Second
)

// SettlementWorker drains verified gateway notifications from the Redis queue
// and applies them: orders flip to PAID in bulk, enrollment counts are bumped,
// and each affected checkout snapshot is updated and pushed to subscribers.
type SettlementWorker struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	snapshots service.SnapshotStore
	publisher service.EventPublisher
	log       zerolog.Logger
}

// NewSettlementWorker creates a new SettlementWorker.
func NewSettlementWorker(pool *pgxpool.Pool, rdb *redis.Client, snapshots service.SnapshotStore, publisher service.EventPublisher, log zerolog.Logger) *SettlementWorker {
	return &SettlementWorker{
		pool:      pool,
		rdb:       rdb,
		snapshots: snapshots,
		publisher: publisher,
		log:       log.With().Str("component", "settlement_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *SettlementWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SettlementWorker started")

	batch := make([]*service.GatewayNotification, 0, SettleBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= SettleBatchSize || time.Since(lastFlush) >= SettleBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, SettlePollTimeout, config.WorkerKey.SettlePaymentsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var n service.GatewayNotification
			if err := json.Unmarshal([]byte(item[1]), &n); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &n)
		}
	}
}

// ----------------------------------------------------------------
// Batch settle wrapper
// ----------------------------------------------------------------

type settledOrder struct {
	OrderID    uuid.UUID
	CheckoutID uuid.UUID
}

func (w *SettlementWorker) flushSafe(ctx context.Context, batch []*service.GatewayNotification) {
	if len(batch) == 0 {
		return
	}

	var settleIDs []uuid.UUID
	var failed []*service.GatewayNotification
	for _, n := range batch {
		orderID, err := uuid.Parse(n.OrderID)
		if err != nil {
			w.log.Error().Str("order_id", n.OrderID).Msg("Unparseable order id in notification")
			continue
		}
		if n.Settled() {
			settleIDs = append(settleIDs, orderID)
		} else {
			failed = append(failed, n)
		}
	}

	settled, err := w.bulkSettle(ctx, settleIDs)
	if err != nil {
		w.log.Warn().Err(err).Msg("bulk settle failed — requeueing")
		for _, n := range batch {
			if n.Settled() {
				raw, _ := json.Marshal(n)
				w.rdb.RPush(ctx, config.WorkerKey.SettlePaymentsQueue, raw)
			}
		}
	} else {
		for _, s := range settled {
			w.markCheckoutPaid(ctx, s)
		}
	}

	for _, n := range failed {
		w.markFailed(ctx, n)
	}
}

// ----------------------------------------------------------------
// BULK PostgreSQL settle: PENDING → PAID plus enrollment bump
// ----------------------------------------------------------------

func (w *SettlementWorker) bulkSettle(ctx context.Context, orderIDs []uuid.UUID) ([]settledOrder, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`UPDATE orders
		 SET status = 'PAID', settled_at = NOW()
		 WHERE id = ANY($1) AND status = 'PENDING'
		 RETURNING id, checkout_id`, orderIDs,
	)
	if err != nil {
		return nil, err
	}

	var settled []settledOrder
	for rows.Next() {
		var s settledOrder
		if err := rows.Scan(&s.OrderID, &s.CheckoutID); err != nil {
			rows.Close()
			return nil, err
		}
		settled = append(settled, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(settled) > 0 {
		ids := make([]uuid.UUID, 0, len(settled))
		for _, s := range settled {
			ids = append(ids, s.OrderID)
		}

		// One bump per offering, sized by the children on the settled orders.
		if _, err := tx.Exec(ctx,
			`UPDATE offerings
			 SET enrolled_count = enrolled_count + t.cnt, updated_at = NOW()
			 FROM (
			     SELECT o.offering_id, COUNT(*) AS cnt
			     FROM orders o
			     JOIN order_children oc ON oc.order_id = o.id
			     WHERE o.id = ANY($1)
			     GROUP BY o.offering_id
			 ) AS t
			 WHERE offerings.id = t.offering_id`, ids,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return settled, nil
}

// markCheckoutPaid flips the checkout snapshot to PAYMENT_SUCCEEDED and pushes
// the paid event. An expired snapshot is fine: the order itself is settled,
// and the receipt endpoint reads from the database.
func (w *SettlementWorker) markCheckoutPaid(ctx context.Context, s settledOrder) {
	snap, err := w.snapshots.Get(ctx, s.CheckoutID)
	if err != nil {
		w.log.Debug().
			Str("checkout_id", s.CheckoutID.String()).
			Msg("No snapshot for settled order")
		return
	}

	// The snapshot may have moved on to a different order since the webhook
	// was enqueued; only the order it still references may flip its phase.
	if snap.Order == nil || snap.Order.ID != s.OrderID {
		w.log.Warn().
			Str("checkout_id", s.CheckoutID.String()).
			Str("order_id", s.OrderID.String()).
			Msg("Settled order no longer referenced by snapshot")
		return
	}
	snap.Order.Status = model.OrderStatusPaid
	snap.Phase = model.PhasePaymentSucceeded
	snap.LastError = nil

	if err := w.snapshots.Save(ctx, snap); err != nil {
		w.log.Error().Err(err).Str("checkout_id", s.CheckoutID.String()).Msg("Failed to save settled snapshot")
		return
	}

	if w.publisher != nil {
		w.publisher.Publish(ctx, &model.CheckoutEvent{
			Type:     model.EventPaid,
			Phase:    snap.Phase,
			Snapshot: snap,
		})
	}

	w.log.Info().
		Str("order_id", s.OrderID.String()).
		Str("checkout_id", s.CheckoutID.String()).
		Msg("Order settled")
}

// markFailed handles deny/cancel/expire notifications one by one; they are
// rare enough that bulk handling is not worth the complexity.
func (w *SettlementWorker) markFailed(ctx context.Context, n *service.GatewayNotification) {
	orderID, err := uuid.Parse(n.OrderID)
	if err != nil {
		return
	}

	status := "CANCELED"
	if n.TransactionStatus == "expire" {
		status = "EXPIRED"
	}

	if _, err := w.pool.Exec(ctx,
		`UPDATE orders SET status = $1 WHERE id = $2 AND status = 'PENDING'`,
		status, orderID,
	); err != nil {
		w.log.Error().Err(err).Str("order_id", n.OrderID).Msg("Failed to mark order failed")
		return
	}

	w.log.Info().
		Str("order_id", n.OrderID).
		Str("transaction_status", n.TransactionStatus).
		Msg("Order payment failed")
}
