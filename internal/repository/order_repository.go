package repository

import (
	"context"
	"errors"

	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCapacityConflict is returned when an order cannot be created because the
// offering filled up between the initial capacity check and order submission.
var ErrCapacityConflict = errors.New("offering has no remaining capacity")

// OrderRepository handles enrollment order data access.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateWithCapacityCheck inserts an order and its child rows inside one
// transaction, re-checking capacity authoritatively under a row lock:
// confirmed enrollments plus seats held by other pending orders must leave
// room for every selected child. Returns ErrCapacityConflict otherwise.
//
// The partial unique index on (checkout_id, fingerprint) makes the insert
// idempotent: a concurrent duplicate resolves to the already-created order.
// Canceled and expired orders fall outside the index, so a voided selection
// can be re-created.
func (r *OrderRepository) CreateWithCapacityCheck(ctx context.Context, o *model.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// A live order for this exact selection may already hold the seats — a
	// stale snapshot or another instance retrying. Reuse it before judging
	// capacity, or the caller's own hold would read as a full class.
	existing, err := r.getByCheckoutAndFingerprintTx(ctx, tx, o.CheckoutID, o.Fingerprint)
	if err == nil {
		*o = *existing
		return tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	var capacity, enrolled int
	err = tx.QueryRow(ctx,
		`SELECT capacity, enrolled_count
		 FROM offerings
		 WHERE id = $1
		 FOR UPDATE`, o.OfferingID,
	).Scan(&capacity, &enrolled)
	if err != nil {
		return err
	}

	var held int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM order_children oc
		 JOIN orders ord ON oc.order_id = ord.id
		 WHERE ord.offering_id = $1 AND ord.status = 'PENDING'`,
		o.OfferingID,
	).Scan(&held)
	if err != nil {
		return err
	}

	if enrolled+held+len(o.ChildIDs) > capacity {
		return ErrCapacityConflict
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO orders (id, checkout_id, parent_id, offering_id, fingerprint,
		                     total_cents, status, line_items)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (checkout_id, fingerprint)
		     WHERE status NOT IN ('CANCELED', 'EXPIRED') DO NOTHING
		 RETURNING created_at`,
		o.ID, o.CheckoutID, o.ParentID, o.OfferingID, o.Fingerprint,
		o.TotalCents, o.Status, o.LineItems,
	).Scan(&o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Concurrent create for the same selection — reuse the existing row.
		existing, fetchErr := r.getByCheckoutAndFingerprintTx(ctx, tx, o.CheckoutID, o.Fingerprint)
		if fetchErr != nil {
			return fetchErr
		}
		*o = *existing
		return tx.Commit(ctx)
	}
	if err != nil {
		return err
	}

	for _, childID := range o.ChildIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_children (order_id, child_id) VALUES ($1, $2)`,
			o.ID, childID,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetByID retrieves an order by id.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	o := &model.Order{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, checkout_id, parent_id, offering_id, fingerprint, total_cents,
		        status, payment_session_id, payment_redirect_url, line_items,
		        created_at, settled_at
		 FROM orders
		 WHERE id = $1`, id,
	).Scan(&o.ID, &o.CheckoutID, &o.ParentID, &o.OfferingID, &o.Fingerprint,
		&o.TotalCents, &o.Status, &o.PaymentSessionID, &o.PaymentRedirectURL,
		&o.LineItems, &o.CreatedAt, &o.SettledAt)
	if err != nil {
		return nil, err
	}

	childIDs, err := r.listChildIDs(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.ChildIDs = childIDs
	return o, nil
}

// SetPaymentSession records the payment-session handoff on a pending order.
func (r *OrderRepository) SetPaymentSession(ctx context.Context, orderID uuid.UUID, sessionID, redirectURL string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET payment_session_id = $1, payment_redirect_url = $2
		 WHERE id = $3 AND status = 'PENDING'`,
		sessionID, redirectURL, orderID)
	return err
}

// MarkFreeConfirmed finalizes a zero-total order and bumps enrollment counts.
func (r *OrderRepository) MarkFreeConfirmed(ctx context.Context, orderID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE orders
		 SET status = 'FREE_CONFIRMED', settled_at = NOW()
		 WHERE id = $1 AND status = 'PENDING'`, orderID,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE offerings
		 SET enrolled_count = enrolled_count + (
		     SELECT COUNT(*) FROM order_children WHERE order_id = $1
		 ), updated_at = NOW()
		 WHERE id = (SELECT offering_id FROM orders WHERE id = $1)`, orderID,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// VoidPending cancels a pending order, releasing its capacity hold.
func (r *OrderRepository) VoidPending(ctx context.Context, orderID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = 'CANCELED'
		 WHERE id = $1 AND status = 'PENDING'`, orderID)
	return err
}

func (r *OrderRepository) getByCheckoutAndFingerprintTx(ctx context.Context, tx pgx.Tx, checkoutID uuid.UUID, fingerprint string) (*model.Order, error) {
	o := &model.Order{}
	err := tx.QueryRow(ctx,
		`SELECT id, checkout_id, parent_id, offering_id, fingerprint, total_cents,
		        status, payment_session_id, payment_redirect_url, line_items,
		        created_at, settled_at
		 FROM orders
		 WHERE checkout_id = $1 AND fingerprint = $2
		   AND status NOT IN ('CANCELED', 'EXPIRED')`,
		checkoutID, fingerprint,
	).Scan(&o.ID, &o.CheckoutID, &o.ParentID, &o.OfferingID, &o.Fingerprint,
		&o.TotalCents, &o.Status, &o.PaymentSessionID, &o.PaymentRedirectURL,
		&o.LineItems, &o.CreatedAt, &o.SettledAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) listChildIDs(ctx context.Context, orderID uuid.UUID) ([]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT child_id FROM order_children WHERE order_id = $1 ORDER BY child_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
