package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fieldday/fieldday-backend/internal/config"
	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSnapshotNotFound is returned when a checkout snapshot has expired or
// never existed.
var ErrSnapshotNotFound = errors.New("checkout snapshot not found")

// SnapshotRepository stores checkout snapshots in Redis with a TTL. A
// checkout is a bounded interaction, not a durable aggregate; expiry of the
// snapshot is what ends an abandoned flow.
type SnapshotRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(rdb *redis.Client, ttl time.Duration) *SnapshotRepository {
	return &SnapshotRepository{rdb: rdb, ttl: ttl}
}

// Get retrieves a checkout snapshot by id.
func (r *SnapshotRepository) Get(ctx context.Context, id uuid.UUID) (*model.CheckoutSnapshot, error) {
	raw, err := r.rdb.Get(ctx, config.CacheKey.CheckoutSnapshotKey(id.String())).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap model.CheckoutSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Save persists a checkout snapshot, refreshing its TTL.
func (r *SnapshotRepository) Save(ctx context.Context, snap *model.CheckoutSnapshot) error {
	snap.UpdatedAt = time.Now()

	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	key := config.CacheKey.CheckoutSnapshotKey(snap.ID.String())
	if err := r.rdb.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Delete removes a checkout snapshot.
func (r *SnapshotRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.rdb.Del(ctx, config.CacheKey.CheckoutSnapshotKey(id.String())).Err()
}
