package service

import (
	"context"
	"encoding/json"

	"github.com/fieldday/fieldday-backend/internal/config"
	"github.com/fieldday/fieldday-backend/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventPublisher pushes checkout state changes to live subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event *model.CheckoutEvent)
}

// RedisEventPublisher fans checkout events out through Redis pub/sub, one
// channel per checkout, so any server instance holding the WebSocket can
// forward them.
type RedisEventPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisEventPublisher creates a new RedisEventPublisher.
func NewRedisEventPublisher(rdb *redis.Client, log zerolog.Logger) *RedisEventPublisher {
	return &RedisEventPublisher{
		rdb: rdb,
		log: log.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish serializes the event onto the checkout's channel. Publishing is
// best-effort: a dropped event only delays the UI until its next poll.
func (p *RedisEventPublisher) Publish(ctx context.Context, event *model.CheckoutEvent) {
	if event.Snapshot == nil {
		return
	}

	raw, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to encode checkout event")
		return
	}

	channel := config.CacheKey.CheckoutChannel(event.Snapshot.ID.String())
	if err := p.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		p.log.Warn().Err(err).Str("channel", channel).Msg("Failed to publish checkout event")
	}
}
