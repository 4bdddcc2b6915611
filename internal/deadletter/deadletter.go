// Package deadletter mirrors permanently failed operations to Redis so
// operators can inspect them outside the primary store.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"driftsync/internal/config"
	"driftsync/internal/models"
)

const defaultKey = "driftsync:deadletter"

// NewRedisClient builds a client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Ping verifies the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Sink pushes dead operations onto a Redis list. A nil client makes
// every call a logged no-op, so the queue works without Redis.
type Sink struct {
	client *redis.Client
	key    string
	logger zerolog.Logger
}

func NewSink(client *redis.Client, key string, logger *zerolog.Logger) *Sink {
	if key == "" {
		key = defaultKey
	}
	return &Sink{
		client: client,
		key:    key,
		logger: logger.With().Str("component", "deadletter").Logger(),
	}
}

// Push appends the operation to the dead-letter list.
func (s *Sink) Push(ctx context.Context, op *models.Operation) error {
	if s.client == nil {
		return nil
	}

	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode dead operation %s: %w", op.ID, err)
	}
	if err := s.client.LPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("push dead operation %s: %w", op.ID, err)
	}
	s.logger.Info().Str("id", op.ID).Str("type", op.Type).Msg("operation mirrored to dead letter")
	return nil
}

// List returns up to limit dead operations, newest first.
func (s *Sink) List(ctx context.Context, limit int64) ([]models.Operation, error) {
	if s.client == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	raw, err := s.client.LRange(ctx, s.key, 0, limit-1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("list dead operations: %w", err)
	}

	ops := make([]models.Operation, 0, len(raw))
	for _, item := range raw {
		var op models.Operation
		if err := json.Unmarshal([]byte(item), &op); err != nil {
			s.logger.Warn().Err(err).Msg("skipping undecodable dead-letter entry")
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}
