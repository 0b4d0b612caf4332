package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"driftsync/internal/config"
	"driftsync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// stateTTL keeps the mirrored snapshot from outliving a dead device.
const stateTTL = 24 * time.Hour

// NewClient builds a redis client from configuration.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Mirror publishes terminally failed actions and the latest sync state to
// redis so operators can inspect them off-device. Every write is
// best-effort: mirror failures are logged and never fail a sync pass.
type Mirror struct {
	client        *redis.Client
	deadLetterKey string
	stateKey      string
	logger        *zerolog.Logger
}

func New(client *redis.Client, cfg config.RedisConfig, logger *zerolog.Logger) *Mirror {
	return &Mirror{
		client:        client,
		deadLetterKey: cfg.DeadLetterKey,
		stateKey:      cfg.StateKey,
		logger:        logger,
	}
}

// PushDeadLetter records a terminally failed action.
func (m *Mirror) PushDeadLetter(ctx context.Context, action *models.Action) {
	if m == nil || m.client == nil {
		return
	}
	data, err := json.Marshal(action)
	if err != nil {
		m.logger.Error().Err(err).Str("action_id", action.ID).Msg("mirror: encode dead letter")
		return
	}
	if err := m.client.LPush(ctx, m.deadLetterKey, data).Err(); err != nil {
		m.logger.Error().Err(err).Str("action_id", action.ID).Msg("mirror: dead letter push")
	}
}

// PublishState mirrors the latest sync state snapshot.
func (m *Mirror) PublishState(ctx context.Context, state models.SyncState) {
	if m == nil || m.client == nil {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		m.logger.Error().Err(err).Msg("mirror: encode state")
		return
	}
	if err := m.client.Set(ctx, m.stateKey, data, stateTTL).Err(); err != nil {
		m.logger.Error().Err(err).Msg("mirror: state set")
	}
}

// DeadLetters returns up to limit most recently dead-lettered actions.
func (m *Mirror) DeadLetters(ctx context.Context, limit int64) ([]models.Action, error) {
	if m == nil || m.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	raw, err := m.client.LRange(ctx, m.deadLetterKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("dead letter range: %w", err)
	}

	actions := make([]models.Action, 0, len(raw))
	for _, item := range raw {
		var action models.Action
		if err := json.Unmarshal([]byte(item), &action); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// Ping verifies the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}
