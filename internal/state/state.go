package state

import (
	"context"
	"encoding/json"
	"fmt"

	"competitor/scraper/internal/domain"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// HealthStore keeps origin health across process restarts so a blocked storefront
// stays in cooldown after a redeploy.
type HealthStore interface {
	LoadHealth(ctx context.Context) ([]domain.OriginHealth, error)
	SaveHealth(ctx context.Context, health []domain.OriginHealth) error
}

type redisHealthStore struct {
	redisClient *redis.Client
	key         string
}

func NewRedisHealthStore(redisClient *redis.Client, keyPrefix string) HealthStore {
	return &redisHealthStore{
		redisClient: redisClient,
		key:         keyPrefix + "origins:health",
	}
}

func (s *redisHealthStore) LoadHealth(ctx context.Context) ([]domain.OriginHealth, error) {
	fields, err := s.redisClient.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load origin health: %w", err)
	}

	health := make([]domain.OriginHealth, 0, len(fields))
	for origin, raw := range fields {
		var h domain.OriginHealth
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			log.Warnf("⚠️ Skipping unreadable health entry for %s: %v", origin, err)
			continue
		}
		h.Origin = origin
		health = append(health, h)
	}
	return health, nil
}

func (s *redisHealthStore) SaveHealth(ctx context.Context, health []domain.OriginHealth) error {
	if len(health) == 0 {
		return nil
	}

	values := make(map[string]any, len(health))
	for _, h := range health {
		data, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("failed to encode health for %s: %w", h.Origin, err)
		}
		values[h.Origin] = string(data)
	}
	if err := s.redisClient.HSet(ctx, s.key, values).Err(); err != nil {
		return fmt.Errorf("failed to save origin health: %w", err)
	}
	return nil
}
