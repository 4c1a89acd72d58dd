package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"competitor/scraper/internal/domain"

	"github.com/redis/go-redis/v9"
)

type redisStorage struct {
	redisClient *redis.Client
	keyPrefix   string
}

// NewRedis stores each run as a hash, the latest product per URL in one shared hash,
// and per-run history as a hash plus a sorted set that keeps first-seen order.
func NewRedis(redisClient *redis.Client, keyPrefix string) Storage {
	if keyPrefix == "" {
		keyPrefix = "scraper:"
	}
	return &redisStorage{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
	}
}

func (s *redisStorage) runKey(id string) string { return s.keyPrefix + "run:" + id }
func (s *redisStorage) historyKey(id string) string { return s.keyPrefix + "run:" + id + ":products" }
func (s *redisStorage) orderKey(id string) string { return s.keyPrefix + "run:" + id + ":order" }
func (s *redisStorage) latestKey() string { return s.keyPrefix + "products:latest" }

func (s *redisStorage) saveRun(ctx context.Context, task domain.CrawlTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", task.ID, err)
	}
	err = s.redisClient.HSet(ctx, s.runKey(task.ID), map[string]any{
		"status":     string(task.Status),
		"snapshot":   data,
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", task.ID, err)
	}
	return nil
}

func (s *redisStorage) CreateRun(ctx context.Context, task domain.CrawlTask) error {
	return s.saveRun(ctx, task)
}

func (s *redisStorage) UpdateRun(ctx context.Context, task domain.CrawlTask) error {
	return s.saveRun(ctx, task)
}

func (s *redisStorage) FinalizeRun(ctx context.Context, task domain.CrawlTask) error {
	return s.saveRun(ctx, task)
}

func (s *redisStorage) SaveProducts(ctx context.Context, runID string, products []domain.ProductRecord) error {
	if len(products) == 0 {
		return nil
	}

	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		base := time.Now().UnixNano()
		for i, p := range products {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("failed to encode product %s: %w", p.ProductURL, err)
			}
			pipe.HSet(ctx, s.latestKey(), p.ProductURL, data)
			pipe.HSet(ctx, s.historyKey(runID), p.ProductURL, data)
			pipe.ZAddNX(ctx, s.orderKey(runID), redis.Z{Score: float64(base + int64(i)), Member: p.ProductURL})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save %d products for run %s: %w", len(products), runID, err)
	}
	return nil
}

func (s *redisStorage) ReadRun(ctx context.Context, runID string) (*Run, error) {
	raw, err := s.redisClient.HGet(ctx, s.runKey(runID), "snapshot").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}

	var run Run
	if err := json.Unmarshal([]byte(raw), &run.Task); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}

	urls, err := s.redisClient.ZRange(ctx, s.orderKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read product order for run %s: %w", runID, err)
	}
	if len(urls) == 0 {
		return &run, nil
	}

	values, err := s.redisClient.HMGet(ctx, s.historyKey(runID), urls...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read products for run %s: %w", runID, err)
	}

	run.Products = make([]domain.ProductRecord, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var p domain.ProductRecord
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			return nil, fmt.Errorf("failed to decode product %s: %w", urls[i], err)
		}
		run.Products = append(run.Products, p)
	}
	return &run, nil
}

// Latest returns the most recent record stored for a product URL across runs.
func (s *redisStorage) Latest(ctx context.Context, productURL string) (*domain.ProductRecord, error) {
	raw, err := s.redisClient.HGet(ctx, s.latestKey(), productURL).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest product %s: %w", productURL, err)
	}
	var p domain.ProductRecord
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode product %s: %w", productURL, err)
	}
	return &p, nil
}

func (s *redisStorage) Close() error {
	return s.redisClient.Close()
}
