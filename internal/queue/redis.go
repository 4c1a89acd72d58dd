package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"competitor/scraper/internal/domain"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type EventType string

const (
	EventRunStarted  EventType = "run.started"
	EventRunFinished EventType = "run.finished"
)

// Publisher announces run lifecycle changes to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event EventType, task domain.CrawlTask) (string, error) // Returns message ID
}

type RedisPublisher struct {
	redisClient *redis.Client
	stream      string
	maxLen      int64
}

// NewRedisPublisher appends events to a capped stream named <prefix>stream:runs.
func NewRedisPublisher(redisClient *redis.Client, keyPrefix string, maxLen int64) *RedisPublisher {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisPublisher{
		redisClient: redisClient,
		stream:      keyPrefix + "stream:runs",
		maxLen:      maxLen,
	}
}

func (p *RedisPublisher) Stream() string {
	return p.stream
}

func (p *RedisPublisher) Publish(ctx context.Context, event EventType, task domain.CrawlTask) (string, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to serialize task %s: %w", task.ID, err)
	}

	messageID, err := p.redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"event":   string(event),
			"task_id": task.ID,
			"status":  string(task.Status),
			"task":    string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add event to Redis stream %s: %w", p.stream, err)
	}

	log.Debugf("Published %s for task %s to %s with message ID: %s", event, task.ID, p.stream, messageID)
	return messageID, nil
}

type nopPublisher struct{}

// Nop returns a publisher that drops every event.
func Nop() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(context.Context, EventType, domain.CrawlTask) (string, error) {
	return "", nil
}
