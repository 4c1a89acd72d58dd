package storage

import (
	"context"
	"errors"
	"fmt"

	"competitor/scraper/internal/config"
	"competitor/scraper/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

var ErrRunNotFound = errors.New("run not found")

// Run is a persisted crawl task together with the products accepted during it.
type Run struct {
	Task     domain.CrawlTask       `json:"task"`
	Products []domain.ProductRecord `json:"products"`
}

// Storage persists runs and products. Products are upserted by product_url into a
// latest view and recorded once per (run, product_url) in the run history.
type Storage interface {
	CreateRun(ctx context.Context, task domain.CrawlTask) error
	UpdateRun(ctx context.Context, task domain.CrawlTask) error
	FinalizeRun(ctx context.Context, task domain.CrawlTask) error
	SaveProducts(ctx context.Context, runID string, products []domain.ProductRecord) error
	ReadRun(ctx context.Context, runID string) (*Run, error)
	// Latest returns the newest record for a product URL across runs, or nil when unseen.
	Latest(ctx context.Context, productURL string) (*domain.ProductRecord, error)
	Close() error
}

// New opens the backend named by cfg.Storage.Backend.
func New(ctx context.Context, cfg *config.Config) (Storage, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		log.Info("💾 Using in-memory storage")
		return NewMemory(), nil

	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to parse database config: %w", err)
		}
		if cfg.Database.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Database.MaxConns
		}
		db, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		log.Info("✅ Connected to Postgres successfully")
		return NewPostgres(ctx, db)

	case "redis":
		rdb, err := OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedis(rdb, cfg.Redis.KeyPrefix), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// OpenRedis connects and pings. Callers sharing the client with the redis backend
// should let Storage.Close release it.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.Database,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info("✅ Connected to Redis successfully")
	return rdb, nil
}
