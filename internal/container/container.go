package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"competitor/scraper/internal/api"
	"competitor/scraper/internal/config"
	"competitor/scraper/internal/fetch"
	"competitor/scraper/internal/proxy"
	"competitor/scraper/internal/queue"
	"competitor/scraper/internal/scheduler"
	"competitor/scraper/internal/service"
	"competitor/scraper/internal/state"
	"competitor/scraper/internal/storage"
	"competitor/scraper/internal/throttle"

	log "github.com/sirupsen/logrus"
)

// Container holds all initialized components
type Container struct {
	Config       *config.Config
	Storage      storage.Storage
	Scheduler    *scheduler.Scheduler
	Orchestrator *service.Orchestrator
	Registry     *service.Registry

	server *http.Server
}

// New creates a new container with all dependencies initialized
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	container := &Container{
		Config: cfg,
	}

	supplier, err := newProxySupplier(ctx, cfg.Proxy)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize proxy supplier: %w", err)
	}

	var (
		events queue.Publisher
		health state.HealthStore
	)
	if cfg.Storage.Backend == "redis" {
		rdb, err := storage.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		container.Storage = storage.NewRedis(rdb, cfg.Redis.KeyPrefix)
		events = queue.NewRedisPublisher(rdb, cfg.Redis.KeyPrefix, cfg.Redis.StreamMaxLen)
		health = state.NewRedisHealthStore(rdb, cfg.Redis.KeyPrefix)
	} else {
		store, err := storage.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		container.Storage = store
	}

	names := make([]string, 0, len(cfg.Origins))
	for _, o := range cfg.Origins {
		names = append(names, o.Name)
	}
	container.Scheduler = scheduler.New(names, schedulerPolicy(cfg.Scheduler))

	if health != nil {
		saved, err := health.LoadHealth(ctx)
		if err != nil {
			log.Warnf("⚠️ Starting with fresh origin health: %v", err)
		} else {
			container.Scheduler.Restore(saved)
			log.Infof("🩺 Restored health for %d origins", len(saved))
		}
	}

	newFetcher := func() (fetch.Fetcher, error) {
		return fetch.New(cfg.Fetch, supplier), nil
	}

	container.Orchestrator = service.NewOrchestrator(
		cfg.Origins,
		container.Scheduler,
		throttle.NewSet(cfg.Scraper.BucketCapacityFactor),
		newFetcher,
		container.Storage,
		service.Options{
			MaxConcurrentOrigins: cfg.Scraper.MaxConcurrentOrigins,
			MaxPages:             cfg.Scraper.MaxPages,
			RelevanceFloor:       cfg.Scraper.RelevanceFloor,
			RelaxedPass:          cfg.Scraper.RelaxedPass,
			MaxOriginWait:        cfg.Scraper.MaxOriginWait,
			Events:               events,
			Health:               health,
		},
	)
	container.Registry = service.NewRegistry(
		container.Orchestrator,
		container.Storage,
		cfg.Scraper.DefaultMinPerOrigin,
		cfg.Scraper.TaskRetention,
	)

	container.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewServer(container.Registry, container.Scheduler, container.Storage).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return container, nil
}

func newProxySupplier(ctx context.Context, cfg config.ProxyConfig) (proxy.Supplier, error) {
	if len(cfg.URLs) == 0 {
		log.Info("🌐 No proxies configured, fetching directly")
		return nil, nil
	}
	if cfg.Validate {
		return proxy.NewValidated(ctx, cfg.URLs, cfg.TestURL, cfg.Timeout)
	}
	return proxy.NewStatic(cfg.URLs)
}

func schedulerPolicy(cfg config.SchedulerConfig) scheduler.Policy {
	return scheduler.Policy{
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		Cooldown:               cfg.Cooldown,
		RequestDelay:           scheduler.DelayRange(cfg.RequestDelay),
		SwitchDelay:            scheduler.DelayRange(cfg.SwitchDelay),
		FailureDelay:           scheduler.DelayRange(cfg.FailureDelay),
	}
}

// Run serves the task API until ctx ends, then stops the listener and running tasks
func (c *Container) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infof("🚀 Task API listening on %s", c.server.Addr)
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("task API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		timeout := c.Config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		log.Info("🛑 Shutting down task API...")
		serverErr := c.server.Shutdown(shutdownCtx)
		tasksErr := c.Registry.Shutdown(shutdownCtx)
		return errors.Join(serverErr, tasksErr)
	})

	return g.Wait()
}

// Close performs cleanup when shutting down
func (c *Container) Close() error {
	log.Info("Shutting down container...")

	if err := c.Storage.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}

	log.Info("Container shut down successfully")
	return nil
}
