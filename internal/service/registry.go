package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"competitor/scraper/internal/domain"
	"competitor/scraper/internal/storage"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrNoSearchTerms = errors.New("at least one search term is required")
	ErrShuttingDown  = errors.New("registry is shutting down")
)

// Runner drives a task to completion.
type Runner interface {
	Run(ctx context.Context, t *Task)
	TotalOrigins() int
}

// Registry tracks submitted crawl tasks and runs each one in the background.
type Registry struct {
	runner     Runner
	storage    storage.Storage
	defaultMin int
	retention  time.Duration

	mu      sync.Mutex
	tasks   map[string]*Task
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
	closed  bool

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewRegistry keeps finished tasks in memory for retention, after which lookups
// are served from storage. Zero or less means one hour.
func NewRegistry(runner Runner, store storage.Storage, defaultMin int, retention time.Duration) *Registry {
	if defaultMin < 1 {
		defaultMin = 15
	}
	if retention <= 0 {
		retention = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		runner:     runner,
		storage:    store,
		defaultMin: defaultMin,
		retention:  retention,
		tasks:      make(map[string]*Task),
		cancels:    make(map[string]context.CancelFunc),
		baseCtx:    ctx,
		cancelBase: cancel,
	}
}

// Submit registers a PENDING task and starts crawling it. minPerOrigin below one
// falls back to the configured default.
func (r *Registry) Submit(ctx context.Context, terms []string, minPerOrigin int) (domain.CrawlTask, error) {
	cleaned := make([]string, 0, len(terms))
	for _, term := range terms {
		if term = strings.TrimSpace(term); term != "" {
			cleaned = append(cleaned, term)
		}
	}
	if len(cleaned) == 0 {
		return domain.CrawlTask{}, ErrNoSearchTerms
	}
	if minPerOrigin < 1 {
		minPerOrigin = r.defaultMin
	}
	if r.isClosed() {
		return domain.CrawlTask{}, ErrShuttingDown
	}

	t := NewTask(uuid.NewString(), cleaned, minPerOrigin, r.runner.TotalOrigins(), time.Now().UTC())
	if err := r.storage.CreateRun(ctx, t.Snapshot()); err != nil {
		log.WithField("task", t.ID()).Warnf("⚠️ Failed to persist new run, continuing in memory: %v", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.CrawlTask{}, ErrShuttingDown
	}
	runCtx, cancel := context.WithCancel(r.baseCtx)
	r.tasks[t.ID()] = t
	r.cancels[t.ID()] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	log.WithField("task", t.ID()).Infof("📥 Task submitted: %v (min %d per origin)", cleaned, minPerOrigin)

	go func() {
		defer r.wg.Done()
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.cancels, t.ID())
			r.mu.Unlock()
			time.AfterFunc(r.retention, func() { r.evict(t.ID()) })
		}()
		r.runner.Run(runCtx, t)
	}()

	return t.Snapshot(), nil
}

func (r *Registry) evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.cancels[id]; !running {
		delete(r.tasks, id)
	}
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Get returns the current view of a task, falling back to storage for runs
// from an earlier process.
func (r *Registry) Get(ctx context.Context, id string) (domain.CrawlTask, error) {
	t, err := r.lookup(ctx, id)
	if err != nil {
		return domain.CrawlTask{}, err
	}
	return t.Snapshot(), nil
}

func (r *Registry) Results(ctx context.Context, id string) ([]domain.ProductRecord, error) {
	t, err := r.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.Results(), nil
}

func (r *Registry) lookup(ctx context.Context, id string) (*Task, error) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	r.mu.Unlock()
	if ok {
		return t, nil
	}

	run, err := r.storage.ReadRun(ctx, id)
	if errors.Is(err, storage.ErrRunNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", id, err)
	}
	return restoreTask(run.Task, run.Products), nil
}

// Cancel stops a running task. The task ends FAILED with the products gathered so far.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	if cancel, ok := r.cancels[id]; ok {
		cancel()
	}
	return nil
}

// Shutdown cancels every running task and waits for them to record their outcome.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancelBase()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks did not stop in time: %w", ctx.Err())
	}
}
