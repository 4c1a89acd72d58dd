package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"competitor/scraper/internal/domain"
	"competitor/scraper/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRunner starts tasks and holds them until released or cancelled.
type blockingRunner struct {
	started chan string
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan string, 8), release: make(chan struct{})}
}

func (r *blockingRunner) TotalOrigins() int { return 4 }

func (r *blockingRunner) Run(ctx context.Context, t *Task) {
	now := time.Now().UTC()
	if err := t.start(now); err != nil {
		return
	}
	r.started <- t.ID()

	select {
	case <-r.release:
		t.completeOrigin("A", []domain.ProductRecord{record("https://a.test/products/1")})
		t.finish(domain.TaskStatusCompleted, now)
	case <-ctx.Done():
		t.addError("Fatal error: crawl cancelled")
		t.finish(domain.TaskStatusFailed, now)
	}
}

func waitDone(t *testing.T, id string, reg *Registry) domain.CrawlTask {
	t.Helper()
	var snap domain.CrawlTask
	require.Eventually(t, func() bool {
		var err error
		snap, err = reg.Get(context.Background(), id)
		return err == nil && snap.Status.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestSubmitRunsTask(t *testing.T) {
	runner := newBlockingRunner()
	store := storage.NewMemory()
	reg := NewRegistry(runner, store, 15, time.Hour)

	snap, err := reg.Submit(context.Background(), []string{" mug ", "", "bottle"}, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, snap.Status)
	assert.Equal(t, []string{"mug", "bottle"}, snap.SearchTerms)
	assert.Equal(t, 15, snap.MinPerOrigin)
	assert.Equal(t, 4, snap.TotalOrigins)
	assert.NotEmpty(t, snap.ID)

	persisted, err := store.ReadRun(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, persisted.Task.Status)

	assert.Equal(t, snap.ID, <-runner.started)
	close(runner.release)

	final := waitDone(t, snap.ID, reg)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status)

	results, err := reg.Results(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSubmitRejectsEmptyTerms(t *testing.T) {
	reg := NewRegistry(newBlockingRunner(), storage.NewMemory(), 15, time.Hour)

	_, err := reg.Submit(context.Background(), []string{" ", ""}, 3)
	assert.ErrorIs(t, err, ErrNoSearchTerms)
}

func TestCancelEndsTaskFailed(t *testing.T) {
	runner := newBlockingRunner()
	reg := NewRegistry(runner, storage.NewMemory(), 15, time.Hour)

	snap, err := reg.Submit(context.Background(), []string{"mug"}, 2)
	require.NoError(t, err)
	<-runner.started

	require.NoError(t, reg.Cancel(snap.ID))
	final := waitDone(t, snap.ID, reg)
	assert.Equal(t, domain.TaskStatusFailed, final.Status)
	assert.Contains(t, final.Errors, "Fatal error: crawl cancelled")

	assert.ErrorIs(t, reg.Cancel("missing"), ErrTaskNotFound)
}

func TestGetFallsBackToStorage(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, domain.CrawlTask{ID: "old", Status: domain.TaskStatusCompleted, Errors: []string{}}))
	require.NoError(t, store.SaveProducts(ctx, "old", []domain.ProductRecord{record("https://a.test/products/1")}))

	reg := NewRegistry(newBlockingRunner(), store, 15, time.Hour)

	snap, err := reg.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, snap.Status)

	results, err := reg.Results(ctx, "old")
	require.NoError(t, err)
	assert.Len(t, results, 1)

	_, err = reg.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestShutdownCancelsRunningTasks(t *testing.T) {
	runner := newBlockingRunner()
	reg := NewRegistry(runner, storage.NewMemory(), 15, time.Hour)

	snap, err := reg.Submit(context.Background(), []string{"mug"}, 2)
	require.NoError(t, err)
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, reg.Shutdown(ctx))

	got, err := reg.Get(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)

	_, err = reg.Submit(context.Background(), []string{"mug"}, 2)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

type unavailableStorage struct {
	storage.Storage
}

func (unavailableStorage) CreateRun(context.Context, domain.CrawlTask) error {
	return errors.New("db unavailable")
}

func TestSubmitSurvivesStorageOutage(t *testing.T) {
	runner := newBlockingRunner()
	reg := NewRegistry(runner, unavailableStorage{Storage: storage.NewMemory()}, 15, time.Hour)

	snap, err := reg.Submit(context.Background(), []string{"coffee mug"}, 2)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, <-runner.started)
	close(runner.release)

	final := waitDone(t, snap.ID, reg)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status)
}

func TestFinishedTasksAreEvicted(t *testing.T) {
	runner := newBlockingRunner()
	store := storage.NewMemory()
	reg := NewRegistry(runner, store, 15, 10*time.Millisecond)

	snap, err := reg.Submit(context.Background(), []string{"mug"}, 2)
	require.NoError(t, err)
	<-runner.started
	close(runner.release)
	waitDone(t, snap.ID, reg)

	require.Eventually(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		_, ok := reg.tasks[snap.ID]
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	got, err := reg.Get(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, got.ID)
}
