package service

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"competitor/scraper/internal/domain"
)

// Task is the single owner of a crawl run's progress and accepted products.
// Every mutation happens under its lock; readers get copies.
type Task struct {
	mu      sync.Mutex
	state   domain.CrawlTask
	results []domain.ProductRecord
	urls    map[string]struct{}
	done    chan struct{}
}

func NewTask(id string, terms []string, minPerOrigin, totalOrigins int, submittedAt time.Time) *Task {
	return &Task{
		state: domain.CrawlTask{
			ID:           id,
			Status:       domain.TaskStatusPending,
			SearchTerms:  slices.Clone(terms),
			MinPerOrigin: minPerOrigin,
			TotalOrigins: totalOrigins,
			Errors:       []string{},
			SubmittedAt:  submittedAt,
		},
		urls: make(map[string]struct{}),
		done: make(chan struct{}),
	}
}

// restoreTask rebuilds a finished handle from persisted state.
func restoreTask(snapshot domain.CrawlTask, results []domain.ProductRecord) *Task {
	t := &Task{
		state:   snapshot,
		results: slices.Clone(results),
		urls:    make(map[string]struct{}, len(results)),
		done:    make(chan struct{}),
	}
	for _, r := range results {
		t.urls[r.ProductURL] = struct{}{}
	}
	if snapshot.Status.IsTerminal() {
		close(t.done)
	}
	return t
}

func (t *Task) ID() string {
	return t.state.ID
}

// Done is closed once the task reaches a terminal status.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) queries() []domain.SearchQuery {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Queries()
}

func (t *Task) start(now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.Status.CanTransition(domain.TaskStatusRunning) {
		return fmt.Errorf("task %s cannot start from %s", t.state.ID, t.state.Status)
	}
	t.state.Status = domain.TaskStatusRunning
	t.state.StartedAt = &now
	return nil
}

func (t *Task) setCurrentOrigin(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Status.IsTerminal() {
		t.state.CurrentOrigin = name
	}
}

// completeOrigin counts the origin as attempted and appends products not already present.
// It returns the products that were actually added.
func (t *Task) completeOrigin(name string, batch []domain.ProductRecord) []domain.ProductRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Status.IsTerminal() {
		return nil
	}

	added := make([]domain.ProductRecord, 0, len(batch))
	for _, p := range batch {
		if _, dup := t.urls[p.ProductURL]; dup {
			continue
		}
		t.urls[p.ProductURL] = struct{}{}
		t.results = append(t.results, p)
		added = append(added, p)
	}

	t.state.CompletedOrigins++
	t.state.ProductsFound = len(t.results)
	if t.state.CurrentOrigin == name {
		t.state.CurrentOrigin = ""
	}
	return added
}

func (t *Task) addError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Errors = append(t.state.Errors, msg)
}

// finish moves the task to a terminal status once. Later calls are ignored.
func (t *Task) finish(status domain.TaskStatus, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.Status.CanTransition(status) {
		return false
	}
	t.state.Status = status
	t.state.CompletedAt = &now
	t.state.CurrentOrigin = ""
	close(t.done)
	return true
}

func (t *Task) Snapshot() domain.CrawlTask {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state
	s.SearchTerms = slices.Clone(t.state.SearchTerms)
	s.Errors = slices.Clone(t.state.Errors)
	if t.state.StartedAt != nil {
		started := *t.state.StartedAt
		s.StartedAt = &started
	}
	if t.state.CompletedAt != nil {
		completed := *t.state.CompletedAt
		s.CompletedAt = &completed
	}
	return s
}

func (t *Task) Results() []domain.ProductRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.results)
}
