package storage

import (
	"context"
	"slices"
	"sync"

	"competitor/scraper/internal/domain"
)

type memoryRun struct {
	task     domain.CrawlTask
	products []domain.ProductRecord
	index    map[string]int
}

type memoryStorage struct {
	mu     sync.RWMutex
	runs   map[string]*memoryRun
	latest map[string]domain.ProductRecord
}

func NewMemory() Storage {
	return &memoryStorage{
		runs:   make(map[string]*memoryRun),
		latest: make(map[string]domain.ProductRecord),
	}
}

func (m *memoryStorage) CreateRun(_ context.Context, task domain.CrawlTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[task.ID]; !ok {
		m.runs[task.ID] = &memoryRun{index: make(map[string]int)}
	}
	m.runs[task.ID].task = cloneTask(task)
	return nil
}

func (m *memoryStorage) UpdateRun(ctx context.Context, task domain.CrawlTask) error {
	return m.CreateRun(ctx, task)
}

func (m *memoryStorage) FinalizeRun(ctx context.Context, task domain.CrawlTask) error {
	return m.CreateRun(ctx, task)
}

func (m *memoryStorage) SaveProducts(_ context.Context, runID string, products []domain.ProductRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		run = &memoryRun{task: domain.CrawlTask{ID: runID}, index: make(map[string]int)}
		m.runs[runID] = run
	}

	for _, p := range products {
		m.latest[p.ProductURL] = p
		if i, dup := run.index[p.ProductURL]; dup {
			run.products[i] = p
			continue
		}
		run.index[p.ProductURL] = len(run.products)
		run.products = append(run.products, p)
	}
	return nil
}

func (m *memoryStorage) ReadRun(_ context.Context, runID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &Run{
		Task:     cloneTask(run.task),
		Products: slices.Clone(run.products),
	}, nil
}

// Latest returns the most recent record stored for a product URL.
func (m *memoryStorage) Latest(_ context.Context, productURL string) (*domain.ProductRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.latest[productURL]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memoryStorage) Close() error {
	return nil
}

func cloneTask(t domain.CrawlTask) domain.CrawlTask {
	t.SearchTerms = slices.Clone(t.SearchTerms)
	t.Errors = slices.Clone(t.Errors)
	return t
}
