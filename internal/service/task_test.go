package service

import (
	"testing"
	"time"

	"competitor/scraper/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(url string) domain.ProductRecord {
	return domain.ProductRecord{Origin: "Leafy", ProductURL: url, Title: url}
}

func TestTaskLifecycle(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	task := NewTask("t1", []string{"mug", "bottle"}, 5, 2, now)

	snap := task.Snapshot()
	assert.Equal(t, domain.TaskStatusPending, snap.Status)
	assert.Nil(t, snap.StartedAt)
	assert.Equal(t, []domain.SearchQuery{{Term: "mug", MinAccepted: 5}, {Term: "bottle", MinAccepted: 5}}, task.queries())

	require.NoError(t, task.start(now))
	assert.Error(t, task.start(now))

	task.setCurrentOrigin("A")
	assert.Equal(t, "A", task.Snapshot().CurrentOrigin)

	added := task.completeOrigin("A", []domain.ProductRecord{record("u1"), record("u2"), record("u1")})
	assert.Len(t, added, 2)
	added = task.completeOrigin("B", []domain.ProductRecord{record("u2"), record("u3")})
	assert.Equal(t, []string{"u3"}, resultURLs(added))

	snap = task.Snapshot()
	assert.Equal(t, 2, snap.CompletedOrigins)
	assert.Equal(t, 3, snap.ProductsFound)
	assert.Empty(t, snap.CurrentOrigin)

	assert.True(t, task.finish(domain.TaskStatusCompleted, now.Add(time.Minute)))
	assert.False(t, task.finish(domain.TaskStatusFailed, now.Add(2*time.Minute)))

	snap = task.Snapshot()
	assert.Equal(t, domain.TaskStatusCompleted, snap.Status)
	require.NotNil(t, snap.CompletedAt)
	assert.Equal(t, now.Add(time.Minute), *snap.CompletedAt)

	assert.Empty(t, task.completeOrigin("C", []domain.ProductRecord{record("u9")}))
	assert.Equal(t, 3, task.Snapshot().ProductsFound)

	select {
	case <-task.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestTaskSnapshotIsCopy(t *testing.T) {
	task := NewTask("t1", []string{"mug"}, 1, 1, time.Now())
	task.addError("first")

	snap := task.Snapshot()
	snap.Errors[0] = "changed"
	snap.SearchTerms[0] = "changed"

	again := task.Snapshot()
	assert.Equal(t, []string{"first"}, again.Errors)
	assert.Equal(t, []string{"mug"}, again.SearchTerms)

	task.completeOrigin("A", []domain.ProductRecord{record("u1")})
	results := task.Results()
	results[0].Title = "changed"
	assert.Equal(t, "u1", task.Results()[0].Title)
}

func TestRestoreTask(t *testing.T) {
	done := restoreTask(domain.CrawlTask{ID: "t1", Status: domain.TaskStatusCompleted}, []domain.ProductRecord{record("u1")})
	assert.Equal(t, "t1", done.ID())
	assert.Len(t, done.Results(), 1)
	select {
	case <-done.Done():
	default:
		t.Fatal("terminal task should be done")
	}

	running := restoreTask(domain.CrawlTask{ID: "t2", Status: domain.TaskStatusRunning}, nil)
	select {
	case <-running.Done():
		t.Fatal("running task should not be done")
	default:
	}
}
