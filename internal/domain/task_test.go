package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusTransitions(t *testing.T) {
	assert.True(t, TaskStatusPending.CanTransition(TaskStatusRunning))
	assert.True(t, TaskStatusPending.CanTransition(TaskStatusFailed))
	assert.True(t, TaskStatusRunning.CanTransition(TaskStatusCompleted))
	assert.True(t, TaskStatusRunning.CanTransition(TaskStatusFailed))

	assert.False(t, TaskStatusRunning.CanTransition(TaskStatusPending))
	assert.False(t, TaskStatusCompleted.CanTransition(TaskStatusRunning))
	assert.False(t, TaskStatusFailed.CanTransition(TaskStatusCompleted))
	assert.False(t, TaskStatusPending.CanTransition(TaskStatusCompleted))
}

func TestWithMatchCopiesMetadata(t *testing.T) {
	price := 12.99
	rec := ProductRecord{ProductURL: "https://shop.test/products/a", Title: "Mug", Price: &price,
		Metadata: map[string]any{"html_length": 10}}

	tagged := rec.WithMatch("coffee mug", MatchResult{SimilarityScore: 0.7, Confidence: ConfidenceMedium, Reasoning: "x"},
		map[string]any{"query_variant": "mug"})

	assert.Equal(t, "coffee mug", tagged.SearchTerm)
	assert.Equal(t, 0.7, tagged.MatchScore)
	assert.Equal(t, "mug", tagged.Metadata["query_variant"])
	assert.NotContains(t, rec.Metadata, "query_variant")
	assert.Empty(t, rec.SearchTerm)
}
