package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRoundRobin(t *testing.T) {
	s, err := NewStatic([]string{"http://p1:8080", "http://p2:8080"})
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "http://p1:8080", s.Next())
	assert.Equal(t, "http://p2:8080", s.Next())
	assert.Equal(t, "http://p1:8080", s.Next())
}

func TestStaticRejectsMalformed(t *testing.T) {
	_, err := NewStatic([]string{"not a proxy"})
	assert.Error(t, err)
}

func TestEmptySupplier(t *testing.T) {
	s, err := NewValidated(context.Background(), nil, "http://example.invalid", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "", s.Next())
	assert.Zero(t, s.Len())
}
