package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("sess-1", Record{Sampling: true}))

	got, ok := s.Get("sess-1")
	require.True(t, ok)
	assert.True(t, got.Sampling)
	assert.False(t, got.Elicitation)
}

func TestSetTwiceFails(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("sess-1", Record{Sampling: true}))
	err := s.Set("sess-1", Record{Elicitation: true})
	assert.Error(t, err)
}

func TestGetUnknownSession(t *testing.T) {
	s := New()
	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestForget(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("sess-1", Record{Roots: true}))
	s.Forget("sess-1")

	_, ok := s.Get("sess-1")
	assert.False(t, ok)

	require.NoError(t, s.Set("sess-1", Record{Sampling: true}), "forgetting frees the session ID for reuse")
}
