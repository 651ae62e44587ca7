package upstream

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexigate/mcp-gateway/internal/cache"
	"github.com/nexigate/mcp-gateway/internal/config"
)

// newTestSession builds a Session with its caches pre-warmed, bypassing the
// network dial in Connect, so allowlist/cache behavior can be exercised in
// isolation.
func newTestSession(t *testing.T, tools []*mcp.Tool, allowed []string, allowlistSet bool) *Session {
	t.Helper()
	s := NewFixture("peer", tools, nil, nil)
	if allowlistSet {
		s.allowlistSet = true
		s.allowlist = make(map[string]bool, len(allowed))
		for _, name := range allowed {
			s.allowlist[name] = true
		}
	}
	return s
}

func TestListToolsNoAllowlistPassesEverything(t *testing.T) {
	tools := []*mcp.Tool{{Name: "search"}, {Name: "fetch"}}
	s := newTestSession(t, tools, nil, false)

	got, err := s.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestListToolsAllowlistFilters(t *testing.T) {
	tools := []*mcp.Tool{{Name: "search"}, {Name: "fetch"}, {Name: "delete"}}
	s := newTestSession(t, tools, []string{"search"}, true)

	got, err := s.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "search", got[0].Name)
}

func TestListToolsEmptyAllowlistBlocksAll(t *testing.T) {
	tools := []*mcp.Tool{{Name: "search"}}
	s := newTestSession(t, tools, nil, true)

	got, err := s.ListTools(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIsToolAllowed(t *testing.T) {
	tools := []*mcp.Tool{{Name: "search"}, {Name: "fetch"}}
	s := newTestSession(t, tools, []string{"search"}, true)

	assert.True(t, s.IsToolAllowed(context.Background(), "search"))
	assert.False(t, s.IsToolAllowed(context.Background(), "fetch"))
	assert.False(t, s.IsToolAllowed(context.Background(), "nonexistent"))
}

func TestBuildTransportRejectsUnconfiguredPeer(t *testing.T) {
	_, err := buildTransport(&config.PeerConfig{}, nil)
	assert.Error(t, err)
}

func TestBuildTransportStreamed(t *testing.T) {
	peer := &config.PeerConfig{Type: config.PeerStreamed, URL: "https://example.com/mcp"}
	transport, err := buildTransport(peer, map[string]string{"Authorization": "Bearer xyz"})
	require.NoError(t, err)
	assert.IsType(t, &mcp.StreamableClientTransport{}, transport)
}

func TestBuildTransportChild(t *testing.T) {
	peer := &config.PeerConfig{Type: config.PeerChild, Command: "echo", Args: []string{"hi"}}
	transport, err := buildTransport(peer, nil)
	require.NoError(t, err)
	assert.IsType(t, &mcp.CommandTransport{}, transport)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := &Session{toolsCache: cache.New[struct{}, []*mcp.Tool](0)}
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
