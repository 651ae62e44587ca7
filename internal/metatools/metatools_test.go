package metatools

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexigate/mcp-gateway/internal/aggregate"
	"github.com/nexigate/mcp-gateway/internal/fleet"
	"github.com/nexigate/mcp-gateway/internal/script"
	"github.com/nexigate/mcp-gateway/internal/upstream"
)

func newRegistry(t *testing.T, sessionID string, peers map[string]*upstream.Session) *Registry {
	t.Helper()
	f := fleet.New()
	for name, sess := range peers {
		require.NoError(t, fleet.AttachFixture(f, name, sessionID, sess))
	}
	return &Registry{
		Fleet:     f,
		Tools:     aggregate.NewTools(),
		Resources: aggregate.NewResources(),
		Prompts:   aggregate.NewPrompts(),
		Executor:  script.NewExecutor(),
	}
}

func TestListServersReportsConnectedPeers(t *testing.T) {
	alpha := upstream.NewFixture("alpha", nil, nil, nil)
	r := newRegistry(t, "s1", map[string]*upstream.Session{"alpha": alpha})

	result, err := r.Call(context.Background(), "s1", ListServers, nil)
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	text := result.Content[0].(*mcp.TextContent).Text
	assert.Contains(t, text, "alpha (connected)")
}

func TestListServerToolsFiltersByResolvedPeer(t *testing.T) {
	alpha := upstream.NewFixture("alpha", []*mcp.Tool{{Name: "search-docs", Description: "search"}}, nil, nil)
	r := newRegistry(t, "s1", map[string]*upstream.Session{"alpha": alpha})

	result, err := r.Call(context.Background(), "s1", ListServerTools, map[string]any{"luaServerName": "alpha"})
	require.NoError(t, err)
	text := result.Content[0].(*mcp.TextContent).Text
	assert.Contains(t, text, "search_docs")
}

func TestListServerToolsUnknownServerReturnsErrorResult(t *testing.T) {
	r := newRegistry(t, "s1", nil)
	result, err := r.Call(context.Background(), "s1", ListServerTools, map[string]any{"luaServerName": "missing"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestToolDetailsResolvesSanitizedNames(t *testing.T) {
	alpha := upstream.NewFixture("alpha", []*mcp.Tool{{Name: "search-docs", Description: "search"}}, nil, nil)
	r := newRegistry(t, "s1", map[string]*upstream.Session{"alpha": alpha})

	result, err := r.Call(context.Background(), "s1", ToolDetails, map[string]any{
		"luaServerName": "alpha",
		"luaToolName":   "search_docs",
	})
	require.NoError(t, err)
	text := result.Content[0].(*mcp.TextContent).Text
	assert.Contains(t, text, "alpha.search_docs")
}

func TestSummaryCountsAcrossAggregationServices(t *testing.T) {
	alpha := upstream.NewFixture("alpha",
		[]*mcp.Tool{{Name: "a"}, {Name: "b"}},
		[]*mcp.Resource{{URI: "file:///x"}},
		nil,
	)
	r := newRegistry(t, "s1", map[string]*upstream.Session{"alpha": alpha})

	result, err := r.Call(context.Background(), "s1", Summary, nil)
	require.NoError(t, err)
	text := result.Content[0].(*mcp.TextContent).Text
	assert.Contains(t, text, "connected: 1")
	assert.Contains(t, text, "tools: 2")
	assert.Contains(t, text, "resources: 1")
}

func TestExecuteScriptReturnsScalarAsText(t *testing.T) {
	r := newRegistry(t, "s1", nil)
	result, err := r.Call(context.Background(), "s1", ExecuteScript, map[string]any{"script": `result(1 + 1)`})
	require.NoError(t, err)
	text := result.Content[0].(*mcp.TextContent).Text
	assert.Equal(t, "2", text)
}

func TestExecuteScriptSurfacesToolTextContent(t *testing.T) {
	calc := upstream.NewFixtureWithCaller("calc", []*mcp.Tool{{Name: "add"}},
		func(toolName string, args map[string]any) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "15 + 25 = 40"}}}, nil
		},
	)
	r := newRegistry(t, "s1", map[string]*upstream.Session{"calc": calc})

	result, err := r.Call(context.Background(), "s1", ExecuteScript, map[string]any{
		"script": `result(calc.add({a=15,b=25}):await())`,
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	text := result.Content[0].(*mcp.TextContent).Text
	assert.Equal(t, "15 + 25 = 40", text)
}

func TestExecuteScriptRequiresScriptArgument(t *testing.T) {
	r := newRegistry(t, "s1", nil)
	result, err := r.Call(context.Background(), "s1", ExecuteScript, map[string]any{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestInspectToolResponseInvokesAndWarns(t *testing.T) {
	alpha := upstream.NewFixtureWithCaller("alpha", []*mcp.Tool{{Name: "echo"}},
		func(toolName string, args map[string]any) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{StructuredContent: map[string]any{"echoed": args["msg"]}}, nil
		},
	)
	r := newRegistry(t, "s1", map[string]*upstream.Session{"alpha": alpha})

	result, err := r.Call(context.Background(), "s1", InspectToolResponse, map[string]any{
		"luaServerName": "alpha",
		"luaToolName":   "echo",
		"sampleArgs":    map[string]any{"msg": "hi"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	text := result.Content[0].(*mcp.TextContent).Text
	assert.Contains(t, text, "was actually invoked")
}

func TestUnknownMetaToolErrors(t *testing.T) {
	r := newRegistry(t, "s1", nil)
	_, err := r.Call(context.Background(), "s1", "not-a-real-tool", nil)
	assert.Error(t, err)
}
