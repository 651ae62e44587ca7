// Copyright 2025 MCP Gateway Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package upstream

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nexigate/mcp-gateway/internal/cache"
)

// NewFixture builds a Session with its list caches pre-warmed and no live
// protocol client, for use as a test double by packages (fleet, aggregate,
// gateway, metatools) that depend on *Session but don't want to dial a real
// peer. Calling CallTool/ReadResource/GetPrompt on a fixture panics on the
// nil underlying client; only list operations and allowlist filtering are
// exercised this way.
func NewFixture(peerName string, tools []*mcp.Tool, resources []*mcp.Resource, prompts []*mcp.Prompt) *Session {
	s := &Session{
		PeerName:       peerName,
		toolsCache:     cache.New[struct{}, []*mcp.Tool](0),
		resourcesCache: cache.New[struct{}, []*mcp.Resource](0),
		promptsCache:   cache.New[struct{}, []*mcp.Prompt](0),
	}
	s.toolsCache.Set(cacheKey, tools)
	s.resourcesCache.Set(cacheKey, resources)
	s.promptsCache.Set(cacheKey, prompts)
	return s
}

// NewFixtureWithCaller builds a fixture Session like NewFixture, but routes
// CallTool through call instead of panicking on the nil live client, for
// tests that need to exercise tool-invocation paths (script injection,
// inspect-tool-response) without a real peer.
func NewFixtureWithCaller(peerName string, tools []*mcp.Tool, call func(toolName string, args map[string]any) (*mcp.CallToolResult, error)) *Session {
	s := NewFixture(peerName, tools, nil, nil)
	s.callOverride = func(_ context.Context, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
		return call(toolName, args)
	}
	return s
}
