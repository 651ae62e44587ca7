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

// Package upstream wraps one live conversation with an upstream peer
// (spec component D). It owns the protocol client, caches the peer's
// tools/resources/prompts lists, applies the per-peer tool allowlist, and
// notifies a parent callback when the peer reports a list change.
//
// Grounded on internal/proxy/downstream_connection.go in the teacher repo
// (DownstreamConnection): NewClient/Connect/discoverTools/CallTool/Close
// all follow that shape, generalized from tools-only to tools+resources+prompts
// and from a single fixed connection to a cache-with-invalidation model.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nexigate/mcp-gateway/internal/cache"
	"github.com/nexigate/mcp-gateway/internal/config"
	"github.com/nexigate/mcp-gateway/internal/gwlog"
)

var log = gwlog.Component("upstream")

// ListChangeKind distinguishes which cached list a notification invalidates.
type ListChangeKind int

const (
	ToolsChanged ListChangeKind = iota
	ResourcesChanged
	PromptsChanged
)

// ListChangeHandler is invoked when the peer announces a list change.
// peerName identifies the peer; the session it belongs to is known to
// whoever installed the handler.
type ListChangeHandler func(kind ListChangeKind, peerName string)

// ReverseHandlers are the downstream-forwarding callbacks the fleet wires
// onto a session's client options (spec §4.1 "registers reverse-request
// handlers on sessions"), one per advertised downstream capability.
type ReverseHandlers struct {
	Sampling    func(ctx context.Context, params any) (any, error)
	Elicitation func(ctx context.Context, params any) (any, error)
}

// Session is one live conversation with a peer.
type Session struct {
	PeerName string

	allowlist    map[string]bool // nil means "no allowlist": everything passes
	allowlistSet bool            // true if an allowlist (possibly empty) was configured

	client  *mcp.Client
	session *mcp.ClientSession

	toolsCache     *cache.Cache[struct{}, []*mcp.Tool]
	resourcesCache *cache.Cache[struct{}, []*mcp.Resource]
	promptsCache   *cache.Cache[struct{}, []*mcp.Prompt]

	onListChange ListChangeHandler

	// callOverride substitutes for the live protocol client in test
	// fixtures built by NewFixtureWithCaller; nil in all real sessions.
	callOverride func(ctx context.Context, toolName string, args map[string]any) (*mcp.CallToolResult, error)

	mu     sync.RWMutex
	closed bool
}

// cacheKey is the sole key in each single-session cache: a session owns
// exactly one peer conversation, so there is nothing to key on but "the".
var cacheKey = struct{}{}

// Options configures Connect.
type Options struct {
	Peer         *config.PeerConfig
	AuthHeaders  map[string]string // passthrough headers captured from the downstream request
	OnListChange ListChangeHandler
	Reverse      *ReverseHandlers // nil means no reverse capabilities advertised
}

// Connect dials a peer per its configuration and performs the initial
// tool discovery. On success it returns a ready Session; on failure the
// caller (the fleet) is expected to store the error as a FailureRecord
// rather than propagate it further (spec §4.1).
func Connect(ctx context.Context, peerName string, opts Options) (*Session, error) {
	s := &Session{
		PeerName:       peerName,
		toolsCache:     cache.New[struct{}, []*mcp.Tool](0),
		resourcesCache: cache.New[struct{}, []*mcp.Resource](0),
		promptsCache:   cache.New[struct{}, []*mcp.Prompt](0),
		onListChange:   opts.OnListChange,
	}
	if tools, ok := opts.Peer.Allowlist(); ok {
		s.allowlistSet = true
		s.allowlist = make(map[string]bool, len(tools))
		for _, t := range tools {
			s.allowlist[t] = true
		}
	}

	clientOpts := &mcp.ClientOptions{
		ToolListChangedHandler: func(ctx context.Context, req *mcp.ToolListChangedRequest) {
			s.toolsCache.InvalidateAll()
			if s.onListChange != nil {
				s.onListChange(ToolsChanged, peerName)
			}
		},
		ResourceListChangedHandler: func(ctx context.Context, req *mcp.ResourceListChangedRequest) {
			s.resourcesCache.InvalidateAll()
			if s.onListChange != nil {
				s.onListChange(ResourcesChanged, peerName)
			}
		},
		PromptListChangedHandler: func(ctx context.Context, req *mcp.PromptListChangedRequest) {
			s.promptsCache.InvalidateAll()
			if s.onListChange != nil {
				s.onListChange(PromptsChanged, peerName)
			}
		},
	}
	if opts.Reverse != nil {
		if opts.Reverse.Sampling != nil {
			clientOpts.CreateMessageHandler = func(ctx context.Context, req *mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
				res, err := opts.Reverse.Sampling(ctx, req.Params)
				if err != nil {
					return nil, err
				}
				out, ok := res.(*mcp.CreateMessageResult)
				if !ok {
					return nil, fmt.Errorf("sampling forward returned unexpected result type %T", res)
				}
				return out, nil
			}
		}
		if opts.Reverse.Elicitation != nil {
			clientOpts.ElicitationHandler = func(ctx context.Context, req *mcp.ElicitRequest) (*mcp.ElicitResult, error) {
				res, err := opts.Reverse.Elicitation(ctx, req.Params)
				if err != nil {
					return nil, err
				}
				out, ok := res.(*mcp.ElicitResult)
				if !ok {
					return nil, fmt.Errorf("elicitation forward returned unexpected result type %T", res)
				}
				return out, nil
			}
		}
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "gateway-fleet/" + peerName, Version: "1.0.0"}, clientOpts)

	transport, err := buildTransport(opts.Peer, opts.AuthHeaders)
	if err != nil {
		log.Warn().Err(err).Str("peer", peerName).Msg("failed to build transport")
		return nil, fmt.Errorf("failed to build transport for peer %q: %w", peerName, err)
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		log.Warn().Err(err).Str("peer", peerName).Msg("failed to connect to peer")
		return nil, fmt.Errorf("failed to connect to peer %q: %w", peerName, err)
	}
	s.client = client
	s.session = session

	// Warm the tools cache; this is the only list we fetch eagerly, since
	// the allowlist and meta-tool discovery both need it immediately.
	if _, err := s.ListTools(ctx); err != nil {
		_ = session.Close()
		log.Warn().Err(err).Str("peer", peerName).Msg("failed initial tool discovery")
		return nil, fmt.Errorf("failed to discover tools for peer %q: %w", peerName, err)
	}
	return s, nil
}

func buildTransport(peer *config.PeerConfig, authHeaders map[string]string) (mcp.Transport, error) {
	switch {
	case peer.IsStreamed():
		allHeaders := make(map[string]string, len(peer.Headers)+len(authHeaders))
		for k, v := range peer.Headers {
			allHeaders[k] = v
		}
		for k, v := range authHeaders {
			allHeaders[k] = v // downstream-supplied headers override config
		}
		httpClient := &http.Client{
			Transport: headerRoundTripper{headers: allHeaders},
			Timeout:   30 * time.Second,
		}
		return &mcp.StreamableClientTransport{Endpoint: peer.URL, HTTPClient: httpClient}, nil
	case peer.IsChild():
		cmd := exec.Command(peer.Command, peer.Args...)
		for k, v := range peer.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	default:
		return nil, fmt.Errorf("peer config has neither streamed nor child variant set")
	}
}

// headerRoundTripper injects static headers into every outbound request,
// grounded on the teacher's HeaderRoundTripper in downstream_connection.go.
type headerRoundTripper struct {
	headers map[string]string
}

func (rt headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range rt.headers {
		cloned.Header.Set(k, v)
	}
	return http.DefaultTransport.RoundTrip(cloned)
}

// ListTools returns the peer's tools, filtered by the allowlist, fetching
// from upstream only on a cold or invalidated cache.
func (s *Session) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	all, err := s.toolsCache.GetOrLoad(ctx, cacheKey, func(ctx context.Context) ([]*mcp.Tool, error) {
		result, err := s.session.ListTools(ctx, nil)
		if err != nil {
			return nil, err
		}
		return result.Tools, nil
	})
	if err != nil {
		return nil, err
	}
	return s.applyAllowlist(all), nil
}

func (s *Session) applyAllowlist(tools []*mcp.Tool) []*mcp.Tool {
	if !s.allowlistSet {
		return tools
	}
	out := make([]*mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if s.allowlist[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// IsToolAllowed reports whether a tool is both known to the peer and passes
// its allowlist; callers must check this before forwarding a call by name,
// since the allowlist blocks invocation, not just discovery.
func (s *Session) IsToolAllowed(ctx context.Context, toolName string) bool {
	tools, err := s.ListTools(ctx)
	if err != nil {
		return false
	}
	for _, t := range tools {
		if t.Name == toolName {
			return true
		}
	}
	return false
}

// ListResources returns the peer's resources (spec §4.2 list fan-out unit).
func (s *Session) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	return s.resourcesCache.GetOrLoad(ctx, cacheKey, func(ctx context.Context) ([]*mcp.Resource, error) {
		result, err := s.session.ListResources(ctx, nil)
		if err != nil {
			return nil, err
		}
		return result.Resources, nil
	})
}

// ListPrompts returns the peer's prompts.
func (s *Session) ListPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	return s.promptsCache.GetOrLoad(ctx, cacheKey, func(ctx context.Context) ([]*mcp.Prompt, error) {
		result, err := s.session.ListPrompts(ctx, nil)
		if err != nil {
			return nil, err
		}
		return result.Prompts, nil
	})
}

// CallTool forwards a tool call using the peer's original (non-namespaced)
// tool name. Callers are responsible for allowlist enforcement before
// reaching here (the allowlist governs discovery *and* invocation).
func (s *Session) CallTool(ctx context.Context, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	if s.callOverride != nil {
		return s.callOverride(ctx, toolName, args)
	}
	return s.session.CallTool(ctx, &mcp.CallToolParams{Name: toolName, Arguments: args})
}

// ReadResource forwards a resource read using the peer's original URI.
func (s *Session) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return s.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
}

// GetPrompt forwards a prompt fetch using the peer's original name.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return s.session.GetPrompt(ctx, &mcp.GetPromptParams{Name: name, Arguments: args})
}

// Close terminates the peer connection. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.session == nil {
		return nil
	}
	return s.session.Close()
}
