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

// Package aggregate implements the session-scoped fan-out, caching, and
// namespace rewriting shared by the tools/resources/prompts surfaces (spec
// component F). Resources and prompts build one namespaced union per
// session; tools build a per-peer grouping used by the meta-tool surface
// and the scripting runtime, never exposed directly as a downstream
// listTools result (that stays the static meta-tool set, per the gateway).
package aggregate

import (
	"context"
	"fmt"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/nexigate/mcp-gateway/internal/cache"
	"github.com/nexigate/mcp-gateway/internal/fleet"
	"github.com/nexigate/mcp-gateway/internal/gwlog"
	"github.com/nexigate/mcp-gateway/internal/nsuri"
	"github.com/nexigate/mcp-gateway/internal/upstream"
)

var log = gwlog.Component("aggregate")

// peersOf returns the session's peers in a stable, deterministic order
// (spec: "stable order = peer-iteration order"). Go map iteration isn't
// stable, so we sort by peer name; this is a reasonable total order the
// teacher's code never had to pick since it proxied a single peer.
func peersOf(peers map[string]*upstream.Session) []string {
	names := make([]string, 0, len(peers))
	for name := range peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fanOut calls fetch for every peer in parallel, logging and substituting
// an empty slice for any peer that errors, per spec §4.2's "per-peer list
// errors never fail the union" policy. Results are appended in peer order.
func fanOut[T any](ctx context.Context, peers map[string]*upstream.Session, fetch func(context.Context, *upstream.Session) ([]T, error)) [][]T {
	order := peersOf(peers)
	results := make([][]T, len(order))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range order {
		i, name := i, name
		sess := peers[name]
		g.Go(func() error {
			items, err := fetch(gctx, sess)
			if err != nil {
				log.Warn().Err(err).Str("peer", name).Msg("per-peer list failed, treating as empty")
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait() // fetch never returns a non-nil error; this can't fail
	return results
}

// Tools groups each session's reachable tools by peer, for the meta-tool
// surface and script injection. It is not namespaced: callers already know
// which peer they're asking about.
type Tools struct {
	cache *cache.Cache[string, map[string][]*mcp.Tool]
}

// NewTools returns an empty tools aggregation service.
func NewTools() *Tools {
	return &Tools{cache: cache.New[string, map[string][]*mcp.Tool](0)}
}

// List returns sessionID's tools grouped by peer, fanning out to every
// attached peer on a cold or invalidated cache.
func (t *Tools) List(ctx context.Context, f *fleet.Fleet, sessionID string) (map[string][]*mcp.Tool, error) {
	return t.cache.GetOrLoad(ctx, sessionID, func(ctx context.Context) (map[string][]*mcp.Tool, error) {
		peers := f.List(sessionID)
		out := make(map[string][]*mcp.Tool, len(peers))
		for name, sess := range peers {
			tools, err := sess.ListTools(ctx)
			if err != nil {
				log.Warn().Err(err).Str("peer", name).Msg("per-peer tool list failed, treating as empty")
				tools = nil
			}
			out[name] = tools
		}
		return out, nil
	})
}

// Invalidate drops sessionID's cached grouping, e.g. on a fleet tools
// list-change callback or session close.
func (t *Tools) Invalidate(sessionID string) { t.cache.Invalidate(sessionID) }

// Resources is the namespaced union-of-resources aggregation service.
type Resources struct {
	cache *cache.Cache[string, []*mcp.Resource]
}

// NewResources returns an empty resources aggregation service.
func NewResources() *Resources {
	return &Resources{cache: cache.New[string, []*mcp.Resource](0)}
}

// List returns sessionID's namespaced resource union.
func (r *Resources) List(ctx context.Context, f *fleet.Fleet, sessionID string) ([]*mcp.Resource, error) {
	return r.cache.GetOrLoad(ctx, sessionID, func(ctx context.Context) ([]*mcp.Resource, error) {
		peers := f.List(sessionID)
		order := peersOf(peers)
		grouped := fanOut(ctx, peers, func(ctx context.Context, s *upstream.Session) ([]*mcp.Resource, error) {
			return s.ListResources(ctx)
		})

		var union []*mcp.Resource
		for i, peerName := range order {
			for _, res := range grouped[i] {
				namespaced := *res
				namespaced.URI = nsuri.EncodeResource(peerName, res.URI)
				union = append(union, &namespaced)
			}
		}
		return union, nil
	})
}

// Read resolves a namespaced resource URI and forwards the read to its peer,
// rewriting the returned content's URI back into namespaced form.
func (r *Resources) Read(ctx context.Context, f *fleet.Fleet, sessionID, namespacedURI string) (*mcp.ReadResourceResult, error) {
	peer, original, err := nsuri.DecodeResource(namespacedURI)
	if err != nil {
		return nil, fmt.Errorf("bad identifier: %w", err)
	}
	sess, err := f.Get(peer, sessionID)
	if err != nil {
		return nil, fmt.Errorf("peer not found: %w", err)
	}
	result, err := sess.ReadResource(ctx, original)
	if err != nil {
		return nil, err
	}
	for _, c := range result.Contents {
		c.URI = nsuri.EncodeResource(peer, c.URI)
	}
	return result, nil
}

// Invalidate drops sessionID's cached resource union.
func (r *Resources) Invalidate(sessionID string) { r.cache.Invalidate(sessionID) }

// Prompts is the namespaced union-of-prompts aggregation service.
type Prompts struct {
	cache *cache.Cache[string, []*mcp.Prompt]
}

// NewPrompts returns an empty prompts aggregation service.
func NewPrompts() *Prompts {
	return &Prompts{cache: cache.New[string, []*mcp.Prompt](0)}
}

// List returns sessionID's namespaced prompt union.
func (p *Prompts) List(ctx context.Context, f *fleet.Fleet, sessionID string) ([]*mcp.Prompt, error) {
	return p.cache.GetOrLoad(ctx, sessionID, func(ctx context.Context) ([]*mcp.Prompt, error) {
		peers := f.List(sessionID)
		order := peersOf(peers)
		grouped := fanOut(ctx, peers, func(ctx context.Context, s *upstream.Session) ([]*mcp.Prompt, error) {
			return s.ListPrompts(ctx)
		})

		var union []*mcp.Prompt
		for i, peerName := range order {
			for _, prompt := range grouped[i] {
				namespaced := *prompt
				namespaced.Name = nsuri.EncodePrompt(peerName, prompt.Name)
				union = append(union, &namespaced)
			}
		}
		return union, nil
	})
}

// Get resolves a namespaced prompt name and forwards the fetch to its peer,
// rewriting any embedded resource URIs in the returned messages.
func (p *Prompts) Get(ctx context.Context, f *fleet.Fleet, sessionID, namespacedName string, args map[string]string) (*mcp.GetPromptResult, error) {
	peer, original, err := nsuri.DecodePrompt(namespacedName)
	if err != nil {
		return nil, fmt.Errorf("bad identifier: %w", err)
	}
	sess, err := f.Get(peer, sessionID)
	if err != nil {
		return nil, fmt.Errorf("peer not found: %w", err)
	}
	result, err := sess.GetPrompt(ctx, original, args)
	if err != nil {
		return nil, err
	}
	rewriteEmbeddedResourceURIs(result, peer)
	return result, nil
}

// rewriteEmbeddedResourceURIs namespaces resource URIs found inside a
// prompt's message content blocks, per spec §4.2 step 5.
func rewriteEmbeddedResourceURIs(result *mcp.GetPromptResult, peer string) {
	for _, msg := range result.Messages {
		switch c := msg.Content.(type) {
		case *mcp.ResourceLinkContent:
			c.URI = nsuri.EncodeResource(peer, c.URI)
		case *mcp.EmbeddedResourceContent:
			if c.Resource != nil {
				c.Resource.URI = nsuri.EncodeResource(peer, c.Resource.URI)
			}
		}
	}
}

// Invalidate drops sessionID's cached prompt union.
func (p *Prompts) Invalidate(sessionID string) { p.cache.Invalidate(sessionID) }
