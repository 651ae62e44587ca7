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

// Package gateway is the single conversational surface presented to one
// downstream session (spec component I). It registers the static
// meta-tool set, routes list/read/get requests to aggregation, and
// forwards reverse requests (sampling, elicitation) to the downstream
// peer that owns this session.
package gateway

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nexigate/mcp-gateway/internal/aggregate"
	"github.com/nexigate/mcp-gateway/internal/audit"
	"github.com/nexigate/mcp-gateway/internal/capability"
	"github.com/nexigate/mcp-gateway/internal/fleet"
	"github.com/nexigate/mcp-gateway/internal/gwlog"
	"github.com/nexigate/mcp-gateway/internal/metatools"
)

var log = gwlog.Component("gateway")

// DownstreamSession is the assumed framed-transport/wire-serialization
// boundary (spec §1: both are out of scope, treated as interfaces). It is
// whatever represents the live connection to the actual downstream
// consumer of one session — concretely, an *mcp.ServerSession once a
// session controller has accepted one.
type DownstreamSession interface {
	CreateMessage(ctx context.Context, params *mcp.CreateMessageParams) (*mcp.CreateMessageResult, error)
	Elicit(ctx context.Context, params *mcp.ElicitParams) (*mcp.ElicitResult, error)
}

// Server is one downstream session's gateway.
type Server struct {
	SessionID string

	fleet     *fleet.Fleet
	resources *aggregate.Resources
	prompts   *aggregate.Prompts
	metatools *metatools.Registry

	downstream DownstreamSession
}

// New builds a Server for sessionID. The metatools registry and
// aggregation services are shared across sessions (they're already
// session-scoped internally via their cache keys); the fleet is process-wide.
func New(sessionID string, f *fleet.Fleet, resources *aggregate.Resources, prompts *aggregate.Prompts, mt *metatools.Registry) *Server {
	return &Server{SessionID: sessionID, fleet: f, resources: resources, prompts: prompts, metatools: mt}
}

// BindDownstream attaches the live downstream connection, enabling reverse
// forwarding. Called once the session controller has accepted the
// downstream session (spec §4.3's initialization hook).
func (s *Server) BindDownstream(d DownstreamSession) {
	s.downstream = d
}

// ListTools returns the static meta-tool set; it never changes (spec §4.3).
func (s *Server) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	return metatools.All, nil
}

// CallTool dispatches a meta-tool call.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	done := audit.Track(s.SessionID, "", name, audit.Downstream)
	result, err := s.metatools.Call(ctx, s.SessionID, name, args)
	done(err)
	return result, err
}

// ListResources delegates to the resources aggregation service.
func (s *Server) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	return s.resources.List(ctx, s.fleet, s.SessionID)
}

// ReadResource delegates to the resources aggregation service.
func (s *Server) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return s.resources.Read(ctx, s.fleet, s.SessionID, uri)
}

// ListPrompts delegates to the prompts aggregation service.
func (s *Server) ListPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	return s.prompts.List(ctx, s.fleet, s.SessionID)
}

// GetPrompt delegates to the prompts aggregation service.
func (s *Server) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return s.prompts.Get(ctx, s.fleet, s.SessionID, name, args)
}

// ForwardSampling issues a model/sample reverse request to this session's
// downstream peer, implementing fleet.Forwarder.
func (s *Server) ForwardSampling(ctx context.Context, sessionID string, params any) (any, error) {
	done := audit.Track(sessionID, "", "sampling", audit.Reverse)
	if s.downstream == nil {
		err := fmt.Errorf("session %q has no bound downstream connection", sessionID)
		done(err)
		return nil, err
	}
	p, ok := params.(*mcp.CreateMessageParams)
	if !ok {
		err := fmt.Errorf("forwardSampling: unexpected params type %T", params)
		done(err)
		return nil, err
	}
	result, err := s.downstream.CreateMessage(ctx, p)
	done(err)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("sampling forward failed")
		return nil, fmt.Errorf("reverse forward failed: %w", err)
	}
	return result, nil
}

// ForwardElicitation issues an elicit reverse request to this session's
// downstream peer, implementing fleet.Forwarder.
func (s *Server) ForwardElicitation(ctx context.Context, sessionID string, params any) (any, error) {
	done := audit.Track(sessionID, "", "elicitation", audit.Reverse)
	if s.downstream == nil {
		err := fmt.Errorf("session %q has no bound downstream connection", sessionID)
		done(err)
		return nil, err
	}
	p, ok := params.(*mcp.ElicitParams)
	if !ok {
		err := fmt.Errorf("forwardElicitation: unexpected params type %T", params)
		done(err)
		return nil, err
	}
	result, err := s.downstream.Elicit(ctx, p)
	done(err)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("elicitation forward failed")
		return nil, fmt.Errorf("reverse forward failed: %w", err)
	}
	return result, nil
}

// CapabilityRecordFromInit converts whatever shape the downstream
// initialize request's capabilities block takes (assumed shape, per spec
// §1's wire-serialization boundary) into the gateway's own Record. This is
// the hook fired on downstream-init (spec §4.3's "initialization hook").
func CapabilityRecordFromInit(sampling, elicitation, roots bool) capability.Record {
	return capability.Record{Sampling: sampling, Elicitation: elicitation, Roots: roots}
}
