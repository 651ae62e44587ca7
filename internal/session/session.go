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

// Package session is the gateway's session controller (spec component J):
// it owns the per-downstream-session state machine and the two transport
// strategies named in spec §4.5 (duplex single-session vs. multiplexed
// framed), behind one common type. It is also the one process-wide
// implementation of fleet.Forwarder, since the fleet knows only a session
// ID and needs to route a reverse request back to whichever gateway.Server
// owns that session.
//
// Grounded on the teacher's two HttpServerManager implementations
// (internal/proxy/proxy_server.go for the framed, per-session-construction
// style; internal/proxy/stdio.go for the single persistent duplex stream),
// collapsed into one controller with two entry points per spec §9's
// explicit redesign note ("exactly one session controller with two
// transport strategies behind a common interface").
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexigate/mcp-gateway/internal/aggregate"
	"github.com/nexigate/mcp-gateway/internal/capability"
	"github.com/nexigate/mcp-gateway/internal/config"
	"github.com/nexigate/mcp-gateway/internal/fleet"
	"github.com/nexigate/mcp-gateway/internal/gateway"
	"github.com/nexigate/mcp-gateway/internal/gwlog"
	"github.com/nexigate/mcp-gateway/internal/metatools"
)

var log = gwlog.Component("session")

// DefaultSessionID is the fixed session identity used in duplex
// single-session mode (spec §4.5): "exactly one downstream session exists
// for the life of the process".
const DefaultSessionID = "default"

// DefaultReadyTimeout bounds the controller's wait-for-ready upstream
// attachment (spec §5: "the controller's wait-for-ready poll is bounded,
// default 5s").
const DefaultReadyTimeout = 5 * time.Second

// State is a position in the per-session state machine (spec §4.5).
type State int

const (
	Created State = iota
	CapabilitiesKnown
	UpstreamsReady
	Serving
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case CapabilitiesKnown:
		return "capabilitiesKnown"
	case UpstreamsReady:
		return "upstreamsReady"
	case Serving:
		return "serving"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type entry struct {
	mu     sync.Mutex
	id     string
	state  State
	gw     *gateway.Server
	ctx    context.Context
	cancel context.CancelFunc
}

func (e *entry) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *entry) getState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Controller is the process-wide session controller. One Controller backs
// either transport mode; which methods the caller uses depends on
// config.Transport.
type Controller struct {
	mu      sync.RWMutex
	entries map[string]*entry

	cfg *config.Config

	fleet     *fleet.Fleet
	caps      *capability.Store
	resources *aggregate.Resources
	prompts   *aggregate.Prompts
	tools     *aggregate.Tools
	metatools *metatools.Registry

	readyTimeout time.Duration
}

// New builds a Controller over the shared, process-wide fleet and
// aggregation services. cfg supplies the configured upstream peer set
// attached to every new session.
func New(cfg *config.Config, f *fleet.Fleet, caps *capability.Store, tools *aggregate.Tools, resources *aggregate.Resources, prompts *aggregate.Prompts, mt *metatools.Registry) *Controller {
	c := &Controller{
		entries:      make(map[string]*entry),
		cfg:          cfg,
		fleet:        f,
		caps:         caps,
		resources:    resources,
		prompts:      prompts,
		tools:        tools,
		metatools:    mt,
		readyTimeout: DefaultReadyTimeout,
	}
	f.SetForwarder(c)
	return c
}

// State reports sessionID's current state-machine position.
func (c *Controller) State(sessionID string) (State, bool) {
	c.mu.RLock()
	e, ok := c.entries[sessionID]
	c.mu.RUnlock()
	if !ok {
		return Closed, false
	}
	return e.getState(), true
}

// Context returns the per-session context that CloseSession cancels, so a
// caller driving the downstream transport loop can derive request contexts
// from it (spec §5: "a session close cancels all in-flight upstream calls
// for that session").
func (c *Controller) Context(sessionID string) (context.Context, bool) {
	c.mu.RLock()
	e, ok := c.entries[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.ctx, true
}

// Gateway returns the gateway.Server backing sessionID, if one exists.
func (c *Controller) Gateway(sessionID string) (*gateway.Server, bool) {
	c.mu.RLock()
	e, ok := c.entries[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.gw, true
}

// ---- duplex single-session mode ----

// ServeStream implements spec §4.5 mode 1: one gateway under the fixed
// session ID "default", upstream peers attached before this call returns,
// so the caller never hands traffic to a gateway with an empty fleet.
func (c *Controller) ServeStream(ctx context.Context, downstream gateway.DownstreamSession, caps capability.Record) (*gateway.Server, error) {
	sessionID := DefaultSessionID
	e, gw := c.newEntry(sessionID)

	if err := c.caps.Set(sessionID, caps); err != nil {
		return nil, fmt.Errorf("stream session init failed: %w", err)
	}
	e.setState(CapabilitiesKnown)

	gw.BindDownstream(downstream)

	attachCtx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	defer cancel()
	c.attachAllPeers(attachCtx, sessionID, caps)

	e.setState(UpstreamsReady)
	e.setState(Serving)
	return gw, nil
}

// ---- multiplexed framed mode ----

// OpenSession returns the gateway for sessionID, creating it in state
// Created if this is the first time sessionID has been seen. The framing
// layer calls this on every request carrying sessionID's Mcp-Session-Id,
// not just the first, so an existing entry must be returned as-is rather
// than replaced: overwriting it would hand the framing layer a fresh,
// unregistered gateway.Server and silently drop whatever state a prior
// initialize handshake already built on the old one. Traffic against a
// freshly created entry, before OnDownstreamInit completes, sees an empty
// fleet and returns peer-empty discovery results rather than erroring,
// since aggregation and the fleet treat "no entries for this session yet"
// the same as "no peers attached" (spec §4.5).
func (c *Controller) OpenSession(sessionID string) *gateway.Server {
	_, gw := c.newEntry(sessionID)
	return gw
}

// OnDownstreamInit is the initialization hook fired once a framed-mode
// session completes its downstream handshake (spec §4.3): store
// capabilities, attach upstream peers with those capabilities, register
// reverse handlers — in that order. Upstream attachment runs in the
// background so the framing layer's accept loop is never blocked on it;
// callers poll State or retry discovery calls until UpstreamsReady.
func (c *Controller) OnDownstreamInit(sessionID string, downstream gateway.DownstreamSession, caps capability.Record) error {
	c.mu.RLock()
	e, ok := c.entries[sessionID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %q was never opened", sessionID)
	}

	if err := c.caps.Set(sessionID, caps); err != nil {
		return fmt.Errorf("session %q init failed: %w", sessionID, err)
	}
	e.setState(CapabilitiesKnown)
	e.gw.BindDownstream(downstream)

	go func() {
		attachCtx, cancel := context.WithTimeout(e.ctx, c.readyTimeout)
		defer cancel()
		c.attachAllPeers(attachCtx, sessionID, caps)
		e.setState(UpstreamsReady)
		e.setState(Serving)
	}()
	return nil
}

// CloseSession tears down sessionID: cancels in-flight upstream calls
// rooted in it, closes every attached upstream session, and forgets its
// capability record (spec §5: pending reverse forwards rooted in a
// closing session must fail with cancellation rather than hang).
func (c *Controller) CloseSession(sessionID string) {
	c.mu.Lock()
	e, ok := c.entries[sessionID]
	if ok {
		delete(c.entries, sessionID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	e.setState(Closing)
	e.cancel()
	c.fleet.CloseSession(sessionID)
	c.caps.Forget(sessionID)
	e.setState(Closed)
	log.Info().Str("session", sessionID).Msg("session closed")
}

// ---- shared plumbing ----

// newEntry returns sessionID's existing entry if one is already registered,
// or atomically creates and registers a new one otherwise. It must never
// unconditionally overwrite c.entries[sessionID]: a session's gateway is
// built once, carries state across the whole multi-request life of a
// multiplexed framed-mode session, and registers its meta-tools exactly
// once on its own InitializedHandler — clobbering it on a later call would
// hand the caller a new, tool-less gateway.Server and orphan the live one.
func (c *Controller) newEntry(sessionID string) (*entry, *gateway.Server) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[sessionID]; ok {
		return e, e.gw
	}

	ctx, cancel := context.WithCancel(context.Background())
	gw := gateway.New(sessionID, c.fleet, c.resources, c.prompts, c.metatools)
	e := &entry{id: sessionID, state: Created, gw: gw, ctx: ctx, cancel: cancel}
	c.entries[sessionID] = e
	return e, gw
}

// attachAllPeers attaches every configured peer for sessionID in
// parallel. A single peer's connect failure is recorded by the fleet as a
// FailureRecord and logged here; it never fails the session as a whole,
// since spec §4.1 treats per-peer attach failure as a degraded-but-running
// peer, not a fatal session error.
func (c *Controller) attachAllPeers(ctx context.Context, sessionID string, caps capability.Record) {
	fleetCaps := &fleet.Caps{Sampling: caps.Sampling, Elicitation: caps.Elicitation}

	var wg sync.WaitGroup
	for name, peer := range c.cfg.MCPClients {
		name, peer := name, peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			switch peer.Type {
			case config.PeerStreamed:
				err = c.fleet.AttachStreamed(ctx, name, sessionID, peer.URL, peer.Headers, peer.AllowedTools, fleetCaps)
			case config.PeerChild:
				err = c.fleet.AttachChild(ctx, name, sessionID, peer.Command, peer.Args, peer.Env, peer.AllowedTools, fleetCaps)
			default:
				err = fmt.Errorf("peer %q has unknown type %q", name, peer.Type)
			}
			if err != nil {
				log.Warn().Err(err).Str("session", sessionID).Str("peer", name).Msg("peer attach failed")
			}
		}()
	}
	wg.Wait()
}

// ---- fleet.Forwarder, routed by session ID to the owning gateway.Server ----

func (c *Controller) ForwardSampling(ctx context.Context, sessionID string, params any) (any, error) {
	gw, ok := c.Gateway(sessionID)
	if !ok {
		return nil, fmt.Errorf("no session %q to forward sampling request to", sessionID)
	}
	return gw.ForwardSampling(ctx, sessionID, params)
}

func (c *Controller) ForwardElicitation(ctx context.Context, sessionID string, params any) (any, error) {
	gw, ok := c.Gateway(sessionID)
	if !ok {
		return nil, fmt.Errorf("no session %q to forward elicitation request to", sessionID)
	}
	return gw.ForwardElicitation(ctx, sessionID, params)
}
