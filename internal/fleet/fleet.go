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

// Package fleet owns every upstream session for every downstream session
// (spec component E). It is the sole owner of an upstream.Session's
// lifetime: aggregation and the gateway only ever borrow one via Get/List.
package fleet

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/nexigate/mcp-gateway/internal/audit"
	"github.com/nexigate/mcp-gateway/internal/config"
	"github.com/nexigate/mcp-gateway/internal/gwlog"
	"github.com/nexigate/mcp-gateway/internal/upstream"
)

var log = gwlog.Component("fleet")

// Caps is what the fleet advertises to an upstream peer on attach, derived
// from the downstream consumer's own advertised capabilities. When caps is
// the zero value and was never supplied, no reverse capability is
// advertised and reverse requests for that session are rejected locally.
type Caps struct {
	Sampling    bool
	Elicitation bool
}

// FailureRecord is stored in place of an upstream.Session when attach fails.
// Reason is the redacted message surfaced to discovery callers; cause is
// the wrapped original error, unwrapped only for the debug log line.
type FailureRecord struct {
	Reason string
	cause  error
}

// entryKey is the FleetEntry key: (peerName, downstreamSessionID).
type entryKey struct {
	peer      string
	sessionID string
}

type entry struct {
	session *upstream.Session
	failure *FailureRecord
}

// ListChangeCallback is invoked on the process-wide registered handlers
// whenever an upstream peer reports a list change for some session.
type ListChangeCallback func(kind upstream.ListChangeKind, sessionID, peer string)

// Fleet is the process-wide manager of every upstream session.
type Fleet struct {
	mu      sync.RWMutex
	entries map[entryKey]entry

	toolsHandlers     []ListChangeCallback
	resourcesHandlers []ListChangeCallback
	promptsHandlers   []ListChangeCallback

	forwarder Forwarder
}

// New returns an empty fleet.
func New() *Fleet {
	return &Fleet{entries: make(map[entryKey]entry)}
}

// AttachStreamed attaches (or no-ops if already attached) a streamed peer
// for sessionID.
func (f *Fleet) AttachStreamed(ctx context.Context, peer, sessionID, endpoint string, headers map[string]string, allowedTools *[]string, caps *Caps) error {
	peerCfg := &config.PeerConfig{
		Type:         config.PeerStreamed,
		URL:          endpoint,
		Headers:      headers,
		AllowedTools: allowedTools,
	}
	return f.attach(ctx, peer, sessionID, peerCfg, headers, caps)
}

// AttachChild attaches (or no-ops if already attached) a child-process peer
// for sessionID.
func (f *Fleet) AttachChild(ctx context.Context, peer, sessionID, command string, args []string, env map[string]string, allowedTools *[]string, caps *Caps) error {
	peerCfg := &config.PeerConfig{
		Type:         config.PeerChild,
		Command:      command,
		Args:         args,
		Env:          env,
		AllowedTools: allowedTools,
	}
	return f.attach(ctx, peer, sessionID, peerCfg, nil, caps)
}

func (f *Fleet) attach(ctx context.Context, peer, sessionID string, peerCfg *config.PeerConfig, authHeaders map[string]string, caps *Caps) error {
	key := entryKey{peer: peer, sessionID: sessionID}

	f.mu.RLock()
	existing, ok := f.entries[key]
	f.mu.RUnlock()
	if ok && existing.session != nil {
		return nil // idempotent: already attached
	}

	done := audit.Track(sessionID, peer, "attach", audit.Upstream)
	reverse := f.reverseHandlersFor(sessionID, caps)
	sess, err := upstream.Connect(ctx, peer, upstream.Options{
		Peer:        peerCfg,
		AuthHeaders: authHeaders,
		Reverse:     reverse,
		OnListChange: func(kind upstream.ListChangeKind, peerName string) {
			f.dispatchListChange(kind, sessionID, peerName)
		},
	})
	done(err)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		wrapped := errors.Wrap(err, "upstream attach failed")
		f.entries[key] = entry{failure: &FailureRecord{Reason: "Connection failed", cause: wrapped}}
		log.Warn().
			Err(errors.Cause(wrapped)).
			Str("peer", peer).Str("session", sessionID).
			Msg("upstream attach failed")
		return wrapped
	}
	f.entries[key] = entry{session: sess}
	return nil
}

// reverseHandlersFor wires forwardSampling/forwardElicitation-shaped hooks
// only for the capabilities caps advertises; nil caps means none (spec
// §4.1: "strict-capability enforcement is requested"). sessionID is closed
// over directly rather than recovered from the request context the SDK
// hands the registered handler at call time, since that context traces
// back through attachAllPeers, never through the unrelated downstream
// CallTool path — an ambient lookup there would always miss.
//
// The actual forward functions are supplied later via SetForwarder, since
// the gateway (which owns the downstream session to forward into) is
// constructed after the fleet in the dependency order. Until a forwarder is
// set, reverse calls fail closed with an internal error.
func (f *Fleet) reverseHandlersFor(sessionID string, caps *Caps) *upstream.ReverseHandlers {
	if caps == nil {
		return nil
	}
	rh := &upstream.ReverseHandlers{}
	if caps.Sampling {
		rh.Sampling = func(ctx context.Context, params any) (any, error) {
			return f.forwardSampling(ctx, sessionID, params)
		}
	}
	if caps.Elicitation {
		rh.Elicitation = func(ctx context.Context, params any) (any, error) {
			return f.forwardElicitation(ctx, sessionID, params)
		}
	}
	if rh.Sampling == nil && rh.Elicitation == nil {
		return nil
	}
	return rh
}

// Forwarder is implemented by the gateway; it issues a reverse request to
// the actual downstream consumer of sessionID.
type Forwarder interface {
	ForwardSampling(ctx context.Context, sessionID string, params any) (any, error)
	ForwardElicitation(ctx context.Context, sessionID string, params any) (any, error)
}

func (f *Fleet) forwardSampling(ctx context.Context, sessionID string, params any) (any, error) {
	fw := f.currentForwarder()
	if fw == nil {
		return nil, fmt.Errorf("no downstream forwarder registered: cannot forward sampling request")
	}
	return fw.ForwardSampling(ctx, sessionID, params)
}

func (f *Fleet) forwardElicitation(ctx context.Context, sessionID string, params any) (any, error) {
	fw := f.currentForwarder()
	if fw == nil {
		return nil, fmt.Errorf("no downstream forwarder registered: cannot forward elicitation request")
	}
	return fw.ForwardElicitation(ctx, sessionID, params)
}

// currentForwarder is resolved by SetForwarder, called once during startup
// wiring once the gateway/session controller exists.
func (f *Fleet) currentForwarder() Forwarder {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.forwarder
}

// SetForwarder installs the gateway as the fleet's reverse-request target.
// Called once during startup wiring.
func (f *Fleet) SetForwarder(fw Forwarder) {
	f.mu.Lock()
	f.forwarder = fw
	f.mu.Unlock()
}

// Get returns the upstream session for (peer, sessionID).
func (f *Fleet) Get(peer, sessionID string) (*upstream.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[entryKey{peer: peer, sessionID: sessionID}]
	if !ok || e.session == nil {
		return nil, fmt.Errorf("no upstream session for peer %q in session %q", peer, sessionID)
	}
	return e.session, nil
}

// List returns every live upstream session for sessionID, keyed by peer.
func (f *Fleet) List(sessionID string) map[string]*upstream.Session {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]*upstream.Session)
	for key, e := range f.entries {
		if key.sessionID == sessionID && e.session != nil {
			out[key.peer] = e.session
		}
	}
	return out
}

// Failures returns every recorded failure for sessionID, keyed by peer.
func (f *Fleet) Failures(sessionID string) map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]string)
	for key, e := range f.entries {
		if key.sessionID == sessionID && e.failure != nil {
			out[key.peer] = e.failure.Reason
		}
	}
	return out
}

// CloseSession tears down every upstream session belonging to sessionID and
// drops its failure records.
func (f *Fleet) CloseSession(sessionID string) {
	f.mu.Lock()
	var toClose []*upstream.Session
	for key, e := range f.entries {
		if key.sessionID != sessionID {
			continue
		}
		if e.session != nil {
			toClose = append(toClose, e.session)
		}
		delete(f.entries, key)
	}
	f.mu.Unlock()

	for _, s := range toClose {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Str("peer", s.PeerName).Msg("error closing upstream session")
		}
	}
}

// CloseAll tears down every upstream session for every session, e.g. on
// process shutdown.
func (f *Fleet) CloseAll() {
	f.mu.Lock()
	var toClose []*upstream.Session
	for key, e := range f.entries {
		if e.session != nil {
			toClose = append(toClose, e.session)
		}
		delete(f.entries, key)
	}
	f.mu.Unlock()

	for _, s := range toClose {
		_ = s.Close()
	}
}

// OnToolsListChanged registers a process-wide callback fired when any
// upstream peer's tool list changes. Registration is additive and not
// deduplicated (Go funcs aren't comparable): registering the same callback
// twice makes it fire twice. There is no way to unregister.
func (f *Fleet) OnToolsListChanged(cb ListChangeCallback) {
	f.mu.Lock()
	f.toolsHandlers = append(f.toolsHandlers, cb)
	f.mu.Unlock()
}

// OnResourcesListChanged registers a callback fired on upstream resource
// list changes.
func (f *Fleet) OnResourcesListChanged(cb ListChangeCallback) {
	f.mu.Lock()
	f.resourcesHandlers = append(f.resourcesHandlers, cb)
	f.mu.Unlock()
}

// OnPromptsListChanged registers a callback fired on upstream prompt list
// changes.
func (f *Fleet) OnPromptsListChanged(cb ListChangeCallback) {
	f.mu.Lock()
	f.promptsHandlers = append(f.promptsHandlers, cb)
	f.mu.Unlock()
}

func (f *Fleet) dispatchListChange(kind upstream.ListChangeKind, sessionID, peer string) {
	f.mu.RLock()
	var handlers []ListChangeCallback
	switch kind {
	case upstream.ToolsChanged:
		handlers = f.toolsHandlers
	case upstream.ResourcesChanged:
		handlers = f.resourcesHandlers
	case upstream.PromptsChanged:
		handlers = f.promptsHandlers
	}
	f.mu.RUnlock()

	for _, h := range handlers {
		h(kind, sessionID, peer)
	}
}
