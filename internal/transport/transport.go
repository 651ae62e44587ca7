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

// Package transport binds the session controller to the real downstream
// wire: one *mcp.Server per session, its static meta-tool set registered
// with mcp.Server.AddTool, and its initialize handshake driving the
// controller's downstream-init hook. This is the concrete implementation
// of the framing/wire-serialization boundary that spec §1 treats as
// external; internal/gateway.DownstreamSession is the seam that let the
// rest of the gateway be built and tested without pinning down this layer
// first.
//
// Grounded on the teacher's internal/proxy/aggregated_gateway.go and
// internal/proxy/server.go (mcp.NewServer + ServerOptions.InitializedHandler
// + mcp.NewStreamableHTTPHandler(getServerForRequest, ...) for framed mode),
// and on the go-sdk-shaped reference gateway in
// other_examples/d0c2e3d5_null-runner-mcp-gateway (req.Session as the
// *mcp.ServerSession tied to one initialize handshake).
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nexigate/mcp-gateway/internal/capability"
	"github.com/nexigate/mcp-gateway/internal/gateway"
	"github.com/nexigate/mcp-gateway/internal/gwlog"
	"github.com/nexigate/mcp-gateway/internal/metatools"
	"github.com/nexigate/mcp-gateway/internal/session"
)

var log = gwlog.Component("transport")

const serverName = "mcp-gateway"

var serverVersion = "dev"

// SetVersion overrides the version string this binder's servers advertise
// in their Implementation block. Called once from main with the build-time
// version.
func SetVersion(v string) { serverVersion = v }

// Binder wires session.Controller to the live MCP wire protocol.
type Binder struct {
	ctrl *session.Controller
}

// New returns a Binder over ctrl.
func New(ctrl *session.Controller) *Binder {
	return &Binder{ctrl: ctrl}
}

// serverSessionDownstream adapts an *mcp.ServerSession to
// gateway.DownstreamSession, so the gateway's reverse-forwarding code never
// depends on the go-sdk's server types directly.
type serverSessionDownstream struct {
	ss *mcp.ServerSession
}

func (d *serverSessionDownstream) CreateMessage(ctx context.Context, params *mcp.CreateMessageParams) (*mcp.CreateMessageResult, error) {
	return d.ss.CreateMessage(ctx, params)
}

func (d *serverSessionDownstream) Elicit(ctx context.Context, params *mcp.ElicitParams) (*mcp.ElicitResult, error) {
	return d.ss.Elicit(ctx, params)
}

var _ gateway.DownstreamSession = (*serverSessionDownstream)(nil)

// capsFromSession derives a capability.Record from the initialize
// handshake's advertised client capabilities.
func capsFromSession(ss *mcp.ServerSession) capability.Record {
	params := ss.InitializeParams()
	if params == nil || params.Capabilities == nil {
		return capability.Record{}
	}
	c := params.Capabilities
	return gateway.CapabilityRecordFromInit(c.Sampling != nil, c.Elicitation != nil, c.Roots != nil)
}

// registerMetaTools attaches the static meta-tool set to server, each
// handler delegating to gw.CallTool (spec §4.3: the gateway's tool list
// never changes after this point).
func registerMetaTools(server *mcp.Server, gw *gateway.Server) {
	for _, tool := range metatools.All {
		tool := tool
		server.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args map[string]any
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return nil, fmt.Errorf("invalid arguments for %q: %w", tool.Name, err)
				}
			}
			return gw.CallTool(ctx, tool.Name, args)
		})
	}
}

func newImplementation() *mcp.Implementation {
	return &mcp.Implementation{Name: serverName, Version: serverVersion}
}

// ---- duplex single-session mode ----

// ServeStream runs the duplex single-session mode over stdio (spec §4.5
// mode 1): blocks for the life of the connection under the fixed session
// ID "default".
func (b *Binder) ServeStream(ctx context.Context) error {
	var srv *mcp.Server
	srv = mcp.NewServer(newImplementation(), &mcp.ServerOptions{
		HasTools:     true,
		HasResources: true,
		HasPrompts:   true,
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			caps := capsFromSession(req.Session)
			gw, err := b.ctrl.ServeStream(ctx, &serverSessionDownstream{req.Session}, caps)
			if err != nil {
				log.Error().Err(err).Msg("stream session failed to initialize")
				return
			}
			registerMetaTools(srv, gw)
		},
	})

	sess, err := srv.Connect(ctx, &mcp.StdioTransport{}, nil)
	if err != nil {
		return fmt.Errorf("failed to connect stdio transport: %w", err)
	}
	defer b.ctrl.CloseSession(session.DefaultSessionID)
	return sess.Wait()
}

// ---- multiplexed framed mode ----

// ServeFramed runs the multiplexed framed mode (spec §4.5 mode 2): an HTTP
// listener at host:port with one streamable-HTTP endpoint, one *mcp.Server
// instantiated per downstream session.
func (b *Binder) ServeFramed(ctx context.Context, host string, port int) error {
	handler := mcp.NewStreamableHTTPHandler(b.getServerForRequest, &mcp.StreamableHTTPOptions{
		SessionTimeout: 10 * time.Minute,
	})

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)

	httpServer := &http.Server{
		Addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// getServerForRequest resolves (or opens) the session named by the
// Mcp-Session-Id header and returns a fresh *mcp.Server bound to it, per
// spec §4.5: "for each new session the controller instantiates one
// gateway... returns the gateway to the framing layer".
func (b *Binder) getServerForRequest(r *http.Request) *mcp.Server {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	b.ctrl.OpenSession(sessionID)

	var srv *mcp.Server
	srv = mcp.NewServer(newImplementation(), &mcp.ServerOptions{
		HasTools:     true,
		HasResources: true,
		HasPrompts:   true,
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			caps := capsFromSession(req.Session)
			if err := b.ctrl.OnDownstreamInit(sessionID, &serverSessionDownstream{req.Session}, caps); err != nil {
				log.Error().Err(err).Str("session", sessionID).Msg("session failed to initialize")
				return
			}
			gw, ok := b.ctrl.Gateway(sessionID)
			if !ok {
				log.Error().Str("session", sessionID).Msg("gateway vanished immediately after init")
				return
			}
			registerMetaTools(srv, gw)
		},
	})
	return srv
}
