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

// Package metatools implements the gateway's static, never-list-changed
// tool surface (spec component H): discovery tools (list-servers,
// list-server-tools, tool-details, inspect-tool-response, summary) and the
// scripted-orchestration tool (execute-script). Their names are used
// unsanitized and hyphenated (spec §9 Open Question: the downstream
// protocol is liberal about tool-name characters; only script-visible
// identifiers go through internal/script/ident).
package metatools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nexigate/mcp-gateway/internal/aggregate"
	"github.com/nexigate/mcp-gateway/internal/audit"
	"github.com/nexigate/mcp-gateway/internal/fleet"
	"github.com/nexigate/mcp-gateway/internal/script"
	"github.com/nexigate/mcp-gateway/internal/script/ident"
	"github.com/nexigate/mcp-gateway/internal/upstream"
)

// Names are the stable, hyphenated meta-tool identifiers (spec §6).
const (
	ListServers         = "list-servers"
	ListServerTools     = "list-server-tools"
	ToolDetails         = "tool-details"
	InspectToolResponse = "inspect-tool-response"
	Summary             = "summary"
	ExecuteScript       = "execute-script"
)

// All is the static, never-changing set of meta-tool descriptors the
// gateway advertises from listTools.
var All = []*mcp.Tool{
	{Name: ListServers, Description: "List attached upstream servers and their connection status."},
	{Name: ListServerTools, Description: "List the tools exposed by one upstream server."},
	{Name: ToolDetails, Description: "Show the schema and an example call for one upstream tool."},
	{Name: InspectToolResponse, Description: "Invoke a tool through the scripting runtime and show its exact VM-visible shape."},
	{Name: Summary, Description: "Summarize connected/failed servers and total tools/resources/prompts."},
	{Name: ExecuteScript, Description: "Run a script that orchestrates one or more upstream tools."},
}

// Registry dispatches meta-tool calls against the fleet and aggregation
// services for one downstream session.
type Registry struct {
	Fleet     *fleet.Fleet
	Tools     *aggregate.Tools
	Resources *aggregate.Resources
	Prompts   *aggregate.Prompts
	Executor  *script.Executor
}

// Call dispatches name against sessionID with args, the same shape the
// gateway's callTool handler receives from downstream.
func (r *Registry) Call(ctx context.Context, sessionID, name string, args map[string]any) (*mcp.CallToolResult, error) {
	switch name {
	case ListServers:
		return r.listServers(ctx, sessionID)
	case ListServerTools:
		return r.listServerTools(ctx, sessionID, args)
	case ToolDetails:
		return r.toolDetails(ctx, sessionID, args)
	case InspectToolResponse:
		return r.inspectToolResponse(ctx, sessionID, args)
	case Summary:
		return r.summary(ctx, sessionID)
	case ExecuteScript:
		return r.executeScript(ctx, sessionID, args)
	default:
		return nil, fmt.Errorf("unknown meta-tool %q", name)
	}
}

func textResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}

func errorResult(format string, a ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, a...)}}}
}

func (r *Registry) listServers(ctx context.Context, sessionID string) (*mcp.CallToolResult, error) {
	peers := r.Fleet.List(sessionID)
	failures := r.Fleet.Failures(sessionID)

	var names []string
	for name := range peers {
		names = append(names, name)
	}
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%d server(s): ", len(names))
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		if _, ok := peers[name]; ok {
			fmt.Fprintf(&b, "%s (connected)", name)
		} else {
			fmt.Fprintf(&b, "%s (failed: %s)", name, failures[name])
		}
	}
	return textResult(b.String()), nil
}

func (r *Registry) listServerTools(ctx context.Context, sessionID string, args map[string]any) (*mcp.CallToolResult, error) {
	luaServerName, _ := args["luaServerName"].(string)
	sess, _, err := r.resolvePeer(sessionID, luaServerName)
	if err != nil {
		return errorResult("%s", err), nil
	}

	tools, err := sess.ListTools(ctx)
	if err != nil {
		return errorResult("failed to list tools: %s", err), nil
	}

	var b strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&b, "%s: %s\n", ident.Sanitize(t.Name), t.Description)
	}
	return textResult(b.String()), nil
}

func (r *Registry) toolDetails(ctx context.Context, sessionID string, args map[string]any) (*mcp.CallToolResult, error) {
	luaServerName, _ := args["luaServerName"].(string)
	luaToolName, _ := args["luaToolName"].(string)

	sess, _, err := r.resolvePeer(sessionID, luaServerName)
	if err != nil {
		return errorResult("%s", err), nil
	}
	tools, err := sess.ListTools(ctx)
	if err != nil {
		return errorResult("failed to list tools: %s", err), nil
	}
	tool, ok := resolveTool(tools, luaToolName)
	if !ok {
		return errorResult("no tool %q on server %q", luaToolName, luaServerName), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s\n", ident.Sanitize(luaServerName), ident.Sanitize(tool.Name))
	fmt.Fprintf(&b, "description: %s\n", tool.Description)
	fmt.Fprintf(&b, "schema: %v\n", tool.InputSchema)
	fmt.Fprintf(&b, "example: %s.%s({})\n", ident.Sanitize(luaServerName), ident.Sanitize(tool.Name))
	return textResult(b.String()), nil
}

func (r *Registry) inspectToolResponse(ctx context.Context, sessionID string, args map[string]any) (*mcp.CallToolResult, error) {
	luaServerName, _ := args["luaServerName"].(string)
	luaToolName, _ := args["luaToolName"].(string)
	sampleArgs, _ := args["sampleArgs"].(map[string]any)

	sess, peerName, err := r.resolvePeer(sessionID, luaServerName)
	if err != nil {
		return errorResult("%s", err), nil
	}
	tools, err := sess.ListTools(ctx)
	if err != nil {
		return errorResult("failed to list tools: %s", err), nil
	}
	tool, ok := resolveTool(tools, luaToolName)
	if !ok {
		return errorResult("no tool %q on server %q", luaToolName, luaServerName), nil
	}

	peerIdent := ident.Sanitize(peerName)
	toolIdent := ident.Sanitize(tool.Name)

	scriptResult, err := r.Executor.Inspect(ctx, peerIdent, sess, toolIdent, sampleArgs)
	if err != nil {
		return errorResult("inspect failed: %s", err), nil
	}

	warning := fmt.Sprintf("warning: %s.%s was actually invoked with the given sampleArgs\n", peerIdent, toolIdent)
	result := scriptResultToToolResult(scriptResult)
	if len(result.Content) > 0 {
		if tc, ok := result.Content[0].(*mcp.TextContent); ok {
			tc.Text = warning + tc.Text
			return result, nil
		}
	}
	result.Content = append([]mcp.Content{&mcp.TextContent{Text: warning}}, result.Content...)
	return result, nil
}

func (r *Registry) summary(ctx context.Context, sessionID string) (*mcp.CallToolResult, error) {
	peers := r.Fleet.List(sessionID)
	failures := r.Fleet.Failures(sessionID)

	toolsByPeer, _ := r.Tools.List(ctx, r.Fleet, sessionID)
	totalTools := 0
	for _, tools := range toolsByPeer {
		totalTools += len(tools)
	}
	resources, _ := r.Resources.List(ctx, r.Fleet, sessionID)
	prompts, _ := r.Prompts.List(ctx, r.Fleet, sessionID)

	summary := fmt.Sprintf(
		"connected: %d, failed: %d, tools: %d, resources: %d, prompts: %d",
		len(peers), len(failures), totalTools, len(resources), len(prompts),
	)
	return textResult(summary), nil
}

func (r *Registry) executeScript(ctx context.Context, sessionID string, args map[string]any) (*mcp.CallToolResult, error) {
	src, _ := args["script"].(string)
	if src == "" {
		return errorResult("execute-script requires a non-empty \"script\" argument"), nil
	}

	peers := r.Fleet.List(sessionID)
	callers := make(map[string]script.PeerCaller, len(peers))
	for name, sess := range peers {
		callers[name] = auditingCaller{sessionID: sessionID, peer: name, Session: sess}
	}

	result, err := r.Executor.Execute(ctx, src, callers)
	if err != nil {
		return errorResult("script execution failed: %s", err), nil
	}
	return scriptResultToToolResult(result), nil
}

// auditingCaller wraps an upstream session so every tool call a script
// makes through it is recorded the same way every other proxied operation
// is, without script.Executor needing to know sessionID or peer names.
type auditingCaller struct {
	*upstream.Session
	sessionID string
	peer      string
}

func (c auditingCaller) CallTool(ctx context.Context, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	done := audit.Track(c.sessionID, c.peer, toolName, audit.Upstream)
	result, err := c.Session.CallTool(ctx, toolName, args)
	done(err)
	return result, err
}

// scriptResultToToolResult implements execute-script's contract: "returns
// either a passthrough ToolResult, a structured-content object, or a text
// block with the scalar return."
func scriptResultToToolResult(result script.Result) *mcp.CallToolResult {
	if result.ToolResult != nil {
		return result.ToolResult
	}
	if m, ok := result.Scalar.(map[string]any); ok {
		return &mcp.CallToolResult{StructuredContent: m}
	}
	return textResult(fmt.Sprintf("%v", result.Scalar))
}

// resolvePeer finds the live upstream session whose name sanitizes to
// luaServerName, since meta-tool callers only ever see sanitized names.
func (r *Registry) resolvePeer(sessionID, luaServerName string) (*upstream.Session, string, error) {
	for name, sess := range r.Fleet.List(sessionID) {
		if ident.Sanitize(name) == luaServerName {
			return sess, name, nil
		}
	}
	return nil, "", fmt.Errorf("no attached server matches %q", luaServerName)
}

// resolveTool finds the tool whose name sanitizes to luaToolName.
func resolveTool(tools []*mcp.Tool, luaToolName string) (*mcp.Tool, bool) {
	for _, t := range tools {
		if ident.Sanitize(t.Name) == luaToolName {
			return t, true
		}
	}
	return nil, false
}
