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

// Package script is the embedded scripting runtime (spec component G): a
// sandboxed gopher-lua VM, fresh per execution, with every attached peer
// injected as a table of callable tools. No ecosystem example in the
// retrieval pack embeds a scripting language; gopher-lua was picked because
// the spec's own parameter names (luaServerName, luaToolName) and its
// "reserved word of the VM's language" sanitizer rule name Lua directly.
package script

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nexigate/mcp-gateway/internal/nsuri"
	"github.com/nexigate/mcp-gateway/internal/script/ident"
)

const handleMetatableName = "gateway.ScriptHandle"

// PeerCaller is the subset of upstream.Session the runtime needs to inject
// one peer: its tool list (to build the sanitized-name table) and the
// ability to invoke a tool by its original name. *upstream.Session
// satisfies this interface directly.
type PeerCaller interface {
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	CallTool(ctx context.Context, toolName string, args map[string]any) (*mcp.CallToolResult, error)
}

// Result is what one script execution produces, mirroring the meta-tool
// surface's execute-script contract (spec §6). At most one field is set;
// none is set when the script never called result() or passed it nil.
// Execute and Inspect never set StructuredContent: a tool's
// structuredContent reaches the caller as a map in Scalar. Execute sets
// ToolResult when the result() sink's value is a table whose "content"
// field is a list of blocks in the shape contentBlockToLua produces (as in
// the {isError, content} table resultToLua builds for a tool response with
// no structuredContent), reconstructing real mcp.Content blocks from it;
// other fields of such a table are ignored, and a script-built table of
// that shape is treated the same way. Any other value goes to Scalar.
type Result struct {
	StructuredContent any
	ToolResult        *mcp.CallToolResult
	Scalar            any
}

// Violation indicates the script attempted to call a sandboxed-out
// capability (dofile, load, require, ...). These globals are not absent:
// each is bound to a function, so a plain reference to one reads as a
// function value, not nil. Calling one raises this error instead of
// running the loader, so a caller can tell "the script tried to escape
// the sandbox" apart from "the script has an unrelated bug".
type Violation struct {
	What string
}

func (v *Violation) Error() string { return fmt.Sprintf("sandbox violation: %s", v.What) }

const violationPrefix = "sandbox violation: "

// blockedGlobal returns the LGFunction installed in place of a
// sandboxed-out global: calling it raises a Violation-shaped Lua error
// rather than doing nothing, so Execute/Inspect can tell this case apart
// from any other script runtime error.
func blockedGlobal(name string) lua.LGFunction {
	return func(L *lua.LState) int {
		L.RaiseError(violationPrefix + name + " is not available in this runtime")
		return 0
	}
}

// violationFromLuaError recovers a *Violation from the error L.DoString
// returns when a script called a blocked global, by matching the message
// blockedGlobal raises. Any other script error (syntax error, unrelated
// runtime error, a peer tool's own error) falls through unrecognized.
func violationFromLuaError(err error) (*Violation, bool) {
	msg := err.Error()
	idx := strings.Index(msg, violationPrefix)
	if idx == -1 {
		return nil, false
	}
	rest := msg[idx+len(violationPrefix):]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		rest = rest[:nl]
	}
	return &Violation{What: rest}, true
}

// Executor runs scripts. It holds no state between calls: Execute builds a
// fresh lua.LState per invocation (spec: "cheap sandbox init").
type Executor struct{}

// NewExecutor returns a ready Executor.
func NewExecutor() *Executor { return &Executor{} }

// Execute runs src against peers, returning the result() sink's last value
// as a Result, or an empty Result (Scalar nil) if result() was never
// called; the script's own return value is ignored. peers is a
// point-in-time snapshot; the executor must not retain it past this call.
func (e *Executor) Execute(ctx context.Context, src string, peers map[string]PeerCaller) (Result, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	openSandboxedLibs(L)
	registerHandleType(L)

	var sink Result
	sinkSet := false
	L.SetGlobal("result", L.NewFunction(func(L *lua.LState) int {
		v := L.CheckAny(1)
		if tbl, ok := v.(*lua.LTable); ok {
			if tr, ok := toolResultFromLuaTable(tbl); ok {
				sink = Result{ToolResult: tr}
				sinkSet = true
				return 0
			}
		}
		sink = Result{Scalar: luaToGo(v)}
		sinkSet = true
		return 0
	}))

	for peerName, caller := range peers {
		injectPeer(L, ctx, peerName, caller)
	}

	if err := L.DoString(src); err != nil {
		if v, ok := violationFromLuaError(err); ok {
			return Result{}, v
		}
		return Result{}, fmt.Errorf("script failed: %w", err)
	}

	if sinkSet {
		return sink, nil
	}
	return Result{Scalar: nil}, nil
}

// Inspect runs the one-line script "peerIdent.toolIdent(args):await()" and
// returns its normalized result, for the inspect-tool-response meta-tool:
// the exact VM-visible shape a script would see calling that tool, without
// requiring the caller to author a script string themselves. peerIdent and
// toolIdent must already be sanitized identifiers (the caller resolves them
// from the real peer/tool names before calling Inspect).
func (e *Executor) Inspect(ctx context.Context, peerIdent string, caller PeerCaller, toolIdent string, args map[string]any) (Result, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	openSandboxedLibs(L)
	registerHandleType(L)

	var sink Result
	sinkSet := false
	L.SetGlobal("result", L.NewFunction(func(L *lua.LState) int {
		sink = Result{Scalar: luaToGo(L.CheckAny(1))}
		sinkSet = true
		return 0
	}))
	L.SetGlobal("__args", goToLua(L, args))

	injectPeer(L, ctx, peerIdent, caller)

	src := fmt.Sprintf("result(%s.%s(__args):await())", peerIdent, toolIdent)
	if err := L.DoString(src); err != nil {
		if v, ok := violationFromLuaError(err); ok {
			return Result{}, v
		}
		return Result{}, fmt.Errorf("inspect failed: %w", err)
	}
	if sinkSet {
		return sink, nil
	}
	return Result{Scalar: nil}, nil
}

// openSandboxedLibs opens only the data-oriented standard library (spec
// §4.4: "retain only pure data ... and a blocklist-enforced standard
// library"). Filesystem (io, os), process (os.Execute via os), package and
// debug/introspection surfaces are never registered at all, so reading one
// of those yields Lua's ordinary nil for an undefined global. The handful
// of loader functions OpenBase installs regardless (dofile, require, ...)
// are instead replaced below with a function that raises Violation when
// actually called.
func openSandboxedLibs(L *lua.LState) {
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}

	// OpenBase installs a handful of functions that reach the filesystem or
	// loader subsystem even without io/os/package being open; replace them
	// with a function that raises Violation instead of leaving them nil, so
	// a script that actually tries to call one gets a distinguishable error
	// rather than Lua's ordinary "attempt to call a nil value".
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"} {
		L.SetGlobal(name, L.NewFunction(blockedGlobal(name)))
	}
}

// injectPeer exposes one peer as a sanitized global table of sanitized tool
// functions, each returning a ScriptHandle. Per spec §4.4: "Injection
// errors for one peer must not block injection of others" — this function
// never returns an error; a peer with no listable tools is simply injected
// empty.
func injectPeer(L *lua.LState, ctx context.Context, peerName string, caller PeerCaller) {
	peerIdent := ident.Sanitize(peerName)
	peerTable := L.NewTable()

	tools, err := caller.ListTools(ctx)
	if err != nil {
		L.SetGlobal(peerIdent, peerTable)
		return
	}

	originalNames := make(map[string]string, len(tools))
	for _, t := range tools {
		toolIdent := ident.Sanitize(t.Name)
		originalNames[toolIdent] = t.Name
	}

	for toolIdent, originalName := range originalNames {
		toolIdent, originalName := toolIdent, originalName
		L.SetField(peerTable, toolIdent, L.NewFunction(func(L *lua.LState) int {
			var args map[string]any
			if L.GetTop() >= 1 {
				if tbl, ok := L.Get(1).(*lua.LTable); ok {
					args, _ = luaToGo(tbl).(map[string]any)
				}
			}
			result, callErr := caller.CallTool(ctx, originalName, args)
			handle := newHandle(L, peerName, result, callErr)
			L.Push(handle)
			return 1
		}))
	}

	L.SetGlobal(peerIdent, peerTable)
}

// handleState is the Go-side payload of a ScriptHandle userdata. The tool
// call has already completed synchronously by the time the handle exists
// (CallTool blocks this script's goroutine only; the host scheduler is
// free to run other sessions' work concurrently, satisfying spec §5's
// suspension-point requirement without real VM-level coroutines).
type handleState struct {
	peer   string
	result *mcp.CallToolResult
	err    error
}

func registerHandleType(L *lua.LState) {
	mt := L.NewTypeMetatable(handleMetatableName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"await": handleAwait,
	}))
}

func newHandle(L *lua.LState, peer string, result *mcp.CallToolResult, err error) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = &handleState{peer: peer, result: result, err: err}
	ud.Metatable = L.GetTypeMetatable(handleMetatableName)
	return ud
}

func handleAwait(L *lua.LState) int {
	ud, ok := L.CheckUserData(1).Value.(*handleState)
	if !ok {
		L.RaiseError("await called on a non-handle value")
		return 0
	}
	if ud.err != nil {
		L.RaiseError("tool call failed: %s", ud.err.Error())
		return 0
	}
	L.Push(resultToLua(L, ud.peer, ud.result))
	return 1
}

// resultToLua materializes a CallToolResult for script consumption: if the
// tool returned structuredContent, that value alone is returned; otherwise
// the whole ToolResult record is materialized, with any resource URIs in
// content blocks namespaced to peer (spec §4.4's "only namespacing point
// with per-call peer context").
func resultToLua(L *lua.LState, peer string, result *mcp.CallToolResult) lua.LValue {
	if result == nil {
		return lua.LNil
	}
	if result.StructuredContent != nil {
		return goToLua(L, result.StructuredContent)
	}

	contentList := L.NewTable()
	for _, block := range result.Content {
		contentList.Append(contentBlockToLua(L, peer, block))
	}
	out := L.NewTable()
	L.SetField(out, "isError", lua.LBool(result.IsError))
	L.SetField(out, "content", contentList)
	return out
}

func contentBlockToLua(L *lua.LState, peer string, block mcp.Content) lua.LValue {
	t := L.NewTable()
	switch c := block.(type) {
	case *mcp.TextContent:
		L.SetField(t, "type", lua.LString("text"))
		L.SetField(t, "text", lua.LString(c.Text))
	case *mcp.ImageContent:
		L.SetField(t, "type", lua.LString("image"))
		L.SetField(t, "mimeType", lua.LString(c.MIMEType))
	case *mcp.ResourceLinkContent:
		L.SetField(t, "type", lua.LString("resource_link"))
		L.SetField(t, "uri", lua.LString(nsuri.EncodeResource(peer, c.URI)))
	case *mcp.EmbeddedResourceContent:
		L.SetField(t, "type", lua.LString("resource"))
		if c.Resource != nil {
			L.SetField(t, "uri", lua.LString(nsuri.EncodeResource(peer, c.Resource.URI)))
		}
	default:
		L.SetField(t, "type", lua.LString("unknown"))
	}
	return t
}

// toolResultFromLuaTable detects the {isError, content} sink shape that
// resultToLua produces for a tool response with no structuredContent, and
// reconstructs real mcp.Content blocks from it directly off the Lua table
// (never round-tripping through the lossy map[string]any shape luaToGo
// would otherwise produce), so a script that does
// "result(calc.add({a=15,b=25}):await())" surfaces the tool's own visible
// text rather than its whole {isError,content} shape wrapped as opaque
// StructuredContent. Returns ok=false for any table that isn't recognizably
// this shape, so a script's own ad hoc table still falls through to Scalar.
func toolResultFromLuaTable(t *lua.LTable) (*mcp.CallToolResult, bool) {
	contentTbl, ok := t.RawGetString("content").(*lua.LTable)
	if !ok {
		return nil, false
	}

	n := contentTbl.Len()
	blocks := make([]mcp.Content, 0, n)
	for i := 1; i <= n; i++ {
		blockTbl, ok := contentTbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			return nil, false
		}
		block, ok := contentBlockFromLua(blockTbl)
		if !ok {
			return nil, false
		}
		blocks = append(blocks, block)
	}

	isError, _ := t.RawGetString("isError").(lua.LBool)
	return &mcp.CallToolResult{IsError: bool(isError), Content: blocks}, true
}

// contentBlockFromLua is the inverse of contentBlockToLua.
func contentBlockFromLua(t *lua.LTable) (mcp.Content, bool) {
	typ, _ := t.RawGetString("type").(lua.LString)
	switch string(typ) {
	case "text":
		text, _ := t.RawGetString("text").(lua.LString)
		return &mcp.TextContent{Text: string(text)}, true
	case "image":
		mimeType, _ := t.RawGetString("mimeType").(lua.LString)
		return &mcp.ImageContent{MIMEType: string(mimeType)}, true
	case "resource_link":
		uri, _ := t.RawGetString("uri").(lua.LString)
		return &mcp.ResourceLinkContent{URI: string(uri)}, true
	case "resource":
		uri, _ := t.RawGetString("uri").(lua.LString)
		return &mcp.EmbeddedResourceContent{Resource: &mcp.ResourceContents{URI: string(uri)}}, true
	default:
		return nil, false
	}
}

// goToLua recursively converts JSON-shaped Go values (as produced by
// encoding/json unmarshalling into any, or by the mcp SDK's
// structuredContent) into Lua values.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case float64:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case map[string]any:
		t := L.NewTable()
		for k, val := range x {
			L.SetField(t, k, goToLua(L, val))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, val := range x {
			t.Append(goToLua(L, val))
		}
		return t
	default:
		return lua.LNil
	}
}

// luaToGo converts a Lua value back into a JSON-shaped Go value, the
// inverse of goToLua, used both for tool call arguments and for the
// result() sink.
func luaToGo(v lua.LValue) any {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LString:
		return string(x)
	case lua.LNumber:
		return float64(x)
	case *lua.LTable:
		if isArray(x) {
			out := make([]any, 0, x.Len())
			x.ForEach(func(_, val lua.LValue) {
				out = append(out, luaToGo(val))
			})
			return out
		}
		out := make(map[string]any)
		x.ForEach(func(key, val lua.LValue) {
			out[key.String()] = luaToGo(val)
		})
		return out
	default:
		return nil
	}
}

// isArray reports whether t's only keys are the contiguous integers 1..Len().
func isArray(t *lua.LTable) bool {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })
	return count == n
}
