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

// Package ident sanitizes arbitrary peer and tool names into legal Lua
// identifiers so they can be exposed as globals/fields inside the scripting
// runtime (component G of the gateway).
package ident

import "strings"

// reserved holds the Lua 5.1 reserved words plus goto (reserved from Lua
// 5.2 on). A sanitized identifier that
// collides with one of these gets an underscore prepended so it never
// shadows a language keyword once injected as a global.
var reserved = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true,
	"end": true, "false": true, "for": true, "function": true, "goto": true,
	"if": true, "in": true, "local": true, "nil": true, "not": true,
	"or": true, "repeat": true, "return": true, "then": true, "true": true,
	"until": true, "while": true,
}

// Sanitize maps an arbitrary name to a legal, deterministic Lua identifier.
//
// The transform is total (every input produces an output), idempotent after
// one pass (Sanitize(Sanitize(x)) == Sanitize(x)), and never empty:
//
//  1. characters outside [A-Za-z0-9_] become '_'
//  2. a leading digit gets '_' prepended
//  3. a name matching a reserved word gets '_' prepended
//  4. an empty result, or exactly "_", becomes "_unnamed"
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()

	if len(out) > 0 && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	if reserved[out] {
		out = "_" + out
	}
	if out == "" || out == "_" {
		return "_unnamed"
	}
	return out
}

// IsSanitized reports whether name is already a fixed point of Sanitize,
// i.e. passing it through Sanitize again would not change it.
func IsSanitized(name string) bool {
	return Sanitize(name) == name
}
