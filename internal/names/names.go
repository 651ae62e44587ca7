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

// Package names validates the small set of plain string identifiers that
// flow through the gateway outside of the scripting runtime: peer names
// from configuration. These must never contain "/" (the namespace
// separator, see internal/nsuri) so a peer name can never be mistaken for
// part of a namespaced resource or prompt identifier.
package names

import "regexp"

var peerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// IsValidPeerName reports whether name is safe to use as the peer segment
// of a namespaced resource/prompt identifier and as a Lua table key before
// sanitization.
func IsValidPeerName(name string) bool {
	return name != "" && peerNamePattern.MatchString(name)
}
