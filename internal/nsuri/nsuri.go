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

// Package nsuri encodes and decodes the gateway's namespacing scheme: a
// (peer, originalID) pair packed into a single string that a downstream
// consumer can route back through the gateway (spec component B).
//
// Resources use the "agg://{peer}/{original}" form; prompts use the plain
// "{peer}/{original}" form where only the first slash separates peer from
// name and the original name may itself contain slashes.
package nsuri

import (
	"fmt"
	"strings"
)

// ResourceScheme is the URI scheme prefix for namespaced resources.
const ResourceScheme = "agg://"

// EncodeResource builds the namespaced form "agg://{peer}/{originalURI}".
func EncodeResource(peer, originalURI string) string {
	return ResourceScheme + peer + "/" + originalURI
}

// DecodeResource splits a namespaced resource URI back into (peer, originalURI).
// It fails if the value doesn't start with the agg:// scheme, has no
// separating slash after the peer, or either half is empty.
func DecodeResource(namespaced string) (peer, originalURI string, err error) {
	rest, ok := strings.CutPrefix(namespaced, ResourceScheme)
	if !ok {
		return "", "", fmt.Errorf("bad identifier %q: missing %q scheme", namespaced, ResourceScheme)
	}
	peer, originalURI, ok = strings.Cut(rest, "/")
	if !ok {
		return "", "", fmt.Errorf("bad identifier %q: missing peer/original separator", namespaced)
	}
	if peer == "" || originalURI == "" {
		return "", "", fmt.Errorf("bad identifier %q: peer and original URI must both be non-empty", namespaced)
	}
	return peer, originalURI, nil
}

// EncodePrompt builds the namespaced form "{peer}/{originalName}".
func EncodePrompt(peer, originalName string) string {
	return peer + "/" + originalName
}

// DecodePrompt splits a namespaced prompt name back into (peer, originalName)
// on the first slash; the original name may itself contain slashes.
func DecodePrompt(namespaced string) (peer, originalName string, err error) {
	peer, originalName, ok := strings.Cut(namespaced, "/")
	if !ok {
		return "", "", fmt.Errorf("bad identifier %q: missing peer/name separator", namespaced)
	}
	if peer == "" || originalName == "" {
		return "", "", fmt.Errorf("bad identifier %q: peer and name must both be non-empty", namespaced)
	}
	return peer, originalName, nil
}
