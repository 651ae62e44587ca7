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

package fleet

import (
	"fmt"

	"github.com/nexigate/mcp-gateway/internal/upstream"
)

// AttachFixture inserts a pre-built upstream session directly into f,
// bypassing Connect. It exists for dependent packages (aggregate, gateway,
// metatools) whose tests need a fleet backed by upstream.NewFixture
// sessions rather than a live peer connection.
func AttachFixture(f *Fleet, peer, sessionID string, sess *upstream.Session) error {
	if sess == nil {
		return fmt.Errorf("fixture session must not be nil")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entryKey{peer: peer, sessionID: sessionID}] = entry{session: sess}
	return nil
}
