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

// Package audit records one structured line per proxied operation
// (tool call, fleet attach, reverse forward): session, peer,
// operation, duration, and error, written through zerolog. This
// generalizes the teacher's mcp_event.go/JSONL request logger into a
// single structured sink instead of a bespoke event-type enum plus a
// hand-rolled file logger.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/nexigate/mcp-gateway/internal/gwlog"
)

var log = gwlog.Component("audit")

// Direction distinguishes which side of a proxied operation this record
// describes.
type Direction string

const (
	Downstream Direction = "downstream" // request from the downstream consumer
	Upstream   Direction = "upstream"   // request forwarded to an upstream peer
	Reverse    Direction = "reverse"    // sampling/elicitation forwarded back downstream
)

// Record describes one completed proxied operation.
type Record struct {
	ID        string
	SessionID string
	Peer      string // empty for session-wide operations (e.g. attach failures)
	Operation string
	Direction Direction
	Duration  time.Duration
	Err       error
}

// NewID returns a fresh per-record identifier, used so a record can be
// correlated across the structured log and any downstream trace ID a
// caller wants to thread through.
func NewID() string {
	return uuid.New().String()
}

// Log writes r as one structured line. Errors are logged at warn level;
// everything else at info, keeping audit output greppable without needing
// a separate error stream.
func Log(r Record) {
	event := log.Info()
	if r.Err != nil {
		event = log.Warn()
	}
	event.
		Str("audit_id", r.ID).
		Str("session", r.SessionID).
		Str("peer", r.Peer).
		Str("operation", r.Operation).
		Str("direction", string(r.Direction)).
		Dur("duration", r.Duration).
		AnErr("error", r.Err).
		Msg("proxied operation")
}

// Track returns a func that, called at the end of an operation, emits the
// Record with the elapsed time and err filled in. Typical use:
//
//	done := audit.Track(sessionID, peer, "callTool", audit.Upstream)
//	result, err := sess.CallTool(ctx, name, args)
//	done(err)
func Track(sessionID, peer, operation string, direction Direction) func(err error) {
	start := time.Now()
	id := NewID()
	return func(err error) {
		Log(Record{
			ID:        id,
			SessionID: sessionID,
			Peer:      peer,
			Operation: operation,
			Direction: direction,
			Duration:  time.Since(start),
			Err:       err,
		})
	}
}
