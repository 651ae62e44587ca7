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

// Package gwlog is the gateway's structured logging setup: one
// process-wide zerolog.Logger, writing either human-readable console
// output or JSON lines depending on configuration.
package gwlog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// base is the process-wide logger, guarded by mu since Init may run
// concurrently with the first log lines emitted by components that raced
// it at startup.
var (
	mu   sync.RWMutex
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
)

// Options configures the process-wide logger.
type Options struct {
	Level  string // "debug", "info", "warn", "error"; default "info"
	JSON   bool   // JSON lines instead of a human-readable console format
	Output io.Writer
}

// Init installs the process-wide logger per opts. Call once at startup,
// before serving traffic. Component loggers obtained before or after Init
// both observe the change: Component resolves against the current base on
// every call rather than freezing it at package-init time, so a package
// var like `var log = gwlog.Component("fleet")` (evaluated during program
// start, necessarily before main's Init call) still honors Init's output
// and level.
func Init(opts Options) error {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		if opts.Level == "" {
			level = zerolog.InfoLevel
		} else {
			return err
		}
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	var writer io.Writer = out
	if !opts.JSON {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	newBase := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	mu.Lock()
	base = newBase
	mu.Unlock()
	return nil
}

// L returns a copy of the current process-wide logger.
func L() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Logger is a named component logger. Unlike a plain zerolog.Logger value,
// it re-resolves against the current process-wide base on every call, so
// holding one in a package-level var (the common idiom: `var log =
// gwlog.Component("x")`) stays live across a later Init.
type Logger struct {
	component string
}

// Component returns a named component logger, the teacher's per-package
// log-prefix idiom (e.g. "MCPProxy[%s]: ...") generalized into a
// structured field instead of a formatted string prefix.
func Component(name string) Logger {
	return Logger{component: name}
}

func (l Logger) current() zerolog.Logger {
	mu.RLock()
	b := base
	mu.RUnlock()
	return b.With().Str("component", l.component).Logger()
}

func (l Logger) Debug() *zerolog.Event { c := l.current(); return c.Debug() }
func (l Logger) Info() *zerolog.Event  { c := l.current(); return c.Info() }
func (l Logger) Warn() *zerolog.Event  { c := l.current(); return c.Warn() }
func (l Logger) Error() *zerolog.Event { c := l.current(); return c.Error() }
