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

// Package shutdown implements the ordered drain coordinator (spec
// component K): a ring of named stages that run in registration order on
// shutdown, each given a bounded context to finish in.
package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/nexigate/mcp-gateway/internal/gwlog"
)

var log = gwlog.Component("shutdown")

// Stage is one unit of ordered teardown work.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// Coordinator runs registered stages in order on Drain, each bounded by a
// per-stage timeout, continuing past a failed or timed-out stage so one
// stuck component doesn't block the rest of the drain.
type Coordinator struct {
	mu     sync.Mutex
	stages []Stage
}

// New returns an empty coordinator.
func New() *Coordinator {
	return &Coordinator{}
}

// Register appends a stage to the drain order. Registration order is
// teardown order: register dependents before their dependencies (e.g. the
// session controller before the fleet) so traffic stops before its
// backing resources disappear.
func (c *Coordinator) Register(name string, run func(ctx context.Context) error) {
	c.mu.Lock()
	c.stages = append(c.stages, Stage{Name: name, Run: run})
	c.mu.Unlock()
}

// Drain runs every registered stage in order, each bounded by perStage. It
// collects and returns every stage error rather than stopping at the
// first, since a partial drain is still better than an abandoned one.
func (c *Coordinator) Drain(ctx context.Context, perStage time.Duration) []error {
	c.mu.Lock()
	stages := append([]Stage(nil), c.stages...)
	c.mu.Unlock()

	var errs []error
	for _, stage := range stages {
		stageCtx, cancel := context.WithTimeout(ctx, perStage)
		err := stage.Run(stageCtx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("stage", stage.Name).Msg("shutdown stage failed")
			errs = append(errs, err)
		} else {
			log.Info().Str("stage", stage.Name).Msg("shutdown stage complete")
		}
	}
	return errs
}
