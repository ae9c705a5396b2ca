// Copyright 2022 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pingcap/clusterops/pkg/cluster"
	"github.com/pingcap/clusterops/pkg/coordination"
	"github.com/pingcap/clusterops/pkg/service"
	"github.com/pingcap/clusterops/pkg/stepstate"
	"github.com/pingcap/clusterops/pkg/terror"
	"github.com/pingcap/clusterops/rebalance"
)

// DefaultPhase is the phase of a workflow that runs in one invocation.
const DefaultPhase = "run"

// Settings are the static settings some steps need.
type Settings struct {
	// CoordinationRoot is the coordination path of the cluster module.
	CoordinationRoot string
	// ProductMarker must appear in any coordination path deleted by a workflow.
	ProductMarker string
	// RecoveryDwell is how long services get to come up in recovery mode.
	RecoveryDwell time.Duration
}

// Deps are the collaborators handed to a Builder.
type Deps struct {
	Cluster      cluster.Control
	Coordination coordination.Store
	Service      service.Controller
	Rebalance    *rebalance.Policy
	State        *stepstate.State
	Clock        clock.Clock
	Settings     Settings
}

// Builder constructs the ordered steps of a workflow phase.
type Builder func(ctx context.Context, rc *RunContext, deps *Deps) ([]Step, error)

// Definition describes a registered workflow.
type Definition struct {
	Name   string
	Phases map[string]Builder
	// FinishPhase is the last phase of the workflow, empty means DefaultPhase.
	// The step state is archived once it succeeds.
	FinishPhase string
}

func (d Definition) finishPhase() string {
	if d.FinishPhase == "" {
		return DefaultPhase
	}
	return d.FinishPhase
}

// PhaseNames returns the sorted phase names of the workflow.
func (d Definition) PhaseNames() []string {
	names := make([]string, 0, len(d.Phases))
	for name := range d.Phases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the steps of phase, an empty phase means DefaultPhase.
func (d Definition) Build(ctx context.Context, phase string, rc *RunContext, deps *Deps) ([]Step, error) {
	if phase == "" {
		phase = DefaultPhase
	}
	builder, ok := d.Phases[phase]
	if !ok {
		return nil, terror.ErrWorkflowPhaseNotFound.Generate(phase, d.Name)
	}
	return builder(ctx, rc, deps)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Definition)
)

// Register adds a workflow, it is called from init() of the workflow packages.
func Register(def Definition) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[def.Name]; ok {
		panic(terror.ErrWorkflowDuplicated.Generate(def.Name))
	}
	registry[def.Name] = def
}

// Lookup returns the registered workflow name.
func Lookup(name string) (Definition, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	def, ok := registry[name]
	if !ok {
		return Definition{}, terror.ErrWorkflowNotFound.Generate(name)
	}
	return def, nil
}

// Names returns the sorted names of the registered workflows.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run looks up a workflow, opens its work dir and runs the steps of phase.
// The Report is nil only when the run could not start.
func Run(ctx context.Context, name, phase string, opts RunOptions, deps Deps) (*Report, error) {
	def, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if phase == "" {
		phase = DefaultPhase
	}
	if _, ok := def.Phases[phase]; !ok {
		return nil, terror.ErrWorkflowPhaseNotFound.Generate(phase, name)
	}

	opts.Workflow = name
	rc, state, err := NewRunContext(opts)
	if err != nil {
		return nil, err
	}
	defer state.Close()

	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	deps.State = state
	steps, err := def.Build(ctx, phase, rc, &deps)
	if err != nil {
		return nil, err
	}

	runnerName := name
	if phase != DefaultPhase {
		runnerName = name + "/" + phase
	}
	report := NewRunner(runnerName, state).Run(ctx, rc, steps)
	if report.Result == ResultSuccess && phase == def.finishPhase() {
		archived, err := state.Archive(rc.Tag() + "-" + rc.RunID())
		if err != nil {
			return report, err
		}
		report.Archived = archived
	}
	return report, report.Err()
}
