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
	"path/filepath"
	"sort"
	"strings"
	"time"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"

	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/stepstate"
	"github.com/pingcap/clusterops/pkg/terror"
)

const (
	// TagLayout is the time layout of a run tag.
	TagLayout = "20060102150405"

	// RunTagKey is the step state key holding the run tag.
	RunTagKey = "run-tag"
	// RunIDKey is the step state key holding the id of the last run.
	RunIDKey = "run-id"
)

// RunOptions are the per-invocation inputs of a RunContext.
type RunOptions struct {
	Workflow       string
	Module         string
	Resource       string
	Host           string
	PartitionCount int
	TargetVersion  string
	Features       map[string]bool
	// BaseDir is the parent of every work dir.
	BaseDir string
	// Now is the time the run tag is derived from, zero means time.Now().
	Now time.Time
}

// WorkDir returns the work dir of the run, `<base>/<workflow>/<module>[/<resource>]`.
func (o RunOptions) WorkDir() string {
	parts := []string{o.BaseDir, o.Workflow, o.Module}
	if o.Resource != "" {
		parts = append(parts, o.Resource)
	}
	return filepath.Join(parts...)
}

// RunContext carries the immutable per-invocation parameters shared by all steps of a run.
type RunContext struct {
	module         string
	resource       string
	host           string
	tag            string
	runID          string
	partitionCount int
	targetVersion  string
	features       map[string]bool
	workDir        string
}

// NewRunContext opens the step state of the run's work dir and builds the RunContext.
// The run tag recorded by an earlier invocation over the same work dir is reused,
// so a retried run computes the same time-suffixed names.
// The caller owns the returned state and must close it.
func NewRunContext(opts RunOptions) (*RunContext, *stepstate.State, error) {
	if opts.Module == "" {
		return nil, nil, terror.ErrConfigClusterNameEmpty.Generate()
	}
	if opts.BaseDir == "" {
		return nil, nil, terror.ErrConfigWorkDirEmpty.Generate()
	}
	state, err := stepstate.Open(opts.WorkDir())
	if err != nil {
		return nil, nil, err
	}

	tag, err := resolveTag(state, opts.Now)
	if err != nil {
		_ = state.Close()
		return nil, nil, err
	}
	runID := uuid.NewV4().String()
	if err = state.Write(RunIDKey, runID); err != nil {
		_ = state.Close()
		return nil, nil, err
	}

	features := make(map[string]bool, len(opts.Features))
	for k, v := range opts.Features {
		features[k] = v
	}
	rc := &RunContext{
		module:         opts.Module,
		resource:       opts.Resource,
		host:           opts.Host,
		tag:            tag,
		runID:          runID,
		partitionCount: opts.PartitionCount,
		targetVersion:  opts.TargetVersion,
		features:       features,
		workDir:        state.Dir(),
	}
	log.L().Info("run context created", zap.String("workflow", opts.Workflow), zap.Stringer("run context", rc))
	return rc, state, nil
}

func resolveTag(state *stepstate.State, now time.Time) (string, error) {
	has, err := state.Has(RunTagKey)
	if err != nil {
		return "", err
	}
	if has {
		return state.ReadString(RunTagKey)
	}
	if now.IsZero() {
		now = time.Now()
	}
	tag := now.Format(TagLayout)
	return tag, state.Write(RunTagKey, tag)
}

// Module returns the identifier of the cluster module the run works on.
func (rc *RunContext) Module() string { return rc.module }

// Resource returns the table the run works on, empty for cluster wide runs.
func (rc *RunContext) Resource() string { return rc.resource }

// Host returns the host the run is limited to, empty for all hosts.
func (rc *RunContext) Host() string { return rc.host }

// Tag returns the timestamp tag of the run.
func (rc *RunContext) Tag() string { return rc.tag }

// RunID returns the unique id of this invocation.
func (rc *RunContext) RunID() string { return rc.runID }

// PartitionCount returns the requested partition count.
func (rc *RunContext) PartitionCount() int { return rc.partitionCount }

// TargetVersion returns the requested service version.
func (rc *RunContext) TargetVersion() string { return rc.targetVersion }

// WorkDir returns the work dir holding the step state.
func (rc *RunContext) WorkDir() string { return rc.workDir }

// Feature returns whether a feature flag is enabled.
func (rc *RunContext) Feature(name string) bool { return rc.features[name] }

// String implements fmt.Stringer.
func (rc *RunContext) String() string {
	names := make([]string, 0, len(rc.features))
	for name, enabled := range rc.features {
		if enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	s := "module=" + rc.module + " tag=" + rc.tag + " run-id=" + rc.runID
	if rc.resource != "" {
		s += " resource=" + rc.resource
	}
	if rc.host != "" {
		s += " host=" + rc.host
	}
	if len(names) > 0 {
		s += " features=" + strings.Join(names, ",")
	}
	return s
}
