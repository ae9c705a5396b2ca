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

// Package split moves a resource onto a new target with a different partition count.
//
// The workflow has two phases around the external data migration:
// `prepare` freezes the source and creates the target, `finish` verifies the
// migrated element count and unfreezes the source.
package split

import (
	"context"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/pingcap/clusterops/pkg/cluster"
	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/stepstate"
	"github.com/pingcap/clusterops/pkg/terror"
	"github.com/pingcap/clusterops/workflow"
)

// Name is the registered name of the workflow.
const Name = "split"

// Phases of the workflow.
const (
	PhasePrepare = "prepare"
	PhaseFinish  = "finish"
)

// Step state keys.
const (
	KeyOriginalReadOnly = "split/original-read-only"
	KeyBaselineCount    = "split/baseline-count"
	KeySourceID         = "split/source-id"
	KeyTargetName       = "split/target-name"
	KeyTargetID         = "split/target-id"
	KeyFinalCount       = "split/final-count"
)

// maxReplication caps the replication factor of the target.
const maxReplication = 3

func init() {
	workflow.Register(workflow.Definition{
		Name: Name,
		Phases: map[string]workflow.Builder{
			PhasePrepare: buildPrepare,
			PhaseFinish:  buildFinish,
		},
		FinishPhase: PhaseFinish,
	})
}

func buildPrepare(_ context.Context, _ *workflow.RunContext, deps *workflow.Deps) ([]workflow.Step, error) {
	return []workflow.Step{
		&PreCheck{ctl: deps.Cluster, state: deps.State},
		&CreateTarget{ctl: deps.Cluster, state: deps.State},
	}, nil
}

func buildFinish(_ context.Context, _ *workflow.RunContext, deps *workflow.Deps) ([]workflow.Step, error) {
	return []workflow.Step{
		&PostCheck{ctl: deps.Cluster, state: deps.State},
	}, nil
}

// TargetName returns the name of the target of source in a run tagged tag.
func TargetName(source, tag string) string {
	return source + "_" + tag
}

func stepLogger(step, source string) log.Logger {
	return log.With(zap.String("workflow", Name), zap.String("step", step), zap.String("resource", source))
}

func sourceOf(rc *workflow.RunContext, step string) (string, error) {
	if rc.Resource() == "" {
		return "", terror.ErrWorkflowPreconditionViolation.Generate(step, "no resource given")
	}
	return rc.Resource(), nil
}

// PreCheck refuses to split a resource with live traffic, then freezes it and records its baseline.
type PreCheck struct {
	ctl    cluster.Control
	state  *stepstate.State
	source string
	logger log.Logger
}

// Name implements workflow.Step.
func (s *PreCheck) Name() string { return "pre-check" }

// Init implements workflow.Step.
func (s *PreCheck) Init(_ context.Context, rc *workflow.RunContext) error {
	source, err := sourceOf(rc, s.Name())
	if err != nil {
		return err
	}
	s.source = source
	s.logger = stepLogger(s.Name(), source)
	return nil
}

// Backup records the read-only flag the source had before the first run.
func (s *PreCheck) Backup(ctx context.Context) error {
	has, err := s.state.Has(KeyOriginalReadOnly)
	if err != nil || has {
		return err
	}
	readOnly, err := s.ctl.GetReadOnly(ctx, s.source)
	if err != nil {
		return err
	}
	return s.state.Write(KeyOriginalReadOnly, readOnly)
}

// Update implements workflow.Step.
func (s *PreCheck) Update(ctx context.Context) error {
	traffic, err := s.ctl.ResourceTraffic(ctx, s.source)
	if err != nil {
		return err
	}
	if traffic > 0 {
		return terror.ErrSplitActiveTraffic.Generate(s.source, traffic)
	}

	if err = s.ctl.SetReadOnly(ctx, s.source, true); err != nil {
		return err
	}
	// counted after the freeze, nothing changes it any more.
	count, err := s.ctl.CountElements(ctx, s.source)
	if err != nil {
		return err
	}
	id, err := s.ctl.GetResourceID(ctx, s.source)
	if err != nil {
		return err
	}
	if err = s.state.Write(KeyBaselineCount, count); err != nil {
		return err
	}
	if err = s.state.Write(KeySourceID, id); err != nil {
		return err
	}
	s.logger.Info("source frozen", zap.String("id", id), zap.String("baseline count", humanize.Comma(count)))
	return nil
}

// Check implements workflow.Step.
func (s *PreCheck) Check(ctx context.Context) (bool, error) {
	return s.ctl.GetReadOnly(ctx, s.source)
}

// Rollback restores the original read-only flag of the source.
func (s *PreCheck) Rollback(ctx context.Context) error {
	original, err := s.state.ReadBool(KeyOriginalReadOnly)
	if err != nil {
		return err
	}
	s.logger.Info("restore read-only flag", zap.Bool("read-only", original))
	return s.ctl.SetReadOnly(ctx, s.source, original)
}

// CreateTarget creates the target resource, named after the source and the run tag.
type CreateTarget struct {
	ctl        cluster.Control
	state      *stepstate.State
	source     string
	target     string
	partitions int
	logger     log.Logger
}

// Name implements workflow.Step.
func (s *CreateTarget) Name() string { return "create-target" }

// Init implements workflow.Step.
func (s *CreateTarget) Init(_ context.Context, rc *workflow.RunContext) error {
	source, err := sourceOf(rc, s.Name())
	if err != nil {
		return err
	}
	// only a frozen source may get a target.
	if _, err = s.state.ReadString(KeySourceID); err != nil {
		return err
	}
	if rc.PartitionCount() <= 0 {
		return terror.ErrSplitInvalidPartitionCount.Generate(rc.PartitionCount())
	}
	s.source = source
	s.target = TargetName(source, rc.Tag())
	s.partitions = rc.PartitionCount()
	s.logger = stepLogger(s.Name(), source).WithFields(zap.String("target", s.target))
	return nil
}

// Backup implements workflow.Step, creating a new resource needs nothing to be saved.
func (s *CreateTarget) Backup(context.Context) error {
	return nil
}

// Update implements workflow.Step.
func (s *CreateTarget) Update(ctx context.Context) error {
	exists, err := s.ctl.ResourceExists(ctx, s.target)
	if err != nil {
		return err
	}
	if exists {
		s.logger.Info("target already exists, skip creating it")
	} else {
		nodes, err2 := cluster.AliveNodes(ctx, s.ctl, cluster.RoleReplica)
		if err2 != nil {
			return err2
		}
		if len(nodes) == 0 {
			return terror.ErrSplitNoAliveNode.Generate(s.target)
		}
		replication := len(nodes)
		if replication > maxReplication {
			replication = maxReplication
		}
		if err = s.ctl.CreateResource(ctx, s.target, s.partitions, replication); err != nil {
			return err
		}
		s.logger.Info("target created", zap.Int("partitions", s.partitions), zap.Int("replication", replication))
	}

	id, err := s.ctl.GetResourceID(ctx, s.target)
	if err != nil {
		return err
	}
	if err = s.state.Write(KeyTargetName, s.target); err != nil {
		return err
	}
	return s.state.Write(KeyTargetID, id)
}

// Check implements workflow.Step.
func (s *CreateTarget) Check(ctx context.Context) (bool, error) {
	return s.ctl.ResourceExists(ctx, s.target)
}

// Rollback drops the target if it exists.
func (s *CreateTarget) Rollback(ctx context.Context) error {
	exists, err := s.ctl.ResourceExists(ctx, s.target)
	if err != nil || !exists {
		return err
	}
	s.logger.Info("drop target")
	return s.ctl.DropResource(ctx, s.target)
}

// PostCheck compares the migrated element count with the baseline and unfreezes the source on a match.
type PostCheck struct {
	ctl      cluster.Control
	state    *stepstate.State
	source   string
	target   string
	baseline int64
	logger   log.Logger
}

// Name implements workflow.Step.
func (s *PostCheck) Name() string { return "post-check" }

// Init implements workflow.Step.
func (s *PostCheck) Init(_ context.Context, rc *workflow.RunContext) error {
	source, err := sourceOf(rc, s.Name())
	if err != nil {
		return err
	}
	if s.target, err = s.state.ReadString(KeyTargetName); err != nil {
		return err
	}
	if s.baseline, err = s.state.ReadInt64(KeyBaselineCount); err != nil {
		return err
	}
	s.source = source
	s.logger = stepLogger(s.Name(), source).WithFields(zap.String("target", s.target))
	return nil
}

// Backup implements workflow.Step, the baseline recorded by pre-check is the backup.
func (s *PostCheck) Backup(context.Context) error {
	return nil
}

// Update implements workflow.Step.
func (s *PostCheck) Update(ctx context.Context) error {
	count, err := s.ctl.CountElements(ctx, s.target)
	if err != nil {
		return err
	}
	if err = s.state.Write(KeyFinalCount, count); err != nil {
		return err
	}
	if count != s.baseline {
		s.logger.Error("element count mismatch, source stays read-only",
			zap.String("count", humanize.Comma(count)), zap.String("baseline", humanize.Comma(s.baseline)))
		return terror.ErrSplitCountMismatch.Generate(s.target, count, s.source, s.baseline)
	}
	s.logger.Info("element count matches", zap.String("count", humanize.Comma(count)))
	return s.ctl.SetReadOnly(ctx, s.source, false)
}

// Check implements workflow.Step.
func (s *PostCheck) Check(ctx context.Context) (bool, error) {
	readOnly, err := s.ctl.GetReadOnly(ctx, s.source)
	return !readOnly, err
}

// Rollback freezes the source again.
func (s *PostCheck) Rollback(ctx context.Context) error {
	return s.ctl.SetReadOnly(ctx, s.source, true)
}
