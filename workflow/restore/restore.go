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

// Package restore brings a cluster back from a damaged coordination tree:
// the cluster is stopped, the tree is captured and deleted, and the services
// are restarted in recovery mode so they rebuild it, then data is rebalanced.
package restore

import (
	"context"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/pingcap/clusterops/pkg/cluster"
	"github.com/pingcap/clusterops/pkg/coordination"
	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/service"
	"github.com/pingcap/clusterops/pkg/stepstate"
	"github.com/pingcap/clusterops/pkg/terror"
	"github.com/pingcap/clusterops/rebalance"
	"github.com/pingcap/clusterops/workflow"
)

// Name is the registered name of the workflow.
const Name = "restore"

// Step state keys.
const (
	KeyNodes         = "restore/nodes"
	KeySnapshot      = "restore/snapshot"
	KeySnapshotNodes = "restore/snapshot-nodes"
	KeyDecision      = "restore/rebalance-decision"
)

// DefaultRecoveryDwell is used when no dwell is configured.
const DefaultRecoveryDwell = 30 * time.Second

func init() {
	workflow.Register(workflow.Definition{
		Name:   Name,
		Phases: map[string]workflow.Builder{workflow.DefaultPhase: build},
	})
}

func build(_ context.Context, rc *workflow.RunContext, deps *workflow.Deps) ([]workflow.Step, error) {
	root := deps.Settings.CoordinationRoot
	// refuse before anything is stopped.
	if err := CheckDeletable(root, rc.Module(), deps.Settings.ProductMarker); err != nil {
		return nil, err
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	dwell := deps.Settings.RecoveryDwell
	if dwell <= 0 {
		dwell = DefaultRecoveryDwell
	}
	policy := deps.Rebalance
	if policy == nil {
		cfg := rebalance.Config{}
		if err := cfg.Adjust(); err != nil {
			return nil, err
		}
		policy = rebalance.NewPolicyWithClock(deps.Cluster, cfg, clk)
	}

	return []workflow.Step{
		&StopCluster{ctl: deps.Cluster, svc: deps.Service, state: deps.State},
		&SnapshotCoordinationTree{store: deps.Coordination, state: deps.State, root: root},
		&DeleteCoordinationRoot{store: deps.Coordination, state: deps.State, root: root, marker: deps.Settings.ProductMarker},
		&SetRecoveryModeAndRestart{svc: deps.Service, clock: clk, dwell: dwell},
		&Rebalance{ctl: deps.Cluster, policy: policy, state: deps.State},
	}, nil
}

func stepLogger(step string) log.Logger {
	return log.With(zap.String("workflow", Name), zap.String("step", step))
}

// CheckDeletable returns a precondition violation unless root has a segment equal to module
// and a segment equal to marker.
func CheckDeletable(root, module, marker string) error {
	cleaned, err := coordination.CleanPath(root)
	if err != nil || module == "" || marker == "" {
		return terror.ErrRestoreUnsafeCoordinationPath.Generate(root, module, marker)
	}
	var hasModule, hasMarker bool
	for _, seg := range strings.Split(cleaned, "/") {
		hasModule = hasModule || seg == module
		hasMarker = hasMarker || seg == marker
	}
	if !hasModule || !hasMarker {
		return terror.ErrRestoreUnsafeCoordinationPath.Generate(root, module, marker)
	}
	return nil
}

// StopCluster stops every service of the cluster.
type StopCluster struct {
	ctl    cluster.Control
	svc    service.Controller
	state  *stepstate.State
	nodes  []cluster.Node
	logger log.Logger
}

// Name implements workflow.Step.
func (s *StopCluster) Name() string { return "stop-cluster" }

// Init implements workflow.Step.
func (s *StopCluster) Init(context.Context, *workflow.RunContext) error {
	s.logger = stepLogger(s.Name())
	return nil
}

// Backup records the nodes of the cluster while it still answers, a retried run reuses them.
func (s *StopCluster) Backup(ctx context.Context) error {
	has, err := s.state.Has(KeyNodes)
	if err != nil {
		return err
	}
	if has {
		return s.state.ReadInto(KeyNodes, &s.nodes)
	}
	nodes := make([]cluster.Node, 0)
	for _, role := range cluster.Roles {
		roleNodes, err2 := s.ctl.ListNodes(ctx, role)
		if err2 != nil {
			return err2
		}
		nodes = append(nodes, roleNodes...)
	}
	s.nodes = nodes
	return s.state.Write(KeyNodes, nodes)
}

// Update implements workflow.Step.
func (s *StopCluster) Update(ctx context.Context) error {
	// replicas first, the meta servers keep tracking them until the end.
	for i := len(cluster.Roles) - 1; i >= 0; i-- {
		role := cluster.Roles[i]
		s.logger.Info("stop role", zap.String("role", string(role)))
		if err := s.svc.Stop(ctx, role, service.AllHosts); err != nil {
			return err
		}
	}
	return nil
}

// Check verifies no recorded node is still running.
func (s *StopCluster) Check(ctx context.Context) (bool, error) {
	for _, n := range s.nodes {
		running, err := s.svc.IsRunning(ctx, n.Role, n.Address())
		if err != nil {
			return false, err
		}
		if running {
			s.logger.Warn("node still running", zap.Stringer("node", n))
			return false, nil
		}
	}
	return true, nil
}

// Rollback starts the cluster again.
func (s *StopCluster) Rollback(ctx context.Context) error {
	for _, role := range cluster.Roles {
		if err := s.svc.Start(ctx, role, service.AllHosts); err != nil {
			return err
		}
	}
	return nil
}

// SnapshotCoordinationTree captures the coordination tree into the step state before it is deleted.
type SnapshotCoordinationTree struct {
	store  coordination.Store
	state  *stepstate.State
	root   string
	logger log.Logger
}

// Name implements workflow.Step.
func (s *SnapshotCoordinationTree) Name() string { return "snapshot-coordination-tree" }

// Init implements workflow.Step.
func (s *SnapshotCoordinationTree) Init(context.Context, *workflow.RunContext) error {
	s.logger = stepLogger(s.Name()).WithFields(zap.String("root", s.root))
	return nil
}

// Backup implements workflow.Step, the snapshot itself is the backup of the next step.
func (s *SnapshotCoordinationTree) Backup(context.Context) error {
	return nil
}

// Update captures the tree unless an earlier run already did, so the pre-delete copy is never overwritten.
func (s *SnapshotCoordinationTree) Update(ctx context.Context) error {
	has, err := s.state.Has(KeySnapshot)
	if err != nil {
		return err
	}
	if has {
		s.logger.Info("snapshot captured by an earlier run, keep it")
		return nil
	}
	tree, err := coordination.Snapshot(ctx, s.store, s.root)
	if err != nil {
		return err
	}
	if err = s.state.Write(KeySnapshot, tree); err != nil {
		return err
	}
	s.logger.Info("coordination tree captured", zap.Int("nodes", tree.Count()))
	return s.state.Write(KeySnapshotNodes, tree.Count())
}

// Check implements workflow.Step.
func (s *SnapshotCoordinationTree) Check(context.Context) (bool, error) {
	return s.state.Has(KeySnapshot)
}

// Rollback implements workflow.Step, the snapshot is kept for audit.
func (s *SnapshotCoordinationTree) Rollback(context.Context) error {
	return nil
}

// DeleteCoordinationRoot deletes the coordination tree of the cluster module.
type DeleteCoordinationRoot struct {
	store  coordination.Store
	state  *stepstate.State
	root   string
	marker string
	logger log.Logger
}

// Name implements workflow.Step.
func (s *DeleteCoordinationRoot) Name() string { return "delete-coordination-root" }

// Init refuses a root not belonging to the run's module and product.
func (s *DeleteCoordinationRoot) Init(_ context.Context, rc *workflow.RunContext) error {
	if err := CheckDeletable(s.root, rc.Module(), s.marker); err != nil {
		return err
	}
	s.logger = stepLogger(s.Name()).WithFields(zap.String("root", s.root))
	return nil
}

// Backup requires the snapshot captured by the previous step.
func (s *DeleteCoordinationRoot) Backup(context.Context) error {
	var tree coordination.TreeNode
	return s.state.ReadInto(KeySnapshot, &tree)
}

// Update implements workflow.Step.
func (s *DeleteCoordinationRoot) Update(ctx context.Context) error {
	exists, err := s.store.Exists(ctx, s.root)
	if err != nil {
		return err
	}
	if !exists {
		s.logger.Info("coordination root already deleted")
		return nil
	}
	s.logger.Warn("delete coordination root")
	return s.store.Delete(ctx, s.root, false)
}

// Check implements workflow.Step.
func (s *DeleteCoordinationRoot) Check(ctx context.Context) (bool, error) {
	exists, err := s.store.Exists(ctx, s.root)
	return !exists, err
}

// Rollback implements workflow.Step, a deleted tree is not restored automatically.
func (s *DeleteCoordinationRoot) Rollback(context.Context) error {
	s.logger.Warn("coordination tree is not restored automatically, find it in the step state",
		zap.String("key", KeySnapshot), zap.String("dir", s.state.Dir()))
	return nil
}

// SetRecoveryModeAndRestart restarts the cluster in recovery mode and gives it a fixed time to come up.
type SetRecoveryModeAndRestart struct {
	svc    service.Controller
	clock  clock.Clock
	dwell  time.Duration
	logger log.Logger
}

// Name implements workflow.Step.
func (s *SetRecoveryModeAndRestart) Name() string { return "set-recovery-mode-and-restart" }

// Init implements workflow.Step.
func (s *SetRecoveryModeAndRestart) Init(context.Context, *workflow.RunContext) error {
	s.logger = stepLogger(s.Name())
	return nil
}

// Backup implements workflow.Step, recovery mode is always off before a restore.
func (s *SetRecoveryModeAndRestart) Backup(context.Context) error {
	return nil
}

// Update implements workflow.Step.
func (s *SetRecoveryModeAndRestart) Update(ctx context.Context) error {
	if err := s.svc.SetRecoveryMode(ctx, true); err != nil {
		return err
	}
	for _, role := range cluster.Roles {
		s.logger.Info("start role in recovery mode", zap.String("role", string(role)))
		if err := s.svc.Start(ctx, role, service.AllHosts); err != nil {
			return err
		}
	}

	s.logger.Info("wait for services to come up", zap.Duration("dwell", s.dwell))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(s.dwell):
	}

	for _, role := range cluster.Roles {
		running, err := s.svc.IsRunning(ctx, role, service.AllHosts)
		if err != nil {
			return err
		}
		if !running {
			return terror.ErrRestoreNotReadyAfterDwell.Generate(role, s.dwell)
		}
	}
	return nil
}

// Check implements workflow.Step.
func (s *SetRecoveryModeAndRestart) Check(ctx context.Context) (bool, error) {
	for _, role := range cluster.Roles {
		running, err := s.svc.IsRunning(ctx, role, service.AllHosts)
		if err != nil || !running {
			return false, err
		}
	}
	return true, nil
}

// Rollback switches recovery mode off.
func (s *SetRecoveryModeAndRestart) Rollback(ctx context.Context) error {
	return s.svc.SetRecoveryMode(ctx, false)
}

// Rebalance spreads the data over the alive replica nodes after the restart.
type Rebalance struct {
	ctl      cluster.Control
	policy   *rebalance.Policy
	state    *stepstate.State
	decision rebalance.Decision
	logger   log.Logger
}

// Name implements workflow.Step.
func (s *Rebalance) Name() string { return "rebalance" }

// Init implements workflow.Step.
func (s *Rebalance) Init(context.Context, *workflow.RunContext) error {
	s.logger = stepLogger(s.Name())
	return nil
}

// Backup implements workflow.Step, placement is not restored on failure.
func (s *Rebalance) Backup(context.Context) error {
	return nil
}

// Update implements workflow.Step.
func (s *Rebalance) Update(ctx context.Context) error {
	nodes, err := cluster.AliveNodes(ctx, s.ctl, cluster.RoleReplica)
	if err != nil {
		return err
	}
	s.decision, err = s.policy.Execute(ctx, len(nodes))
	if err != nil {
		return err
	}
	return s.state.Write(KeyDecision, s.decision.String())
}

// Check verifies nothing is left to move after a standard rebalance.
func (s *Rebalance) Check(ctx context.Context) (bool, error) {
	if s.decision != rebalance.StandardPoll {
		return true, nil
	}
	outstanding, err := s.ctl.OutstandingRebalanceOps(ctx)
	return outstanding == 0, err
}

// Rollback implements workflow.Step, moved data stays where it is.
func (s *Rebalance) Rollback(context.Context) error {
	s.logger.Info("rebalance is not rolled back")
	return nil
}
