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

// Package upgrade switches every server of the cluster to a target version, one at a time,
// meta servers first.
package upgrade

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pingcap/clusterops/pkg/cluster"
	"github.com/pingcap/clusterops/pkg/coordination"
	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/service"
	"github.com/pingcap/clusterops/pkg/stepstate"
	"github.com/pingcap/clusterops/pkg/terror"
	pkgupgrade "github.com/pingcap/clusterops/pkg/upgrade"
	"github.com/pingcap/clusterops/workflow"
)

// Name is the registered name of the workflow.
const Name = "upgrade"

// KeyPreviousRecord holds the cluster version record found before the run.
const KeyPreviousRecord = "upgrade/previous-record"

func init() {
	workflow.Register(workflow.Definition{
		Name:   Name,
		Phases: map[string]workflow.Builder{workflow.DefaultPhase: build},
	})
}

func build(ctx context.Context, rc *workflow.RunContext, deps *workflow.Deps) ([]workflow.Step, error) {
	target := rc.TargetVersion()
	if target == "" {
		return nil, terror.ErrUpgradeTargetVersionEmpty.Generate()
	}

	steps := []workflow.Step{&ClusterHealthy{ctl: deps.Cluster}}
	for _, role := range cluster.Roles {
		nodes, err := deps.Cluster.ListNodes(ctx, role)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if rc.Host() != "" && rc.Host() != n.Host && rc.Host() != n.Address() {
				continue
			}
			steps = append(steps, NewNodeStep(StepConfig{
				Role:          n.Role,
				Host:          n.Host,
				Port:          n.Port,
				ExcludedPeers: []string{n.Address()},
			}, target, deps))
		}
	}
	if rc.Host() != "" && len(steps) == 1 {
		return nil, terror.ErrUpgradeNodeNotFound.Generate("any", rc.Host())
	}
	return append(steps, &RecordVersion{
		store:  deps.Coordination,
		state:  deps.State,
		root:   deps.Settings.CoordinationRoot,
		target: target,
	}), nil
}

// ClusterHealthy refuses to start an upgrade while any server is dead.
type ClusterHealthy struct {
	ctl cluster.Control
}

// Name implements workflow.Step.
func (s *ClusterHealthy) Name() string { return "cluster-healthy" }

// Init implements workflow.Step.
func (s *ClusterHealthy) Init(context.Context, *workflow.RunContext) error { return nil }

// Backup implements workflow.Step.
func (s *ClusterHealthy) Backup(context.Context) error { return nil }

// Update implements workflow.Step.
func (s *ClusterHealthy) Update(ctx context.Context) error {
	for _, role := range cluster.Roles {
		dead, err := s.ctl.ListDeadNodes(ctx, role)
		if err != nil {
			return err
		}
		if len(dead) > 0 {
			return terror.ErrUpgradeClusterUnhealthy.Generate(role, dead)
		}
	}
	return nil
}

// Check implements workflow.Step.
func (s *ClusterHealthy) Check(context.Context) (bool, error) { return true, nil }

// Rollback implements workflow.Step.
func (s *ClusterHealthy) Rollback(context.Context) error { return nil }

// StepConfig selects the server a NodeStep upgrades.
type StepConfig struct {
	Role cluster.Role
	Host string
	Port int
	// ExcludedPeers are addresses of the role not required to be alive while this server is down.
	ExcludedPeers []string
}

// Address returns host:port of the server.
func (c StepConfig) Address() string {
	return cluster.Node{Host: c.Host, Port: c.Port}.Address()
}

func (c StepConfig) excluded(addr string) bool {
	for _, p := range c.ExcludedPeers {
		if p == addr {
			return true
		}
	}
	return false
}

// NodeStep upgrades a single server.
type NodeStep struct {
	cfg    StepConfig
	target string
	ctl    cluster.Control
	svc    service.Controller
	state  *stepstate.State
	logger log.Logger
}

// NewNodeStep creates a NodeStep switching the server of cfg to target.
func NewNodeStep(cfg StepConfig, target string, deps *workflow.Deps) *NodeStep {
	return &NodeStep{
		cfg:    cfg,
		target: target,
		ctl:    deps.Cluster,
		svc:    deps.Service,
		state:  deps.State,
	}
}

// Name implements workflow.Step.
func (s *NodeStep) Name() string {
	return fmt.Sprintf("upgrade-%s-%s", s.cfg.Role, s.cfg.Address())
}

func (s *NodeStep) previousKey() string {
	return fmt.Sprintf("upgrade/%s/%s/previous-version", s.cfg.Role, s.cfg.Address())
}

// Init implements workflow.Step.
func (s *NodeStep) Init(context.Context, *workflow.RunContext) error {
	s.logger = log.With(zap.String("workflow", Name), zap.String("step", s.Name()), zap.String("target", s.target))
	return nil
}

// Backup records the version the server ran before the first run.
func (s *NodeStep) Backup(ctx context.Context) error {
	has, err := s.state.Has(s.previousKey())
	if err != nil || has {
		return err
	}
	version, err := s.svc.Version(ctx, s.cfg.Role, s.cfg.Address())
	if err != nil {
		return err
	}
	return s.state.Write(s.previousKey(), version)
}

// Update implements workflow.Step.
func (s *NodeStep) Update(ctx context.Context) error {
	current, err := s.svc.Version(ctx, s.cfg.Role, s.cfg.Address())
	if err != nil {
		return err
	}
	if current == s.target {
		s.logger.Info("server already runs target version, skip it")
		return nil
	}
	if err = s.checkPeers(ctx); err != nil {
		return err
	}
	return s.switchTo(ctx, current, s.target)
}

func (s *NodeStep) checkPeers(ctx context.Context) error {
	peers, err := s.ctl.ListNodes(ctx, s.cfg.Role)
	if err != nil {
		return err
	}
	found := false
	dead := make([]string, 0)
	for _, p := range peers {
		if p.Address() == s.cfg.Address() {
			found = true
		}
		if !p.Alive && !s.cfg.excluded(p.Address()) {
			dead = append(dead, p.Address())
		}
	}
	if !found {
		return terror.ErrUpgradeNodeNotFound.Generate(s.cfg.Role, s.cfg.Address())
	}
	if len(dead) > 0 {
		return terror.ErrUpgradePeerUnavailable.Generate(s.cfg.Role, s.cfg.Address(), dead)
	}
	return nil
}

func (s *NodeStep) switchTo(ctx context.Context, from, to string) error {
	addr := s.cfg.Address()
	s.logger.Info("switch server version", zap.String("from", from), zap.String("to", to))
	if err := s.svc.Stop(ctx, s.cfg.Role, addr); err != nil {
		return err
	}
	if err := s.svc.SwitchVersion(ctx, s.cfg.Role, addr, to); err != nil {
		return err
	}
	return s.svc.Start(ctx, s.cfg.Role, addr)
}

// Check verifies the server runs the target version.
func (s *NodeStep) Check(ctx context.Context) (bool, error) {
	running, err := s.svc.IsRunning(ctx, s.cfg.Role, s.cfg.Address())
	if err != nil || !running {
		return false, err
	}
	version, err := s.svc.Version(ctx, s.cfg.Role, s.cfg.Address())
	return version == s.target, err
}

// Rollback switches the server back to the version recorded in Backup.
func (s *NodeStep) Rollback(ctx context.Context) error {
	previous, err := s.state.ReadString(s.previousKey())
	if err != nil {
		return err
	}
	current, err := s.svc.Version(ctx, s.cfg.Role, s.cfg.Address())
	if err != nil {
		return err
	}
	if current == previous {
		return nil
	}
	return s.switchTo(ctx, current, previous)
}

// RecordVersion writes the cluster version record into the coordination store.
type RecordVersion struct {
	store    coordination.Store
	state    *stepstate.State
	root     string
	target   string
	runID    string
	previous pkgupgrade.Version
	logger   log.Logger
}

// Name implements workflow.Step.
func (s *RecordVersion) Name() string { return "record-version" }

// Init implements workflow.Step.
func (s *RecordVersion) Init(_ context.Context, rc *workflow.RunContext) error {
	s.runID = rc.RunID()
	s.logger = log.With(zap.String("workflow", Name), zap.String("step", s.Name()), zap.String("root", s.root))
	return nil
}

// Backup records the version document found before the first run.
func (s *RecordVersion) Backup(ctx context.Context) error {
	has, err := s.state.Has(KeyPreviousRecord)
	if err != nil {
		return err
	}
	if has {
		return s.state.ReadInto(KeyPreviousRecord, &s.previous)
	}
	if s.previous, err = pkgupgrade.GetVersion(ctx, s.store, s.root); err != nil {
		return err
	}
	return s.state.Write(KeyPreviousRecord, s.previous)
}

// Update implements workflow.Step.
func (s *RecordVersion) Update(ctx context.Context) error {
	if !s.previous.NotSet() && pkgupgrade.CompareRelease(s.target, s.previous.ReleaseVer) < 0 {
		s.logger.Warn("cluster downgraded", zap.Stringer("previous", s.previous))
	}
	return pkgupgrade.PutVersion(ctx, s.store, s.root, pkgupgrade.NewVersion(s.target, s.runID))
}

// Check implements workflow.Step.
func (s *RecordVersion) Check(ctx context.Context) (bool, error) {
	ver, err := pkgupgrade.GetVersion(ctx, s.store, s.root)
	return ver.ReleaseVer == s.target, err
}

// Rollback restores the previous document, or removes the record if there was none.
func (s *RecordVersion) Rollback(ctx context.Context) error {
	if s.previous.NotSet() {
		return pkgupgrade.DeleteVersion(ctx, s.store, s.root)
	}
	return pkgupgrade.PutVersion(ctx, s.store, s.root, s.previous)
}
