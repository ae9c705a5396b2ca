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

package maintenance

import (
	"context"
	"sort"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/pingcap/clusterops/pkg/cluster"
	"github.com/pingcap/clusterops/pkg/coordination"
	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/service"
	"github.com/pingcap/clusterops/pkg/terror"
	"github.com/pingcap/clusterops/rebalance"
)

// Built-in worker names.
const (
	WorkerMetaLiveness       = "meta-liveness"
	WorkerReplicaLiveness    = "replica-liveness"
	WorkerCoordinationRoot   = "coordination-root"
	WorkerUnhealthyResources = "unhealthy-resources"
	WorkerRebalanceBacklog   = "rebalance-backlog"
)

// Deps are the collaborators of the built-in workers.
type Deps struct {
	Cluster          cluster.Control
	Coordination     coordination.Store
	Service          service.Controller
	Rebalance        *rebalance.Policy
	CoordinationRoot string
}

// Constructor creates a worker.
type Constructor func(deps *Deps) HealthWorker

type registration struct {
	tier Tier
	ctor Constructor
}

var registry = map[string]registration{
	WorkerMetaLiveness: {TierA, func(deps *Deps) HealthWorker {
		return &livenessWorker{name: WorkerMetaLiveness, role: cluster.RoleMeta, ctl: deps.Cluster, svc: deps.Service}
	}},
	WorkerReplicaLiveness: {TierA, func(deps *Deps) HealthWorker {
		return &livenessWorker{name: WorkerReplicaLiveness, role: cluster.RoleReplica, ctl: deps.Cluster, svc: deps.Service}
	}},
	WorkerCoordinationRoot: {TierA, func(deps *Deps) HealthWorker {
		return &coordinationRootWorker{store: deps.Coordination, root: deps.CoordinationRoot}
	}},
	WorkerUnhealthyResources: {TierB, func(deps *Deps) HealthWorker {
		return &unhealthyResourcesWorker{ctl: deps.Cluster, policy: deps.Rebalance}
	}},
	WorkerRebalanceBacklog: {TierC, func(deps *Deps) HealthWorker {
		return &rebalanceBacklogWorker{ctl: deps.Cluster, policy: deps.Rebalance}
	}},
}

// workerOrder is the order of the built-in workers inside a tier, a worker
// may rely on what the workers before it repaired.
var workerOrder = []string{
	WorkerMetaLiveness,
	WorkerReplicaLiveness,
	WorkerCoordinationRoot,
	WorkerUnhealthyResources,
	WorkerRebalanceBacklog,
}

// WorkerNames returns the names of the built-in workers, sorted.
func WorkerNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultTier returns the tier a built-in worker runs in without override.
func DefaultTier(name string) (Tier, error) {
	reg, ok := registry[name]
	if !ok {
		return "", terror.ErrMaintenanceWorkerNotFound.Generate(name)
	}
	return reg.tier, nil
}

// NewWorker creates the built-in worker name.
func NewWorker(name string, deps *Deps) (HealthWorker, error) {
	reg, ok := registry[name]
	if !ok {
		return nil, terror.ErrMaintenanceWorkerNotFound.Generate(name)
	}
	return reg.ctor(deps), nil
}

// NewDefaultScheduler creates a Scheduler with every built-in worker.
// tiers overrides the default tier of a worker by name.
func NewDefaultScheduler(deps *Deps, tiers map[string]string) (*Scheduler, error) {
	for name := range tiers {
		if _, ok := registry[name]; !ok {
			return nil, terror.ErrConfigUnknownWorker.Generate(name)
		}
	}
	s := NewScheduler()
	for _, name := range workerOrder {
		tier := registry[name].tier
		if override, ok := tiers[name]; ok {
			t, err := ParseTier(override, name)
			if err != nil {
				return nil, err
			}
			tier = t
		}
		w, err := NewWorker(name, deps)
		if err != nil {
			return nil, err
		}
		s.Add(tier, w)
	}
	return s, nil
}

func workerLogger(name string) log.Logger {
	return log.With(zap.String("worker", name))
}

// livenessWorker starts the dead servers of a role.
type livenessWorker struct {
	name string
	role cluster.Role
	ctl  cluster.Control
	svc  service.Controller
	dead []cluster.Node
}

func (w *livenessWorker) Name() string { return w.name }

func (w *livenessWorker) SelfRemedy() bool { return false }

func (w *livenessWorker) IsStateAbnormal(ctx context.Context) (bool, error) {
	dead, err := w.ctl.ListDeadNodes(ctx, w.role)
	if err != nil {
		return false, err
	}
	w.dead = dead
	return len(dead) > 0, nil
}

func (w *livenessWorker) Diagnose(context.Context) error {
	for _, n := range w.dead {
		workerLogger(w.name).Warn("server is dead", zap.Stringer("node", n))
	}
	return nil
}

func (w *livenessWorker) Repair(ctx context.Context) error {
	for _, n := range w.dead {
		if err := w.svc.Start(ctx, n.Role, n.Address()); err != nil {
			return err
		}
	}
	return nil
}

// coordinationRootWorker verifies the coordination tree of the cluster exists.
// Nothing but a restore can bring it back.
type coordinationRootWorker struct {
	store coordination.Store
	root  string
}

func (w *coordinationRootWorker) Name() string { return WorkerCoordinationRoot }

func (w *coordinationRootWorker) SelfRemedy() bool { return false }

func (w *coordinationRootWorker) IsStateAbnormal(ctx context.Context) (bool, error) {
	exists, err := w.store.Exists(ctx, w.root)
	return !exists, err
}

func (w *coordinationRootWorker) Diagnose(context.Context) error {
	workerLogger(WorkerCoordinationRoot).Error("coordination root is missing, run the restore workflow", zap.String("root", w.root))
	return nil
}

func (w *coordinationRootWorker) Repair(context.Context) error {
	return terror.ErrMaintenanceRepairUnsupported.Generate(WorkerCoordinationRoot)
}

// unhealthyResourcesWorker rebalances the cluster when resources have unhealthy partitions.
type unhealthyResourcesWorker struct {
	ctl       cluster.Control
	policy    *rebalance.Policy
	unhealthy []string
}

func (w *unhealthyResourcesWorker) Name() string { return WorkerUnhealthyResources }

func (w *unhealthyResourcesWorker) SelfRemedy() bool { return true }

func (w *unhealthyResourcesWorker) IsStateAbnormal(ctx context.Context) (bool, error) {
	names, err := w.ctl.ListUnhealthyResources(ctx)
	if err != nil {
		return false, err
	}
	w.unhealthy = names
	return len(names) > 0, nil
}

func (w *unhealthyResourcesWorker) Diagnose(context.Context) error {
	workerLogger(WorkerUnhealthyResources).Warn("unhealthy resources",
		zap.Strings("resources", w.unhealthy), zap.String("count", humanize.Comma(int64(len(w.unhealthy)))))
	return nil
}

func (w *unhealthyResourcesWorker) Repair(ctx context.Context) error {
	nodes, err := cluster.AliveNodes(ctx, w.ctl, cluster.RoleReplica)
	if err != nil {
		return err
	}
	_, err = w.policy.Execute(ctx, len(nodes))
	return err
}

// rebalanceBacklogWorker waits for outstanding rebalance operations to drain.
type rebalanceBacklogWorker struct {
	ctl         cluster.Control
	policy      *rebalance.Policy
	outstanding int
}

func (w *rebalanceBacklogWorker) Name() string { return WorkerRebalanceBacklog }

func (w *rebalanceBacklogWorker) SelfRemedy() bool { return true }

func (w *rebalanceBacklogWorker) IsStateAbnormal(ctx context.Context) (bool, error) {
	outstanding, err := w.ctl.OutstandingRebalanceOps(ctx)
	if err != nil {
		return false, err
	}
	w.outstanding = outstanding
	return outstanding > 0, nil
}

func (w *rebalanceBacklogWorker) Diagnose(context.Context) error {
	workerLogger(WorkerRebalanceBacklog).Info("rebalance operations outstanding", zap.Int("outstanding", w.outstanding))
	return nil
}

func (w *rebalanceBacklogWorker) Repair(ctx context.Context) error {
	return w.policy.WaitBalanced(ctx)
}
