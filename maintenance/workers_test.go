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
	"time"

	"github.com/pingcap/check"

	"github.com/pingcap/clusterops/pkg/cluster"
	"github.com/pingcap/clusterops/pkg/coordination"
	"github.com/pingcap/clusterops/pkg/service"
	"github.com/pingcap/clusterops/pkg/terror"
	"github.com/pingcap/clusterops/pkg/utils"
	"github.com/pingcap/clusterops/rebalance"
)

type testWorkersSuite struct{}

var _ = check.Suite(&testWorkersSuite{})

const root = "/kvcluster/kv1"

type fixture struct {
	ctl   *cluster.MockControl
	svc   *service.MockController
	store *coordination.MemStore
	deps  *Deps
}

func newFixture(c *check.C) *fixture {
	ctl := cluster.NewMockControl()
	nodes := []cluster.Node{
		{Role: cluster.RoleMeta, Host: "10.0.1.1", Port: 2379, Alive: true},
		{Role: cluster.RoleReplica, Host: "10.0.0.1", Port: 34801, Alive: true},
		{Role: cluster.RoleReplica, Host: "10.0.0.2", Port: 34801, Alive: true},
		{Role: cluster.RoleReplica, Host: "10.0.0.3", Port: 34801, Alive: true},
	}
	ctl.SetNodes(nodes...)
	svc := service.NewMockController()
	svc.Bind(ctl)
	for _, n := range nodes {
		svc.AddInstance(n.Role, n.Address(), "v2.3.0", true)
	}
	store := coordination.NewMemStore()
	c.Assert(store.Put(context.Background(), root+"/leader", "10.0.1.1:2379"), check.IsNil)

	cfg := rebalance.Config{PollInterval: utils.NewDuration(time.Millisecond), MaxAttempts: 5}
	c.Assert(cfg.Adjust(), check.IsNil)
	return &fixture{
		ctl:   ctl,
		svc:   svc,
		store: store,
		deps: &Deps{
			Cluster:          ctl,
			Coordination:     store,
			Service:          svc,
			Rebalance:        rebalance.NewPolicy(ctl, cfg),
			CoordinationRoot: root,
		},
	}
}

func (t *testWorkersSuite) TestRegistry(c *check.C) {
	c.Assert(WorkerNames(), check.DeepEquals, []string{
		WorkerCoordinationRoot, WorkerMetaLiveness, WorkerRebalanceBacklog, WorkerReplicaLiveness, WorkerUnhealthyResources,
	})
	tier, err := DefaultTier(WorkerRebalanceBacklog)
	c.Assert(err, check.IsNil)
	c.Assert(tier, check.Equals, TierC)
	_, err = DefaultTier("disk-usage")
	c.Assert(terror.ErrMaintenanceWorkerNotFound.Equal(err), check.IsTrue)

	f := newFixture(c)
	w, err := NewWorker(WorkerUnhealthyResources, f.deps)
	c.Assert(err, check.IsNil)
	c.Assert(w.SelfRemedy(), check.IsTrue)
	_, err = NewWorker("disk-usage", f.deps)
	c.Assert(terror.ErrMaintenanceWorkerNotFound.Equal(err), check.IsTrue)

	s, err := NewDefaultScheduler(f.deps, map[string]string{WorkerRebalanceBacklog: "b"})
	c.Assert(err, check.IsNil)
	c.Assert(s.Tiers(), check.DeepEquals, []Tier{TierA, TierB})
	_, err = NewDefaultScheduler(f.deps, map[string]string{"disk-usage": "A"})
	c.Assert(terror.ErrConfigUnknownWorker.Equal(err), check.IsTrue)
	_, err = NewDefaultScheduler(f.deps, map[string]string{WorkerMetaLiveness: "top"})
	c.Assert(terror.ErrConfigInvalidTier.Equal(err), check.IsTrue)
}

func (t *testWorkersSuite) TestHealthyCluster(c *check.C) {
	f := newFixture(c)
	s, err := NewDefaultScheduler(f.deps, nil)
	c.Assert(err, check.IsNil)
	report := s.RunPass(context.Background(), true)
	c.Assert(report.Abnormal(), check.IsFalse)
	c.Assert(report.Workers, check.HasLen, 5)
	for _, w := range report.Workers {
		c.Assert(w.Result, check.Equals, ResultPass)
	}
}

func (t *testWorkersSuite) TestDeadServersStarted(c *check.C) {
	f := newFixture(c)
	c.Assert(f.svc.Stop(context.Background(), cluster.RoleReplica, "10.0.0.2:34801"), check.IsNil)
	c.Assert(f.svc.Stop(context.Background(), cluster.RoleMeta, "10.0.1.1:2379"), check.IsNil)

	s, err := NewDefaultScheduler(f.deps, nil)
	c.Assert(err, check.IsNil)
	report := s.RunPass(context.Background(), false)
	c.Assert(report.Abnormal(), check.IsFalse)
	c.Assert(results(report), check.DeepEquals, map[string]Result{
		WorkerCoordinationRoot: ResultPass,
		WorkerMetaLiveness:     ResultRepaired,
		WorkerReplicaLiveness:  ResultRepaired,
	})
	c.Assert(f.svc.InstanceRunning(cluster.RoleReplica, "10.0.0.2:34801"), check.IsTrue)
	c.Assert(f.svc.InstanceRunning(cluster.RoleMeta, "10.0.1.1:2379"), check.IsTrue)
}

func (t *testWorkersSuite) TestCoordinationRootMissingHalts(c *check.C) {
	f := newFixture(c)
	c.Assert(f.store.Delete(context.Background(), root, true), check.IsNil)
	f.ctl.AddResource(cluster.Resource{Name: "orders", Healthy: false})

	s, err := NewDefaultScheduler(f.deps, nil)
	c.Assert(err, check.IsNil)
	report := s.RunPass(context.Background(), true)
	c.Assert(report.Halted, check.IsTrue)
	c.Assert(terror.ErrMaintenanceRepairUnsupported.Equal(report.Err()), check.IsTrue)
	c.Assert(results(report)[WorkerUnhealthyResources], check.Equals, ResultSkipped)
	c.Assert(f.ctl.CallCount("ListUnhealthyResources"), check.Equals, 0)
}

func (t *testWorkersSuite) TestLivenessBeforeCoordinationRoot(c *check.C) {
	c.Assert(workerOrder, check.HasLen, len(WorkerNames()))

	f := newFixture(c)
	c.Assert(f.store.Delete(context.Background(), root, true), check.IsNil)
	c.Assert(f.svc.Stop(context.Background(), cluster.RoleMeta, "10.0.1.1:2379"), check.IsNil)

	s, err := NewDefaultScheduler(f.deps, nil)
	c.Assert(err, check.IsNil)
	report := s.RunPass(context.Background(), false)
	c.Assert(report.Halted, check.IsTrue)
	names := make([]string, 0, len(report.Workers))
	for _, w := range report.Workers {
		names = append(names, w.Worker)
	}
	c.Assert(names, check.DeepEquals, []string{WorkerMetaLiveness, WorkerReplicaLiveness, WorkerCoordinationRoot})
	// the dead meta server is started before the root check halts the pass.
	c.Assert(report.Workers[0].Result, check.Equals, ResultRepaired)
	c.Assert(f.svc.InstanceRunning(cluster.RoleMeta, "10.0.1.1:2379"), check.IsTrue)
}

func (t *testWorkersSuite) TestRebalanceWorkers(c *check.C) {
	f := newFixture(c)
	f.ctl.AddResource(cluster.Resource{Name: "orders", Healthy: false})
	f.ctl.SetOutstanding(0, 3, 1, 0)

	s, err := NewDefaultScheduler(f.deps, nil)
	c.Assert(err, check.IsNil)
	report := s.RunPass(context.Background(), true)
	c.Assert(report.Halted, check.IsFalse)
	// rebalancing does not heal the resource in the mock.
	c.Assert(results(report)[WorkerUnhealthyResources], check.Equals, ResultAbnormal)
	c.Assert(results(report)[WorkerRebalanceBacklog], check.Equals, ResultRepaired)
	c.Assert(f.ctl.TriggeredStrategies(), check.DeepEquals, []cluster.Strategy{cluster.StrategyStandard})

	// the backlog never drains.
	f.ctl.SetOutstanding(7)
	w, err := NewWorker(WorkerRebalanceBacklog, f.deps)
	c.Assert(err, check.IsNil)
	s = NewScheduler()
	s.Add(TierC, w)
	report = s.RunPass(context.Background(), true)
	c.Assert(results(report)[WorkerRebalanceBacklog], check.Equals, ResultFault)
	c.Assert(terror.ErrRebalanceTimeoutExceeded.Equal(report.Err()), check.IsTrue)
	c.Assert(terror.IsTimeoutExceeded(report.Err()), check.IsTrue)
}
