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

package restore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/pingcap/check"
	"github.com/pingcap/errors"

	"github.com/pingcap/clusterops/pkg/cluster"
	"github.com/pingcap/clusterops/pkg/coordination"
	"github.com/pingcap/clusterops/pkg/service"
	"github.com/pingcap/clusterops/pkg/stepstate"
	"github.com/pingcap/clusterops/pkg/terror"
	"github.com/pingcap/clusterops/workflow"
)

func TestSuite(t *testing.T) {
	TestingT(t)
}

type testRestoreSuite struct{}

var _ = Suite(&testRestoreSuite{})

const (
	module = "kv1"
	root   = "/kvcluster/kv1"
	marker = "kvcluster"
	dwell  = 30 * time.Second
)

type fixture struct {
	ctl   *cluster.MockControl
	svc   *service.MockController
	store *coordination.MemStore
	clock *clock.Mock
	opts  workflow.RunOptions
	deps  workflow.Deps
}

func newFixture(c *C, replicas int) *fixture {
	ctl := cluster.NewMockControl()
	svc := service.NewMockController()
	svc.Bind(ctl)
	nodes := []cluster.Node{{Role: cluster.RoleMeta, Host: "10.0.1.1", Port: 2379, Alive: true}}
	for i := 0; i < replicas; i++ {
		nodes = append(nodes, cluster.Node{Role: cluster.RoleReplica, Host: fmt.Sprintf("10.0.0.%d", i+1), Port: 34801, Alive: true})
	}
	ctl.SetNodes(nodes...)
	for _, n := range nodes {
		svc.AddInstance(n.Role, n.Address(), "v2.3.0", true)
	}

	store := coordination.NewMemStore()
	ctx := context.Background()
	c.Assert(store.Put(ctx, root+"/tables/orders", "partitions=4"), IsNil)
	c.Assert(store.Put(ctx, root+"/tables/users", "partitions=8"), IsNil)
	c.Assert(store.Put(ctx, root+"/leader", "10.0.1.1:2379"), IsNil)
	// another module of the same product.
	c.Assert(store.Put(ctx, "/kvcluster/kv2/leader", "10.0.2.1:2379"), IsNil)

	mock := clock.NewMock()
	return &fixture{
		ctl:   ctl,
		svc:   svc,
		store: store,
		clock: mock,
		opts: workflow.RunOptions{
			Module:  module,
			BaseDir: c.MkDir(),
			Now:     time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC),
		},
		deps: workflow.Deps{
			Cluster:      ctl,
			Coordination: store,
			Service:      svc,
			Clock:        mock,
			Settings: workflow.Settings{
				CoordinationRoot: root,
				ProductMarker:    marker,
				RecoveryDwell:    dwell,
			},
		},
	}
}

// run advances the mock clock until the workflow returns.
func (f *fixture) run() (*workflow.Report, error) {
	type result struct {
		report *workflow.Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := workflow.Run(context.Background(), Name, workflow.DefaultPhase, f.opts, f.deps)
		done <- result{report, err}
	}()
	for {
		select {
		case r := <-done:
			return r.report, r.err
		default:
			f.clock.Add(time.Second)
		}
	}
}

func readArchive(c *C, report *workflow.Report, fn func(s *stepstate.State)) {
	c.Assert(report.Archived, Not(Equals), "")
	s, err := stepstate.OpenArchive(report.Archived)
	c.Assert(err, IsNil)
	defer s.Close()
	fn(s)
}

func (t *testRestoreSuite) TestCheckDeletable(c *C) {
	cases := []struct {
		root   string
		module string
		marker string
		ok     bool
	}{
		{"/kvcluster/kv1", "kv1", "kvcluster", true},
		{"/prod/kvcluster/kv1/", "kv1", "kvcluster", true},
		{"/", "kv1", "kvcluster", false},
		{"", "kv1", "kvcluster", false},
		{"/kvcluster", "kv1", "kvcluster", false},
		{"/kvcluster/kv2", "kv1", "kvcluster", false},
		// substrings do not count.
		{"/kvcluster-old/kv1", "kv1", "kvcluster", false},
		{"/kvcluster/kv10", "kv1", "kvcluster", false},
		{"/kvcluster/kv1", "", "kvcluster", false},
		{"/kvcluster/kv1", "kv1", "", false},
	}
	for _, cs := range cases {
		err := CheckDeletable(cs.root, cs.module, cs.marker)
		if cs.ok {
			c.Assert(err, IsNil, Commentf("root %s", cs.root))
			continue
		}
		c.Assert(terror.ErrRestoreUnsafeCoordinationPath.Equal(err), IsTrue, Commentf("root %s", cs.root))
		c.Assert(terror.IsPreconditionViolation(err), IsTrue)
	}
}

func (t *testRestoreSuite) TestRestore(c *C) {
	f := newFixture(c, 3)
	f.ctl.SetOutstanding(4, 1, 0)

	report, err := f.run()
	c.Assert(err, IsNil)
	c.Assert(report.Result, Equals, workflow.ResultSuccess)
	c.Assert(report.Steps, HasLen, 5)

	exists, err := f.store.Exists(context.Background(), root)
	c.Assert(err, IsNil)
	c.Assert(exists, IsFalse)
	c.Assert(f.store.Len(), Equals, 1)
	c.Assert(f.svc.RecoveryMode(), IsTrue)
	c.Assert(f.svc.InstanceRunning(cluster.RoleReplica, "10.0.0.1:34801"), IsTrue)
	c.Assert(f.ctl.TriggeredStrategies(), DeepEquals, []cluster.Strategy{cluster.StrategyStandard})

	readArchive(c, report, func(s *stepstate.State) {
		var tree coordination.TreeNode
		c.Assert(s.ReadInto(KeySnapshot, &tree), IsNil)
		c.Assert(tree.Path, Equals, root)
		c.Assert(tree.Count(), Equals, 5)
		decision, err2 := s.ReadString(KeyDecision)
		c.Assert(err2, IsNil)
		c.Assert(decision, Equals, "standard-poll")
		var nodes []cluster.Node
		c.Assert(s.ReadInto(KeyNodes, &nodes), IsNil)
		c.Assert(nodes, HasLen, 4)
	})
}

func (t *testRestoreSuite) TestUnsafeRootRefused(c *C) {
	f := newFixture(c, 3)
	f.deps.Settings.CoordinationRoot = "/kvcluster"

	report, err := f.run()
	c.Assert(terror.ErrRestoreUnsafeCoordinationPath.Equal(err), IsTrue)
	c.Assert(report, IsNil)
	c.Assert(f.svc.Calls, HasLen, 0)
	c.Assert(f.store.Len(), Equals, 4)
}

func (t *testRestoreSuite) TestSnapshotKeptOnRetry(c *C) {
	f := newFixture(c, 3)
	f.store.SetError("Delete", errors.New("etcdserver: request timed out"))

	report, err := f.run()
	c.Assert(terror.ErrWorkflowMutationFailure.Equal(err), IsTrue)
	c.Assert(report.Result, Equals, workflow.ResultRolledBack)
	// the cluster is started again.
	c.Assert(f.svc.InstanceRunning(cluster.RoleMeta, "10.0.1.1:2379"), IsTrue)
	c.Assert(f.store.Len(), Equals, 4)

	// the tree changes before the retry, the first capture stays.
	f.store.SetError("Delete", nil)
	c.Assert(f.store.Put(context.Background(), root+"/leader", "10.0.1.9:2379"), IsNil)
	report, err = f.run()
	c.Assert(err, IsNil)
	c.Assert(report.Result, Equals, workflow.ResultSuccess)
	readArchive(c, report, func(s *stepstate.State) {
		var tree coordination.TreeNode
		c.Assert(s.ReadInto(KeySnapshot, &tree), IsNil)
		var leader string
		for _, child := range tree.Children {
			if child.Path == root+"/leader" {
				leader = child.Value
			}
		}
		c.Assert(leader, Equals, "10.0.1.1:2379")
	})
}

func (t *testRestoreSuite) TestNotReadyAfterDwell(c *C) {
	f := newFixture(c, 2)
	f.svc.StartKeepsDown = true

	report, err := f.run()
	c.Assert(terror.ErrRestoreNotReadyAfterDwell.Equal(err), IsTrue)
	c.Assert(terror.IsTimeoutExceeded(err), IsTrue)
	c.Assert(report.Result, Equals, workflow.ResultRolledBack)
	// the failed step keeps recovery mode for the operator.
	c.Assert(f.svc.RecoveryMode(), IsTrue)
	c.Assert(report.Steps[0].Stage, Equals, workflow.StageRolledBack)
	c.Assert(report.Steps[3].Stage, Equals, workflow.StageFailed)
	// a deleted tree is not brought back.
	exists, err := f.store.Exists(context.Background(), root)
	c.Assert(err, IsNil)
	c.Assert(exists, IsFalse)
	c.Assert(f.ctl.CallCount("TriggerRebalance"), Equals, 0)
}

func (t *testRestoreSuite) TestRebalanceSelection(c *C) {
	cases := []struct {
		replicas   int
		decision   string
		strategies []cluster.Strategy
	}{
		{1, "no-op", nil},
		{2, "two-node", []cluster.Strategy{cluster.StrategyTwoNode}},
		{4, "standard-poll", []cluster.Strategy{cluster.StrategyStandard}},
	}
	for _, cs := range cases {
		f := newFixture(c, cs.replicas)
		report, err := f.run()
		c.Assert(err, IsNil)
		c.Assert(f.ctl.TriggeredStrategies(), DeepEquals, cs.strategies)
		readArchive(c, report, func(s *stepstate.State) {
			decision, err2 := s.ReadString(KeyDecision)
			c.Assert(err2, IsNil)
			c.Assert(decision, Equals, cs.decision)
		})
	}
}

func (t *testRestoreSuite) TestSecondRestoreCapturesNewTree(c *C) {
	f := newFixture(c, 3)
	first, err := f.run()
	c.Assert(err, IsNil)
	c.Assert(first.Result, Equals, workflow.ResultSuccess)

	// the cluster recreated its tree, with a table added since.
	ctx := context.Background()
	c.Assert(f.store.Put(ctx, root+"/tables/orders", "partitions=4"), IsNil)
	c.Assert(f.store.Put(ctx, root+"/tables/payments", "partitions=2"), IsNil)
	c.Assert(f.store.Put(ctx, root+"/leader", "10.0.1.1:2379"), IsNil)
	f.opts.Now = f.opts.Now.Add(24 * time.Hour)
	second, err := f.run()
	c.Assert(err, IsNil)
	c.Assert(second.Result, Equals, workflow.ResultSuccess)
	c.Assert(second.Archived, Not(Equals), first.Archived)

	tables := func(report *workflow.Report) []string {
		var names []string
		readArchive(c, report, func(s *stepstate.State) {
			var tree coordination.TreeNode
			c.Assert(s.ReadInto(KeySnapshot, &tree), IsNil)
			for _, child := range tree.Children {
				if child.Path != root+"/tables" {
					continue
				}
				for _, table := range child.Children {
					names = append(names, table.Path)
				}
			}
		})
		return names
	}
	c.Assert(tables(second), DeepEquals, []string{root + "/tables/orders", root + "/tables/payments"})
	// the first capture stays in the history.
	c.Assert(tables(first), DeepEquals, []string{root + "/tables/orders", root + "/tables/users"})
}
