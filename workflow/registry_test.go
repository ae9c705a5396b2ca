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
	"path/filepath"
	"regexp"

	"github.com/pingcap/check"

	"github.com/pingcap/clusterops/pkg/stepstate"
	"github.com/pingcap/clusterops/pkg/terror"
)

type testRegistrySuite struct{}

var _ = check.Suite(&testRegistrySuite{})

var registryCalls []string

func init() {
	Register(Definition{
		Name: "registry-test",
		Phases: map[string]Builder{
			"prepare": func(_ context.Context, rc *RunContext, deps *Deps) ([]Step, error) {
				return []Step{&fakeStep{name: "prepare-" + rc.Resource(), calls: &registryCalls, state: deps.State}}, nil
			},
			"finish": func(_ context.Context, rc *RunContext, deps *Deps) ([]Step, error) {
				return []Step{&fakeStep{name: "finish", calls: &registryCalls, state: deps.State, needKey: StageKey("prepare-" + rc.Resource())}}, nil
			},
		},
		FinishPhase: "finish",
	})
}

func (t *testRegistrySuite) TestLookup(c *check.C) {
	def, err := Lookup("registry-test")
	c.Assert(err, check.IsNil)
	c.Assert(def.PhaseNames(), check.DeepEquals, []string{"finish", "prepare"})
	c.Assert(Names(), check.DeepEquals, []string{"registry-test"})

	_, err = Lookup("no-such-workflow")
	c.Assert(terror.ErrWorkflowNotFound.Equal(err), check.IsTrue)
	_, err = def.Build(context.Background(), "rollout", nil, nil)
	c.Assert(terror.ErrWorkflowPhaseNotFound.Equal(err), check.IsTrue)

	c.Assert(func() { Register(Definition{Name: "registry-test"}) }, check.PanicMatches, ".*registered twice.*")
}

func (t *testRegistrySuite) TestRunPhases(c *check.C) {
	registryCalls = nil
	opts := RunOptions{Workflow: "registry-test", Module: "kv1", Resource: "orders", BaseDir: c.MkDir()}

	// finish reads a key only prepare records.
	report, err := Run(context.Background(), "registry-test", "finish", opts, Deps{})
	c.Assert(terror.ErrStepStateMissingKey.Equal(err), check.IsTrue)
	c.Assert(report.Result, check.Equals, ResultHalted)

	report, err = Run(context.Background(), "registry-test", "prepare", opts, Deps{})
	c.Assert(err, check.IsNil)
	c.Assert(report.Workflow, check.Equals, "registry-test/prepare")
	c.Assert(report.WorkDir, check.Equals, opts.WorkDir())
	c.Assert(report.Archived, check.Equals, "")

	report, err = Run(context.Background(), "registry-test", "finish", opts, Deps{})
	c.Assert(err, check.IsNil)
	c.Assert(report.Result, check.Equals, ResultSuccess)
	c.Assert(report.Archived, check.Matches, regexp.QuoteMeta(filepath.Join(opts.WorkDir(), stepstate.HistoryDir))+"/.*-"+report.RunID+"\\.yaml")

	// the finished run is archived, another finish needs a new prepare.
	report, err = Run(context.Background(), "registry-test", "finish", opts, Deps{})
	c.Assert(terror.ErrStepStateMissingKey.Equal(err), check.IsTrue)
	c.Assert(report.Result, check.Equals, ResultHalted)

	report, err = Run(context.Background(), "registry-test", "", opts, Deps{})
	c.Assert(terror.ErrWorkflowPhaseNotFound.Equal(err), check.IsTrue)
	c.Assert(report, check.IsNil)
}
