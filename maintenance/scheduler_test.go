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
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/check"
	"github.com/pingcap/errors"

	"github.com/pingcap/clusterops/pkg/terror"
)

func TestSuite(t *testing.T) {
	check.TestingT(t)
}

type testSchedulerSuite struct{}

var _ = check.Suite(&testSchedulerSuite{})

type fakeWorker struct {
	name       string
	calls      *[]string
	selfRemedy bool

	// abnormal is consumed one value per check, the last value repeats.
	abnormal    []bool
	checkErr    error
	diagnoseErr error
	repairErr   error
}

func (w *fakeWorker) record(phase string) {
	*w.calls = append(*w.calls, phase+" "+w.name)
}

func (w *fakeWorker) Name() string { return w.name }

func (w *fakeWorker) SelfRemedy() bool { return w.selfRemedy }

func (w *fakeWorker) IsStateAbnormal(context.Context) (bool, error) {
	w.record("check")
	if w.checkErr != nil {
		return false, w.checkErr
	}
	if len(w.abnormal) == 0 {
		return false, nil
	}
	v := w.abnormal[0]
	if len(w.abnormal) > 1 {
		w.abnormal = w.abnormal[1:]
	}
	return v, nil
}

func (w *fakeWorker) Diagnose(context.Context) error {
	w.record("diagnose")
	return w.diagnoseErr
}

func (w *fakeWorker) Repair(context.Context) error {
	w.record("repair")
	return w.repairErr
}

func results(r *Report) map[string]Result {
	m := make(map[string]Result, len(r.Workers))
	for _, w := range r.Workers {
		m[w.Worker] = w.Result
	}
	return m
}

func (t *testSchedulerSuite) TestParseTier(c *check.C) {
	for _, s := range []string{"A", "b", " C "} {
		_, err := ParseTier(s, "w")
		c.Assert(err, check.IsNil)
	}
	for _, s := range []string{"", "AB", "1", "é"} {
		_, err := ParseTier(s, "w")
		c.Assert(terror.ErrConfigInvalidTier.Equal(err), check.IsTrue, check.Commentf("tier %q", s))
	}
	c.Assert(TierA.Higher(TierB), check.IsTrue)
	c.Assert(TierC.Higher(TierB), check.IsFalse)
}

func (t *testSchedulerSuite) TestRepairFlow(c *check.C) {
	var calls []string
	s := NewScheduler()
	s.Add(TierA, &fakeWorker{name: "a", calls: &calls})
	s.Add(TierA, &fakeWorker{name: "b", calls: &calls, abnormal: []bool{true, false}})
	// self remedy does not skip repair.
	s.Add(TierB, &fakeWorker{name: "c", calls: &calls, abnormal: []bool{true}, selfRemedy: true})

	report := s.RunPass(context.Background(), true)
	c.Assert(report.Err(), check.IsNil)
	c.Assert(report.Halted, check.IsFalse)
	c.Assert(report.Abnormal(), check.IsTrue)
	c.Assert(results(report), check.DeepEquals, map[string]Result{
		"a": ResultPass,
		"b": ResultRepaired,
		"c": ResultAbnormal,
	})
	c.Assert(calls, check.DeepEquals, []string{
		"check a",
		"check b", "diagnose b", "repair b", "check b",
		"check c", "diagnose c", "repair c", "check c",
	})
	c.Assert(report.Workers[2].SelfRemedy, check.IsTrue)
}

func (t *testSchedulerSuite) TestTopTierFailFast(c *check.C) {
	var calls []string
	s := NewScheduler()
	// added out of order, tiers still run highest first.
	s.Add(TierB, &fakeWorker{name: "b1", calls: &calls})
	s.Add(TierA, &fakeWorker{name: "a1", calls: &calls, checkErr: errors.New("admin api unavailable")})
	s.Add(TierA, &fakeWorker{name: "a2", calls: &calls})
	c.Assert(s.Tiers(), check.DeepEquals, []Tier{TierA, TierB})

	report := s.RunPass(context.Background(), true)
	c.Assert(report.Halted, check.IsTrue)
	c.Assert(report.Abnormal(), check.IsTrue)
	c.Assert(terror.ErrMaintenanceTopTierHalted.Equal(report.Err()), check.IsTrue)
	c.Assert(terror.ErrMaintenanceWorkerFault.Equal(report.Err()), check.IsTrue)
	c.Assert(report.Error, check.Matches, ".*admin api unavailable.*")
	c.Assert(calls, check.DeepEquals, []string{"check a1"})
	c.Assert(results(report), check.DeepEquals, map[string]Result{
		"a1": ResultFault,
		"a2": ResultSkipped,
		"b1": ResultSkipped,
	})

	// still abnormal after repair halts too.
	calls = nil
	s = NewScheduler()
	s.Add(TierA, &fakeWorker{name: "a1", calls: &calls, abnormal: []bool{true}})
	s.Add(TierB, &fakeWorker{name: "b1", calls: &calls})
	report = s.RunPass(context.Background(), true)
	c.Assert(report.Halted, check.IsTrue)
	c.Assert(terror.ErrMaintenanceTopTierHalted.Equal(report.Err()), check.IsTrue)
	c.Assert(calls, check.DeepEquals, []string{"check a1", "diagnose a1", "repair a1", "check a1"})
}

func (t *testSchedulerSuite) TestLowerTierFaultIsolated(c *check.C) {
	var calls []string
	s := NewScheduler()
	s.Add(TierA, &fakeWorker{name: "a", calls: &calls})
	s.Add(TierB, &fakeWorker{name: "b", calls: &calls, abnormal: []bool{true}, repairErr: errors.New("rebalance rejected")})
	s.Add(TierB, &fakeWorker{name: "b2", calls: &calls, abnormal: []bool{true}, diagnoseErr: errors.New("no permission")})
	s.Add(TierC, &fakeWorker{name: "c", calls: &calls})

	report := s.RunPass(context.Background(), true)
	c.Assert(report.Err(), check.IsNil)
	c.Assert(report.Halted, check.IsFalse)
	c.Assert(report.Abnormal(), check.IsTrue)
	c.Assert(results(report), check.DeepEquals, map[string]Result{
		"a":  ResultPass,
		"b":  ResultFault,
		"b2": ResultFault,
		"c":  ResultPass,
	})
	c.Assert(report.Workers[1].Error, check.Matches, ".*repair.*rebalance rejected.*")
	c.Assert(report.Workers[2].Error, check.Matches, ".*diagnose.*no permission.*")
}

func (t *testSchedulerSuite) TestPartialPass(c *check.C) {
	var calls []string
	s := NewScheduler()
	s.Add(TierA, &fakeWorker{name: "a", calls: &calls})
	s.Add(TierB, &fakeWorker{name: "b", calls: &calls, abnormal: []bool{true}})

	report := s.RunPass(context.Background(), false)
	c.Assert(report.Abnormal(), check.IsFalse)
	c.Assert(report.Workers, check.HasLen, 1)
	c.Assert(calls, check.DeepEquals, []string{"check a"})

	report = NewScheduler().RunPass(context.Background(), true)
	c.Assert(terror.ErrMaintenanceNoWorker.Equal(report.Err()), check.IsTrue)
	c.Assert(report.Abnormal(), check.IsTrue)
}

func (t *testSchedulerSuite) TestWatch(c *check.C) {
	var calls []string
	mock := clock.NewMock()
	s := NewSchedulerWithClock(mock)
	s.Add(TierA, &fakeWorker{name: "a", calls: &calls})

	ctx, cancel := context.WithCancel(context.Background())
	reports := make(chan *Report, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, time.Minute, true, func(r *Report) { reports <- r })
	}()

	<-reports
	c.Assert(s.Watching(), check.IsTrue)
	mock.Add(time.Minute)
	<-reports
	mock.Add(time.Minute)
	<-reports
	cancel()
	mock.Add(time.Minute)
	c.Assert(<-done, check.IsNil)
	c.Assert(s.Watching(), check.IsFalse)
	c.Assert(len(calls) >= 3, check.IsTrue)
}
