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
	"time"

	"github.com/benbjohnson/clock"
	"github.com/siddontang/go/sync2"
	"go.uber.org/zap"

	"github.com/pingcap/clusterops/metrics"
	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/terror"
)

// WorkerReport is the outcome of one worker in a pass.
type WorkerReport struct {
	Worker     string `json:"worker"`
	Tier       Tier   `json:"tier"`
	Result     Result `json:"result"`
	SelfRemedy bool   `json:"self-remedy"`
	Error      string `json:"error,omitempty"`
}

// Report is the outcome of a scheduler pass.
type Report struct {
	Full    bool           `json:"full"`
	Workers []WorkerReport `json:"workers"`
	// Halted means a top tier worker failed and lower tiers were skipped.
	Halted bool          `json:"halted"`
	Cost   time.Duration `json:"cost"`
	Error  string        `json:"error,omitempty"`

	err error
}

// Err returns the error which halted the pass.
func (r *Report) Err() error {
	return r.err
}

// Abnormal returns whether any worker did not end healthy.
func (r *Report) Abnormal() bool {
	if r.Halted || r.err != nil {
		return true
	}
	for _, w := range r.Workers {
		if w.Result == ResultAbnormal || w.Result == ResultFault {
			return true
		}
	}
	return false
}

type tierWorker struct {
	tier   Tier
	worker HealthWorker
}

// Scheduler runs health workers tier by tier, highest first.
type Scheduler struct {
	workers []tierWorker
	clock   clock.Clock
	logger  log.Logger

	watching sync2.AtomicBool
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return NewSchedulerWithClock(clock.New())
}

// NewSchedulerWithClock creates an empty Scheduler whose watch loop ticks on clk.
func NewSchedulerWithClock(clk clock.Clock) *Scheduler {
	return &Scheduler{
		clock:  clk,
		logger: log.With(zap.String("component", "maintenance scheduler")),
	}
}

// Add adds w to tier, workers of a tier run in the order they are added.
func (s *Scheduler) Add(tier Tier, w HealthWorker) {
	s.workers = append(s.workers, tierWorker{tier: tier, worker: w})
	sort.SliceStable(s.workers, func(i, j int) bool {
		return s.workers[i].tier.Higher(s.workers[j].tier)
	})
}

// Tiers returns the tiers having workers, highest first.
func (s *Scheduler) Tiers() []Tier {
	tiers := make([]Tier, 0, 3)
	for _, tw := range s.workers {
		if len(tiers) == 0 || tiers[len(tiers)-1] != tw.tier {
			tiers = append(tiers, tw.tier)
		}
	}
	return tiers
}

// RunPass runs the workers once. A partial pass runs only the highest tier.
func (s *Scheduler) RunPass(ctx context.Context, full bool) *Report {
	start := time.Now()
	report := &Report{Full: full, Workers: make([]WorkerReport, 0, len(s.workers))}
	defer func() {
		report.Cost = time.Since(start)
		if report.err != nil {
			report.Error = report.err.Error()
		}
		s.logger.Info("maintenance pass finished", zap.Bool("full", full), zap.Bool("halted", report.Halted),
			zap.Bool("abnormal", report.Abnormal()), zap.Duration("cost", report.Cost))
	}()

	if len(s.workers) == 0 {
		report.err = terror.ErrMaintenanceNoWorker.Generate()
		return report
	}
	top := s.workers[0].tier

	for _, tw := range s.workers {
		if !full && tw.tier != top {
			break
		}
		wr := WorkerReport{Worker: tw.worker.Name(), Tier: tw.tier, SelfRemedy: tw.worker.SelfRemedy()}
		if report.Halted {
			wr.Result = ResultSkipped
			report.Workers = append(report.Workers, wr)
			continue
		}

		result, err := s.runWorker(ctx, tw)
		wr.Result = result
		if err != nil {
			wr.Error = err.Error()
		}
		report.Workers = append(report.Workers, wr)
		metrics.ObserveWorker(wr.Worker, string(tw.tier), string(result), result == ResultAbnormal || result == ResultFault)

		if tw.tier != top {
			continue
		}
		switch result {
		case ResultFault:
			report.Halted = true
			report.err = terror.ErrMaintenanceTopTierHalted.Delegate(err, wr.Worker)
		case ResultAbnormal:
			report.Halted = true
			report.err = terror.ErrMaintenanceTopTierHalted.Generate(wr.Worker)
		}
		if report.Halted {
			s.logger.Error("top tier worker failed, halt the pass", zap.String("worker", wr.Worker), log.ShortError(report.err))
		}
	}
	return report
}

// runWorker returns the result of a worker and the error behind a fault.
func (s *Scheduler) runWorker(ctx context.Context, tw tierWorker) (Result, error) {
	w := tw.worker
	logger := s.logger.WithFields(zap.String("worker", w.Name()), zap.String("tier", string(tw.tier)))

	abnormal, err := w.IsStateAbnormal(ctx)
	if err != nil {
		return s.fault(logger, w, "check", err)
	}
	if !abnormal {
		logger.Debug("state is normal")
		return ResultPass, nil
	}

	logger.Warn("state is abnormal", zap.Bool("self remedy", w.SelfRemedy()))
	if err = w.Diagnose(ctx); err != nil {
		return s.fault(logger, w, "diagnose", err)
	}
	if err = w.Repair(ctx); err != nil {
		return s.fault(logger, w, "repair", err)
	}
	if abnormal, err = w.IsStateAbnormal(ctx); err != nil {
		return s.fault(logger, w, "check after repair", err)
	}
	if abnormal {
		logger.Warn("state is still abnormal after repair")
		return ResultAbnormal, nil
	}
	logger.Info("state repaired")
	return ResultRepaired, nil
}

func (s *Scheduler) fault(logger log.Logger, w HealthWorker, phase string, err error) (Result, error) {
	err = terror.ErrMaintenanceWorkerFault.Delegate(err, w.Name(), phase)
	logger.ErrorFilterContextCanceled("health worker failed", zap.String("phase", phase), log.ShortError(err))
	return ResultFault, err
}

// Watch runs a pass immediately and then every interval until ctx is done.
// onReport is called with every report.
func (s *Scheduler) Watch(ctx context.Context, interval time.Duration, full bool, onReport func(*Report)) error {
	s.watching.Set(true)
	defer s.watching.Set(false)

	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()
	s.logger.Info("start watching", zap.Duration("interval", interval), zap.Bool("full", full))
	for {
		report := s.RunPass(ctx, full)
		if onReport != nil {
			onReport(report)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("stop watching")
			return nil
		case <-ticker.C:
		}
	}
}

// Watching returns whether the watch loop is running.
func (s *Scheduler) Watching() bool {
	return s.watching.Get()
}
