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
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"go.uber.org/zap"

	"github.com/pingcap/clusterops/metrics"
	rollback "github.com/pingcap/clusterops/pkg/func-rollback"
	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/stepstate"
	"github.com/pingcap/clusterops/pkg/terror"
)

// FatalKey is the step state key naming the step whose rollback failed.
// While it is present no workflow runs over the work dir.
const FatalKey = "fatal"

// Result list of a run.
const (
	ResultSuccess    = "success"
	ResultHalted     = "halted"
	ResultRolledBack = "rolled-back"
	ResultFatal      = "fatal"
)

// StepReport is the outcome of one step.
type StepReport struct {
	Name  string `json:"name"`
	Stage Stage  `json:"stage"`
	Error string `json:"error,omitempty"`
}

// Report is the outcome of a run.
type Report struct {
	Workflow string        `json:"workflow"`
	RunID    string        `json:"run-id"`
	WorkDir  string        `json:"work-dir"`
	Result   string        `json:"result"`
	Fatal    bool          `json:"fatal"`
	Steps    []*StepReport `json:"steps"`
	Error    string        `json:"error,omitempty"`
	// Archived is the history file of the step state after the final phase succeeded.
	Archived string `json:"archived,omitempty"`

	err   error
	cause error
}

// Err returns the terminal error of the run, nil when every step passed.
func (r *Report) Err() error {
	return r.err
}

// Cause returns the step failure that started a rollback cascade.
func (r *Report) Cause() error {
	return r.cause
}

func (r *Report) finish(result string, err error) {
	r.Result = result
	r.err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// Runner executes the steps of a workflow in order and rolls back completed steps on failure.
type Runner struct {
	name   string
	state  *stepstate.State
	logger log.Logger
}

// NewRunner creates a Runner recording into state.
func NewRunner(name string, state *stepstate.State) *Runner {
	return &Runner{
		name:   name,
		state:  state,
		logger: log.With(zap.String("workflow", name)),
	}
}

// Run executes steps strictly in order, each through Init, Backup, Update and Check.
//
// A precondition violation halts the run and rolls nothing back. Any other failure rolls back,
// in reverse order, every step that passed its Check. A failing Rollback stops the cascade
// and marks the work dir fatal.
func (r *Runner) Run(ctx context.Context, rc *RunContext, steps []Step) *Report {
	start := time.Now()
	report := &Report{
		Workflow: r.name,
		RunID:    rc.RunID(),
		WorkDir:  r.state.Dir(),
		Steps:    make([]*StepReport, 0, len(steps)),
	}
	defer func() {
		metrics.ObserveWorkflow(r.name, report.Result, time.Since(start))
		if report.err != nil {
			r.logger.Error("workflow finished", zap.String("result", report.Result), zap.Duration("cost", time.Since(start)), zap.Error(report.err))
		} else {
			r.logger.Info("workflow finished", zap.String("result", report.Result), zap.Duration("cost", time.Since(start)))
		}
	}()

	if len(steps) == 0 {
		report.finish(ResultHalted, terror.ErrWorkflowEmpty.Generate(r.name))
		return report
	}
	has, err := r.state.Has(FatalKey)
	if err != nil {
		report.finish(ResultHalted, err)
		return report
	}
	if has {
		fatalStep, err := r.state.ReadString(FatalKey)
		if err != nil {
			r.logger.Warn("fail to read fatal step", log.ShortError(err))
			fatalStep = "unknown"
		}
		report.Fatal = true
		report.finish(ResultFatal, terror.ErrWorkflowFatalState.Generate(r.state.Dir(), fatalStep))
		return report
	}

	holder := rollback.NewRollbackHolder(r.name)
	for _, step := range steps {
		step := step
		sr := &StepReport{Name: step.Name()}
		report.Steps = append(report.Steps, sr)

		if err = r.runStep(ctx, rc, step, sr); err != nil {
			r.setStage(sr, StageFailed, err)
			if terror.IsPreconditionViolation(err) {
				r.logger.Warn("precondition violated, workflow halted without rollback", zap.String("step", sr.Name), log.ShortError(err))
				report.finish(ResultHalted, err)
				return report
			}
			r.rollback(ctx, report, holder, err)
			return report
		}

		holder.Add(rollback.FuncRollback{Name: sr.Name, Fn: func(ctx context.Context) error {
			rbErr := step.Rollback(ctx)
			failpoint.Inject("StepRollbackError", func(val failpoint.Value) {
				if val.(string) == sr.Name {
					rbErr = errors.New("rollback failed by failpoint")
				}
			})
			if rbErr != nil {
				r.setStage(sr, StageFailed, rbErr)
				return rbErr
			}
			r.setStage(sr, StageRolledBack, nil)
			return nil
		}})
	}

	report.finish(ResultSuccess, nil)
	return report
}

func (r *Runner) runStep(ctx context.Context, rc *RunContext, step Step, sr *StepReport) error {
	name := sr.Name
	logger := r.logger.WithFields(zap.String("step", name))
	r.setStage(sr, StagePending, nil)

	if err := step.Init(ctx, rc); err != nil {
		return classify(err, terror.ErrWorkflowStepInit, name)
	}
	if err := step.Backup(ctx); err != nil {
		return classify(err, terror.ErrWorkflowStepBackup, name)
	}
	r.setStage(sr, StageBackedUp, nil)

	logger.Info("update step")
	err := step.Update(ctx)
	failpoint.Inject("StepUpdateError", func(val failpoint.Value) {
		if val.(string) == name {
			err = errors.New("update failed by failpoint")
		}
	})
	if err != nil {
		return classify(err, terror.ErrWorkflowMutationFailure, name)
	}
	r.setStage(sr, StageUpdated, nil)

	ok, err := step.Check(ctx)
	if err != nil {
		return classify(err, terror.ErrWorkflowPostconditionMismatch, name)
	}
	if !ok {
		return terror.ErrWorkflowPostconditionMismatch.Generate(name)
	}
	r.setStage(sr, StageChecked, nil)
	logger.Info("step checked")
	return nil
}

func (r *Runner) rollback(ctx context.Context, report *Report, holder *rollback.FuncRollbackHolder, cause error) {
	report.cause = cause
	r.logger.Error("step failed, rolling back completed steps", zap.Int("completed", holder.Len()), zap.Error(cause))

	failed, err := holder.RollbackReverseOrder(ctx)
	if err != nil {
		report.Fatal = true
		if werr := r.state.Write(FatalKey, failed); werr != nil {
			r.logger.Error("fail to record fatal state", zap.String("step", failed), log.ShortError(werr))
		}
		report.finish(ResultFatal, terror.ErrWorkflowRollbackFailure.Delegate(err, failed))
		return
	}
	report.finish(ResultRolledBack, cause)
}

func (r *Runner) setStage(sr *StepReport, stage Stage, err error) {
	sr.Stage = stage
	if err != nil {
		sr.Error = err.Error()
	}
	metrics.ObserveStage(r.name, sr.Name, string(stage))
	if werr := r.state.Write(StageKey(sr.Name), string(stage)); werr != nil {
		r.logger.Warn("fail to record step stage", zap.String("step", sr.Name), zap.String("stage", string(stage)), log.ShortError(werr))
	}
}

// classify keeps the errors the runner and operator react to and wraps everything else into defaultErr.
func classify(err error, defaultErr *terror.Error, step string) error {
	if terror.IsPreconditionViolation(err) || terror.IsPostconditionMismatch(err) ||
		terror.IsTimeoutExceeded(err) || terror.IsRollbackFailure(err) {
		return err
	}
	return defaultErr.Delegate(err, step)
}
