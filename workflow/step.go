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
)

// Step is one unit of a workflow.
//
// Update must look at the external state before acting, so that re-running a
// workflow over the same work dir converges instead of duplicating mutations.
// Backup captures enough of the pre-state for Rollback to undo Update.
type Step interface {
	// Name identifies the step in the step state, logs and metrics.
	Name() string
	// Init loads what the step depends on.
	Init(ctx context.Context, rc *RunContext) error
	Backup(ctx context.Context) error
	Update(ctx context.Context) error
	// Check verifies the postcondition of Update.
	Check(ctx context.Context) (bool, error)
	Rollback(ctx context.Context) error
}

// Stage is the lifecycle stage a step reached.
type Stage string

// Stage list.
const (
	StagePending    Stage = "pending"
	StageBackedUp   Stage = "backed-up"
	StageUpdated    Stage = "updated"
	StageChecked    Stage = "checked"
	StageRolledBack Stage = "rolled-back"
	StageFailed     Stage = "failed"
)

// StageKey returns the step state key recording the stage of step.
func StageKey(step string) string {
	return "stage/" + step
}
