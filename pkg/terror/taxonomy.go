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

package terror

// errors grouped by how the workflow runner and the operator must react to them.
var (
	preconditionErrors = []*Error{
		ErrWorkflowPreconditionViolation,
		ErrSplitActiveTraffic,
		ErrRestoreUnsafeCoordinationPath,
		ErrUpgradeClusterUnhealthy,
		ErrUpgradePeerUnavailable,
		ErrStepStateMissingKey,
	}
	postconditionErrors = []*Error{
		ErrWorkflowPostconditionMismatch,
		ErrSplitCountMismatch,
	}
	timeoutErrors = []*Error{
		ErrRebalanceTimeoutExceeded,
		ErrRestoreNotReadyAfterDwell,
	}
)

func equalAny(err error, candidates []*Error) bool {
	for _, e := range candidates {
		if e.Equal(err) {
			return true
		}
	}
	return false
}

// IsPreconditionViolation returns whether err means a safety guard refused to mutate anything.
// A read of a key that no earlier step recorded counts as one too: the run is out of order.
func IsPreconditionViolation(err error) bool {
	return equalAny(err, preconditionErrors)
}

// IsPostconditionMismatch returns whether err means a check failed after a mutation.
func IsPostconditionMismatch(err error) bool {
	return equalAny(err, postconditionErrors)
}

// IsTimeoutExceeded returns whether err means a bounded wait or poll was exhausted,
// the mutation behind it may be partially applied.
func IsTimeoutExceeded(err error) bool {
	return equalAny(err, timeoutErrors)
}

// IsRollbackFailure returns whether err is terminal and requires manual intervention.
func IsRollbackFailure(err error) bool {
	return ErrWorkflowRollbackFailure.Equal(err) || ErrWorkflowFatalState.Equal(err)
}

// IsClassified returns whether err carries an *Error somewhere in its chain.
func IsClassified(err error) bool {
	for err != nil {
		if _, ok := err.(*Error); ok {
			return true
		}
		next := unwrapOnce(err)
		if next == err {
			return false
		}
		err = next
	}
	return false
}
