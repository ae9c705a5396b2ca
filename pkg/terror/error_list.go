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

// Error codes list
const (
	// Functional error code list
	codeInitLoggerFail ErrCode = iota + 11001
	codeBackoffArgsNotValid
	codeRetryExhausted
	codeParseFlagSet
	codeNotImplemented
)

// Config related error code list
const (
	codeConfigTomlTransform ErrCode = iota + 20001
	codeConfigParseFlagSet
	codeConfigInvalidFlag
	codeConfigClusterNameEmpty
	codeConfigAdminAddrEmpty
	codeConfigWorkDirEmpty
	codeConfigInvalidTier
	codeConfigUnknownWorker
	codeConfigRebalanceArgs
)

// PersistentStepState error code list
const (
	codeStepStateMissingKey ErrCode = iota + 21001
	codeStepStateLocked
	codeStepStateLoad
	codeStepStateSave
	codeStepStateDecode
	codeStepStateClosed
)

// Workflow error code list
const (
	codeWorkflowPreconditionViolation ErrCode = iota + 22001
	codeWorkflowMutationFailure
	codeWorkflowPostconditionMismatch
	codeWorkflowRollbackFailure
	codeWorkflowNotFound
	codeWorkflowPhaseNotFound
	codeWorkflowDuplicated
	codeWorkflowStepInit
	codeWorkflowStepBackup
	codeWorkflowEmpty
	codeWorkflowFatalState
)

// Cluster control API error code list
const (
	codeClusterRequestFail ErrCode = iota + 23001
	codeClusterDecodeResponse
	codeClusterResourceNotFound
	codeClusterCountElements
	codeClusterInvalidRole
	codeClusterDBBadConn
	codeClusterDBInvalidConn
	codeClusterDBDriverError
)

// Coordination store error code list
const (
	codeCoordinationGet ErrCode = iota + 24001
	codeCoordinationPut
	codeCoordinationChildren
	codeCoordinationDelete
	codeCoordinationPathNotFound
	codeCoordinationInvalidPath
	codeCoordinationClient
)

// Service controller error code list
const (
	codeServiceCommandNotConfigured ErrCode = iota + 25001
	codeServiceCommandParse
	codeServiceCommandFail
)

// Rebalance error code list
const (
	codeRebalanceTimeoutExceeded ErrCode = iota + 26001
	codeRebalanceTrigger
	codeRebalanceQuery
)

// Maintenance error code list
const (
	codeMaintenanceWorkerFault ErrCode = iota + 27001
	codeMaintenanceTopTierHalted
	codeMaintenanceWorkerNotFound
	codeMaintenanceRepairUnsupported
	codeMaintenanceNoWorker
	codeMaintenanceClusterAbnormal
	codeMaintenanceStatusListen
)

// Split workflow error code list
const (
	codeSplitActiveTraffic ErrCode = iota + 28001
	codeSplitCountMismatch
	codeSplitInvalidPartitionCount
	codeSplitNoAliveNode
)

// Restore workflow error code list
const (
	codeRestoreUnsafeCoordinationPath ErrCode = iota + 29001
	codeRestoreNotReadyAfterDwell
)

// Upgrade workflow error code list
const (
	codeUpgradeClusterUnhealthy ErrCode = iota + 30001
	codeUpgradePeerUnavailable
	codeUpgradeNodeNotFound
	codeUpgradeTargetVersionEmpty
	codeUpgradeVersionFail
)

// Error instances
var (
	// Functional error
	ErrInitLoggerFail      = New(codeInitLoggerFail, ClassFunctional, ScopeInternal, LevelMedium, "init logger failed", "")
	ErrBackoffArgsNotValid = New(codeBackoffArgsNotValid, ClassFunctional, ScopeInternal, LevelMedium, "backoff argument %s value %v not valid", "")
	ErrRetryExhausted      = New(codeRetryExhausted, ClassFunctional, ScopeInternal, LevelHigh, "operation still failed after %d retries", "")
	ErrParseFlagSet        = New(codeParseFlagSet, ClassFunctional, ScopeInternal, LevelMedium, "parse flag set", "")
	ErrNotImplemented      = New(codeNotImplemented, ClassFunctional, ScopeInternal, LevelHigh, "%s not implemented", "")

	// Config error
	ErrConfigTomlTransform    = New(codeConfigTomlTransform, ClassConfig, ScopeInternal, LevelMedium, "%s", "Please check the `config` file is valid toml.")
	ErrConfigParseFlagSet     = New(codeConfigParseFlagSet, ClassConfig, ScopeInternal, LevelMedium, "parse config flag set", "")
	ErrConfigInvalidFlag      = New(codeConfigInvalidFlag, ClassConfig, ScopeInternal, LevelMedium, "'%s' is an invalid flag", "")
	ErrConfigClusterNameEmpty = New(codeConfigClusterNameEmpty, ClassConfig, ScopeInternal, LevelMedium, "cluster-name must not be empty", "Please set `cluster-name` in the config file or by `--cluster-name`.")
	ErrConfigAdminAddrEmpty   = New(codeConfigAdminAddrEmpty, ClassConfig, ScopeInternal, LevelMedium, "admin-addr must not be empty", "Please set `admin-addr` in the config file or by `--admin-addr`.")
	ErrConfigWorkDirEmpty     = New(codeConfigWorkDirEmpty, ClassConfig, ScopeInternal, LevelMedium, "work-dir must not be empty", "")
	ErrConfigInvalidTier      = New(codeConfigInvalidTier, ClassConfig, ScopeInternal, LevelMedium, "invalid tier %q for health worker %s", "Valid tiers are `A`, `B` and `C`.")
	ErrConfigUnknownWorker    = New(codeConfigUnknownWorker, ClassConfig, ScopeInternal, LevelMedium, "unknown health worker %s", "")
	ErrConfigRebalanceArgs    = New(codeConfigRebalanceArgs, ClassConfig, ScopeInternal, LevelMedium, "rebalance poll interval %s and max attempts %d must be positive", "")

	// PersistentStepState error
	ErrStepStateMissingKey = New(codeStepStateMissingKey, ClassStepState, ScopeInternal, LevelHigh, "key %s not found in step state %s", "A later step read a key that no earlier step recorded, the workflow steps were run out of order.")
	ErrStepStateLocked     = New(codeStepStateLocked, ClassStepState, ScopeOperator, LevelHigh, "work dir %s is owned by another run (pid %d)", "Wait for the other run to finish, only one run may use a work dir.")
	ErrStepStateLoad       = New(codeStepStateLoad, ClassStepState, ScopeInternal, LevelHigh, "load step state from %s", "")
	ErrStepStateSave       = New(codeStepStateSave, ClassStepState, ScopeInternal, LevelHigh, "save step state to %s", "")
	ErrStepStateDecode     = New(codeStepStateDecode, ClassStepState, ScopeInternal, LevelHigh, "decode step state key %s", "")
	ErrStepStateClosed     = New(codeStepStateClosed, ClassStepState, ScopeInternal, LevelMedium, "step state %s already closed", "")

	// Workflow error
	ErrWorkflowPreconditionViolation = New(codeWorkflowPreconditionViolation, ClassWorkflow, ScopeCluster, LevelHigh, "precondition of step %s violated: %s", "Nothing was changed by this step, resolve the condition and re-run the workflow.")
	ErrWorkflowMutationFailure       = New(codeWorkflowMutationFailure, ClassWorkflow, ScopeCluster, LevelHigh, "update of step %s failed", "Completed steps were rolled back, re-run the workflow after fixing the cause.")
	ErrWorkflowPostconditionMismatch = New(codeWorkflowPostconditionMismatch, ClassWorkflow, ScopeCluster, LevelHigh, "check of step %s failed after update", "Completed steps were rolled back, inspect the cluster before re-running the workflow.")
	ErrWorkflowRollbackFailure       = New(codeWorkflowRollbackFailure, ClassWorkflow, ScopeCluster, LevelHigh, "rollback of step %s failed, automation halted", "Manual intervention is required, inspect the step state in the work dir.")
	ErrWorkflowNotFound              = New(codeWorkflowNotFound, ClassWorkflow, ScopeInternal, LevelMedium, "workflow %s not registered", "")
	ErrWorkflowPhaseNotFound         = New(codeWorkflowPhaseNotFound, ClassWorkflow, ScopeInternal, LevelMedium, "phase %s of workflow %s not registered", "")
	ErrWorkflowDuplicated            = New(codeWorkflowDuplicated, ClassWorkflow, ScopeInternal, LevelHigh, "workflow %s registered twice", "")
	ErrWorkflowStepInit              = New(codeWorkflowStepInit, ClassWorkflow, ScopeInternal, LevelHigh, "init of step %s failed", "")
	ErrWorkflowStepBackup            = New(codeWorkflowStepBackup, ClassWorkflow, ScopeInternal, LevelHigh, "backup of step %s failed", "")
	ErrWorkflowEmpty                 = New(codeWorkflowEmpty, ClassWorkflow, ScopeInternal, LevelMedium, "workflow %s has no step", "")
	ErrWorkflowFatalState            = New(codeWorkflowFatalState, ClassWorkflow, ScopeOperator, LevelHigh, "work dir %s records a failed rollback of step %s", "Repair the cluster manually, then remove the `fatal` key from the step state.")

	// Cluster control API error
	ErrClusterRequestFail      = New(codeClusterRequestFail, ClassCluster, ScopeCluster, LevelHigh, "request %s %s", "")
	ErrClusterDecodeResponse   = New(codeClusterDecodeResponse, ClassCluster, ScopeCluster, LevelHigh, "decode response of %s", "")
	ErrClusterResourceNotFound = New(codeClusterResourceNotFound, ClassCluster, ScopeCluster, LevelMedium, "resource %s not found", "")
	ErrClusterCountElements    = New(codeClusterCountElements, ClassCluster, ScopeCluster, LevelHigh, "count elements of resource %s", "")
	ErrClusterInvalidRole      = New(codeClusterInvalidRole, ClassCluster, ScopeInternal, LevelMedium, "invalid node role %s", "")
	ErrClusterDBBadConn        = New(codeClusterDBBadConn, ClassCluster, ScopeCluster, LevelHigh, "count database bad connection", "Please check the `count-dsn` config and the network connection.")
	ErrClusterDBInvalidConn    = New(codeClusterDBInvalidConn, ClassCluster, ScopeCluster, LevelHigh, "count database invalid connection", "Please check the `count-dsn` config and the network connection.")
	ErrClusterDBDriverError    = New(codeClusterDBDriverError, ClassCluster, ScopeCluster, LevelHigh, "count database driver error", "")

	// Coordination store error
	ErrCoordinationGet          = New(codeCoordinationGet, ClassCoordination, ScopeCluster, LevelHigh, "get value of %s", "")
	ErrCoordinationPut          = New(codeCoordinationPut, ClassCoordination, ScopeCluster, LevelHigh, "put value of %s", "")
	ErrCoordinationChildren     = New(codeCoordinationChildren, ClassCoordination, ScopeCluster, LevelHigh, "list children of %s", "")
	ErrCoordinationDelete       = New(codeCoordinationDelete, ClassCoordination, ScopeCluster, LevelHigh, "delete %s", "")
	ErrCoordinationPathNotFound = New(codeCoordinationPathNotFound, ClassCoordination, ScopeCluster, LevelMedium, "path %s not found", "")
	ErrCoordinationInvalidPath  = New(codeCoordinationInvalidPath, ClassCoordination, ScopeInternal, LevelMedium, "invalid path %q, must be absolute", "")
	ErrCoordinationClient       = New(codeCoordinationClient, ClassCoordination, ScopeCluster, LevelHigh, "create coordination client for %v", "")

	// Service controller error
	ErrServiceCommandNotConfigured = New(codeServiceCommandNotConfigured, ClassService, ScopeInternal, LevelMedium, "command %s not configured", "Please set it in the `[service]` section of the config file.")
	ErrServiceCommandParse         = New(codeServiceCommandParse, ClassService, ScopeInternal, LevelMedium, "parse command %q", "")
	ErrServiceCommandFail          = New(codeServiceCommandFail, ClassService, ScopeCluster, LevelHigh, "command %q failed: %s", "")

	// Rebalance error
	ErrRebalanceTimeoutExceeded = New(codeRebalanceTimeoutExceeded, ClassRebalance, ScopeCluster, LevelHigh, "%d rebalance operations still outstanding after %d polls", "The rebalance may be partially applied, check the cluster before continuing.")
	ErrRebalanceTrigger         = New(codeRebalanceTrigger, ClassRebalance, ScopeCluster, LevelHigh, "trigger %s rebalance", "")
	ErrRebalanceQuery           = New(codeRebalanceQuery, ClassRebalance, ScopeCluster, LevelMedium, "query outstanding rebalance operations", "")

	// Maintenance error
	ErrMaintenanceWorkerFault       = New(codeMaintenanceWorkerFault, ClassMaintenance, ScopeCluster, LevelMedium, "health worker %s %s", "")
	ErrMaintenanceTopTierHalted     = New(codeMaintenanceTopTierHalted, ClassMaintenance, ScopeCluster, LevelHigh, "top tier health worker %s failed, lower tiers skipped", "Fix the top tier issue first, lower tier repairs rely on it.")
	ErrMaintenanceWorkerNotFound    = New(codeMaintenanceWorkerNotFound, ClassMaintenance, ScopeInternal, LevelMedium, "health worker %s not registered", "")
	ErrMaintenanceRepairUnsupported = New(codeMaintenanceRepairUnsupported, ClassMaintenance, ScopeCluster, LevelHigh, "health worker %s can not repair automatically", "")
	ErrMaintenanceNoWorker          = New(codeMaintenanceNoWorker, ClassMaintenance, ScopeInternal, LevelMedium, "no health worker scheduled", "")
	ErrMaintenanceClusterAbnormal   = New(codeMaintenanceClusterAbnormal, ClassMaintenance, ScopeCluster, LevelHigh, "%d health workers abnormal", "")
	ErrMaintenanceStatusListen      = New(codeMaintenanceStatusListen, ClassMaintenance, ScopeInternal, LevelHigh, "listen status address %s", "Please check `status-addr` is a free local address.")

	// Split workflow error
	ErrSplitActiveTraffic         = New(codeSplitActiveTraffic, ClassSplit, ScopeCluster, LevelHigh, "resource %s still serves %.1f read/write requests per second", "Stop the clients of the resource before splitting it.")
	ErrSplitCountMismatch         = New(codeSplitCountMismatch, ClassSplit, ScopeCluster, LevelHigh, "element count of target %s is %d, baseline of %s is %d", "The resource stays read-only, check the data migration and re-run.")
	ErrSplitInvalidPartitionCount = New(codeSplitInvalidPartitionCount, ClassSplit, ScopeOperator, LevelMedium, "invalid partition count %d", "")
	ErrSplitNoAliveNode           = New(codeSplitNoAliveNode, ClassSplit, ScopeCluster, LevelHigh, "no alive replica node to host target %s", "")

	// Restore workflow error
	ErrRestoreUnsafeCoordinationPath = New(codeRestoreUnsafeCoordinationPath, ClassRestore, ScopeOperator, LevelHigh, "refuse to delete coordination path %s: it must contain both module %s and marker %s", "Check `[coordination] root` in the config file.")
	ErrRestoreNotReadyAfterDwell     = New(codeRestoreNotReadyAfterDwell, ClassRestore, ScopeCluster, LevelHigh, "role %s is not running %s after recovery restart", "Re-run the restore workflow once the cluster is up.")

	// Upgrade workflow error
	ErrUpgradeClusterUnhealthy   = New(codeUpgradeClusterUnhealthy, ClassUpgrade, ScopeCluster, LevelHigh, "cluster has dead %s nodes %v", "Bring every node back before a rolling upgrade.")
	ErrUpgradePeerUnavailable    = New(codeUpgradePeerUnavailable, ClassUpgrade, ScopeCluster, LevelHigh, "can not stop %s %s while peers %v are not alive", "")
	ErrUpgradeNodeNotFound       = New(codeUpgradeNodeNotFound, ClassUpgrade, ScopeCluster, LevelMedium, "%s node %s not found in cluster", "")
	ErrUpgradeTargetVersionEmpty = New(codeUpgradeTargetVersionEmpty, ClassUpgrade, ScopeOperator, LevelMedium, "target version must be specified", "")
	ErrUpgradeVersionFail        = New(codeUpgradeVersionFail, ClassUpgrade, ScopeCluster, LevelHigh, "cluster version record: %s", "")
)
