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

// Package maintenance runs health workers over the cluster by priority tier.
//
// Every worker checks one condition and repairs it when it is abnormal.
// A failure in the highest tier stops the pass, lower tiers assume what it protects.
package maintenance

import (
	"context"
	"strings"

	"github.com/pingcap/clusterops/pkg/terror"
)

// HealthWorker checks and repairs a single condition of the cluster.
type HealthWorker interface {
	Name() string
	IsStateAbnormal(ctx context.Context) (bool, error)
	// Diagnose collects what Repair needs and logs it.
	Diagnose(ctx context.Context) error
	Repair(ctx context.Context) error
	// SelfRemedy reports whether the cluster is expected to recover without Repair.
	// It is reported only, Repair is always called.
	SelfRemedy() bool
}

// Tier is the priority of a worker, `A` is the highest.
type Tier string

// Built-in tiers.
const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// ParseTier parses a single letter tier, case insensitive.
func ParseTier(s, worker string) (Tier, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	if len(t) != 1 || t[0] < 'A' || t[0] > 'Z' {
		return "", terror.ErrConfigInvalidTier.Generate(s, worker)
	}
	return Tier(t), nil
}

// Higher returns whether t runs before other.
func (t Tier) Higher(other Tier) bool {
	return t < other
}

// Result is the outcome of a worker in a pass.
type Result string

// Worker results.
const (
	ResultPass     Result = "pass"
	ResultRepaired Result = "repaired"
	ResultAbnormal Result = "abnormal"
	ResultFault    Result = "fault"
	ResultSkipped  Result = "skipped"
)
