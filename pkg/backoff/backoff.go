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

package backoff

import (
	"math"
	"time"

	"github.com/pingcap/clusterops/pkg/terror"
)

// Backoff is the exponential wait between retries of a collaborator call.
// The n-th Duration is Min * Factor^n, capped by Max. Backoff is not thread-safe.
type Backoff struct {
	Factor   float64
	Min, Max time.Duration

	attempt int
}

// NewBackoff creates a new backoff instance.
func NewBackoff(factor float64, min, max time.Duration) (*Backoff, error) {
	if factor <= 0 {
		return nil, terror.ErrBackoffArgsNotValid.Generate("factor", factor)
	}
	if min < 0 {
		return nil, terror.ErrBackoffArgsNotValid.Generate("min", min)
	}
	if max < 0 || max < min {
		return nil, terror.ErrBackoffArgsNotValid.Generate("max", max)
	}
	return &Backoff{Factor: factor, Min: min, Max: max}, nil
}

// Duration returns the wait before the next retry.
func (b *Backoff) Duration() time.Duration {
	durf := float64(b.Min) * math.Pow(b.Factor, float64(b.attempt))
	// float64(math.MaxInt64) rounds up to 2^63, which overflows time.Duration.
	if durf >= math.MaxInt64 || time.Duration(durf) >= b.Max {
		return b.Max
	}
	b.attempt++
	return time.Duration(durf)
}

// Reset restarts from Min.
func (b *Backoff) Reset() {
	b.attempt = 0
}
