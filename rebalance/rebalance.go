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

package rebalance

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/failpoint"
	"go.uber.org/zap"

	"github.com/pingcap/clusterops/metrics"
	"github.com/pingcap/clusterops/pkg/cluster"
	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/terror"
	"github.com/pingcap/clusterops/pkg/utils"
)

// Decision is the rebalance strategy chosen for a cluster size.
type Decision int

// Decision list.
const (
	NoOp Decision = iota
	NonStandardTwoNode
	StandardPoll
)

func (d Decision) String() string {
	switch d {
	case NoOp:
		return "no-op"
	case NonStandardTwoNode:
		return "two-node"
	case StandardPoll:
		return "standard-poll"
	}
	return "unknown"
}

// Decide picks the rebalance strategy from the count of alive replica nodes.
func Decide(nodeCount int) Decision {
	switch {
	case nodeCount <= 1:
		return NoOp
	case nodeCount == 2:
		return NonStandardTwoNode
	default:
		return StandardPoll
	}
}

// Default values of Config.
var (
	DefaultPollInterval = 10 * time.Second
	DefaultMaxAttempts  = 360
)

// Config is the polling discipline of the standard rebalance.
type Config struct {
	PollInterval utils.Duration `toml:"poll-interval" json:"poll-interval"`
	MaxAttempts  int            `toml:"max-attempts" json:"max-attempts"`
}

// Adjust sets default values and validates the config.
func (c *Config) Adjust() error {
	if c.PollInterval.Duration == 0 {
		c.PollInterval = utils.NewDuration(DefaultPollInterval)
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.PollInterval.Duration < 0 || c.MaxAttempts < 0 {
		return terror.ErrConfigRebalanceArgs.Generate(c.PollInterval.Duration, c.MaxAttempts)
	}
	return nil
}

// Policy runs rebalances against a cluster.
type Policy struct {
	ctl    cluster.Control
	cfg    Config
	clock  clock.Clock
	logger log.Logger
}

// NewPolicy creates a Policy, cfg must be adjusted.
func NewPolicy(ctl cluster.Control, cfg Config) *Policy {
	return NewPolicyWithClock(ctl, cfg, clock.New())
}

// NewPolicyWithClock creates a Policy waiting on clk.
func NewPolicyWithClock(ctl cluster.Control, cfg Config, clk clock.Clock) *Policy {
	return &Policy{
		ctl:    ctl,
		cfg:    cfg,
		clock:  clk,
		logger: log.With(zap.String("component", "rebalance policy")),
	}
}

// Execute triggers the rebalance decided for nodeCount and, for the standard one, waits until it is done.
func (p *Policy) Execute(ctx context.Context, nodeCount int) (Decision, error) {
	decision := Decide(nodeCount)
	p.logger.Info("execute rebalance", zap.Int("node count", nodeCount), zap.Stringer("decision", decision))

	switch decision {
	case NoOp:
		return decision, nil
	case NonStandardTwoNode:
		if err := p.ctl.TriggerRebalance(ctx, cluster.StrategyTwoNode); err != nil {
			return decision, terror.ErrRebalanceTrigger.Delegate(err, cluster.StrategyTwoNode)
		}
		return decision, nil
	default:
		if err := p.ctl.TriggerRebalance(ctx, cluster.StrategyStandard); err != nil {
			return decision, terror.ErrRebalanceTrigger.Delegate(err, cluster.StrategyStandard)
		}
		return decision, p.WaitBalanced(ctx)
	}
}

// WaitBalanced polls the outstanding rebalance operations until none is left,
// at most MaxAttempts times with PollInterval between two polls.
func (p *Policy) WaitBalanced(ctx context.Context) error {
	interval := p.cfg.PollInterval.Duration
	failpoint.Inject("RebalancePollInterval", func(val failpoint.Value) {
		interval = time.Duration(val.(int)) * time.Millisecond
		p.logger.Info("rebalance poll interval changed by failpoint", zap.Duration("interval", interval))
	})

	start := p.clock.Now()
	outstanding := 0
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		var err error
		outstanding, err = p.ctl.OutstandingRebalanceOps(ctx)
		if err != nil {
			metrics.ObserveRebalanceWait("error", p.clock.Since(start))
			return terror.ErrRebalanceQuery.Delegate(err)
		}
		metrics.ObserveRebalancePoll(outstanding)
		if outstanding == 0 {
			p.logger.Info("cluster balanced", zap.Int("polls", attempt), zap.Duration("cost", p.clock.Since(start)))
			metrics.ObserveRebalanceWait("balanced", p.clock.Since(start))
			return nil
		}
		p.logger.Debug("rebalance operations outstanding", zap.Int("outstanding", outstanding), zap.Int("attempt", attempt))
		if attempt == p.cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(interval):
		}
	}

	metrics.ObserveRebalanceWait("timeout", p.clock.Since(start))
	return terror.ErrRebalanceTimeoutExceeded.Generate(outstanding, p.cfg.MaxAttempts)
}
