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

package common

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/pingcap/clusterops/maintenance"
	"github.com/pingcap/clusterops/pkg/cluster"
	"github.com/pingcap/clusterops/pkg/coordination"
	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/service"
	"github.com/pingcap/clusterops/rebalance"
	"github.com/pingcap/clusterops/workflow"
)

// Collaborators are the external systems every command drives.
type Collaborators struct {
	Cluster      cluster.Control
	Coordination coordination.Store
	Service      service.Controller

	closers []io.Closer
}

// NewCollaborators connects to the collaborators configured in cfg.
func NewCollaborators(cfg *Config) (*Collaborators, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Collaborators{Service: service.NewCommandController(cfg.Service)}

	var counter cluster.Counter
	if cfg.CountDSN != "" {
		sqlCounter, err := cluster.NewSQLCounter(cfg.CountDSN)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, sqlCounter)
		counter = sqlCounter
	}
	c.Cluster = cluster.NewHTTPControl(cfg.AdminAddr, counter)

	store, err := coordination.NewEtcdStore(cfg.Coordination.Endpoints)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.closers = append(c.closers, store)
	c.Coordination = store
	return c, nil
}

// Close closes the connections.
func (c *Collaborators) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			log.L().Warn("fail to close collaborator", log.ShortError(err))
		}
	}
	c.closers = nil
}

// WorkflowDeps returns the dependencies of a workflow run.
func (c *Collaborators) WorkflowDeps(cfg *Config) workflow.Deps {
	return workflow.Deps{
		Cluster:      c.Cluster,
		Coordination: c.Coordination,
		Service:      c.Service,
		Rebalance:    rebalance.NewPolicy(c.Cluster, cfg.Rebalance),
		Settings: workflow.Settings{
			CoordinationRoot: cfg.Coordination.Root,
			ProductMarker:    cfg.Coordination.Marker,
			RecoveryDwell:    cfg.Restore.RecoveryDwell.Duration,
		},
	}
}

// MaintenanceDeps returns the dependencies of the health workers.
func (c *Collaborators) MaintenanceDeps(cfg *Config) *maintenance.Deps {
	return &maintenance.Deps{
		Cluster:          c.Cluster,
		Coordination:     c.Coordination,
		Service:          c.Service,
		Rebalance:        rebalance.NewPolicy(c.Cluster, cfg.Rebalance),
		CoordinationRoot: cfg.Coordination.Root,
	}
}

// RunOptions returns the options of a workflow run over the cluster of cfg.
func RunOptions(cfg *Config) workflow.RunOptions {
	opts := workflow.RunOptions{
		Module:  cfg.ClusterName,
		BaseDir: cfg.WorkDir,
		Now:     time.Now(),
	}
	log.L().Debug("run options", zap.String("module", opts.Module), zap.String("work dir", opts.BaseDir))
	return opts
}
