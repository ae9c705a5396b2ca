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

package ctl

import (
	"net"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pingcap/clusterops/ctl/common"
	"github.com/pingcap/clusterops/maintenance"
	"github.com/pingcap/clusterops/metrics"
	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/terror"
)

// newHealthCmd creates a Health command.
func newHealthCmd(e *env) *cobra.Command {
	var (
		full     bool
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health [--full] [--watch [--interval <duration>]]",
		Short: "Check the health of the cluster and repair what can be repaired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := e.cfg
			collab, err := newCollaborators(cfg)
			if err != nil {
				return err
			}
			defer collab.Close()

			s, err := maintenance.NewDefaultScheduler(collab.MaintenanceDeps(cfg), cfg.Health.Tiers)
			if err != nil {
				return err
			}
			if !watch {
				report := s.RunPass(cmd.Context(), full)
				common.PrettyPrint(cmd.OutOrStdout(), report)
				return reportErr(report)
			}

			if interval <= 0 {
				interval = cfg.Health.Interval.Duration
			}
			if cfg.StatusAddr != "" {
				lis, err := net.Listen("tcp", cfg.StatusAddr)
				if err != nil {
					return terror.ErrMaintenanceStatusListen.Delegate(err, cfg.StatusAddr)
				}
				srv := metrics.NewStatusServer()
				go metrics.InitStatus(srv, lis)
				defer srv.Close()
				log.L().Info("status server started", zap.String("address", cfg.StatusAddr))
			}
			return s.Watch(cmd.Context(), interval, full, func(report *maintenance.Report) {
				common.PrettyPrint(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "run every tier instead of the highest only")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running passes until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "interval between passes while watching")
	return cmd
}

func reportErr(report *maintenance.Report) error {
	if err := report.Err(); err != nil {
		return err
	}
	if !report.Abnormal() {
		return nil
	}
	abnormal := 0
	for _, w := range report.Workers {
		if w.Result == maintenance.ResultAbnormal || w.Result == maintenance.ResultFault {
			abnormal++
		}
	}
	return terror.ErrMaintenanceClusterAbnormal.Generate(abnormal)
}
