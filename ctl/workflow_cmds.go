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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pingcap/clusterops/ctl/common"
	"github.com/pingcap/clusterops/pkg/utils"
	"github.com/pingcap/clusterops/workflow"
	"github.com/pingcap/clusterops/workflow/restore"
	"github.com/pingcap/clusterops/workflow/split"
	"github.com/pingcap/clusterops/workflow/upgrade"
)

// newSplitCmd creates a Split command.
func newSplitCmd(e *env) *cobra.Command {
	var (
		resource   string
		partitions int
		phase      string
	)
	cmd := &cobra.Command{
		Use:   "split --table <name> --partitions <n> [--phase prepare|finish]",
		Short: "Split a resource into a new one with more partitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := e.runOptions()
			opts.Resource = resource
			opts.PartitionCount = partitions
			return e.runWorkflow(cmd, split.Name, phase, opts)
		},
	}
	cmd.Flags().StringVar(&resource, "table", "", "table to split")
	cmd.Flags().IntVar(&partitions, "partitions", 0, "partition count of the new resource")
	cmd.Flags().StringVar(&phase, "phase", split.PhasePrepare, "phase to run: prepare or finish")
	return cmd
}

// newRestoreCmd creates a Restore command.
func newRestoreCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Rebuild the coordination tree of the cluster and restart it in recovery mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.runWorkflow(cmd, restore.Name, "", e.runOptions())
		},
	}
}

// newUpgradeCmd creates an Upgrade command.
func newUpgradeCmd(e *env) *cobra.Command {
	var (
		version string
		host    string
	)
	cmd := &cobra.Command{
		Use:   "upgrade --version <version> [--host <host>]",
		Short: "Rolling upgrade the servers of the cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := e.runOptions()
			opts.TargetVersion = version
			opts.Host = host
			return e.runWorkflow(cmd, upgrade.Name, "", opts)
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "target version of the servers")
	cmd.Flags().StringVar(&host, "host", "", "only upgrade the server on this host or address")
	return cmd
}

// NewListCmd creates a List command.
func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the workflows and their phases",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range workflow.Names() {
				def, err := workflow.Lookup(name)
				if err != nil {
					continue
				}
				common.PrintLines(cmd.OutOrStdout(), "%s\t%s", name, strings.Join(def.PhaseNames(), ","))
			}
		},
	}
}

// NewVersionCmd creates a Version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of clusterops",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), utils.GetRawInfo())
		},
	}
}
