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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pingcap/clusterops/ctl/common"
	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/utils"
	"github.com/pingcap/clusterops/workflow"

	// registers the workflows.
	_ "github.com/pingcap/clusterops/workflow/restore"
	_ "github.com/pingcap/clusterops/workflow/split"
	_ "github.com/pingcap/clusterops/workflow/upgrade"
)

// newCollaborators connects to the cluster, replaced in tests.
var newCollaborators = common.NewCollaborators

// env is what every sub command runs with.
type env struct {
	cfg      *common.Config
	features []string
}

// NewRootCmd creates the root command with every sub command.
func NewRootCmd(cfg *common.Config) *cobra.Command {
	e := &env{cfg: cfg}
	rootCmd := &cobra.Command{
		Use:           "clusterops",
		Short:         "Operations of a distributed key-value cluster",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringSliceVar(&e.features, "feature", nil, "feature flags enabled for the run")
	rootCmd.AddCommand(
		newHealthCmd(e),
		newSplitCmd(e),
		newRestoreCmd(e),
		newUpgradeCmd(e),
		NewListCmd(),
		NewVersionCmd(),
	)
	return rootCmd
}

// CommandNames returns the names of the sub commands.
func CommandNames() []string {
	cmds := NewRootCmd(common.NewConfig()).Commands()
	names := make([]string, 0, len(cmds)+2)
	for _, cmd := range cmds {
		names = append(names, cmd.Name())
	}
	// added by cobra on Execute.
	return append(names, "help", "completion")
}

// Start runs a command.
func Start(ctx context.Context, cfg *common.Config, args []string) error {
	rootCmd := NewRootCmd(cfg)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	switch {
	case err == nil:
	case utils.IsContextCanceledError(err):
		log.L().Info("command canceled")
		fmt.Fprintln(rootCmd.ErrOrStderr(), "canceled")
	default:
		log.L().Error("command failed", log.ShortError(err))
		fmt.Fprintln(rootCmd.ErrOrStderr(), err)
	}
	return err
}

func (e *env) runOptions() workflow.RunOptions {
	opts := common.RunOptions(e.cfg)
	if len(e.features) > 0 {
		opts.Features = make(map[string]bool, len(e.features))
		for _, f := range e.features {
			opts.Features[f] = true
		}
	}
	return opts
}

// runWorkflow runs a phase of a registered workflow and prints its report.
func (e *env) runWorkflow(cmd *cobra.Command, name, phase string, opts workflow.RunOptions) error {
	collab, err := newCollaborators(e.cfg)
	if err != nil {
		return err
	}
	defer collab.Close()

	report, err := workflow.Run(cmd.Context(), name, phase, opts, collab.WorkflowDeps(e.cfg))
	if report != nil {
		common.PrettyPrint(cmd.OutOrStdout(), report)
	}
	return err
}
