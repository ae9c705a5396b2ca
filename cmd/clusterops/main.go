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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/pingcap/clusterops/ctl"
	"github.com/pingcap/clusterops/ctl/common"
	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/utils"
)

func main() {
	cfg := common.NewConfig()
	args := os.Args[1:]
	globalArgs, cmdArgs := splitArgs(args, ctl.CommandNames())

	err := cfg.Parse(globalArgs)
	switch errors.Cause(err) {
	case nil:
	case flag.ErrHelp:
		os.Exit(0)
	default:
		fmt.Printf("parse cmd flags err: %s\n", err)
		os.Exit(2)
	}

	// reports go to stdout, so the log goes to a file.
	err = log.InitLogger(cfg.LogConfig())
	if err != nil {
		fmt.Printf("init logger error %v\n", errors.ErrorStack(err))
		os.Exit(2)
	}
	utils.PrintInfo("clusterops", func() {
		log.L().Info("", zap.Stringer("clusterops config", cfg))
	})

	ctx, cancel := context.WithCancel(context.Background())
	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		sig := <-sc
		log.L().Info("got signal to exit", zap.Stringer("signal", sig))
		cancel()
	}()

	code := 0
	if err = ctl.Start(ctx, cfg, cmdArgs); err != nil {
		code = 1
	}
	cancel()

	syncErr := log.L().Sync()
	if syncErr != nil {
		fmt.Fprintln(os.Stderr, "sync log failed", syncErr)
	}
	os.Exit(code)
}

// splitArgs splits the global flags from the command and its flags at the first command name.
func splitArgs(args, commands []string) (globalArgs, cmdArgs []string) {
	for i, arg := range args {
		for _, cmd := range commands {
			if strings.EqualFold(arg, cmd) {
				return args[:i], args[i:]
			}
		}
	}
	return args, nil
}
