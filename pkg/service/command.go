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

package service

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/pingcap/clusterops/pkg/cluster"
	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/terror"
	"github.com/pingcap/clusterops/pkg/utils"
)

const (
	defaultCommandTimeout = 5 * time.Minute
	outputLogLimit        = 256
)

// Config holds the command templates of a CommandController.
// `{role}`, `{host}`, `{version}` and `{enabled}` are replaced after the template is split into words,
// so a substituted value never becomes more than one argument.
type Config struct {
	Start       string `toml:"start" json:"start"`
	Stop        string `toml:"stop" json:"stop"`
	Status      string `toml:"status" json:"status"`
	Version     string `toml:"version" json:"version"`
	Switch      string `toml:"switch" json:"switch"`
	Recovery    string `toml:"recovery" json:"recovery"`
	TimeoutSecs int    `toml:"timeout-seconds" json:"timeout-seconds"`
}

// Adjust sets default values.
func (c *Config) Adjust() {
	if c.TimeoutSecs <= 0 {
		c.TimeoutSecs = int(defaultCommandTimeout / time.Second)
	}
}

// CommandController implements Controller by running configured commands.
type CommandController struct {
	cfg    Config
	logger log.Logger
	// run executes a command and returns its stdout, replaced in tests.
	run func(ctx context.Context, args []string) (string, error)
}

// NewCommandController creates a CommandController.
func NewCommandController(cfg Config) *CommandController {
	cfg.Adjust()
	return &CommandController{
		cfg:    cfg,
		logger: log.With(zap.String("component", "service controller")),
		run:    runCommand,
	}
}

func runCommand(ctx context.Context, args []string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), errors.Annotate(err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// render splits tmpl into words and substitutes the placeholders.
func render(name, tmpl string, vars map[string]string) ([]string, error) {
	if strings.TrimSpace(tmpl) == "" {
		return nil, terror.ErrServiceCommandNotConfigured.Generate(name)
	}
	parser := shellwords.NewParser()
	parser.ParseEnv = false
	parser.ParseBacktick = false
	words, err := parser.Parse(tmpl)
	if err != nil {
		return nil, terror.ErrServiceCommandParse.Delegate(err, tmpl)
	}
	if len(words) == 0 {
		return nil, terror.ErrServiceCommandNotConfigured.Generate(name)
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	replacer := strings.NewReplacer(pairs...)
	for i, w := range words {
		words[i] = replacer.Replace(w)
	}
	return words, nil
}

func (cc *CommandController) exec(ctx context.Context, name, tmpl string, vars map[string]string) (string, error) {
	args, err := render(name, tmpl, vars)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cc.cfg.TimeoutSecs)*time.Second)
	defer cancel()

	start := time.Now()
	out, err := cc.run(ctx, args)
	cc.logger.Info("run service command", zap.String("command", name), zap.Strings("args", args),
		zap.String("output", utils.TruncateOutput(out, outputLogLimit)),
		zap.Duration("cost", time.Since(start)), log.ShortError(err))
	if err != nil {
		return out, terror.ErrServiceCommandFail.Delegate(err, strings.Join(args, " "), name)
	}
	return out, nil
}

func vars(role cluster.Role, host string) map[string]string {
	return map[string]string{"role": string(role), "host": host}
}

// Start implements Controller.Start.
func (cc *CommandController) Start(ctx context.Context, role cluster.Role, host string) error {
	_, err := cc.exec(ctx, "start", cc.cfg.Start, vars(role, host))
	return err
}

// Stop implements Controller.Stop.
func (cc *CommandController) Stop(ctx context.Context, role cluster.Role, host string) error {
	_, err := cc.exec(ctx, "stop", cc.cfg.Stop, vars(role, host))
	return err
}

// IsRunning implements Controller.IsRunning, a non-zero exit of the status command means not running.
func (cc *CommandController) IsRunning(ctx context.Context, role cluster.Role, host string) (bool, error) {
	_, err := cc.exec(ctx, "status", cc.cfg.Status, vars(role, host))
	if err == nil {
		return true, nil
	}
	if _, ok := errors.Cause(err).(*exec.ExitError); ok {
		return false, nil
	}
	return false, err
}

// Version implements Controller.Version.
func (cc *CommandController) Version(ctx context.Context, role cluster.Role, host string) (string, error) {
	out, err := cc.exec(ctx, "version", cc.cfg.Version, vars(role, host))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SwitchVersion implements Controller.SwitchVersion.
func (cc *CommandController) SwitchVersion(ctx context.Context, role cluster.Role, host, version string) error {
	v := vars(role, host)
	v["version"] = version
	_, err := cc.exec(ctx, "switch", cc.cfg.Switch, v)
	return err
}

// SetRecoveryMode implements Controller.SetRecoveryMode.
func (cc *CommandController) SetRecoveryMode(ctx context.Context, enabled bool) error {
	_, err := cc.exec(ctx, "recovery", cc.cfg.Recovery, map[string]string{
		"role":    string(cluster.RoleMeta),
		"enabled": strconv.FormatBool(enabled),
	})
	return err
}
