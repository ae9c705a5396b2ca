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
	"encoding/json"
	"flag"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"

	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/service"
	"github.com/pingcap/clusterops/pkg/terror"
	"github.com/pingcap/clusterops/pkg/utils"
	"github.com/pingcap/clusterops/rebalance"
)

const (
	defaultWorkDir        = "clusterops-work"
	defaultLogFile        = "clusterops.log"
	defaultProductMarker  = "kvcluster"
	defaultRecoveryDwell  = 30 * time.Second
	defaultHealthInterval = time.Minute
)

// CoordinationConfig locates the coordination tree of the cluster.
type CoordinationConfig struct {
	Endpoints []string `toml:"endpoints" json:"endpoints"`
	// Root is the tree of the cluster module, `/<marker>/<cluster-name>` by default.
	Root string `toml:"root" json:"root"`
	// Marker is the product segment every deletable root must contain.
	Marker string `toml:"marker" json:"marker"`
}

// RestoreConfig is the config of the restore workflow.
type RestoreConfig struct {
	RecoveryDwell utils.Duration `toml:"recovery-dwell" json:"recovery-dwell"`
}

// HealthConfig is the config of the maintenance scheduler.
type HealthConfig struct {
	// Tiers overrides the tier of a health worker by name.
	Tiers    map[string]string `toml:"tiers" json:"tiers"`
	Interval utils.Duration    `toml:"interval" json:"interval"`
}

// NewConfig creates a new base config for clusterops.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.FlagSet = flag.NewFlagSet("clusterops", flag.ContinueOnError)
	fs := cfg.FlagSet

	fs.BoolVar(&cfg.printVersion, "V", false, "prints version and exit")
	fs.StringVar(&cfg.ConfigFile, "config", "", "path to config file")
	fs.StringVar(&cfg.ClusterName, "cluster-name", "", "identifier of the cluster module")
	fs.StringVar(&cfg.AdminAddr, "admin-addr", "", "admin API address of the cluster")
	fs.StringVar(&cfg.CountDSN, "count-dsn", "", "optional MySQL DSN used to count elements")
	fs.Var(&endpointsValue{cfg: cfg}, "coordination-endpoints", "comma separated etcd endpoints of the coordination store")
	fs.StringVar(&cfg.WorkDir, "work-dir", "", "base directory of the per-run step state")
	fs.StringVar(&cfg.StatusAddr, "status-addr", "", "address serving /status and /metrics while watching")
	fs.StringVar(&cfg.LogLevel, "L", "", "log level: debug, info, warn, error, fatal")
	fs.StringVar(&cfg.LogFile, "log-file", "", "log file path")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "log format: text or json")

	return cfg
}

type endpointsValue struct {
	cfg *Config
}

func (v *endpointsValue) String() string {
	if v.cfg == nil {
		return ""
	}
	return strings.Join(v.cfg.Coordination.Endpoints, ",")
}

func (v *endpointsValue) Set(s string) error {
	v.cfg.Coordination.Endpoints = nil
	for _, e := range strings.Split(s, ",") {
		if e = strings.TrimSpace(e); e != "" {
			v.cfg.Coordination.Endpoints = append(v.cfg.Coordination.Endpoints, e)
		}
	}
	return nil
}

// Config is the configuration.
type Config struct {
	*flag.FlagSet `toml:"-" json:"-"`

	ClusterName  string             `toml:"cluster-name" json:"cluster-name"`
	AdminAddr    string             `toml:"admin-addr" json:"admin-addr"`
	CountDSN     string             `toml:"count-dsn" json:"count-dsn"`
	Coordination CoordinationConfig `toml:"coordination" json:"coordination"`
	Service      service.Config     `toml:"service" json:"service"`
	WorkDir      string             `toml:"work-dir" json:"work-dir"`
	Rebalance    rebalance.Config   `toml:"rebalance" json:"rebalance"`
	Restore      RestoreConfig      `toml:"restore" json:"restore"`
	Health       HealthConfig       `toml:"health" json:"health"`
	StatusAddr   string             `toml:"status-addr" json:"status-addr"`

	LogLevel  string `toml:"log-level" json:"log-level"`
	LogFile   string `toml:"log-file" json:"log-file"`
	LogFormat string `toml:"log-format" json:"log-format"`

	ConfigFile string `toml:"-" json:"config-file"`

	printVersion bool
}

func (c *Config) String() string {
	clone := *c
	if clone.CountDSN != "" {
		clone.CountDSN = utils.HideDSNPassword(clone.CountDSN)
	}
	cfg, err := json.Marshal(clone)
	if err != nil {
		fmt.Printf("marshal config to json error %v", err)
	}
	return string(cfg)
}

// Parse parses flag definitions from the argument list.
func (c *Config) Parse(arguments []string) error {
	// Parse first to get config file.
	err := c.FlagSet.Parse(arguments)
	if err != nil {
		return terror.ErrConfigParseFlagSet.Delegate(err)
	}

	if c.printVersion {
		fmt.Println(utils.GetRawInfo())
		return flag.ErrHelp
	}

	// Load config file if specified.
	if c.ConfigFile != "" {
		err = c.configFromFile(c.ConfigFile)
		if err != nil {
			return err
		}
	}

	// Parse again to replace with command line options.
	err = c.FlagSet.Parse(arguments)
	if err != nil {
		return terror.ErrConfigParseFlagSet.Delegate(err)
	}

	if len(c.FlagSet.Args()) != 0 {
		return terror.ErrConfigInvalidFlag.Generate(c.FlagSet.Arg(0))
	}

	return c.adjust()
}

// configFromFile loads config from file.
func (c *Config) configFromFile(fpath string) error {
	metaData, err := toml.DecodeFile(fpath, c)
	if err != nil {
		return terror.ErrConfigTomlTransform.Delegate(err, "decode config file")
	}
	if undecoded := metaData.Undecoded(); len(undecoded) > 0 {
		items := make([]string, 0, len(undecoded))
		for _, item := range undecoded {
			items = append(items, item.String())
		}
		return terror.ErrConfigTomlTransform.Generatef("config file has unknown items %s", strings.Join(items, ","))
	}
	return nil
}

// adjust adjusts configs.
func (c *Config) adjust() error {
	if c.WorkDir == "" {
		c.WorkDir = defaultWorkDir
	}
	// reports go to stdout, keep the log out of them.
	if c.LogFile == "" {
		c.LogFile = defaultLogFile
	}
	if c.Coordination.Marker == "" {
		c.Coordination.Marker = defaultProductMarker
	}
	if c.Coordination.Root == "" && c.ClusterName != "" {
		c.Coordination.Root = path.Join("/", c.Coordination.Marker, c.ClusterName)
	}
	if c.Restore.RecoveryDwell.Duration <= 0 {
		c.Restore.RecoveryDwell = utils.NewDuration(defaultRecoveryDwell)
	}
	if c.Health.Interval.Duration <= 0 {
		c.Health.Interval = utils.NewDuration(defaultHealthInterval)
	}
	c.Service.Adjust()
	return errors.Trace(c.Rebalance.Adjust())
}

// Validate checks the settings every workflow needs.
func (c *Config) Validate() error {
	if c.ClusterName == "" {
		return terror.ErrConfigClusterNameEmpty.Generate()
	}
	if c.AdminAddr == "" {
		return terror.ErrConfigAdminAddrEmpty.Generate()
	}
	if c.WorkDir == "" {
		return terror.ErrConfigWorkDirEmpty.Generate()
	}
	return nil
}

// LogConfig returns the logger config.
func (c *Config) LogConfig() *log.Config {
	return &log.Config{
		Level:  c.LogLevel,
		File:   c.LogFile,
		Format: c.LogFormat,
	}
}
