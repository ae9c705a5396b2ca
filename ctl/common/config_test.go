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
	"bytes"
	"flag"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/pingcap/check"
	"github.com/pingcap/errors"

	"github.com/pingcap/clusterops/pkg/terror"
)

func TestSuite(t *testing.T) {
	TestingT(t)
}

type testConfigSuite struct{}

var _ = Suite(&testConfigSuite{})

const configFile = `
cluster-name = "kv1"
admin-addr = "http://10.0.1.1:8091"
count-dsn = "ops:secret@tcp(10.0.1.1:3306)/"
work-dir = "/var/lib/clusterops"

[coordination]
endpoints = ["10.0.1.1:2379", "10.0.1.2:2379"]

[service]
start = "systemctl start {role}@{address}"
stop = "systemctl stop {role}@{address}"

[rebalance]
poll-interval = "5s"
max-attempts = 10

[restore]
recovery-dwell = "1m"

[health]
interval = "30s"
[health.tiers]
rebalance-backlog = "B"
`

func writeConfig(c *C, content string) string {
	fpath := filepath.Join(c.MkDir(), "clusterops.toml")
	c.Assert(ioutil.WriteFile(fpath, []byte(content), 0o644), IsNil)
	return fpath
}

func (t *testConfigSuite) TestDefaults(c *C) {
	cfg := NewConfig()
	c.Assert(cfg.Parse([]string{"-cluster-name", "kv1", "-admin-addr", "10.0.1.1:8091"}), IsNil)
	c.Assert(cfg.WorkDir, Equals, defaultWorkDir)
	c.Assert(cfg.LogFile, Equals, defaultLogFile)
	c.Assert(cfg.Coordination.Marker, Equals, defaultProductMarker)
	c.Assert(cfg.Coordination.Root, Equals, "/kvcluster/kv1")
	c.Assert(cfg.Restore.RecoveryDwell.Duration, Equals, defaultRecoveryDwell)
	c.Assert(cfg.Health.Interval.Duration, Equals, defaultHealthInterval)
	c.Assert(cfg.Rebalance.MaxAttempts > 0, IsTrue)
	c.Assert(cfg.Service.TimeoutSecs > 0, IsTrue)
	c.Assert(cfg.Validate(), IsNil)

	lc := cfg.LogConfig()
	c.Assert(lc.File, Equals, defaultLogFile)
}

func (t *testConfigSuite) TestConfigFile(c *C) {
	fpath := writeConfig(c, configFile)
	cfg := NewConfig()
	// flags win over the file.
	c.Assert(cfg.Parse([]string{"-config", fpath, "-work-dir", "/tmp/ops", "-coordination-endpoints", "a:2379, b:2379"}), IsNil)
	c.Assert(cfg.ClusterName, Equals, "kv1")
	c.Assert(cfg.WorkDir, Equals, "/tmp/ops")
	c.Assert(cfg.Coordination.Endpoints, DeepEquals, []string{"a:2379", "b:2379"})
	c.Assert(cfg.Coordination.Root, Equals, "/kvcluster/kv1")
	c.Assert(cfg.Service.Start, Equals, "systemctl start {role}@{address}")
	c.Assert(cfg.Rebalance.PollInterval.Duration, Equals, 5*time.Second)
	c.Assert(cfg.Rebalance.MaxAttempts, Equals, 10)
	c.Assert(cfg.Restore.RecoveryDwell.Duration, Equals, time.Minute)
	c.Assert(cfg.Health.Interval.Duration, Equals, 30*time.Second)
	c.Assert(cfg.Health.Tiers, DeepEquals, map[string]string{"rebalance-backlog": "B"})

	s := cfg.String()
	c.Assert(strings.Contains(s, "secret"), IsFalse)
	c.Assert(strings.Contains(s, "******"), IsTrue)
	// String does not touch the config.
	c.Assert(cfg.CountDSN, Equals, "ops:secret@tcp(10.0.1.1:3306)/")
}

func (t *testConfigSuite) TestInvalidConfig(c *C) {
	cfg := NewConfig()
	err := cfg.Parse([]string{"-config", writeConfig(c, "unknown-item = 1\n"+configFile)})
	c.Assert(terror.ErrConfigTomlTransform.Equal(err), IsTrue)
	c.Assert(err, ErrorMatches, ".*unknown-item.*")

	cfg = NewConfig()
	err = cfg.Parse([]string{"-config", writeConfig(c, "cluster-name = ")})
	c.Assert(terror.ErrConfigTomlTransform.Equal(err), IsTrue)

	cfg = NewConfig()
	err = cfg.Parse([]string{"-cluster-name", "kv1", "upgrade"})
	c.Assert(terror.ErrConfigInvalidFlag.Equal(err), IsTrue)

	cfg = NewConfig()
	cfg.SetOutput(&bytes.Buffer{})
	err = cfg.Parse([]string{"-no-such-flag"})
	c.Assert(terror.ErrConfigParseFlagSet.Equal(err), IsTrue)

	cfg = NewConfig()
	cfg.SetOutput(&bytes.Buffer{})
	err = cfg.Parse([]string{"-h"})
	c.Assert(errors.Cause(err), Equals, flag.ErrHelp)

	cfg = NewConfig()
	err = cfg.Parse([]string{"-config", writeConfig(c, "[rebalance]\nmax-attempts = -1\n")})
	c.Assert(terror.ErrConfigRebalanceArgs.Equal(err), IsTrue)
}

func (t *testConfigSuite) TestValidate(c *C) {
	cfg := NewConfig()
	c.Assert(cfg.Parse(nil), IsNil)
	c.Assert(terror.ErrConfigClusterNameEmpty.Equal(cfg.Validate()), IsTrue)
	cfg.ClusterName = "kv1"
	c.Assert(terror.ErrConfigAdminAddrEmpty.Equal(cfg.Validate()), IsTrue)
	cfg.AdminAddr = "10.0.1.1:8091"
	cfg.WorkDir = ""
	c.Assert(terror.ErrConfigWorkDirEmpty.Equal(cfg.Validate()), IsTrue)

	_, err := NewCollaborators(NewConfig())
	c.Assert(terror.ErrConfigClusterNameEmpty.Equal(err), IsTrue)
}

func (t *testConfigSuite) TestPrint(c *C) {
	var buf bytes.Buffer
	PrintLines(&buf, "%d steps", 3)
	PrettyPrint(&buf, map[string]int{"steps": 3})
	c.Assert(buf.String(), Equals, "3 steps\n{\n    \"steps\": 3\n}\n")
}
