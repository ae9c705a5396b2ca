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

package utils

import (
	"encoding/json"
	"time"

	"github.com/BurntSushi/toml"
	. "github.com/pingcap/check"
)

var _ = Suite(&testDurationSuite{})

type testDurationSuite struct{}

func (t *testDurationSuite) TestDuration(c *C) {
	var cfg struct {
		Interval Duration `toml:"interval" json:"interval"`
	}
	_, err := toml.Decode(`interval = "1m30s"`, &cfg)
	c.Assert(err, IsNil)
	c.Assert(cfg.Interval.Duration, Equals, 90*time.Second)

	data, err := json.Marshal(cfg)
	c.Assert(err, IsNil)
	c.Assert(string(data), Equals, `{"interval":"1m30s"}`)

	cfg.Interval = NewDuration(0)
	c.Assert(json.Unmarshal([]byte(`{"interval":"10s"}`), &cfg), IsNil)
	c.Assert(cfg.Interval.Duration, Equals, 10*time.Second)

	_, err = toml.Decode(`interval = "ten seconds"`, &cfg)
	c.Assert(err, NotNil)
}
