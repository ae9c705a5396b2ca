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
	"context"
	"unicode/utf8"

	"github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"
)

const defaultOutputLimit = 1024

// IsContextCanceledError checks whether err is context.Canceled
func IsContextCanceledError(err error) bool {
	return errors.Cause(err) == context.Canceled
}

// HideDSNPassword replaces the password of a MySQL DSN with `******`,
// an unparsable DSN is hidden entirely.
func HideDSNPassword(dsn string) string {
	if dsn == "" {
		return ""
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "******"
	}
	if cfg.Passwd != "" {
		cfg.Passwd = "******"
	}
	return cfg.FormatDSN()
}

// TruncateOutput keeps at most n leading bytes of a command output without splitting a rune,
// n < 0 uses the default limit. A truncated output ends with `...`.
func TruncateOutput(out string, n int) string {
	if n < 0 {
		n = defaultOutputLimit
	}
	if len(out) <= n {
		return out
	}
	for n > 0 && !utf8.RuneStart(out[n]) {
		n--
	}
	return out[:n] + "..."
}
