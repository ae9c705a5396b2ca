// Copyright 2019 PingCAP, Inc.
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

package terror

import (
	"database/sql/driver"

	"github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"
)

// DBErrorAdapt is used to adapt a database error to an *Error.
// Connection errors map to dedicated codes, other errors are delegated by defaultErr with args.
func DBErrorAdapt(err error, defaultErr *Error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*Error); ok {
		return err
	}
	switch errors.Cause(err) {
	case driver.ErrBadConn:
		return ErrClusterDBBadConn.Delegate(err)
	case mysql.ErrInvalidConn:
		return ErrClusterDBInvalidConn.Delegate(err)
	default:
		return defaultErr.Delegate(err, args...)
	}
}
