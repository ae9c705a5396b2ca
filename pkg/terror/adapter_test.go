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
	"github.com/pingcap/check"
	"github.com/pingcap/errors"
)

func (t *testTErrorSuite) TestDBAdapter(c *check.C) {
	defaultErr := ErrClusterCountElements
	testCases := []struct {
		err    error
		expect *Error
	}{
		{nil, nil},
		{ErrClusterDBBadConn.Generate(), ErrClusterDBBadConn},
		{driver.ErrBadConn, ErrClusterDBBadConn},
		{errors.Annotate(driver.ErrBadConn, "annotate error"), ErrClusterDBBadConn},
		{mysql.ErrInvalidConn, ErrClusterDBInvalidConn},
		{mysql.ErrUnknownPlugin, defaultErr},
	}

	for _, tc := range testCases {
		err := DBErrorAdapt(tc.err, defaultErr, "orders")
		if tc.expect == nil {
			c.Assert(err, check.IsNil)
			continue
		}
		c.Assert(tc.expect.Equal(err), check.IsTrue)
		if err != tc.err {
			c.Assert(errors.Cause(err), check.Equals, tc.err)
		}
	}

	err := DBErrorAdapt(mysql.ErrUnknownPlugin, defaultErr, "orders")
	c.Assert(Message(err), check.Equals, "count elements of resource orders")
}
