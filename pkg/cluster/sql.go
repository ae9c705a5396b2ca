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

package cluster

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/retry"
	"github.com/pingcap/clusterops/pkg/terror"
)

// SQLCounter counts the elements of a resource through its SQL endpoint.
type SQLCounter struct {
	db     *sql.DB
	logger log.Logger

	retryStrategy retry.Strategy
	retryParams   retry.Params
}

// NewSQLCounter opens a SQLCounter for a mysql compatible DSN.
func NewSQLCounter(dsn string) (*SQLCounter, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, terror.ErrClusterDBDriverError.Delegate(err)
	}
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, terror.DBErrorAdapt(err, terror.ErrClusterDBDriverError)
	}
	return NewSQLCounterWithDB(db), nil
}

// NewSQLCounterWithDB creates a SQLCounter with an opened db.
func NewSQLCounterWithDB(db *sql.DB) *SQLCounter {
	return &SQLCounter{
		db:            db,
		logger:        log.With(zap.String("component", "sql counter")),
		retryStrategy: &retry.FiniteRetryStrategy{},
		retryParams: retry.Params{
			RetryCount:         readRetryCount,
			FirstRetryDuration: readRetryDuration,
			BackoffStrategy:    retry.Stable,
			IsRetryableFn: func(_ int, err error) bool {
				return terror.ErrClusterDBBadConn.Equal(err) || errors.Cause(err) == driver.ErrBadConn
			},
		},
	}
}

// quoteName quotes an identifier with backquotes.
func quoteName(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Count implements Counter.
func (s *SQLCounter) Count(ctx context.Context, name string) (int64, error) {
	query := "SELECT COUNT(*) FROM " + quoteName(name)
	start := time.Now()
	ret, _, err := s.retryStrategy.Apply(ctx, s.retryParams, func(ctx context.Context, _ int) (interface{}, error) {
		var count int64
		if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			return nil, terror.DBErrorAdapt(err, terror.ErrClusterCountElements, name)
		}
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	count := ret.(int64)
	s.logger.Info("count elements", zap.String("resource", name),
		zap.String("count", humanize.Comma(count)), zap.Duration("cost", time.Since(start)))
	return count, nil
}

// Close closes the underlying db.
func (s *SQLCounter) Close() error {
	return errors.Trace(s.db.Close())
}
