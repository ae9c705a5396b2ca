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

package rollback

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pingcap/clusterops/pkg/log"
)

// FuncRollback records function used to rolling back some operations.
// It is currently used by the workflow runner to undo completed steps.
type FuncRollback struct {
	Name string
	Fn   func(ctx context.Context) error
}

// FuncRollbackHolder holds some RollbackFuncs.
type FuncRollbackHolder struct {
	mu    sync.Mutex
	owner string // used to make log clearer
	fs    []FuncRollback
}

// NewRollbackHolder creates a new FuncRollbackHolder instance.
func NewRollbackHolder(owner string) *FuncRollbackHolder {
	return &FuncRollbackHolder{
		owner: owner,
		fs:    make([]FuncRollback, 0),
	}
}

// Add adds a func to the holder.
func (h *FuncRollbackHolder) Add(fn FuncRollback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fs = append(h.fs, fn)
}

// Len returns the number of funcs not rolled back yet.
func (h *FuncRollbackHolder) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fs)
}

// RollbackReverseOrder executes rollback functions in reverse order.
// Every func is removed from the holder before it runs, so it runs at most once.
// It stops at the first failing func and returns its name with the error,
// the funcs added before it stay in the holder.
func (h *FuncRollbackHolder) RollbackReverseOrder(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.fs) - 1; i >= 0; i-- {
		f := h.fs[i]
		h.fs = h.fs[:i]
		log.L().Info("rolling back", zap.String("owner", h.owner), zap.String("func", f.Name))
		if err := f.Fn(ctx); err != nil {
			log.L().Error("roll back failed", zap.String("owner", h.owner), zap.String("func", f.Name), log.ShortError(err))
			return f.Name, err
		}
	}
	return "", nil
}
