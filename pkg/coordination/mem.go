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

package coordination

import (
	"context"
	"strings"
	"sync"
)

// MemStore is an in-memory Store used by tests.
type MemStore struct {
	mu   sync.Mutex
	kvs  map[string]string
	errs map[string]error
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		kvs:  make(map[string]string),
		errs: make(map[string]error),
	}
}

// SetError makes method return err, a nil err clears the injection.
func (s *MemStore) SetError(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, method)
		return
	}
	s.errs[method] = err
}

// Len returns the number of stored keys.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kvs)
}

func (s *MemStore) descendants(p string) []string {
	prefix := childPrefix(p)
	keys := make([]string, 0)
	for k := range s.kvs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Get implements Store.Get.
func (s *MemStore) Get(_ context.Context, p string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["Get"]; err != nil {
		return "", err
	}
	p, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	v, ok := s.kvs[p]
	if !ok {
		return "", errPathNotFound(p)
	}
	return v, nil
}

// Put implements Store.Put.
func (s *MemStore) Put(_ context.Context, p, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["Put"]; err != nil {
		return err
	}
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	s.kvs[p] = value
	return nil
}

// Children implements Store.Children.
func (s *MemStore) Children(_ context.Context, p string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["Children"]; err != nil {
		return nil, err
	}
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	return directChildren(childPrefix(p), s.descendants(p)), nil
}

// Exists implements Store.Exists.
func (s *MemStore) Exists(_ context.Context, p string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["Exists"]; err != nil {
		return false, err
	}
	p, err := CleanPath(p)
	if err != nil {
		return false, err
	}
	if _, ok := s.kvs[p]; ok {
		return true, nil
	}
	return len(s.descendants(p)) > 0, nil
}

// Delete implements Store.Delete.
func (s *MemStore) Delete(_ context.Context, p string, checkExists bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs["Delete"]; err != nil {
		return err
	}
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	keys := s.descendants(p)
	if _, ok := s.kvs[p]; ok {
		keys = append(keys, p)
	}
	if len(keys) == 0 && checkExists {
		return errPathNotFound(p)
	}
	for _, k := range keys {
		delete(s.kvs, k)
	}
	return nil
}
