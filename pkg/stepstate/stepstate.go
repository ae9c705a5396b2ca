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

package stepstate

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/terror"
)

const (
	// FileName is the name of the step state document in the work dir.
	FileName = "state.yaml"
	// HistoryDir is the sub dir of the work dir holding archived documents.
	HistoryDir = "history"
	lockName   = ".lock"
)

// State is a key/value document persisted in a per-run work dir.
// Steps record what they did here so a later step, rollback or
// invocation can read it back. A State is owned by one process at a time.
type State struct {
	mu     sync.Mutex
	dir    string
	file   string
	lock   *pidFileLock
	closed bool
	logger log.Logger
}

// Open creates dir if needed and takes ownership of it.
func Open(dir string) (*State, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, terror.ErrStepStateLoad.Delegate(err, dir)
	}
	lock, err := acquirePidFileLock(dir, filepath.Join(dir, lockName))
	if err != nil {
		return nil, err
	}
	s := &State{
		dir:    dir,
		file:   FileName,
		lock:   lock,
		logger: log.With(zap.String("component", "step state"), zap.String("dir", dir)),
	}
	// fail early on a corrupted document.
	if _, err = s.load(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

// OpenArchive opens a document archived by Archive, it can only be read.
func OpenArchive(path string) (*State, error) {
	s := &State{
		dir:    filepath.Dir(path),
		file:   filepath.Base(path),
		logger: log.With(zap.String("component", "step state"), zap.String("archive", path)),
	}
	if _, err := os.Stat(path); err != nil {
		return nil, terror.ErrStepStateLoad.Delegate(err, path)
	}
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the work dir of the state.
func (s *State) Dir() string {
	return s.dir
}

func (s *State) path() string {
	return filepath.Join(s.dir, s.file)
}

func (s *State) checkWritable() error {
	if s.closed {
		return terror.ErrStepStateClosed.Generate(s.dir)
	}
	if s.lock == nil {
		return terror.ErrStepStateSave.Generatef("archive %s is read only", s.path())
	}
	return nil
}

func (s *State) load() (map[string]interface{}, error) {
	doc := make(map[string]interface{})
	content, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return doc, nil
	} else if err != nil {
		return nil, terror.ErrStepStateLoad.Delegate(err, s.path())
	}
	if err = yaml.Unmarshal(content, &doc); err != nil {
		return nil, terror.ErrStepStateLoad.Delegate(err, s.path())
	}
	return doc, nil
}

func (s *State) save(doc map[string]interface{}) error {
	content, err := yaml.Marshal(doc)
	if err != nil {
		return terror.ErrStepStateSave.Delegate(err, s.path())
	}
	tmp := s.path() + ".tmp"
	if err = os.WriteFile(tmp, content, 0o644); err != nil {
		return terror.ErrStepStateSave.Delegate(err, s.path())
	}
	if err = os.Rename(tmp, s.path()); err != nil {
		return terror.ErrStepStateSave.Delegate(err, s.path())
	}
	return nil
}

// Write sets key to value and persists the document, other keys are kept.
func (s *State) Write(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return err
	}
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc[key] = value
	if err = s.save(doc); err != nil {
		return err
	}
	s.logger.Debug("write step state", zap.String("key", key), zap.Reflect("value", value))
	return nil
}

// Delete removes key from the document, deleting an absent key is not an error.
func (s *State) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return err
	}
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return s.save(doc)
}

// Read returns the raw value of key.
func (s *State) Read(key string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, terror.ErrStepStateClosed.Generate(s.dir)
	}
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	value, ok := doc[key]
	if !ok {
		return nil, terror.ErrStepStateMissingKey.Generate(key, s.path())
	}
	return value, nil
}

// ReadInto decodes the value of key into out, which should be a pointer.
func (s *State) ReadInto(key string, out interface{}) error {
	value, err := s.Read(key)
	if err != nil {
		return err
	}
	content, err := yaml.Marshal(value)
	if err != nil {
		return terror.ErrStepStateDecode.Delegate(err, key)
	}
	if err = yaml.Unmarshal(content, out); err != nil {
		return terror.ErrStepStateDecode.Delegate(err, key)
	}
	return nil
}

// ReadString returns the value of key as a string.
func (s *State) ReadString(key string) (string, error) {
	value, err := s.Read(key)
	if err != nil {
		return "", err
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", terror.ErrStepStateDecode.Generate(key)
	}
}

// ReadInt64 returns the value of key as an int64.
func (s *State) ReadInt64(key string) (int64, error) {
	value, err := s.Read(key)
	if err != nil {
		return 0, err
	}
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case string:
		n, err2 := strconv.ParseInt(v, 10, 64)
		if err2 != nil {
			return 0, terror.ErrStepStateDecode.Delegate(err2, key)
		}
		return n, nil
	default:
		return 0, terror.ErrStepStateDecode.Generate(key)
	}
}

// ReadBool returns the value of key as a bool.
func (s *State) ReadBool(key string) (bool, error) {
	value, err := s.Read(key)
	if err != nil {
		return false, err
	}
	v, ok := value.(bool)
	if !ok {
		return false, terror.ErrStepStateDecode.Generate(key)
	}
	return v, nil
}

// Has returns whether key was recorded.
func (s *State) Has(key string) (bool, error) {
	_, err := s.Read(key)
	if terror.ErrStepStateMissingKey.Equal(err) {
		return false, nil
	}
	return err == nil, err
}

// Keys returns the recorded keys in order.
func (s *State) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Archive moves the document to `history/<name>.yaml` under the work dir and returns
// the archived path. The state is empty afterwards, so the next run starts fresh.
// Archiving an empty state returns an empty path.
func (s *State) Archive(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return "", err
	}
	if _, err := os.Stat(s.path()); os.IsNotExist(err) {
		return "", nil
	}
	historyDir := filepath.Join(s.dir, HistoryDir)
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		return "", terror.ErrStepStateSave.Delegate(err, historyDir)
	}
	archived := filepath.Join(historyDir, name+".yaml")
	if _, err := os.Stat(archived); err == nil {
		return "", terror.ErrStepStateSave.Generatef("archive %s already exists", archived)
	}
	if err := os.Rename(s.path(), archived); err != nil {
		return "", terror.ErrStepStateSave.Delegate(err, archived)
	}
	s.logger.Info("step state archived", zap.String("archive", archived))
	return archived, nil
}

// Close releases the ownership of the work dir, the document stays.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}
