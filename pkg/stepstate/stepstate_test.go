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
	"strconv"
	"testing"

	. "github.com/pingcap/check"

	"github.com/pingcap/clusterops/pkg/terror"
)

func TestSuite(t *testing.T) {
	TestingT(t)
}

var _ = Suite(&testStepStateSuite{})

type testStepStateSuite struct{}

type snapshotNode struct {
	Path     string         `yaml:"path"`
	Value    string         `yaml:"value"`
	Children []snapshotNode `yaml:"children"`
}

func (t *testStepStateSuite) TestWriteRead(c *C) {
	dir := filepath.Join(c.MkDir(), "split", "m1", "orders")
	s, err := Open(dir)
	c.Assert(err, IsNil)
	defer s.Close()
	c.Assert(s.Dir(), Equals, dir)

	// missing key before anything is recorded.
	_, err = s.Read("split/baseline-count")
	c.Assert(terror.ErrStepStateMissingKey.Equal(err), IsTrue)
	c.Assert(terror.IsPreconditionViolation(err), IsTrue)
	has, err := s.Has("split/baseline-count")
	c.Assert(err, IsNil)
	c.Assert(has, IsFalse)

	c.Assert(s.Write("split/baseline-count", int64(100)), IsNil)
	c.Assert(s.Write("split/target-name", "orders_20221010101010"), IsNil)
	c.Assert(s.Write("split/read-only", true), IsNil)
	c.Assert(s.Write("restore/snapshot", snapshotNode{
		Path:     "/kvcluster/m1",
		Value:    "root",
		Children: []snapshotNode{{Path: "/kvcluster/m1/a", Value: "1"}},
	}), IsNil)

	count, err := s.ReadInt64("split/baseline-count")
	c.Assert(err, IsNil)
	c.Assert(count, Equals, int64(100))
	name, err := s.ReadString("split/target-name")
	c.Assert(err, IsNil)
	c.Assert(name, Equals, "orders_20221010101010")
	ro, err := s.ReadBool("split/read-only")
	c.Assert(err, IsNil)
	c.Assert(ro, IsTrue)
	_, err = s.ReadBool("split/target-name")
	c.Assert(terror.ErrStepStateDecode.Equal(err), IsTrue)

	var node snapshotNode
	c.Assert(s.ReadInto("restore/snapshot", &node), IsNil)
	c.Assert(node.Path, Equals, "/kvcluster/m1")
	c.Assert(node.Children, HasLen, 1)
	c.Assert(node.Children[0].Value, Equals, "1")

	keys, err := s.Keys()
	c.Assert(err, IsNil)
	c.Assert(keys, DeepEquals, []string{"restore/snapshot", "split/baseline-count", "split/read-only", "split/target-name"})

	c.Assert(s.Delete("split/read-only"), IsNil)
	c.Assert(s.Delete("split/read-only"), IsNil)
	has, err = s.Has("split/read-only")
	c.Assert(err, IsNil)
	c.Assert(has, IsFalse)
}

func (t *testStepStateSuite) TestMergeAcrossReopen(c *C) {
	dir := c.MkDir()
	s, err := Open(dir)
	c.Assert(err, IsNil)
	c.Assert(s.Write("run-tag", "20221010101010"), IsNil)
	c.Assert(s.Write("split/source-id", "17"), IsNil)
	c.Assert(s.Close(), IsNil)
	c.Assert(s.Close(), IsNil)

	// a closed state refuses further writes.
	c.Assert(terror.ErrStepStateClosed.Equal(s.Write("k", "v")), IsTrue)

	s, err = Open(dir)
	c.Assert(err, IsNil)
	defer s.Close()
	c.Assert(s.Write("split/target-id", 18), IsNil)

	tag, err := s.ReadString("run-tag")
	c.Assert(err, IsNil)
	c.Assert(tag, Equals, "20221010101010")
	id, err := s.ReadInt64("split/source-id")
	c.Assert(err, IsNil)
	c.Assert(id, Equals, int64(17))
	targetID, err := s.ReadString("split/target-id")
	c.Assert(err, IsNil)
	c.Assert(targetID, Equals, "18")

	// no temporary file left behind.
	_, err = os.Stat(filepath.Join(dir, FileName+".tmp"))
	c.Assert(os.IsNotExist(err), IsTrue)
}

func (t *testStepStateSuite) TestSingleOwner(c *C) {
	dir := c.MkDir()
	s, err := Open(dir)
	c.Assert(err, IsNil)

	_, err = Open(dir)
	c.Assert(terror.ErrStepStateLocked.Equal(err), IsTrue)

	c.Assert(s.Close(), IsNil)
	s, err = Open(dir)
	c.Assert(err, IsNil)
	c.Assert(s.Close(), IsNil)
}

func (t *testStepStateSuite) TestReclaimStaleLock(c *C) {
	dir := c.MkDir()
	// pid far beyond pid_max never exists.
	c.Assert(os.WriteFile(filepath.Join(dir, lockName), []byte(strconv.Itoa(1<<30)), 0o644), IsNil)

	s, err := Open(dir)
	c.Assert(err, IsNil)
	content, err := os.ReadFile(filepath.Join(dir, lockName))
	c.Assert(err, IsNil)
	c.Assert(string(content), Equals, strconv.Itoa(os.Getpid()))
	c.Assert(s.Close(), IsNil)
}

func (t *testStepStateSuite) TestCorruptedDocument(c *C) {
	dir := c.MkDir()
	c.Assert(os.WriteFile(filepath.Join(dir, FileName), []byte("{not: [yaml"), 0o644), IsNil)
	_, err := Open(dir)
	c.Assert(terror.ErrStepStateLoad.Equal(err), IsTrue)

	// the lock is released on failure.
	_, err = os.Stat(filepath.Join(dir, lockName))
	c.Assert(os.IsNotExist(err), IsTrue)
}

func (t *testStepStateSuite) TestLockWithoutPid(c *C) {
	dir := c.MkDir()
	// a lock being published by another process is never reclaimed.
	for _, content := range []string{"", "not-a-pid"} {
		c.Assert(os.WriteFile(filepath.Join(dir, lockName), []byte(content), 0o644), IsNil)
		_, err := Open(dir)
		c.Assert(terror.ErrStepStateLocked.Equal(err), IsTrue, Commentf("lock content %q", content))
		got, err := os.ReadFile(filepath.Join(dir, lockName))
		c.Assert(err, IsNil)
		c.Assert(string(got), Equals, content)
	}

	c.Assert(os.Remove(filepath.Join(dir, lockName)), IsNil)
	s, err := Open(dir)
	c.Assert(err, IsNil)
	c.Assert(s.Close(), IsNil)
	// only the lock file is published, the temporary file is gone.
	entries, err := os.ReadDir(dir)
	c.Assert(err, IsNil)
	c.Assert(entries, HasLen, 0)
}

func (t *testStepStateSuite) TestArchive(c *C) {
	dir := c.MkDir()
	s, err := Open(dir)
	c.Assert(err, IsNil)
	defer s.Close()

	archived, err := s.Archive("20220304050607-empty")
	c.Assert(err, IsNil)
	c.Assert(archived, Equals, "")

	c.Assert(s.Write("run-tag", "20220304050607"), IsNil)
	c.Assert(s.Write("restore/snapshot", snapshotNode{Path: "/kvcluster/m1", Value: "leader"}), IsNil)
	archived, err = s.Archive("20220304050607-1")
	c.Assert(err, IsNil)
	c.Assert(archived, Equals, filepath.Join(dir, HistoryDir, "20220304050607-1.yaml"))

	// the next run starts from an empty document.
	keys, err := s.Keys()
	c.Assert(err, IsNil)
	c.Assert(keys, HasLen, 0)
	c.Assert(s.Write("run-tag", "20220405060708"), IsNil)

	content, err := os.ReadFile(archived)
	c.Assert(err, IsNil)
	c.Assert(string(content), Matches, "(?s).*run-tag.*20220304050607.*/kvcluster/m1.*")

	history, err := OpenArchive(archived)
	c.Assert(err, IsNil)
	tag, err := history.ReadString("run-tag")
	c.Assert(err, IsNil)
	c.Assert(tag, Equals, "20220304050607")
	var node snapshotNode
	c.Assert(history.ReadInto("restore/snapshot", &node), IsNil)
	c.Assert(node.Value, Equals, "leader")
	c.Assert(terror.ErrStepStateSave.Equal(history.Write("run-tag", "x")), IsTrue)
	c.Assert(history.Close(), IsNil)
	_, err = OpenArchive(filepath.Join(dir, HistoryDir, "absent.yaml"))
	c.Assert(terror.ErrStepStateLoad.Equal(err), IsTrue)

	_, err = s.Archive("20220304050607-1")
	c.Assert(terror.ErrStepStateSave.Equal(err), IsTrue)
}
