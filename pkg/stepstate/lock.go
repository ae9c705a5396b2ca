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
	"strconv"
	"strings"

	"github.com/pingcap/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/terror"
)

// pidFileLock is a lock file holding the pid of its owner.
type pidFileLock struct {
	filePath string
}

// acquirePidFileLock publishes a lock file holding the pid of this process. The pid is
// written to a temporary file first and linked into place, so the lock is never seen empty.
// A lock left by a process which no longer exists is reclaimed once.
func acquirePidFileLock(dir, filePath string) (*pidFileLock, error) {
	tmpFile, err := os.CreateTemp(dir, lockName+"-*")
	if err != nil {
		return nil, errors.Trace(err)
	}
	tmp := tmpFile.Name()
	defer os.Remove(tmp)
	_, err = tmpFile.WriteString(strconv.Itoa(os.Getpid()))
	if err2 := tmpFile.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	for reclaimed := false; ; reclaimed = true {
		err = os.Link(tmp, filePath)
		if err == nil {
			return &pidFileLock{filePath: filePath}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Trace(err)
		}

		pid, alive := lockOwner(filePath)
		if alive || reclaimed {
			return nil, terror.ErrStepStateLocked.Generate(dir, pid)
		}
		log.L().Warn("reclaim stale work dir lock", zap.String("path", filePath), zap.Int("owner pid", pid))
		if err = os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return nil, errors.Trace(err)
		}
	}
}

// lockOwner returns the pid recorded in the lock file and whether that process still exists.
// An unreadable lock or one without a valid pid is treated as alive so it is never removed by mistake.
func lockOwner(filePath string) (int, bool) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return 0, !os.IsNotExist(err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil || pid <= 0 {
		return 0, true
	}
	if pid == os.Getpid() {
		return pid, true
	}
	err = unix.Kill(pid, 0)
	return pid, err != unix.ESRCH
}

// Unlock removes the lock file.
func (l *pidFileLock) Unlock() error {
	return errors.Trace(os.Remove(l.filePath))
}
