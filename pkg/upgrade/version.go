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

package upgrade

import (
	"context"
	"encoding/json"
	"path"
	"strconv"
	"strings"

	"github.com/pingcap/clusterops/pkg/coordination"
	"github.com/pingcap/clusterops/pkg/terror"
)

// versionNode is the child of the coordination root holding the cluster version record.
const versionNode = "version"

// Version represents the version of the cluster recorded after a rolling upgrade.
type Version struct {
	ReleaseVer string `json:"release-ver"`      // release version, like `v2.4.0`, human readable
	RunID      string `json:"run-id,omitempty"` // the upgrade run which recorded it
}

// NewVersion creates a new instance of Version.
func NewVersion(releaseVer, runID string) Version {
	return Version{
		ReleaseVer: releaseVer,
		RunID:      runID,
	}
}

// Compare compares the release version with another version.
// NOTE: only the numeric `major.minor.patch` part is compared, a suffix like `-rc1` is ignored.
func (v Version) Compare(other Version) int {
	return CompareRelease(v.ReleaseVer, other.ReleaseVer)
}

// NotSet returns whether the version is not set.
func (v Version) NotSet() bool {
	return v.ReleaseVer == ""
}

// String implements Stringer interface.
func (v Version) String() string {
	s, _ := v.toJSON()
	return s
}

// toJSON returns the string of JSON represent.
func (v Version) toJSON() (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// versionFromJSON constructs version from its JSON represent.
func versionFromJSON(s string) (v Version, err error) {
	err = json.Unmarshal([]byte(s), &v)
	return
}

func releaseParts(ver string) []int {
	ver = strings.TrimPrefix(strings.TrimSpace(ver), "v")
	if i := strings.IndexAny(ver, "-+"); i >= 0 {
		ver = ver[:i]
	}
	fields := strings.Split(ver, ".")
	parts := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			n = 0
		}
		parts = append(parts, n)
	}
	return parts
}

// CompareRelease compares two release versions like `v2.4.0`.
func CompareRelease(a, b string) int {
	pa, pb := releaseParts(a), releaseParts(b)
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if x < y {
			return -1
		} else if x > y {
			return 1
		}
	}
	return 0
}

// VersionPath returns the path of the version record under the coordination root.
func VersionPath(root string) string {
	return path.Join(root, versionNode)
}

// PutVersion puts the version into the coordination store.
func PutVersion(ctx context.Context, store coordination.Store, root string, ver Version) error {
	value, err := ver.toJSON()
	if err != nil {
		return terror.ErrUpgradeVersionFail.Delegate(err, "encode")
	}
	return store.Put(ctx, VersionPath(root), value)
}

// GetVersion gets the version from the coordination store, a zero Version when not recorded yet.
func GetVersion(ctx context.Context, store coordination.Store, root string) (Version, error) {
	value, err := store.Get(ctx, VersionPath(root))
	if terror.ErrCoordinationPathNotFound.Equal(err) {
		return Version{}, nil
	} else if err != nil {
		return Version{}, err
	}
	ver, err := versionFromJSON(value)
	if err != nil {
		return Version{}, terror.ErrUpgradeVersionFail.Delegate(err, "decode")
	}
	return ver, nil
}

// DeleteVersion removes the version record.
func DeleteVersion(ctx context.Context, store coordination.Store, root string) error {
	return store.Delete(ctx, VersionPath(root), false)
}
