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

package service

import (
	"context"

	"github.com/pingcap/clusterops/pkg/cluster"
)

// AllHosts addresses every instance of a role.
const AllHosts = ""

// Controller manages the server processes of the cluster.
// A host of AllHosts addresses every instance of the role.
type Controller interface {
	Start(ctx context.Context, role cluster.Role, host string) error
	Stop(ctx context.Context, role cluster.Role, host string) error
	IsRunning(ctx context.Context, role cluster.Role, host string) (bool, error)
	// Version returns the release version the instance is installed with.
	Version(ctx context.Context, role cluster.Role, host string) (string, error)
	// SwitchVersion installs another release for the instance, it takes effect on the next start.
	SwitchVersion(ctx context.Context, role cluster.Role, host, version string) error
	// SetRecoveryMode flips the recovery flag of every meta server, it takes effect on the next start.
	SetRecoveryMode(ctx context.Context, enabled bool) error
}
