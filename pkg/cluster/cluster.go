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
	"fmt"
	"net"
	"strconv"

	"github.com/pingcap/clusterops/pkg/terror"
)

// Role is the role of a server in the cluster.
type Role string

// Server roles.
const (
	RoleMeta    Role = "meta"
	RoleReplica Role = "replica"
)

// Roles lists every role, in the order they are upgraded and started.
var Roles = []Role{RoleMeta, RoleReplica}

// ParseRole parses a role name.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", terror.ErrClusterInvalidRole.Generate(s)
}

// Strategy is a server side rebalance algorithm.
type Strategy string

// Rebalance strategies.
const (
	// StrategyStandard is the quorum based balancer, it needs at least three nodes.
	StrategyStandard Strategy = "standard"
	// StrategyTwoNode places primaries evenly when only two nodes exist.
	StrategyTwoNode Strategy = "two-node"
)

// Node is a server of the cluster.
type Node struct {
	Role  Role   `json:"role"`
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Alive bool   `json:"alive"`
}

// Address returns host:port of the node.
func (n Node) Address() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// String implements fmt.Stringer.
func (n Node) String() string {
	return fmt.Sprintf("%s(%s)", n.Role, n.Address())
}

// Resource is a table of the cluster.
type Resource struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Partitions  int    `json:"partitions"`
	Replication int    `json:"replication"`
	ReadOnly    bool   `json:"read_only"`
	Healthy     bool   `json:"healthy"`
}

// Control is the admin API of the cluster.
type Control interface {
	// CreateResource creates a resource with the given partition count and replication factor.
	CreateResource(ctx context.Context, name string, partitions, replication int) error
	// DropResource drops a resource, the cluster keeps it recallable for a while.
	DropResource(ctx context.Context, name string) error
	// RecallResource recalls a dropped resource by its id under a new name.
	RecallResource(ctx context.Context, id, name string) error
	ListResources(ctx context.Context) ([]Resource, error)
	ResourceExists(ctx context.Context, name string) (bool, error)
	GetResourceID(ctx context.Context, name string) (string, error)
	GetReadOnly(ctx context.Context, name string) (bool, error)
	SetReadOnly(ctx context.Context, name string, readOnly bool) error
	CountElements(ctx context.Context, name string) (int64, error)
	// ResourceTraffic returns the read/write requests per second the resource serves.
	ResourceTraffic(ctx context.Context, name string) (float64, error)
	ListNodes(ctx context.Context, role Role) ([]Node, error)
	ListDeadNodes(ctx context.Context, role Role) ([]Node, error)
	ListUnhealthyResources(ctx context.Context) ([]string, error)
	OutstandingRebalanceOps(ctx context.Context) (int, error)
	TriggerRebalance(ctx context.Context, strategy Strategy) error
}

// AliveNodes returns the nodes of role which are alive.
func AliveNodes(ctx context.Context, ctl Control, role Role) ([]Node, error) {
	nodes, err := ctl.ListNodes(ctx, role)
	if err != nil {
		return nil, err
	}
	alive := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Alive {
			alive = append(alive, n)
		}
	}
	return alive, nil
}
