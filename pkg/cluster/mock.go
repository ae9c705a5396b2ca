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
	"sort"
	"strconv"
	"sync"

	"github.com/pingcap/clusterops/pkg/terror"
)

// MockControl is an in-memory Control used by tests.
// Failures can be injected per method name through Errors.
type MockControl struct {
	mu sync.Mutex

	resources map[string]*Resource
	dropped   map[string]*Resource
	counts    map[string]int64
	traffic   map[string]float64
	nodes     []Node
	nextID    int

	// Outstanding is consumed one value per OutstandingRebalanceOps call,
	// the last value is repeated once the slice is exhausted.
	Outstanding []int
	// Triggered records the strategies passed to TriggerRebalance.
	Triggered []Strategy
	// Errors maps a method name to the error it returns.
	Errors map[string]error
	// Calls records every called method name.
	Calls []string
}

// NewMockControl creates an empty MockControl.
func NewMockControl() *MockControl {
	return &MockControl{
		resources: make(map[string]*Resource),
		dropped:   make(map[string]*Resource),
		counts:    make(map[string]int64),
		traffic:   make(map[string]float64),
		Errors:    make(map[string]error),
	}
}

func (m *MockControl) enter(method string) error {
	m.Calls = append(m.Calls, method)
	return m.Errors[method]
}

// AddResource adds a resource, its id is assigned when empty.
func (m *MockControl) AddResource(r Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		m.nextID++
		r.ID = strconv.Itoa(m.nextID)
	}
	m.resources[r.Name] = &r
}

// Resource returns a copy of the named resource.
func (m *MockControl) Resource(name string) (Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[name]
	if !ok {
		return Resource{}, false
	}
	return *r, true
}

// SetCount sets the element count of a resource.
func (m *MockControl) SetCount(name string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name] = count
}

// SetTraffic sets the traffic of a resource.
func (m *MockControl) SetTraffic(name string, qps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traffic[name] = qps
}

// SetNodes replaces the nodes of the cluster.
func (m *MockControl) SetNodes(nodes ...Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = append([]Node(nil), nodes...)
}

// SetNodeAlive changes the liveness of the node at addr.
func (m *MockControl) SetNodeAlive(role Role, addr string, alive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.nodes {
		if m.nodes[i].Role == role && m.nodes[i].Address() == addr {
			m.nodes[i].Alive = alive
		}
	}
}

// SetError makes method return err, a nil err clears the injection.
func (m *MockControl) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.Errors, method)
		return
	}
	m.Errors[method] = err
}

// SetOutstanding sets the values returned by OutstandingRebalanceOps.
func (m *MockControl) SetOutstanding(values ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outstanding = values
}

// TriggeredStrategies returns the strategies passed to TriggerRebalance.
func (m *MockControl) TriggeredStrategies() []Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Strategy(nil), m.Triggered...)
}

// CallCount returns how many times method was called.
func (m *MockControl) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == method {
			n++
		}
	}
	return n
}

// CreateResource implements Control.CreateResource.
func (m *MockControl) CreateResource(_ context.Context, name string, partitions, replication int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateResource"); err != nil {
		return err
	}
	if _, ok := m.resources[name]; ok {
		return terror.ErrClusterRequestFail.Generatef("resource %s already exists", name)
	}
	m.nextID++
	m.resources[name] = &Resource{
		ID:          strconv.Itoa(m.nextID),
		Name:        name,
		Partitions:  partitions,
		Replication: replication,
		Healthy:     true,
	}
	return nil
}

// DropResource implements Control.DropResource.
func (m *MockControl) DropResource(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DropResource"); err != nil {
		return err
	}
	r, ok := m.resources[name]
	if !ok {
		return terror.ErrClusterResourceNotFound.Generate(name)
	}
	delete(m.resources, name)
	m.dropped[r.ID] = r
	return nil
}

// RecallResource implements Control.RecallResource.
func (m *MockControl) RecallResource(_ context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RecallResource"); err != nil {
		return err
	}
	r, ok := m.dropped[id]
	if !ok {
		return terror.ErrClusterResourceNotFound.Generate(id)
	}
	delete(m.dropped, id)
	r.Name = name
	m.resources[name] = r
	return nil
}

// ListResources implements Control.ListResources.
func (m *MockControl) ListResources(context.Context) ([]Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListResources"); err != nil {
		return nil, err
	}
	resources := make([]Resource, 0, len(m.resources))
	for _, r := range m.resources {
		resources = append(resources, *r)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].Name < resources[j].Name })
	return resources, nil
}

// ResourceExists implements Control.ResourceExists.
func (m *MockControl) ResourceExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ResourceExists"); err != nil {
		return false, err
	}
	_, ok := m.resources[name]
	return ok, nil
}

func (m *MockControl) resource(method, name string) (*Resource, error) {
	if err := m.enter(method); err != nil {
		return nil, err
	}
	r, ok := m.resources[name]
	if !ok {
		return nil, terror.ErrClusterResourceNotFound.Generate(name)
	}
	return r, nil
}

// GetResourceID implements Control.GetResourceID.
func (m *MockControl) GetResourceID(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.resource("GetResourceID", name)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

// GetReadOnly implements Control.GetReadOnly.
func (m *MockControl) GetReadOnly(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.resource("GetReadOnly", name)
	if err != nil {
		return false, err
	}
	return r.ReadOnly, nil
}

// SetReadOnly implements Control.SetReadOnly.
func (m *MockControl) SetReadOnly(_ context.Context, name string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.resource("SetReadOnly", name)
	if err != nil {
		return err
	}
	r.ReadOnly = readOnly
	return nil
}

// CountElements implements Control.CountElements.
func (m *MockControl) CountElements(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.resource("CountElements", name); err != nil {
		return 0, err
	}
	return m.counts[name], nil
}

// ResourceTraffic implements Control.ResourceTraffic.
func (m *MockControl) ResourceTraffic(_ context.Context, name string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.resource("ResourceTraffic", name); err != nil {
		return 0, err
	}
	return m.traffic[name], nil
}

// ListNodes implements Control.ListNodes.
func (m *MockControl) ListNodes(_ context.Context, role Role) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListNodes"); err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		if n.Role == role {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

// ListDeadNodes implements Control.ListDeadNodes.
func (m *MockControl) ListDeadNodes(_ context.Context, role Role) ([]Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListDeadNodes"); err != nil {
		return nil, err
	}
	nodes := make([]Node, 0)
	for _, n := range m.nodes {
		if n.Role == role && !n.Alive {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

// ListUnhealthyResources implements Control.ListUnhealthyResources.
func (m *MockControl) ListUnhealthyResources(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListUnhealthyResources"); err != nil {
		return nil, err
	}
	names := make([]string, 0)
	for name, r := range m.resources {
		if !r.Healthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// SetHealthy changes the health of a resource.
func (m *MockControl) SetHealthy(name string, healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resources[name]; ok {
		r.Healthy = healthy
	}
}

// OutstandingRebalanceOps implements Control.OutstandingRebalanceOps.
func (m *MockControl) OutstandingRebalanceOps(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("OutstandingRebalanceOps"); err != nil {
		return 0, err
	}
	if len(m.Outstanding) == 0 {
		return 0, nil
	}
	n := m.Outstanding[0]
	if len(m.Outstanding) > 1 {
		m.Outstanding = m.Outstanding[1:]
	}
	return n, nil
}

// TriggerRebalance implements Control.TriggerRebalance.
func (m *MockControl) TriggerRebalance(_ context.Context, strategy Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("TriggerRebalance"); err != nil {
		return err
	}
	m.Triggered = append(m.Triggered, strategy)
	return nil
}
