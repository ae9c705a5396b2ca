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
	"fmt"
	"sort"
	"sync"

	"github.com/pingcap/clusterops/pkg/cluster"
	"github.com/pingcap/clusterops/pkg/terror"
)

type instance struct {
	role    cluster.Role
	host    string
	running bool
	version string
}

// MockController is an in-memory Controller used by tests.
// When bound to a cluster.MockControl, starting and stopping an instance changes the node liveness.
type MockController struct {
	mu        sync.Mutex
	instances map[string]*instance
	recovery  bool
	bound     *cluster.MockControl
	errs      map[string]error
	// StartKeepsDown makes Start succeed without the instance coming up.
	StartKeepsDown bool

	// Calls records every call as `method role host`.
	Calls []string
}

// NewMockController creates an empty MockController.
func NewMockController() *MockController {
	return &MockController{
		instances: make(map[string]*instance),
		errs:      make(map[string]error),
	}
}

func key(role cluster.Role, host string) string {
	return string(role) + "/" + host
}

// Bind syncs the liveness of started or stopped instances into ctl.
func (m *MockController) Bind(ctl *cluster.MockControl) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bound = ctl
}

// AddInstance adds an instance of role at host.
func (m *MockController) AddInstance(role cluster.Role, host, version string, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[key(role, host)] = &instance{role: role, host: host, running: running, version: version}
}

// SetError makes method return err, a nil err clears the injection.
func (m *MockController) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, method)
		return
	}
	m.errs[method] = err
}

// RecoveryMode returns the recovery flag.
func (m *MockController) RecoveryMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recovery
}

// InstanceVersion returns the installed version of an instance.
func (m *MockController) InstanceVersion(role cluster.Role, host string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[key(role, host)]; ok {
		return inst.version
	}
	return ""
}

// InstanceRunning returns whether an instance is running.
func (m *MockController) InstanceRunning(role cluster.Role, host string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[key(role, host)]
	return ok && inst.running
}

func (m *MockController) enter(method string, role cluster.Role, host string) error {
	m.Calls = append(m.Calls, fmt.Sprintf("%s %s %s", method, role, host))
	return m.errs[method]
}

// select returns the addressed instances sorted by host.
func (m *MockController) selectInstances(role cluster.Role, host string) ([]*instance, error) {
	if host != AllHosts {
		inst, ok := m.instances[key(role, host)]
		if !ok {
			return nil, terror.ErrServiceCommandFail.Generate(key(role, host), "no such instance")
		}
		return []*instance{inst}, nil
	}
	selected := make([]*instance, 0)
	for _, inst := range m.instances {
		if inst.role == role {
			selected = append(selected, inst)
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].host < selected[j].host })
	return selected, nil
}

func (m *MockController) setRunning(role cluster.Role, host string, running bool) error {
	selected, err := m.selectInstances(role, host)
	if err != nil {
		return err
	}
	for _, inst := range selected {
		inst.running = running
		if m.bound != nil {
			m.bound.SetNodeAlive(inst.role, inst.host, running)
		}
	}
	return nil
}

// Start implements Controller.Start.
func (m *MockController) Start(_ context.Context, role cluster.Role, host string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Start", role, host); err != nil {
		return err
	}
	if m.StartKeepsDown {
		_, err := m.selectInstances(role, host)
		return err
	}
	return m.setRunning(role, host, true)
}

// Stop implements Controller.Stop.
func (m *MockController) Stop(_ context.Context, role cluster.Role, host string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Stop", role, host); err != nil {
		return err
	}
	return m.setRunning(role, host, false)
}

// IsRunning implements Controller.IsRunning.
func (m *MockController) IsRunning(_ context.Context, role cluster.Role, host string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("IsRunning", role, host); err != nil {
		return false, err
	}
	selected, err := m.selectInstances(role, host)
	if err != nil {
		return false, err
	}
	for _, inst := range selected {
		if !inst.running {
			return false, nil
		}
	}
	return len(selected) > 0, nil
}

// Version implements Controller.Version.
func (m *MockController) Version(_ context.Context, role cluster.Role, host string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Version", role, host); err != nil {
		return "", err
	}
	selected, err := m.selectInstances(role, host)
	if err != nil {
		return "", err
	}
	if len(selected) == 0 {
		return "", terror.ErrServiceCommandFail.Generate(key(role, host), "no such instance")
	}
	return selected[0].version, nil
}

// SwitchVersion implements Controller.SwitchVersion.
func (m *MockController) SwitchVersion(_ context.Context, role cluster.Role, host, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SwitchVersion", role, host); err != nil {
		return err
	}
	selected, err := m.selectInstances(role, host)
	if err != nil {
		return err
	}
	for _, inst := range selected {
		inst.version = version
	}
	return nil
}

// SetRecoveryMode implements Controller.SetRecoveryMode.
func (m *MockController) SetRecoveryMode(_ context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetRecoveryMode", cluster.RoleMeta, AllHosts); err != nil {
		return err
	}
	m.recovery = enabled
	return nil
}
