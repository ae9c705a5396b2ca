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
	"path"
	"sort"
	"strings"

	"github.com/pingcap/clusterops/pkg/terror"
)

// Store is the hierarchical key tree holding the cluster metadata.
// A path is absolute and `/` separated, a parent exists as long as one of its descendants exists.
type Store interface {
	// Get returns the value at path, ErrCoordinationPathNotFound when it does not exist.
	Get(ctx context.Context, path string) (string, error)
	Put(ctx context.Context, path, value string) error
	// Children returns the names of the direct children of path, sorted.
	Children(ctx context.Context, path string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
	// Delete removes the subtree at path. With checkExists an absent path is an error,
	// otherwise deleting an absent path succeeds.
	Delete(ctx context.Context, path string, checkExists bool) error
}

// CleanPath validates and normalizes p.
func CleanPath(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", terror.ErrCoordinationInvalidPath.Generate(p)
	}
	return path.Clean(p), nil
}

// childPrefix returns the key prefix of every descendant of p.
func childPrefix(p string) string {
	if p == "/" {
		return "/"
	}
	return p + "/"
}

// directChildren extracts the sorted direct child names of prefix from descendant keys.
func directChildren(prefix string, keys []string) []string {
	seen := make(map[string]struct{})
	children := make([]string, 0)
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if rest == k || rest == "" {
			continue
		}
		name := strings.SplitN(rest, "/", 2)[0]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		children = append(children, name)
	}
	sort.Strings(children)
	return children
}

// TreeNode is a captured subtree of the Store.
type TreeNode struct {
	Path     string      `yaml:"path" json:"path"`
	Value    string      `yaml:"value" json:"value"`
	Children []*TreeNode `yaml:"children,omitempty" json:"children,omitempty"`
}

// Count returns the number of nodes in the subtree.
func (n *TreeNode) Count() int {
	c := 1
	for _, child := range n.Children {
		c += child.Count()
	}
	return c
}

// Snapshot captures the subtree at root depth first, an implicit parent has an empty value.
func Snapshot(ctx context.Context, s Store, root string) (*TreeNode, error) {
	root, err := CleanPath(root)
	if err != nil {
		return nil, err
	}
	value, err := s.Get(ctx, root)
	if err != nil && !terror.ErrCoordinationPathNotFound.Equal(err) {
		return nil, err
	}
	node := &TreeNode{Path: root, Value: value}
	children, err := s.Children(ctx, root)
	if err != nil {
		return nil, err
	}
	for _, name := range children {
		child, err := Snapshot(ctx, s, path.Join(root, name))
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

func errPathNotFound(p string) error {
	return terror.ErrCoordinationPathNotFound.Generate(p)
}
