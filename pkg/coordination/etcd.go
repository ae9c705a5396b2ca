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

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/pingcap/clusterops/pkg/etcdutil"
	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/terror"
)

// EtcdStore implements Store on etcd, every node is a key named by its path.
type EtcdStore struct {
	cli    *clientv3.Client
	logger log.Logger
}

// NewEtcdStore creates an EtcdStore with a client to endpoints.
func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	cli, err := etcdutil.CreateClient(endpoints, nil)
	if err != nil {
		return nil, terror.ErrCoordinationClient.Delegate(err, endpoints)
	}
	return NewEtcdStoreWithClient(cli), nil
}

// NewEtcdStoreWithClient creates an EtcdStore with an existing client.
func NewEtcdStoreWithClient(cli *clientv3.Client) *EtcdStore {
	return &EtcdStore{
		cli:    cli,
		logger: log.With(zap.String("component", "coordination store")),
	}
}

// Close closes the etcd client.
func (s *EtcdStore) Close() error {
	return s.cli.Close()
}

// Get implements Store.Get.
func (s *EtcdStore) Get(ctx context.Context, p string) (string, error) {
	p, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, etcdutil.DefaultRequestTimeout)
	defer cancel()
	resp, err := s.cli.Get(ctx, p)
	if err != nil {
		return "", terror.ErrCoordinationGet.Delegate(err, p)
	}
	if len(resp.Kvs) == 0 {
		return "", errPathNotFound(p)
	}
	return string(resp.Kvs[0].Value), nil
}

// Put implements Store.Put.
func (s *EtcdStore) Put(ctx context.Context, p, value string) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	if _, _, err = etcdutil.DoOpsInOneTxnWithRetry(ctx, s.cli, clientv3.OpPut(p, value)); err != nil {
		return terror.ErrCoordinationPut.Delegate(err, p)
	}
	return nil
}

// Children implements Store.Children.
func (s *EtcdStore) Children(ctx context.Context, p string) ([]string, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, etcdutil.DefaultRequestTimeout)
	defer cancel()
	prefix := childPrefix(p)
	resp, err := s.cli.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, terror.ErrCoordinationChildren.Delegate(err, p)
	}
	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, string(kv.Key))
	}
	return directChildren(prefix, keys), nil
}

// Exists implements Store.Exists.
func (s *EtcdStore) Exists(ctx context.Context, p string) (bool, error) {
	p, err := CleanPath(p)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, etcdutil.DefaultRequestTimeout)
	defer cancel()
	resp, err := s.cli.Txn(ctx).Then(
		clientv3.OpGet(p, clientv3.WithCountOnly()),
		clientv3.OpGet(childPrefix(p), clientv3.WithPrefix(), clientv3.WithCountOnly()),
	).Commit()
	if err != nil {
		return false, terror.ErrCoordinationGet.Delegate(err, p)
	}
	for _, r := range resp.Responses {
		if r.GetResponseRange().Count > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Delete implements Store.Delete.
func (s *EtcdStore) Delete(ctx context.Context, p string, checkExists bool) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	resp, _, err := etcdutil.DoOpsInOneTxnWithRetry(ctx, s.cli,
		clientv3.OpDelete(p),
		clientv3.OpDelete(childPrefix(p), clientv3.WithPrefix()),
	)
	if err != nil {
		return terror.ErrCoordinationDelete.Delegate(err, p)
	}
	var deleted int64
	for _, r := range resp.Responses {
		deleted += r.GetResponseDeleteRange().Deleted
	}
	if deleted == 0 && checkExists {
		return errPathNotFound(p)
	}
	s.logger.Info("delete subtree", zap.String("path", p), zap.Int64("deleted keys", deleted))
	return nil
}
