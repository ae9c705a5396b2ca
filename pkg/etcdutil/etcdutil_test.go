// Copyright 2019 PingCAP, Inc.
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

package etcdutil

import (
	"context"
	"testing"

	. "github.com/pingcap/check"
	"github.com/pingcap/failpoint"
	v3rpc "go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/clientv3util"
	"go.etcd.io/etcd/tests/v3/integration"

	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/terror"
)

var _ = Suite(&testEtcdUtilSuite{})

var etcdTestCli *clientv3.Client

type testEtcdUtilSuite struct{}

func TestSuite(t *testing.T) {
	if err := log.InitLogger(&log.Config{}); err != nil {
		t.Fatal(err)
	}

	integration.BeforeTestExternal(t)
	mockCluster := integration.NewClusterV3(t, &integration.ClusterConfig{Size: 1})
	defer mockCluster.Terminate(t)

	etcdTestCli = mockCluster.RandClient()

	TestingT(t)
}

func (t *testEtcdUtilSuite) TestDoOpsInOneTxnWithRetry(c *C) {
	var (
		ctx  = context.Background()
		key1 = "/test/etcdutil/do-ops-in-one-txn-with-retry-1"
		key2 = "/test/etcdutil/do-ops-in-one-txn-with-retry-2"
		val1 = "foo"
		val2 = "bar"
		val  = "foo-bar"
	)

	resp, rev1, err := DoOpsInOneTxnWithRetry(ctx, etcdTestCli, clientv3.OpPut(key1, val1), clientv3.OpPut(key2, val2))
	c.Assert(err, IsNil)
	c.Assert(rev1, Greater, int64(0))
	c.Assert(resp.Responses, HasLen, 2)

	// both cmps are true
	cmp1 := clientv3.Compare(clientv3.Value(key1), "=", val1)
	cmp2 := clientv3.Compare(clientv3.Value(key2), "=", val2)
	resp, rev2, err := DoOpsInOneCmpsTxnWithRetry(ctx, etcdTestCli, []clientv3.Cmp{cmp1, cmp2}, []clientv3.Op{
		clientv3.OpPut(key1, val), clientv3.OpPut(key2, val),
	}, []clientv3.Op{})
	c.Assert(err, IsNil)
	c.Assert(rev2, Greater, rev1)
	c.Assert(resp.Succeeded, IsTrue)
	c.Assert(resp.Responses, HasLen, 2)

	// one of cmps are false
	cmp1 = clientv3.Compare(clientv3.Value(key1), "=", val)
	cmp2 = clientv3.Compare(clientv3.Value(key2), "=", val2)
	resp, rev3, err := DoOpsInOneCmpsTxnWithRetry(ctx, etcdTestCli, []clientv3.Cmp{cmp1, cmp2}, []clientv3.Op{}, []clientv3.Op{
		clientv3.OpDelete(key1), clientv3.OpDelete(key2),
	})
	c.Assert(err, IsNil)
	c.Assert(rev3, Greater, rev2)
	c.Assert(resp.Succeeded, IsFalse)
	c.Assert(resp.Responses, HasLen, 2)

	// enable failpoint
	c.Assert(failpoint.Enable("github.com/pingcap/clusterops/pkg/etcdutil/ErrNoSpace", `3*return()`), IsNil)
	//nolint:errcheck
	defer failpoint.Disable("github.com/pingcap/clusterops/pkg/etcdutil/ErrNoSpace")

	// put again
	resp, rev2, err = DoOpsInOneCmpsTxnWithRetry(ctx, etcdTestCli, []clientv3.Cmp{clientv3util.KeyMissing(key1), clientv3util.KeyMissing(key2)}, []clientv3.Op{
		clientv3.OpPut(key1, val), clientv3.OpPut(key2, val),
	}, []clientv3.Op{})
	c.Assert(err, IsNil)
	c.Assert(rev2, Greater, rev3)
	c.Assert(resp.Responses, HasLen, 2)
}

func (t *testEtcdUtilSuite) TestIsRetryableError(c *C) {
	c.Assert(IsRetryableError(v3rpc.ErrCompacted), IsTrue)
	c.Assert(IsRetryableError(v3rpc.ErrNoLeader), IsTrue)
	c.Assert(IsRetryableError(v3rpc.ErrNoSpace), IsTrue)
	c.Assert(IsRetryableError(context.DeadlineExceeded), IsTrue)

	c.Assert(IsRetryableError(v3rpc.ErrCorrupt), IsFalse)
	c.Assert(IsRetryableError(terror.ErrCoordinationGet.Generate("/a")), IsFalse)
	c.Assert(IsRetryableError(nil), IsFalse)
}
