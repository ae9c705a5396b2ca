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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/zap"

	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/retry"
	"github.com/pingcap/clusterops/pkg/terror"
)

const (
	defaultRequestTimeout = 30 * time.Second
	readRetryCount        = 3
	readRetryDuration     = time.Second
)

// Counter counts the elements of a resource through another endpoint than the admin API.
type Counter interface {
	Count(ctx context.Context, name string) (int64, error)
}

// HTTPControl implements Control against the JSON admin API of the cluster.
type HTTPControl struct {
	client  http.Client
	baseURL string
	counter Counter
	logger  log.Logger

	retryStrategy retry.Strategy
	retryParams   retry.Params
}

// NewHTTPControl creates a HTTPControl for the admin API at addr.
// counter is optional, the admin API counts elements when it is nil.
func NewHTTPControl(addr string, counter Counter) *HTTPControl {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &HTTPControl{
		client:  http.Client{Transport: http.DefaultTransport, Timeout: defaultRequestTimeout},
		baseURL: strings.TrimSuffix(addr, "/"),
		counter: counter,
		logger:  log.With(zap.String("component", "cluster admin client"), zap.String("addr", addr)),

		retryStrategy: &retry.FiniteRetryStrategy{},
		retryParams: retry.Params{
			RetryCount:         readRetryCount,
			FirstRetryDuration: readRetryDuration,
			BackoffStrategy:    retry.LinearIncrease,
			IsRetryableFn: func(_ int, err error) bool {
				return isRetryableRequestError(err)
			},
		},
	}
}

// statusError is returned for a response other than 200.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return "[" + http.StatusText(e.code) + "] " + e.body
}

func isNotFound(err error) bool {
	se, ok := errors.Cause(err).(*statusError)
	return ok && se.code == http.StatusNotFound
}

// isRetryableRequestError retries transport errors and server side errors.
func isRetryableRequestError(err error) bool {
	if se, ok := errors.Cause(err).(*statusError); ok {
		return se.code >= http.StatusInternalServerError
	}
	cause := errors.Cause(err)
	return cause != context.Canceled && cause != context.DeadlineExceeded
}

// doRequest sends a request and returns the response content.
func (c *HTTPControl) doRequest(ctx context.Context, method, path string, reqBody interface{}) ([]byte, error) {
	var body io.Reader
	if reqBody != nil {
		content, err := json.Marshal(reqBody)
		if err != nil {
			return nil, errors.Trace(err)
		}
		body = bytes.NewReader(content)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(content))}
	}
	return content, nil
}

// get reads path into out, retrying transient failures.
func (c *HTTPControl) get(ctx context.Context, path string, out interface{}) error {
	ret, _, err := c.retryStrategy.Apply(ctx, c.retryParams, func(ctx context.Context, i int) (interface{}, error) {
		if i > 0 {
			c.logger.Warn("retry admin request", zap.String("path", path), zap.Int("retry", i))
		}
		return c.doRequest(ctx, http.MethodGet, path, nil)
	})
	if err != nil {
		return terror.ErrClusterRequestFail.Delegate(err, http.MethodGet, path)
	}
	if err = json.Unmarshal(ret.([]byte), out); err != nil {
		return terror.ErrClusterDecodeResponse.Delegate(err, path)
	}
	return nil
}

// send issues a mutation, it is never retried here.
func (c *HTTPControl) send(ctx context.Context, method, path string, reqBody interface{}) error {
	c.logger.Info("send admin request", zap.String("method", method), zap.String("path", path))
	if _, err := c.doRequest(ctx, method, path, reqBody); err != nil {
		return terror.ErrClusterRequestFail.Delegate(err, method, path)
	}
	return nil
}

func resourcePath(name string, sub ...string) string {
	p := "/resources/" + url.PathEscape(name)
	for _, s := range sub {
		p += "/" + s
	}
	return p
}

// CreateResource implements Control.CreateResource.
func (c *HTTPControl) CreateResource(ctx context.Context, name string, partitions, replication int) error {
	return c.send(ctx, http.MethodPost, "/resources", map[string]interface{}{
		"name":        name,
		"partitions":  partitions,
		"replication": replication,
	})
}

// DropResource implements Control.DropResource.
func (c *HTTPControl) DropResource(ctx context.Context, name string) error {
	return c.send(ctx, http.MethodDelete, resourcePath(name), nil)
}

// RecallResource implements Control.RecallResource.
func (c *HTTPControl) RecallResource(ctx context.Context, id, name string) error {
	return c.send(ctx, http.MethodPost, "/recycle/"+url.PathEscape(id)+"/recall", map[string]string{"name": name})
}

// ListResources implements Control.ListResources.
func (c *HTTPControl) ListResources(ctx context.Context) ([]Resource, error) {
	var resources []Resource
	if err := c.get(ctx, "/resources", &resources); err != nil {
		return nil, err
	}
	return resources, nil
}

func (c *HTTPControl) getResource(ctx context.Context, name string) (*Resource, error) {
	var r Resource
	err := c.get(ctx, resourcePath(name), &r)
	if isNotFound(err) {
		return nil, terror.ErrClusterResourceNotFound.Generate(name)
	} else if err != nil {
		return nil, err
	}
	return &r, nil
}

// ResourceExists implements Control.ResourceExists.
func (c *HTTPControl) ResourceExists(ctx context.Context, name string) (bool, error) {
	_, err := c.getResource(ctx, name)
	if terror.ErrClusterResourceNotFound.Equal(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// GetResourceID implements Control.GetResourceID.
func (c *HTTPControl) GetResourceID(ctx context.Context, name string) (string, error) {
	r, err := c.getResource(ctx, name)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

// GetReadOnly implements Control.GetReadOnly.
func (c *HTTPControl) GetReadOnly(ctx context.Context, name string) (bool, error) {
	r, err := c.getResource(ctx, name)
	if err != nil {
		return false, err
	}
	return r.ReadOnly, nil
}

// SetReadOnly implements Control.SetReadOnly.
func (c *HTTPControl) SetReadOnly(ctx context.Context, name string, readOnly bool) error {
	return c.send(ctx, http.MethodPut, resourcePath(name, "read-only"), map[string]bool{"read_only": readOnly})
}

// CountElements implements Control.CountElements.
func (c *HTTPControl) CountElements(ctx context.Context, name string) (int64, error) {
	if c.counter != nil {
		return c.counter.Count(ctx, name)
	}
	var resp struct {
		Count int64 `json:"count"`
	}
	if err := c.get(ctx, resourcePath(name, "count"), &resp); err != nil {
		return 0, terror.ErrClusterCountElements.Delegate(err, name)
	}
	return resp.Count, nil
}

// ResourceTraffic implements Control.ResourceTraffic.
func (c *HTTPControl) ResourceTraffic(ctx context.Context, name string) (float64, error) {
	var resp struct {
		ReadQPS  float64 `json:"read_qps"`
		WriteQPS float64 `json:"write_qps"`
	}
	if err := c.get(ctx, resourcePath(name, "traffic"), &resp); err != nil {
		return 0, err
	}
	return resp.ReadQPS + resp.WriteQPS, nil
}

// ListNodes implements Control.ListNodes.
func (c *HTTPControl) ListNodes(ctx context.Context, role Role) ([]Node, error) {
	var nodes []Node
	if err := c.get(ctx, "/nodes?role="+url.QueryEscape(string(role)), &nodes); err != nil {
		return nil, err
	}
	for i := range nodes {
		nodes[i].Role = role
	}
	return nodes, nil
}

// ListDeadNodes implements Control.ListDeadNodes.
func (c *HTTPControl) ListDeadNodes(ctx context.Context, role Role) ([]Node, error) {
	nodes, err := c.ListNodes(ctx, role)
	if err != nil {
		return nil, err
	}
	dead := make([]Node, 0)
	for _, n := range nodes {
		if !n.Alive {
			dead = append(dead, n)
		}
	}
	return dead, nil
}

// ListUnhealthyResources implements Control.ListUnhealthyResources.
func (c *HTTPControl) ListUnhealthyResources(ctx context.Context) ([]string, error) {
	resources, err := c.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	unhealthy := make([]string, 0)
	for _, r := range resources {
		if !r.Healthy {
			unhealthy = append(unhealthy, r.Name)
		}
	}
	return unhealthy, nil
}

// OutstandingRebalanceOps implements Control.OutstandingRebalanceOps.
func (c *HTTPControl) OutstandingRebalanceOps(ctx context.Context) (int, error) {
	var resp struct {
		Outstanding int `json:"outstanding"`
	}
	if err := c.get(ctx, "/rebalance", &resp); err != nil {
		return 0, err
	}
	return resp.Outstanding, nil
}

// TriggerRebalance implements Control.TriggerRebalance.
func (c *HTTPControl) TriggerRebalance(ctx context.Context, strategy Strategy) error {
	return c.send(ctx, http.MethodPost, "/rebalance", map[string]string{"strategy": string(strategy)})
}
