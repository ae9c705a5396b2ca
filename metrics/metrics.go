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

package metrics

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pingcap/clusterops/pkg/log"
	"github.com/pingcap/clusterops/pkg/metricsproxy"
	"github.com/pingcap/clusterops/pkg/utils"
)

var (
	stepStageCounter = metricsproxy.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clusterops",
			Subsystem: "workflow",
			Name:      "step_stage_total",
			Help:      "Total count of step lifecycle transitions",
		}, []string{"workflow", "step", "stage"})

	workflowResultCounter = metricsproxy.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clusterops",
			Subsystem: "workflow",
			Name:      "result_total",
			Help:      "Total count of finished workflow runs by result",
		}, []string{"workflow", "result"})

	workflowDurationHistogram = metricsproxy.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clusterops",
			Subsystem: "workflow",
			Name:      "duration_seconds",
			Help:      "Bucketed histogram of workflow run time (s)",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 16),
		}, []string{"workflow"})

	workerResultCounter = metricsproxy.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clusterops",
			Subsystem: "maintenance",
			Name:      "worker_result_total",
			Help:      "Total count of health worker results",
		}, []string{"worker", "tier", "result"})

	workerAbnormalGauge = metricsproxy.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clusterops",
			Subsystem: "maintenance",
			Name:      "worker_abnormal",
			Help:      "Whether the state checked by a health worker is abnormal after the last pass",
		}, []string{"worker"})

	rebalanceWaitHistogram = metricsproxy.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clusterops",
			Subsystem: "rebalance",
			Name:      "wait_seconds",
			Help:      "Bucketed histogram of time (s) spent waiting for outstanding rebalance operations",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"result"})

	rebalancePollCounter = metricsproxy.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clusterops",
			Subsystem: "rebalance",
			Name:      "poll_total",
			Help:      "Total count of outstanding rebalance operation polls",
		}, []string{"result"})

	registryOnce sync.Once
	registry     *prometheus.Registry
)

// RegisterMetrics registers the collectors into registry.
func RegisterMetrics(registry *prometheus.Registry) {
	registry.MustRegister(stepStageCounter)
	registry.MustRegister(workflowResultCounter)
	registry.MustRegister(workflowDurationHistogram)
	registry.MustRegister(workerResultCounter)
	registry.MustRegister(workerAbnormalGauge)
	registry.MustRegister(rebalanceWaitHistogram)
	registry.MustRegister(rebalancePollCounter)
}

func getRegistry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
		registry.MustRegister(prometheus.NewGoCollector())
		RegisterMetrics(registry)
	})
	return registry
}

// ObserveStage records a step reaching stage.
func ObserveStage(workflow, step, stage string) {
	stepStageCounter.WithLabelValues(workflow, step, stage).Inc()
}

// ObserveWorkflow records the result of a finished workflow run.
func ObserveWorkflow(workflow, result string, cost time.Duration) {
	workflowResultCounter.WithLabelValues(workflow, result).Inc()
	workflowDurationHistogram.WithLabelValues(workflow).Observe(cost.Seconds())
}

// RemoveWorkflowMetrics drops the per-step series of a workflow.
func RemoveWorkflowMetrics(workflow string) {
	stepStageCounter.DeleteAllAboutLabels(prometheus.Labels{"workflow": workflow})
}

// ObserveWorker records the result of a health worker in one pass.
func ObserveWorker(worker, tier, result string, abnormal bool) {
	workerResultCounter.WithLabelValues(worker, tier, result).Inc()
	v := 0.0
	if abnormal {
		v = 1
	}
	workerAbnormalGauge.WithLabelValues(worker).Set(v)
}

// ObserveRebalancePoll records one poll of the outstanding rebalance operations.
func ObserveRebalancePoll(outstanding int) {
	result := "pending"
	if outstanding == 0 {
		result = "balanced"
	}
	rebalancePollCounter.WithLabelValues(result).Inc()
}

// ObserveRebalanceWait records a finished wait for outstanding rebalance operations.
func ObserveRebalanceWait(result string, cost time.Duration) {
	rebalanceWaitHistogram.WithLabelValues(result).Observe(cost.Seconds())
}

type statusHandler struct{}

func (h *statusHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	text := utils.GetRawInfo()
	if _, err := w.Write([]byte(text)); err != nil {
		log.L().Error("fail to write status response", log.ShortError(err))
	}
}

// GetMetricsHandler returns the HTTP handler serving the collectors.
func GetMetricsHandler() http.Handler {
	return promhttp.HandlerFor(getRegistry(), promhttp.HandlerOpts{})
}

// NewStatusServer creates the HTTP server exposing `/status` and `/metrics`.
func NewStatusServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/status", &statusHandler{})
	mux.Handle("/metrics", GetMetricsHandler())
	return &http.Server{Handler: mux}
}

// InitStatus serves the status server on lis until it is closed.
func InitStatus(srv *http.Server, lis net.Listener) {
	err := srv.Serve(lis)
	if err != nil && err != http.ErrServerClosed {
		log.L().Error("fail to start status server return", log.ShortError(err))
	}
}
