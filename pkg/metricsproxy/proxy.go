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

package metricsproxy

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// labelRecorder remembers every label set a vec has handed out,
// so that all series matching a partial label set can be deleted later.
type labelRecorder struct {
	mu         sync.Mutex
	labelNames []string
	labels     map[string]prometheus.Labels
}

func newLabelRecorder(labelNames []string) *labelRecorder {
	return &labelRecorder{
		labelNames: labelNames,
		labels:     make(map[string]prometheus.Labels),
	}
}

func (r *labelRecorder) noteValues(lvs []string) {
	if len(lvs) == 0 {
		return
	}
	labels := make(prometheus.Labels, len(lvs))
	for i, v := range lvs {
		labels[r.labelNames[i]] = v
	}
	r.note(labels)
}

func (r *labelRecorder) note(labels prometheus.Labels) {
	if len(labels) == 0 {
		return
	}
	values := make([]string, 0, len(r.labelNames))
	for _, name := range r.labelNames {
		values = append(values, labels[name])
	}
	key := strings.Join(values, ",")

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.labels[key]; !ok {
		r.labels[key] = labels
	}
}

// deleteMatching calls del on every recorded label set containing all of labels.
func (r *labelRecorder) deleteMatching(labels prometheus.Labels, del func(prometheus.Labels) bool) bool {
	if len(labels) == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	res := true
	for key, ls := range r.labels {
		matched := true
		for k, v := range labels {
			if ls[k] != v {
				matched = false
				break
			}
		}
		if matched {
			res = del(ls) && res
			delete(r.labels, key)
		}
	}
	return res
}

// CounterVecProxy to proxy prometheus.CounterVec
type CounterVecProxy struct {
	*labelRecorder
	*prometheus.CounterVec
}

// NewCounterVec creates a new CounterVecProxy.
func NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *CounterVecProxy {
	return &CounterVecProxy{
		labelRecorder: newLabelRecorder(labelNames),
		CounterVec:    prometheus.NewCounterVec(opts, labelNames),
	}
}

// WithLabelValues works as prometheus.CounterVec.WithLabelValues.
func (c *CounterVecProxy) WithLabelValues(lvs ...string) prometheus.Counter {
	c.noteValues(lvs)
	return c.CounterVec.WithLabelValues(lvs...)
}

// With works as prometheus.CounterVec.With.
func (c *CounterVecProxy) With(labels prometheus.Labels) prometheus.Counter {
	c.note(labels)
	return c.CounterVec.With(labels)
}

// DeleteAllAboutLabels removes every series whose labels contain labels.
func (c *CounterVecProxy) DeleteAllAboutLabels(labels prometheus.Labels) bool {
	return c.deleteMatching(labels, c.CounterVec.Delete)
}

// GaugeVecProxy to proxy prometheus.GaugeVec
type GaugeVecProxy struct {
	*labelRecorder
	*prometheus.GaugeVec
}

// NewGaugeVec creates a new GaugeVecProxy.
func NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *GaugeVecProxy {
	return &GaugeVecProxy{
		labelRecorder: newLabelRecorder(labelNames),
		GaugeVec:      prometheus.NewGaugeVec(opts, labelNames),
	}
}

// WithLabelValues works as prometheus.GaugeVec.WithLabelValues.
func (g *GaugeVecProxy) WithLabelValues(lvs ...string) prometheus.Gauge {
	g.noteValues(lvs)
	return g.GaugeVec.WithLabelValues(lvs...)
}

// With works as prometheus.GaugeVec.With.
func (g *GaugeVecProxy) With(labels prometheus.Labels) prometheus.Gauge {
	g.note(labels)
	return g.GaugeVec.With(labels)
}

// DeleteAllAboutLabels removes every series whose labels contain labels.
func (g *GaugeVecProxy) DeleteAllAboutLabels(labels prometheus.Labels) bool {
	return g.deleteMatching(labels, g.GaugeVec.Delete)
}

// HistogramVecProxy to proxy prometheus.HistogramVec
type HistogramVecProxy struct {
	*labelRecorder
	*prometheus.HistogramVec
}

// NewHistogramVec creates a new HistogramVecProxy.
func NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *HistogramVecProxy {
	return &HistogramVecProxy{
		labelRecorder: newLabelRecorder(labelNames),
		HistogramVec:  prometheus.NewHistogramVec(opts, labelNames),
	}
}

// WithLabelValues works as prometheus.HistogramVec.WithLabelValues.
func (h *HistogramVecProxy) WithLabelValues(lvs ...string) prometheus.Observer {
	h.noteValues(lvs)
	return h.HistogramVec.WithLabelValues(lvs...)
}

// With works as prometheus.HistogramVec.With.
func (h *HistogramVecProxy) With(labels prometheus.Labels) prometheus.Observer {
	h.note(labels)
	return h.HistogramVec.With(labels)
}

// DeleteAllAboutLabels removes every series whose labels contain labels.
func (h *HistogramVecProxy) DeleteAllAboutLabels(labels prometheus.Labels) bool {
	return h.deleteMatching(labels, h.HistogramVec.Delete)
}
