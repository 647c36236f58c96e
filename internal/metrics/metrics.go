/*
Copyright 2024 The Deckhand Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics contains functionality for emitting Prometheus metrics.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/airshipit/deckhand/internal/xerrors"
)

// Render results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics are requests, errors, and duration (RED) metrics for document
// renders and revision writes.
type Metrics struct {
	renders   *prometheus.CounterVec
	errors    *prometheus.CounterVec
	duration  prometheus.Histogram
	revisions prometheus.Counter
}

// NewMetrics creates metrics for renders and revision writes.
func NewMetrics() *Metrics {
	return &Metrics{
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deckhand",
			Name:      "render_total",
			Help:      "Total number of revision renders, labelled by result.",
		}, []string{"result"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deckhand",
			Name:      "render_errors_total",
			Help:      "Total number of render errors, labelled by error kind.",
		}, []string{"kind"}),

		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deckhand",
			Name:      "render_seconds",
			Help:      "Histogram of render latency (seconds).",
			Buckets:   prometheus.DefBuckets,
		}),

		revisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deckhand",
			Name:      "revisions_created_total",
			Help:      "Total number of revisions minted by bucket writes and rollbacks.",
		}),
	}
}

// Describe sends the super-set of all possible descriptors of metrics
// collected by this Collector to the provided channel and returns once the
// last descriptor has been sent.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.renders.Describe(ch)
	m.errors.Describe(ch)
	m.duration.Describe(ch)
	m.revisions.Describe(ch)
}

// Collect is called by the Prometheus registry when collecting metrics. The
// implementation sends each collected metric via the provided channel and
// returns once the last metric has been sent.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.renders.Collect(ch)
	m.errors.Collect(ch)
	m.duration.Collect(ch)
	m.revisions.Collect(ch)
}

// ObserveRender records one render's outcome and latency. Accumulated
// engine errors are counted per kind.
func (m *Metrics) ObserveRender(d time.Duration, err error) {
	m.duration.Observe(d.Seconds())

	if err == nil {
		m.renders.With(prometheus.Labels{"result": ResultSuccess}).Inc()
		return
	}
	m.renders.With(prometheus.Labels{"result": ResultFailure}).Inc()

	var list *xerrors.List
	if errors.As(err, &list) {
		for _, e := range list.Errors() {
			m.errors.With(prometheus.Labels{"kind": string(e.Kind)}).Inc()
		}
		return
	}
	if e, ok := xerrors.As(err); ok {
		m.errors.With(prometheus.Labels{"kind": string(e.Kind)}).Inc()
	}
}

// RevisionCreated records that a bucket write or rollback minted a revision.
func (m *Metrics) RevisionCreated() {
	m.revisions.Inc()
}
