/*
Copyright 2025 Pulse Technologies, Inc.

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

package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pulsehq/pulse"
)

// fetch outcome labels
const (
	outcomeSuccess     = "success"
	outcomeFailure     = "failure"
	outcomeRateLimited = "rate_limited"
	outcomeAuthExpired = "auth_expired"
	outcomeSkipped     = "skipped"
)

var (
	tickCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: pulse.MetricNamespace,
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Number of scheduler ticks started.",
	})
	fetchCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: pulse.MetricNamespace,
		Subsystem: "scheduler",
		Name:      "fetches_total",
		Help:      "Number of per-account fetch attempts by platform and outcome.",
	}, []string{"platform", "outcome"})
	fetchSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: pulse.MetricNamespace,
		Subsystem: "scheduler",
		Name:      "fetch_seconds",
		Help:      "Provider fetch latency by platform.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"platform"})
	materializeCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: pulse.MetricNamespace,
		Subsystem: "scheduler",
		Name:      "materializations_total",
		Help:      "Number of timeline materializations completed.",
	})
)

var registerMetricsOnce sync.Once

// registerMetrics registers the collectors exactly once per process,
// no matter how many schedulers get built.
func registerMetrics() {
	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(tickCount, fetchCount, fetchSeconds, materializeCount)
	})
}
