// Copyright 2015 Comcast Cable Communications Management, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// End Copyright

package service

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rules",
			Subsystem: "service",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		},
		[]string{"path", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rules",
			Subsystem: "service",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rules",
			Subsystem: "engine",
			Name:      "evaluations_total",
			Help:      "Rules evaluated, by entity type and outcome",
		},
		[]string{"entity_type", "outcome"},
	)

	rulesStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rules",
			Subsystem: "engine",
			Name:      "rules_stored_total",
			Help:      "Rules stored or upserted",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, evaluationsTotal, rulesStored)
}

func observeRequest(path string, status int, elapsed time.Duration) {
	requestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}

func observeEvaluation(entityType string, total, failed int) {
	evaluationsTotal.WithLabelValues(entityType, "passed").Add(float64(total - failed))
	evaluationsTotal.WithLabelValues(entityType, "failed").Add(float64(failed))
}

func observeRulesStored(n int) {
	rulesStored.Add(float64(n))
}
