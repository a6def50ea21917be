/*
Copyright 2024 Blnk Finance Authors.

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

// Package metrics holds the Prometheus collectors of the order worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineOutcomes counts finished pipeline runs by terminal stage.
	PipelineOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_worker_pipeline_outcomes_total",
		Help: "Finished order pipeline runs by terminal stage",
	}, []string{"stage"})

	// PipelineDuration tracks end-to-end processing time of a message.
	PipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "order_worker_pipeline_duration_seconds",
		Help:    "Order pipeline duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
	}, []string{"stage"})

	// RetryAttempts counts executor attempts by result.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_worker_retry_attempts_total",
		Help: "Retry executor attempts by result",
	}, []string{"result"})

	// SweepActions counts what the sweeper did with each due ledger entry.
	SweepActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_worker_sweep_actions_total",
		Help: "Ledger sweep actions by kind",
	}, []string{"action"})

	// HTTPRejected counts API requests turned away by middleware.
	HTTPRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_worker_http_rejected_total",
		Help: "API requests rejected before reaching a handler, by reason",
	}, []string{"reason"})

	// LedgerPending is the size of the retry index after the last sweep.
	LedgerPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "order_worker_ledger_pending",
		Help: "Entries in the retry index",
	})
)

// Retry attempt results.
const (
	ResultSuccess   = "success"
	ResultRetry     = "retry"
	ResultExhausted = "exhausted"
	ResultTerminal  = "terminal"
	ResultCancelled = "cancelled"
)

// Sweep actions.
const (
	SweepAdvanced = "advanced"
	SweepReplayed = "replayed"
	SweepResolved = "resolved"
	SweepGaveUp   = "gave_up"
	SweepOrphan   = "orphan"
	SweepSkipped  = "skipped"
	SweepError    = "error"
)

// HTTP rejection reasons.
const (
	RejectRateLimited  = "rate_limited"
	RejectUnauthorized = "unauthorized"
)
