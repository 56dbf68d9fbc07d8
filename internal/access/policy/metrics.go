// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package policy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rowguard/rowguard/internal/access/policy/types"
	"github.com/rowguard/rowguard/internal/expr"
)

var (
	decideDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rowguard_decide_duration_seconds",
		Help:    "Histogram of access decision latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowguard_decisions_total",
		Help: "Total number of access decisions",
	}, []string{"resource", "action", "effect"})

	evaluationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowguard_evaluation_failures_total",
		Help: "Total number of expression evaluation failures by kind",
	}, []string{"kind"})

	rowFilterModes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowguard_row_filter_mode_total",
		Help: "Total number of row filters produced, by mode",
	}, []string{"mode"})
)

// RecordDecisionMetrics records a completed decision.
func RecordDecisionMetrics(duration time.Duration, key types.Key, effect types.Effect) {
	decideDuration.Observe(duration.Seconds())
	decisions.WithLabelValues(key.Resource, string(key.Action), effect.String()).Inc()
}

func recordEvaluationFailure(kind expr.Kind) {
	evaluationFailures.WithLabelValues(string(kind)).Inc()
}

// CacheLastUpdate records the last successful cache reload. Register it with
// RegisterCacheMetrics.
var CacheLastUpdate = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "rowguard_policy_cache_last_update",
	Help: "Unix timestamp of the last successful policy cache reload",
})

// RegisterCacheMetrics registers the cache gauge with reg.
func RegisterCacheMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CacheLastUpdate)
}
