// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package policy

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowguard/rowguard/internal/access/policy/types"
	"github.com/rowguard/rowguard/internal/expr"
)

func TestMetrics_Registered(t *testing.T) {
	RecordDecisionMetrics(time.Millisecond, types.Key{Resource: "Probe", Action: types.ActionRead}, types.EffectAllow)
	recordEvaluationFailure(expr.KindUnknown)
	rowFilterModes.WithLabelValues(string(types.FilterModeStore)).Add(0)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	registered := make(map[string]bool, len(families))
	for _, f := range families {
		registered[f.GetName()] = true
	}
	for _, name := range []string{
		"rowguard_decide_duration_seconds",
		"rowguard_decisions_total",
		"rowguard_evaluation_failures_total",
		"rowguard_row_filter_mode_total",
	} {
		assert.True(t, registered[name], "metric %q should be registered", name)
	}
}

func TestMetrics_DecideCounts(t *testing.T) {
	e := NewEngine(Static(compile(t, nil, scenarioA())))
	counter := decisions.WithLabelValues("Post", "read", "deny")
	before := testutil.ToFloat64(counter)

	e.Decide(context.Background(), readPost(user(5), map[string]any{"authorId": 6}))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestMetrics_EvaluationFailureCounted(t *testing.T) {
	p := allow("Stats", types.ActionRead, expr.Call(expr.OpGt,
		expr.Call(expr.OpDivide, expr.Lit(1), expr.Lit(0)), expr.Lit(0)))
	e := NewEngine(Static(compile(t, nil, p)))
	counter := evaluationFailures.WithLabelValues(string(expr.KindDivisionByZero))
	before := testutil.ToFloat64(counter)

	e.Decide(context.Background(), types.PolicyContext{Resource: "Stats", Action: types.ActionRead})
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestMetrics_RowFilterModeCounted(t *testing.T) {
	e := NewEngine(Static(EmptySnapshot()))
	counter := rowFilterModes.WithLabelValues(string(types.FilterModeDenyAll))
	before := testutil.ToFloat64(counter)

	e.ApplyRowFilter(context.Background(), types.PolicyContext{Resource: "Post", Action: types.ActionRead})
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRegisterCacheMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterCacheMetrics(reg)
	CacheLastUpdate.Set(42)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "rowguard_policy_cache_last_update", families[0].GetName())
}
