// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package policy

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rowguard/rowguard/internal/access/policy/audit"
	"github.com/rowguard/rowguard/internal/access/policy/types"
	"github.com/rowguard/rowguard/internal/expr"
	"github.com/rowguard/rowguard/pkg/errutil"
)

var tracer = otel.Tracer("github.com/rowguard/rowguard/internal/access/policy")

// SnapshotProvider supplies the current policy snapshot.
type SnapshotProvider interface {
	Snapshot() *Snapshot
	IsStale() bool
}

// Auditor receives every decision made by Decide.
type Auditor interface {
	Log(ctx context.Context, entry audit.Entry) error
}

type staticProvider struct {
	snap *Snapshot
}

func (s staticProvider) Snapshot() *Snapshot { return s.snap }
func (s staticProvider) IsStale() bool       { return false }

// Static serves a fixed snapshot that never goes stale.
func Static(snap *Snapshot) SnapshotProvider {
	if snap == nil {
		snap = EmptySnapshot()
	}
	return staticProvider{snap: snap}
}

// Engine answers access questions against the provider's snapshot. It is
// safe for concurrent use. Every answer fails closed: a missing policy, a
// stale cache, a cancelled context or an evaluation error all deny.
type Engine struct {
	snapshots SnapshotProvider
	evaluator *expr.Evaluator
	budget    expr.Budget
	auditor   Auditor
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithBudget sets the budget applied to every evaluation.
func WithBudget(b expr.Budget) EngineOption {
	return func(e *Engine) {
		e.budget = b
	}
}

// WithEvaluator replaces the expression evaluator.
func WithEvaluator(ev *expr.Evaluator) EngineOption {
	return func(e *Engine) {
		e.evaluator = ev
	}
}

// WithAuditor sends decisions to a.
func WithAuditor(a Auditor) EngineOption {
	return func(e *Engine) {
		e.auditor = a
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an engine over snapshots.
func NewEngine(snapshots SnapshotProvider, opts ...EngineOption) *Engine {
	e := &Engine{
		snapshots: snapshots,
		evaluator: expr.NewEvaluator(),
		budget:    expr.DefaultBudget(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckAccess reports whether the action in pc may proceed.
func (e *Engine) CheckAccess(ctx context.Context, pc types.PolicyContext) bool {
	return e.Decide(ctx, pc).IsAllowed()
}

// Decide evaluates pc and returns the decision with its reason. Decisions
// are audited and counted.
func (e *Engine) Decide(ctx context.Context, pc types.PolicyContext) types.Decision {
	ctx, span := tracer.Start(ctx, "policy.Decide", trace.WithAttributes(
		attribute.String("rowguard.resource", pc.Resource),
		attribute.String("rowguard.action", string(pc.Action)),
	))
	defer span.End()

	start := time.Now()
	decision := e.decide(ctx, pc)

	if err := decision.Validate(); err != nil {
		errutil.LogError(e.logger, "decision invariant violated", err)
		decision = types.NewDecision(types.EffectDefaultDeny, "invalid decision", decision.PolicyKey)
	}

	span.SetAttributes(attribute.String("rowguard.effect", decision.Effect.String()))
	if decision.Effect == types.EffectErrorDeny {
		span.SetStatus(codes.Error, decision.Reason)
	}

	elapsed := time.Since(start)
	RecordDecisionMetrics(elapsed, pc.Key(), decision.Effect)
	e.audit(ctx, pc, decision, elapsed)
	return decision
}

func (e *Engine) decide(ctx context.Context, pc types.PolicyContext) types.Decision {
	p, d, ok := e.policyFor(ctx, e.snapshots.Snapshot(), pc)
	if !ok {
		return d
	}
	key := p.Key().String()

	allowed, err := e.evaluateAllow(p, pc, recordOf(pc))
	if err != nil {
		d := types.NewDecision(types.EffectErrorDeny, "allow evaluation failed: "+errutil.Code(err), key)
		d.FailureKind = expr.KindOf(err)
		return d
	}
	if !allowed {
		return types.NewDecision(types.EffectDeny, "allow evaluated to false", key)
	}
	return types.NewDecision(types.EffectAllow, "allow evaluated to true", key)
}

// policyFor resolves the policy addressed by pc in snap. Callers that need
// more than the policy read snap once and pass it, so both lookups see the
// same document. When ok is false the returned decision explains the denial.
func (e *Engine) policyFor(ctx context.Context, snap *Snapshot, pc types.PolicyContext) (*CompiledPolicy, types.Decision, bool) {
	if err := ctx.Err(); err != nil {
		d := types.NewDecision(types.EffectErrorDeny, "context done: "+err.Error(), "")
		return nil, d, false
	}
	if err := pc.Validate(); err != nil {
		return nil, types.NewDecision(types.EffectDefaultDeny, err.Error(), ""), false
	}
	if e.snapshots.IsStale() {
		return nil, types.NewDecision(types.EffectDefaultDeny, "policy cache stale", ""), false
	}
	p, ok := snap.Policy(pc.Key())
	if !ok {
		return nil, types.NewDecision(types.EffectDefaultDeny, "no policy for "+pc.Key().String(), ""), false
	}
	return p, types.Decision{}, true
}

// evaluateAllow evaluates the allow expression against record. Failures
// are logged and counted here so every caller treats them as a denial.
func (e *Engine) evaluateAllow(p *CompiledPolicy, pc types.PolicyContext, record map[string]any) (bool, error) {
	c := expr.NewContext(record, pc.User.ExprUser(), nil, nil)
	allowed, err := e.evaluator.EvaluateBool(p.Policy.Allow.Node, c, e.budget)
	if err != nil {
		kind := expr.KindOf(err)
		recordEvaluationFailure(kind)
		e.logger.Debug("allow evaluation failed",
			"policy", p.Key().String(),
			"kind", string(kind),
			"code", errutil.Code(err),
			"error", err,
		)
		return false, err
	}
	return allowed, nil
}

func recordOf(pc types.PolicyContext) map[string]any {
	switch {
	case pc.Data != nil:
		return pc.Data
	case pc.Where != nil:
		return pc.Where
	default:
		return map[string]any{}
	}
}

func (e *Engine) audit(ctx context.Context, pc types.PolicyContext, d types.Decision, elapsed time.Duration) {
	if e.auditor == nil {
		return
	}
	entry := audit.Entry{
		Resource:    pc.Resource,
		Action:      string(pc.Action),
		Effect:      d.Effect,
		PolicyKey:   d.PolicyKey,
		Reason:      d.Reason,
		FailureKind: string(d.FailureKind),
		DurationUS:  elapsed.Microseconds(),
		Timestamp:   time.Now(),
	}
	if pc.User != nil {
		entry.UserID = expr.Stringify(expr.Normalize(pc.User.ID))
	}
	// Audit must not depend on the request context being alive.
	if err := e.auditor.Log(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.WarnContext(ctx, "audit log failed", "error", err)
	}
}

// ApplyRowFilter returns the filter a record store must apply when listing
// pc.Resource. Caller-supplied where constraints are ANDed after the policy
// clauses, so they can only narrow the result.
func (e *Engine) ApplyRowFilter(ctx context.Context, pc types.PolicyContext) types.RowFilter {
	f := e.rowFilter(ctx, pc)
	rowFilterModes.WithLabelValues(string(f.Mode)).Inc()
	return f
}

func (e *Engine) rowFilter(ctx context.Context, pc types.PolicyContext) types.RowFilter {
	denyAll := types.RowFilter{Mode: types.FilterModeDenyAll}
	p, d, ok := e.policyFor(ctx, e.snapshots.Snapshot(), pc)
	if !ok {
		e.logger.Debug("row filter denied", "resource", pc.Resource, "reason", d.Reason)
		return denyAll
	}

	c := expr.NewContext(nil, pc.User.ExprUser(), nil, nil)
	f, err := p.plan.resolve(e.evaluator, c, e.budget)
	if err != nil {
		kind := expr.KindOf(err)
		recordEvaluationFailure(kind)
		e.logger.Debug("row filter evaluation failed",
			"policy", p.Key().String(),
			"kind", string(kind),
			"error", err,
		)
		return denyAll
	}
	if f.Mode == types.FilterModeDenyAll {
		return denyAll
	}

	for _, field := range slices.Sorted(maps.Keys(pc.Where)) {
		f.Clauses = append(f.Clauses, types.FilterClause{
			Field: field,
			Op:    types.FilterEq,
			Value: expr.Normalize(pc.Where[field]),
		})
	}
	if f.Clauses == nil {
		f.Clauses = []types.FilterClause{}
	}
	return f
}

// FilterRows keeps the rows the policy allows. It is the post-fetch half of
// a post_fetch row filter; rows are evaluated individually and not audited.
func (e *Engine) FilterRows(ctx context.Context, pc types.PolicyContext, rows []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	p, _, ok := e.policyFor(ctx, e.snapshots.Snapshot(), pc)
	if !ok {
		return out
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return make([]map[string]any, 0)
		}
		if allowed, err := e.evaluateAllow(p, pc, row); err == nil && allowed {
			out = append(out, row)
		}
	}
	return out
}

// AllowedFields returns the readable and writable fields for pc. Denied or
// unanswerable requests get empty lists.
func (e *Engine) AllowedFields(ctx context.Context, pc types.PolicyContext) types.AllowedFields {
	snap := e.snapshots.Snapshot()
	p, _, ok := e.policyFor(ctx, snap, pc)
	if !ok {
		return emptyFields()
	}
	res, _ := snap.Resource(pc.Resource)
	return allowedFields(p, res, pc.User)
}

// ComputeFields returns a copy of record with the server-side computed
// fields of pc.Resource set. A computed field that fails to evaluate is set
// to null and its failure kind is logged.
func (e *Engine) ComputeFields(ctx context.Context, pc types.PolicyContext, record map[string]any) map[string]any {
	out := maps.Clone(record)
	if out == nil {
		out = map[string]any{}
	}
	res, ok := e.snapshots.Snapshot().Resource(pc.Resource)
	if !ok || len(res.Computed) == 0 {
		return out
	}

	c := expr.NewContext(record, pc.User.ExprUser(), nil, nil)
	for _, name := range res.ComputedNames() {
		cf := res.Computed[name]
		if !cf.EvaluateOn.OnServer() {
			continue
		}
		if ctx.Err() != nil {
			out[name] = nil
			continue
		}
		r := e.evaluator.EvaluateValue(cf.Expression.Node, c, e.budget)
		if r.Err != nil {
			recordEvaluationFailure(r.Kind)
			e.logger.Warn("computed field evaluation failed",
				"resource", pc.Resource,
				"field", name,
				"kind", string(r.Kind),
				"code", errutil.Code(r.Err),
			)
		}
		out[name] = r.Value
	}
	return out
}
