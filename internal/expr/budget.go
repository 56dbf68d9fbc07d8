// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package expr

import "time"

// Default budget values.
const (
	DefaultMaxDepth      = 64
	DefaultMaxOperations = 10_000
	DefaultTimeout       = 50 * time.Millisecond
)

// Budget bounds a single top-level evaluation. A Budget is plain data and is
// copied into a fresh tracker on every Evaluate call.
type Budget struct {
	MaxDepth          int
	MaxOperations     int
	Timeout           time.Duration
	AllowedOperations OpSet
}

// DefaultBudget returns the default bounds with every registered operation allowed.
func DefaultBudget() Budget {
	return Budget{
		MaxDepth:          DefaultMaxDepth,
		MaxOperations:     DefaultMaxOperations,
		Timeout:           DefaultTimeout,
		AllowedOperations: AllOps(),
	}
}

// OpSet is an immutable set of operations.
type OpSet struct {
	ops map[Op]struct{}
}

// NewOpSet builds a set from the given operations.
func NewOpSet(ops ...Op) OpSet {
	m := make(map[Op]struct{}, len(ops))
	for _, op := range ops {
		m[op] = struct{}{}
	}
	return OpSet{ops: m}
}

// AllOps returns a set containing every registered operation.
func AllOps() OpSet {
	return NewOpSet(Ops()...)
}

// Contains reports whether op is in the set. The zero OpSet contains nothing.
func (s OpSet) Contains(op Op) bool {
	_, ok := s.ops[op]
	return ok
}

// Len returns the number of operations in the set.
func (s OpSet) Len() int {
	return len(s.ops)
}

// Without returns a copy of the set with the given operations removed.
func (s OpSet) Without(ops ...Op) OpSet {
	m := make(map[Op]struct{}, len(s.ops))
	for op := range s.ops {
		m[op] = struct{}{}
	}
	for _, op := range ops {
		delete(m, op)
	}
	return OpSet{ops: m}
}

// tracker holds the per-call counters. It is created by Evaluate and never
// escapes the call.
type tracker struct {
	budget   Budget
	depth    int
	ops      int
	deadline time.Time
	now      func() time.Time
}

func newTracker(b Budget, now func() time.Time) *tracker {
	return &tracker{
		budget:   b,
		deadline: now().Add(b.Timeout),
		now:      now,
	}
}

// enter is called on every node visit. The caller must call leave when enter
// succeeds.
func (t *tracker) enter() error {
	t.depth++
	if t.depth > t.budget.MaxDepth {
		t.depth--
		return errBudget(LimitDepth, t.budget.MaxDepth)
	}
	t.ops++
	if t.ops > t.budget.MaxOperations {
		t.depth--
		return errBudget(LimitOps, t.budget.MaxOperations)
	}
	if t.now().After(t.deadline) {
		t.depth--
		return errBudget(LimitTimeout, t.budget.Timeout.String())
	}
	return nil
}

func (t *tracker) leave() {
	t.depth--
}
