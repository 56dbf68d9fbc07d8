// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package policy

import (
	"errors"
	"strings"

	"github.com/samber/oops"

	"github.com/rowguard/rowguard/internal/access/policy/types"
	"github.com/rowguard/rowguard/internal/expr"
)

type atomKind int

const (
	// atomRequest is a boolean that depends only on the request.
	atomRequest atomKind = iota
	// atomEq constrains a record field to equal a request value.
	atomEq
	// atomIn constrains a record field to one of a request array.
	atomIn
)

// atom is one conjunct of a row-filter plan. For record atoms node computes
// the compared value; for request atoms it is the predicate itself.
type atom struct {
	kind  atomKind
	field string
	node  expr.Node
}

// filterPlan is an allow expression in disjunctive normal form. ok is false
// when the expression falls outside the translatable subset. shape describes
// the whole allow tree, since resolving atoms one by one never sees it.
type filterPlan struct {
	disjuncts [][]atom
	ok        bool
	shape     treeShape
}

// treeShape is what a budget constrains in an expression tree: its depth
// counting the root as 1, its node count and the operations it names.
type treeShape struct {
	depth int
	nodes int
	ops   []string
}

func shapeOf(n expr.Node) treeShape {
	var s treeShape
	seen := map[string]struct{}{}
	var visit func(n expr.Node, depth int)
	visit = func(n expr.Node, depth int) {
		if n == nil {
			return
		}
		s.nodes++
		s.depth = max(s.depth, depth)
		name := ""
		var children []expr.Node
		switch t := n.(type) {
		case *expr.Operation:
			name, children = t.Op, t.Args
		case *expr.Condition:
			name, children = t.Op, []expr.Node{t.Left, t.Right}
		case *expr.Conditional:
			children = []expr.Node{t.Cond, t.Then, t.Else}
		case *expr.PermissionCheck:
			name = t.Check
		}
		if _, dup := seen[name]; name != "" && !dup {
			seen[name] = struct{}{}
			s.ops = append(s.ops, name)
		}
		for _, c := range children {
			visit(c, depth+1)
		}
	}
	visit(n, 1)
	return s
}

// fits reports whether b can evaluate a tree of this shape on every path.
// Short-circuiting may evaluate less, so false is conservative.
func (s treeShape) fits(b expr.Budget) bool {
	if s.depth > b.MaxDepth || s.nodes > b.MaxOperations {
		return false
	}
	for _, name := range s.ops {
		op, ok := expr.LookupOp(name)
		if !ok || !b.AllowedOperations.Contains(op) {
			return false
		}
	}
	return true
}

// errNeedsPostFetch signals a request value the store cannot compare.
var errNeedsPostFetch = errors.New("row filter value needs post-fetch filtering")

func buildPlan(n expr.Node, maxDisjuncts int) *filterPlan {
	shape := shapeOf(n)
	d, ok := toDNF(n, maxDisjuncts)
	if !ok || len(d) == 0 {
		return &filterPlan{shape: shape}
	}
	return &filterPlan{disjuncts: d, ok: true, shape: shape}
}

// toDNF rewrites n as an OR of ANDs of atoms. Anything other than and/or
// over equality and membership tests on record fields is untranslatable,
// unless it does not read the record at all.
func toDNF(n expr.Node, limit int) ([][]atom, bool) {
	if !readsRecord(n) {
		return [][]atom{{{kind: atomRequest, node: n}}}, true
	}
	switch t := n.(type) {
	case *expr.Operation:
		switch expr.Op(t.Op) {
		case expr.OpOr:
			var out [][]atom
			for _, arg := range t.Args {
				d, ok := toDNF(arg, limit)
				if !ok {
					return nil, false
				}
				out = append(out, d...)
				if len(out) > limit {
					return nil, false
				}
			}
			return out, true
		case expr.OpAnd:
			out := [][]atom{{}}
			for _, arg := range t.Args {
				d, ok := toDNF(arg, limit)
				if !ok {
					return nil, false
				}
				next := make([][]atom, 0, len(out)*len(d))
				for _, left := range out {
					for _, right := range d {
						conj := make([]atom, 0, len(left)+len(right))
						conj = append(append(conj, left...), right...)
						next = append(next, conj)
					}
				}
				if len(next) > limit {
					return nil, false
				}
				out = next
			}
			return out, true
		case expr.OpEq, expr.OpIn:
			return recordAtom(expr.Op(t.Op), t.Args)
		}
	case *expr.Condition:
		switch expr.Op(t.Op) {
		case expr.OpEq, expr.OpIn:
			return recordAtom(expr.Op(t.Op), []expr.Node{t.Left, t.Right})
		}
	case *expr.FieldRef:
		if field, ok := recordField(t); ok {
			return [][]atom{{{kind: atomEq, field: field, node: expr.Lit(true)}}}, true
		}
	}
	return nil, false
}

func recordAtom(op expr.Op, args []expr.Node) ([][]atom, bool) {
	if len(args) != 2 {
		return nil, false
	}
	left, right := args[0], args[1]
	if f, ok := recordField(left); ok && !readsRecord(right) {
		kind := atomEq
		if op == expr.OpIn {
			kind = atomIn
		}
		return [][]atom{{{kind: kind, field: f, node: right}}}, true
	}
	if op == expr.OpEq {
		if f, ok := recordField(right); ok && !readsRecord(left) {
			return [][]atom{{{kind: atomEq, field: f, node: left}}}, true
		}
	}
	return nil, false
}

// recordField returns the record path addressed by a field reference.
func recordField(n expr.Node) (string, bool) {
	ref, ok := n.(*expr.FieldRef)
	if !ok {
		return "", false
	}
	segs, err := expr.SplitPath(ref.Path)
	if err != nil {
		return "", false
	}
	switch segs[0] {
	case expr.RootUser, expr.RootParams, expr.RootGlobals:
		return "", false
	case expr.RootData:
		segs = segs[1:]
	}
	if len(segs) == 0 {
		return "", false
	}
	return strings.Join(segs, "."), true
}

// readsRecord reports whether any field reference in n resolves against
// the record. Array predicates rebind the record, so references inside them
// count as well.
func readsRecord(n expr.Node) bool {
	found := false
	expr.Walk(n, func(n expr.Node) bool {
		if ref, ok := n.(*expr.FieldRef); ok {
			root, _, _ := strings.Cut(ref.Path, ".")
			switch root {
			case expr.RootUser, expr.RootParams, expr.RootGlobals:
			default:
				found = true
			}
		}
		return !found
	})
	return found
}

// resolve evaluates the request-dependent parts of the plan against c,
// whose data is empty. Any evaluation failure is returned so the caller
// can deny every row. A plan whose allow tree does not fit b is left to
// post-fetch filtering, where each row is held to the full budget.
func (p *filterPlan) resolve(ev *expr.Evaluator, c *expr.Context, b expr.Budget) (types.RowFilter, error) {
	if !p.ok || !p.shape.fits(b) {
		return types.RowFilter{Mode: types.FilterModePostFetch}, nil
	}
	var surviving [][]types.FilterClause
	for _, conj := range p.disjuncts {
		clauses, keep, err := resolveConjunct(conj, ev, c, b)
		if errors.Is(err, errNeedsPostFetch) {
			return types.RowFilter{Mode: types.FilterModePostFetch}, nil
		}
		if err != nil {
			return types.RowFilter{}, err
		}
		if !keep {
			continue
		}
		if len(clauses) == 0 {
			return types.RowFilter{Mode: types.FilterModeStore}, nil
		}
		surviving = append(surviving, clauses)
	}

	switch len(surviving) {
	case 0:
		return types.RowFilter{Mode: types.FilterModeDenyAll}, nil
	case 1:
		return types.RowFilter{Mode: types.FilterModeStore, Clauses: surviving[0]}, nil
	}
	if merged, ok := mergeDisjuncts(surviving); ok {
		return types.RowFilter{Mode: types.FilterModeStore, Clauses: []types.FilterClause{merged}}, nil
	}
	return types.RowFilter{Mode: types.FilterModePostFetch, Clauses: commonClauses(surviving)}, nil
}

// resolveConjunct returns the record clauses of one disjunct, or keep=false
// when a request atom is false or two equalities contradict each other.
func resolveConjunct(conj []atom, ev *expr.Evaluator, c *expr.Context, b expr.Budget) ([]types.FilterClause, bool, error) {
	var clauses []types.FilterClause
	for _, a := range conj {
		if a.kind == atomRequest {
			ok, err := ev.EvaluateBool(a.node, c, b)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			continue
		}
		v, err := ev.Evaluate(a.node, c, b)
		if err != nil {
			return nil, false, err
		}
		clause, err := recordClause(a, v)
		if err != nil {
			return nil, false, err
		}
		var keep bool
		if clauses, keep = addClause(clauses, clause); !keep {
			return nil, false, nil
		}
	}
	return clauses, true, nil
}

func recordClause(a atom, v expr.Value) (types.FilterClause, error) {
	if a.kind == atomEq {
		if !isScalar(v) {
			return types.FilterClause{}, errNeedsPostFetch
		}
		return types.FilterClause{Field: a.field, Op: types.FilterEq, Value: v}, nil
	}
	list, ok := v.([]any)
	if !ok {
		// in over a non-array fails for every row.
		return types.FilterClause{}, errInNotArray(a.field, v)
	}
	for _, el := range list {
		if !isScalar(el) {
			return types.FilterClause{}, errNeedsPostFetch
		}
	}
	return types.FilterClause{Field: a.field, Op: types.FilterIn, Value: list}, nil
}

// addClause appends c unless it duplicates an existing clause. Two
// equalities on one field with different values make the conjunct
// unsatisfiable.
func addClause(clauses []types.FilterClause, c types.FilterClause) ([]types.FilterClause, bool) {
	for _, existing := range clauses {
		if sameClause(existing, c) {
			return clauses, true
		}
		if existing.Field == c.Field && existing.Op == types.FilterEq && c.Op == types.FilterEq {
			return nil, false
		}
	}
	return append(clauses, c), true
}

// mergeDisjuncts folds single-clause disjuncts over one field into an in
// clause, so "status = a OR status = b" stays a store filter.
func mergeDisjuncts(disjuncts [][]types.FilterClause) (types.FilterClause, bool) {
	field := disjuncts[0][0].Field
	var values []any
	for _, d := range disjuncts {
		if len(d) != 1 || d[0].Field != field {
			return types.FilterClause{}, false
		}
		switch d[0].Op {
		case types.FilterEq:
			values = appendUnique(values, d[0].Value)
		case types.FilterIn:
			list, _ := d[0].Value.([]any)
			for _, v := range list {
				values = appendUnique(values, v)
			}
		}
	}
	return types.FilterClause{Field: field, Op: types.FilterIn, Value: values}, true
}

// commonClauses returns the clauses shared by every disjunct. They narrow
// candidate rows without excluding any row the policy allows.
func commonClauses(disjuncts [][]types.FilterClause) []types.FilterClause {
	var out []types.FilterClause
	for _, c := range disjuncts[0] {
		shared := true
		for _, d := range disjuncts[1:] {
			if !containsClause(d, c) {
				shared = false
				break
			}
		}
		if shared {
			out = append(out, c)
		}
	}
	return out
}

func containsClause(clauses []types.FilterClause, c types.FilterClause) bool {
	for _, x := range clauses {
		if sameClause(x, c) {
			return true
		}
	}
	return false
}

func sameClause(a, b types.FilterClause) bool {
	return a.Field == b.Field && a.Op == b.Op && expr.Equal(a.Value, b.Value)
}

func appendUnique(values []any, v any) []any {
	for _, x := range values {
		if expr.Equal(x, v) {
			return values
		}
	}
	return append(values, v)
}

func errInNotArray(field string, v expr.Value) error {
	return oops.Code(expr.CodeTypeMismatch).
		With("field", field).
		Errorf("in: %s compared against %s, want array", field, expr.TypeName(v))
}

func isScalar(v expr.Value) bool {
	switch v.(type) {
	case nil, bool, float64, string:
		return true
	default:
		return false
	}
}
