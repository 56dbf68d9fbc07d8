// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package expr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
)

// forbiddenSegments may never appear in a field path.
var forbiddenSegments = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
	"process":     {},
	"global":      {},
	"require":     {},
	"module":      {},
}

// Evaluator evaluates expression trees. It holds no per-call state and is
// safe for concurrent use.
type Evaluator struct {
	clock func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the clock used for timeout accounting.
func WithClock(clock func() time.Time) Option {
	return func(ev *Evaluator) {
		ev.clock = clock
	}
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts ...Option) *Evaluator {
	ev := &Evaluator{clock: time.Now}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

var defaultEvaluator = NewEvaluator()

// Evaluate evaluates n with the default evaluator.
func Evaluate(n Node, c *Context, b Budget) (Value, error) {
	return defaultEvaluator.Evaluate(n, c, b)
}

// Evaluate evaluates n against c within budget b. Every call gets its own
// budget tracker. Failures are returned as oops errors carrying one of the
// Code* values; panics are recovered as EVALUATION_PANIC. The returned value
// is an owned copy.
func (ev *Evaluator) Evaluate(n Node, c *Context, b Budget) (result Value, err error) {
	if n == nil {
		return nil, errMalformed("missing expression")
	}
	if c == nil {
		c = NewContext(nil, nil, nil, nil)
	}
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = oops.Code(CodePanic).With("panic", fmt.Sprint(r)).Errorf("evaluation panicked")
		}
	}()

	e := &evaluation{t: newTracker(b, ev.clock)}
	v, err := e.eval(n, c)
	if err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

// Result is a value-producing evaluation with failures collapsed to null.
type Result struct {
	Value Value
	Kind  Kind
	Err   error
}

// EvaluateValue evaluates n for a value. Any failure yields a null Value with
// the failure kind recorded.
func (ev *Evaluator) EvaluateValue(n Node, c *Context, b Budget) Result {
	v, err := ev.Evaluate(n, c, b)
	if err != nil {
		return Result{Kind: KindOf(err), Err: err}
	}
	return Result{Value: v}
}

// EvaluateBool evaluates n as a predicate. Anything other than a successful
// boolean true is false.
func (ev *Evaluator) EvaluateBool(n Node, c *Context, b Budget) (bool, error) {
	v, err := ev.Evaluate(n, c, b)
	if err != nil {
		return false, err
	}
	ok, isBool := v.(bool)
	if !isBool {
		return false, errTypeMismatch("predicate", "expected boolean result, got %s", TypeName(v))
	}
	return ok, nil
}

// evaluation is the state of one top-level Evaluate call.
type evaluation struct {
	t *tracker
}

func (e *evaluation) eval(n Node, c *Context) (Value, error) {
	if err := e.t.enter(); err != nil {
		return nil, err
	}
	defer e.t.leave()

	switch t := n.(type) {
	case *Literal:
		return t.Value, nil
	case *FieldRef:
		return resolve(c, t.Path)
	case *Operation:
		return e.operation(t, c)
	case *Condition:
		return e.condition(t, c)
	case *Conditional:
		return e.conditional(t, c)
	case *PermissionCheck:
		return e.permission(t, c)
	case nil:
		return nil, errMalformed("missing expression node")
	default:
		return nil, errMalformed("unsupported node %T", n)
	}
}

// lookup resolves an untrusted name and checks it against the budget.
func (e *evaluation) lookup(name string, want ...Category) (Op, opSpec, error) {
	op, ok := LookupOp(name)
	if !ok {
		return "", opSpec{}, errUnknownOperation(name)
	}
	spec := registry[op]
	if len(want) > 0 && spec.category != want[0] {
		return "", opSpec{}, errMalformed("%s is a %s operation, expected %s", op, spec.category, want[0])
	}
	if !e.t.budget.AllowedOperations.Contains(op) {
		return "", opSpec{}, errNotAllowed(op)
	}
	return op, spec, nil
}

func (e *evaluation) operation(o *Operation, c *Context) (Value, error) {
	op, spec, err := e.lookup(o.Op)
	if err != nil {
		return nil, err
	}
	if err := checkArity(op, spec, len(o.Args)); err != nil {
		return nil, err
	}
	if spec.lazy != nil {
		return spec.lazy(e, c, o.Args)
	}
	args := make([]Value, len(o.Args))
	for i, a := range o.Args {
		v, err := e.eval(a, c)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return spec.eager(c, args)
}

func (e *evaluation) condition(cond *Condition, c *Context) (Value, error) {
	op, _, err := e.lookup(cond.Op, CategoryComparison)
	if err != nil {
		return nil, err
	}
	left, err := e.eval(cond.Left, c)
	if err != nil {
		return nil, err
	}
	right, err := e.eval(cond.Right, c)
	if err != nil {
		return nil, err
	}
	return Compare2(op, left, right)
}

func (e *evaluation) conditional(t *Conditional, c *Context) (Value, error) {
	v, err := e.eval(t.Cond, c)
	if err != nil {
		return nil, err
	}
	ok, isBool := v.(bool)
	if !isBool {
		return nil, errTypeMismatch("conditional", "condition must be a boolean, got %s", TypeName(v))
	}
	if ok {
		return e.eval(t.Then, c)
	}
	return e.eval(t.Else, c)
}

func (e *evaluation) permission(p *PermissionCheck, c *Context) (Value, error) {
	op, spec, err := e.lookup(p.Check, CategoryPermission)
	if err != nil {
		return nil, err
	}
	if err := checkArity(op, spec, len(p.Args)); err != nil {
		return nil, err
	}
	args := make([]Value, len(p.Args))
	copy(args, p.Args)
	return spec.eager(c, args)
}

// SplitPath splits and validates a field path.
func SplitPath(path string) ([]string, error) {
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, errForbiddenField(path, s)
		}
		if _, bad := forbiddenSegments[s]; bad {
			return nil, errForbiddenField(path, s)
		}
	}
	return segs, nil
}

// resolve walks a field path through own keys only. A path that does not
// resolve yields null, the same as a present null.
func resolve(c *Context, path string) (Value, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	var cur Value
	switch segs[0] {
	case RootData:
		cur, segs = c.data, segs[1:]
	case RootUser:
		if c.user == nil {
			return nil, nil
		}
		cur, segs = c.userObject(), segs[1:]
	case RootParams:
		cur, segs = c.params, segs[1:]
	case RootGlobals:
		cur, segs = c.globals, segs[1:]
	default:
		cur = c.data
	}
	for _, s := range segs {
		switch t := cur.(type) {
		case map[string]any:
			v, ok := t[s]
			if !ok {
				return nil, nil
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(s)
			if err != nil || i < 0 || i >= len(t) {
				return nil, nil
			}
			cur = t[i]
		default:
			return nil, nil
		}
	}
	return cur, nil
}
