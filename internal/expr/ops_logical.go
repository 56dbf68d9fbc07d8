// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package expr

func logicalOps() map[Op]opSpec {
	return map[Op]opSpec{
		OpAnd:      {category: CategoryLogical, minArgs: 1, maxArgs: variadic, lazy: shortCircuit(OpAnd, false)},
		OpOr:       {category: CategoryLogical, minArgs: 1, maxArgs: variadic, lazy: shortCircuit(OpOr, true)},
		OpNot:      {category: CategoryLogical, minArgs: 1, maxArgs: 1, eager: not},
		OpCoalesce: {category: CategoryLogical, minArgs: 1, maxArgs: variadic, lazy: coalesce},
	}
}

// shortCircuit stops at the first argument equal to stop. Arguments after it
// are never evaluated, so they cannot fail or consume budget.
func shortCircuit(op Op, stop bool) lazyFunc {
	return func(e *evaluation, c *Context, args []Node) (Value, error) {
		for i, a := range args {
			v, err := e.eval(a, c)
			if err != nil {
				return nil, err
			}
			b, err := boolValue(op, v, i)
			if err != nil {
				return nil, err
			}
			if b == stop {
				return stop, nil
			}
		}
		return !stop, nil
	}
}

func not(_ *Context, args []Value) (Value, error) {
	b, err := boolValue(OpNot, args[0], 0)
	if err != nil {
		return nil, err
	}
	return !b, nil
}

// coalesce returns the first non-null argument, evaluating left to right.
func coalesce(e *evaluation, c *Context, args []Node) (Value, error) {
	for _, a := range args {
		v, err := e.eval(a, c)
		if err != nil {
			return nil, err
		}
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}
