// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package expr

func comparisonOps() map[Op]opSpec {
	return map[Op]opSpec{
		OpEq:  {category: CategoryComparison, minArgs: 2, maxArgs: 2, eager: comparator(OpEq)},
		OpNeq: {category: CategoryComparison, minArgs: 2, maxArgs: 2, eager: comparator(OpNeq)},
		OpGt:  {category: CategoryComparison, minArgs: 2, maxArgs: 2, eager: comparator(OpGt)},
		OpGte: {category: CategoryComparison, minArgs: 2, maxArgs: 2, eager: comparator(OpGte)},
		OpLt:  {category: CategoryComparison, minArgs: 2, maxArgs: 2, eager: comparator(OpLt)},
		OpLte: {category: CategoryComparison, minArgs: 2, maxArgs: 2, eager: comparator(OpLte)},
		OpIn:  {category: CategoryComparison, minArgs: 2, maxArgs: 2, eager: in},
	}
}

func comparator(op Op) eagerFunc {
	return func(_ *Context, args []Value) (Value, error) {
		return Compare2(op, args[0], args[1])
	}
}

// Compare2 applies a comparison operation to two values. Equality between
// null and anything else is false; every other cross-type comparison, and
// ordering of anything but two numbers or two strings, is a type mismatch.
func Compare2(op Op, a, b Value) (bool, error) {
	switch op {
	case OpEq, OpNeq:
		eq, err := equals(op, a, b)
		if err != nil {
			return false, err
		}
		return eq == (op == OpEq), nil
	case OpGt, OpGte, OpLt, OpLte:
		c, err := order(op, a, b)
		if err != nil {
			return false, err
		}
		switch op {
		case OpGt:
			return c > 0, nil
		case OpGte:
			return c >= 0, nil
		case OpLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case OpIn:
		list, err := arrValue(OpIn, b, 1)
		if err != nil {
			return false, err
		}
		return containsValue(list, a), nil
	default:
		return false, errMalformed("%s is not a comparison", op)
	}
}

func equals(op Op, a, b Value) (bool, error) {
	if a == nil || b == nil {
		return a == nil && b == nil, nil
	}
	if TypeName(a) != TypeName(b) {
		return false, errTypeMismatch(string(op), "cannot compare %s with %s", TypeName(a), TypeName(b))
	}
	return Equal(a, b), nil
}

func order(op Op, a, b Value) (int, error) {
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return cmp(x < y, x > y), nil
		}
	case string:
		if y, ok := b.(string); ok {
			return cmp(x < y, x > y), nil
		}
	}
	return 0, errTypeMismatch(string(op), "cannot order %s and %s", TypeName(a), TypeName(b))
}

func cmp(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	default:
		return 0
	}
}

func in(_ *Context, args []Value) (Value, error) {
	return Compare2(OpIn, args[0], args[1])
}
