// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package expr

// ElementKey is the data key a scalar array element is bound to while a
// predicate runs. Object elements become the data object themselves.
const ElementKey = "it"

func arrayOps() map[Op]opSpec {
	return map[Op]opSpec{
		OpArray:    {category: CategoryArray, minArgs: 0, maxArgs: variadic, eager: array},
		OpSome:     {category: CategoryArray, minArgs: 2, maxArgs: 2, lazy: quantifier(OpSome)},
		OpEvery:    {category: CategoryArray, minArgs: 2, maxArgs: 2, lazy: quantifier(OpEvery)},
		OpNone:     {category: CategoryArray, minArgs: 2, maxArgs: 2, lazy: quantifier(OpNone)},
		OpFilter:   {category: CategoryArray, minArgs: 2, maxArgs: 2, lazy: filter},
		OpCount:    {category: CategoryArray, minArgs: 1, maxArgs: 2, lazy: count},
		OpIncludes: {category: CategoryArray, minArgs: 2, maxArgs: 2, eager: includes},
	}
}

func array(_ *Context, args []Value) (Value, error) {
	out := make([]any, len(args))
	copy(out, args)
	return out, nil
}

func includes(_ *Context, args []Value) (Value, error) {
	list, err := arrValue(OpIncludes, args[0], 0)
	if err != nil {
		return nil, err
	}
	return containsValue(list, args[1]), nil
}

func containsValue(list []any, v Value) bool {
	for _, el := range list {
		if Equal(el, v) {
			return true
		}
	}
	return false
}

// elementContext binds an array element as the data object of c.
func elementContext(c *Context, el Value) *Context {
	if obj, ok := el.(map[string]any); ok {
		return c.withData(obj)
	}
	return c.withData(map[string]any{ElementKey: el})
}

// evalList evaluates the array operand of an array operation.
func evalList(e *evaluation, op Op, c *Context, n Node) ([]any, error) {
	v, err := e.eval(n, c)
	if err != nil {
		return nil, err
	}
	return arrValue(op, v, 0)
}

// matchElement evaluates a predicate against one element.
func matchElement(e *evaluation, op Op, c *Context, pred Node, el Value) (bool, error) {
	v, err := e.eval(pred, elementContext(c, el))
	if err != nil {
		return false, err
	}
	return boolValue(op, v, 1)
}

func quantifier(op Op) lazyFunc {
	return func(e *evaluation, c *Context, args []Node) (Value, error) {
		list, err := evalList(e, op, c, args[0])
		if err != nil {
			return nil, err
		}
		for _, el := range list {
			ok, err := matchElement(e, op, c, args[1], el)
			if err != nil {
				return nil, err
			}
			switch {
			case op == OpSome && ok:
				return true, nil
			case op == OpEvery && !ok:
				return false, nil
			case op == OpNone && ok:
				return false, nil
			}
		}
		return op != OpSome, nil
	}
}

func filter(e *evaluation, c *Context, args []Node) (Value, error) {
	list, err := evalList(e, OpFilter, c, args[0])
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(list))
	for _, el := range list {
		ok, err := matchElement(e, OpFilter, c, args[1], el)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, el)
		}
	}
	return out, nil
}

func count(e *evaluation, c *Context, args []Node) (Value, error) {
	list, err := evalList(e, OpCount, c, args[0])
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		return float64(len(list)), nil
	}
	n := 0
	for _, el := range list {
		ok, err := matchElement(e, OpCount, c, args[1], el)
		if err != nil {
			return nil, err
		}
		if ok {
			n++
		}
	}
	return float64(n), nil
}
