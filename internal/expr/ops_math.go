// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package expr

import "math"

// maxRoundDigits bounds the precision argument of round.
const maxRoundDigits = 15

func mathOps() map[Op]opSpec {
	return map[Op]opSpec{
		OpAdd:      {category: CategoryMath, minArgs: 2, maxArgs: variadic, eager: fold(OpAdd, func(a, b float64) float64 { return a + b })},
		OpSubtract: {category: CategoryMath, minArgs: 2, maxArgs: 2, eager: fold(OpSubtract, func(a, b float64) float64 { return a - b })},
		OpMultiply: {category: CategoryMath, minArgs: 2, maxArgs: variadic, eager: fold(OpMultiply, func(a, b float64) float64 { return a * b })},
		OpDivide:   {category: CategoryMath, minArgs: 2, maxArgs: 2, eager: divide},
		OpMod:      {category: CategoryMath, minArgs: 2, maxArgs: 2, eager: mod},
		OpAbs:      {category: CategoryMath, minArgs: 1, maxArgs: 1, eager: abs},
		OpRound:    {category: CategoryMath, minArgs: 1, maxArgs: 2, eager: round},
		OpMin:      {category: CategoryMath, minArgs: 1, maxArgs: variadic, eager: fold(OpMin, math.Min)},
		OpMax:      {category: CategoryMath, minArgs: 1, maxArgs: variadic, eager: fold(OpMax, math.Max)},
	}
}

// fold applies fn left to right over numeric arguments.
func fold(op Op, fn func(a, b float64) float64) eagerFunc {
	return func(_ *Context, args []Value) (Value, error) {
		acc, err := numArg(op, args, 0)
		if err != nil {
			return nil, err
		}
		for i := 1; i < len(args); i++ {
			n, err := numArg(op, args, i)
			if err != nil {
				return nil, err
			}
			acc = fn(acc, n)
		}
		return finite(op, acc)
	}
}

func divide(_ *Context, args []Value) (Value, error) {
	a, err := numArg(OpDivide, args, 0)
	if err != nil {
		return nil, err
	}
	b, err := numArg(OpDivide, args, 1)
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return nil, errDivisionByZero(string(OpDivide))
	}
	return finite(OpDivide, a/b)
}

func mod(_ *Context, args []Value) (Value, error) {
	a, err := numArg(OpMod, args, 0)
	if err != nil {
		return nil, err
	}
	b, err := numArg(OpMod, args, 1)
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return nil, errDivisionByZero(string(OpMod))
	}
	return finite(OpMod, math.Mod(a, b))
}

func abs(_ *Context, args []Value) (Value, error) {
	a, err := numArg(OpAbs, args, 0)
	if err != nil {
		return nil, err
	}
	return math.Abs(a), nil
}

func round(_ *Context, args []Value) (Value, error) {
	a, err := numArg(OpRound, args, 0)
	if err != nil {
		return nil, err
	}
	digits := 0.0
	if len(args) == 2 {
		digits, err = numArg(OpRound, args, 1)
		if err != nil {
			return nil, err
		}
		if digits != math.Trunc(digits) || digits < 0 || digits > maxRoundDigits {
			return nil, errTypeMismatch(string(OpRound), "digits must be an integer between 0 and %d", maxRoundDigits)
		}
	}
	scale := math.Pow(10, digits)
	return finite(OpRound, math.Round(a*scale)/scale)
}
