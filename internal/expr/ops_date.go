// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package expr

import (
	"math"
	"time"

	"github.com/oarkflow/date"
)

// Date values are epoch milliseconds.
var unitMillis = map[string]float64{
	"ms":      1,
	"second":  float64(time.Second / time.Millisecond),
	"minute":  float64(time.Minute / time.Millisecond),
	"hour":    float64(time.Hour / time.Millisecond),
	"day":     float64(24 * time.Hour / time.Millisecond),
	"week":    float64(7 * 24 * time.Hour / time.Millisecond),
	"seconds": float64(time.Second / time.Millisecond),
	"minutes": float64(time.Minute / time.Millisecond),
	"hours":   float64(time.Hour / time.Millisecond),
	"days":    float64(24 * time.Hour / time.Millisecond),
	"weeks":   float64(7 * 24 * time.Hour / time.Millisecond),
}

func dateOps() map[Op]opSpec {
	return map[Op]opSpec{
		OpDate:     {category: CategoryDate, minArgs: 1, maxArgs: 1, eager: toDate},
		OpDateAdd:  {category: CategoryDate, minArgs: 3, maxArgs: 3, eager: dateAdd},
		OpDateDiff: {category: CategoryDate, minArgs: 3, maxArgs: 3, eager: dateDiff},
		OpBefore:   {category: CategoryDate, minArgs: 2, maxArgs: 2, eager: dateCompare(OpBefore, func(a, b float64) bool { return a < b })},
		OpAfter:    {category: CategoryDate, minArgs: 2, maxArgs: 2, eager: dateCompare(OpAfter, func(a, b float64) bool { return a > b })},
	}
}

// ToMillis normalizes a date value (ISO-8601 string or epoch milliseconds)
// to epoch milliseconds.
func ToMillis(v Value) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, isFinite(t)
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return float64(ts.UnixMilli()), true
		}
		ts, err := date.Parse(t)
		if err != nil {
			return 0, false
		}
		return float64(ts.UnixMilli()), true
	default:
		return 0, false
	}
}

func dateArg(op Op, args []Value, i int) (float64, error) {
	ms, ok := ToMillis(args[i])
	if !ok {
		return 0, errTypeMismatch(string(op), "argument %d must be an ISO-8601 date or epoch milliseconds, got %s", i+1, TypeName(args[i]))
	}
	return ms, nil
}

func unitArg(op Op, args []Value, i int) (float64, error) {
	unit, err := strArg(op, args, i)
	if err != nil {
		return 0, err
	}
	ms, ok := unitMillis[unit]
	if !ok {
		return 0, errTypeMismatch(string(op), "unknown date unit %q", unit)
	}
	return ms, nil
}

func toDate(_ *Context, args []Value) (Value, error) {
	return dateArg(OpDate, args, 0)
}

func dateAdd(_ *Context, args []Value) (Value, error) {
	base, err := dateArg(OpDateAdd, args, 0)
	if err != nil {
		return nil, err
	}
	amount, err := numArg(OpDateAdd, args, 1)
	if err != nil {
		return nil, err
	}
	unit, err := unitArg(OpDateAdd, args, 2)
	if err != nil {
		return nil, err
	}
	return finite(OpDateAdd, base+amount*unit)
}

// dateDiff returns (a - b) in whole units, truncated toward zero.
func dateDiff(_ *Context, args []Value) (Value, error) {
	a, err := dateArg(OpDateDiff, args, 0)
	if err != nil {
		return nil, err
	}
	b, err := dateArg(OpDateDiff, args, 1)
	if err != nil {
		return nil, err
	}
	unit, err := unitArg(OpDateDiff, args, 2)
	if err != nil {
		return nil, err
	}
	return finite(OpDateDiff, math.Trunc((a-b)/unit))
}

func dateCompare(op Op, fn func(a, b float64) bool) eagerFunc {
	return func(_ *Context, args []Value) (Value, error) {
		a, err := dateArg(op, args, 0)
		if err != nil {
			return nil, err
		}
		b, err := dateArg(op, args, 1)
		if err != nil {
			return nil, err
		}
		return fn(a, b), nil
	}
}
