// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package expr

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"
)

// Pattern limits for like. Brackets, braces and ** are rejected outright.
const (
	maxLikePatternLen = 100
	maxLikeWildcards  = 5
)

func stringOps() map[Op]opSpec {
	return map[Op]opSpec{
		OpConcat:     {category: CategoryString, minArgs: 1, maxArgs: variadic, eager: concat},
		OpUpper:      {category: CategoryString, minArgs: 1, maxArgs: 1, eager: mapString(OpUpper, strings.ToUpper)},
		OpLower:      {category: CategoryString, minArgs: 1, maxArgs: 1, eager: mapString(OpLower, strings.ToLower)},
		OpTrim:       {category: CategoryString, minArgs: 1, maxArgs: 1, eager: mapString(OpTrim, strings.TrimSpace)},
		OpLength:     {category: CategoryString, minArgs: 1, maxArgs: 1, eager: length},
		OpSubstring:  {category: CategoryString, minArgs: 2, maxArgs: 3, eager: substring},
		OpStartsWith: {category: CategoryString, minArgs: 2, maxArgs: 2, eager: stringPredicate(OpStartsWith, strings.HasPrefix)},
		OpEndsWith:   {category: CategoryString, minArgs: 2, maxArgs: 2, eager: stringPredicate(OpEndsWith, strings.HasSuffix)},
		OpContains:   {category: CategoryString, minArgs: 2, maxArgs: 2, eager: stringPredicate(OpContains, strings.Contains)},
		OpLike:       {category: CategoryString, minArgs: 2, maxArgs: 2, eager: like},
	}
}

// concat joins scalar arguments, rendering non-strings canonically.
func concat(_ *Context, args []Value) (Value, error) {
	var b strings.Builder
	for i, a := range args {
		if !isScalar(a) {
			return nil, errTypeMismatch(string(OpConcat), "argument %d must be a scalar, got %s", i+1, TypeName(a))
		}
		b.WriteString(Stringify(a))
	}
	return b.String(), nil
}

func mapString(op Op, fn func(string) string) eagerFunc {
	return func(_ *Context, args []Value) (Value, error) {
		s, err := strArg(op, args, 0)
		if err != nil {
			return nil, err
		}
		return fn(s), nil
	}
}

func stringPredicate(op Op, fn func(s, sub string) bool) eagerFunc {
	return func(_ *Context, args []Value) (Value, error) {
		s, err := strArg(op, args, 0)
		if err != nil {
			return nil, err
		}
		sub, err := strArg(op, args, 1)
		if err != nil {
			return nil, err
		}
		return fn(s, sub), nil
	}
}

// length counts runes of a string or elements of an array.
func length(_ *Context, args []Value) (Value, error) {
	switch v := args[0].(type) {
	case string:
		return float64(utf8.RuneCountInString(v)), nil
	case []any:
		return float64(len(v)), nil
	default:
		return nil, errTypeMismatch(string(OpLength), "argument 1 must be a string or array, got %s", TypeName(v))
	}
}

// substring slices by rune index; indices are clamped to the string bounds.
func substring(_ *Context, args []Value) (Value, error) {
	s, err := strArg(OpSubstring, args, 0)
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	start, err := indexArg(args, 1, len(runes))
	if err != nil {
		return nil, err
	}
	end := len(runes)
	if len(args) == 3 {
		end, err = indexArg(args, 2, len(runes))
		if err != nil {
			return nil, err
		}
	}
	if end < start {
		return "", nil
	}
	return string(runes[start:end]), nil
}

func indexArg(args []Value, i, limit int) (int, error) {
	f, err := numArg(OpSubstring, args, i)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, errTypeMismatch(string(OpSubstring), "argument %d must be an integer", i+1)
	}
	switch {
	case f < 0:
		return 0, nil
	case f > float64(limit):
		return limit, nil
	default:
		return int(f), nil
	}
}

func like(_ *Context, args []Value) (Value, error) {
	s, err := strArg(OpLike, args, 0)
	if err != nil {
		return nil, err
	}
	pattern, err := strArg(OpLike, args, 1)
	if err != nil {
		return nil, err
	}
	if err := validateLikePattern(pattern); err != nil {
		return nil, err
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, errMalformed("like: invalid pattern %q", pattern)
	}
	return g.Match(s), nil
}

func validateLikePattern(pattern string) error {
	if len(pattern) > maxLikePatternLen {
		return errMalformed("like: pattern longer than %d bytes", maxLikePatternLen)
	}
	if strings.ContainsAny(pattern, "[{") || strings.Contains(pattern, "**") {
		return errMalformed("like: pattern %q uses unsupported syntax", pattern)
	}
	if strings.Count(pattern, "*")+strings.Count(pattern, "?") > maxLikeWildcards {
		return errMalformed("like: pattern has more than %d wildcards", maxLikeWildcards)
	}
	return nil
}
