// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package expr

import "sort"

// Op names a registry operation.
type Op string

// Math operations.
const (
	OpAdd      Op = "add"
	OpSubtract Op = "subtract"
	OpMultiply Op = "multiply"
	OpDivide   Op = "divide"
	OpMod      Op = "mod"
	OpAbs      Op = "abs"
	OpRound    Op = "round"
	OpMin      Op = "min"
	OpMax      Op = "max"
)

// String operations.
const (
	OpConcat     Op = "concat"
	OpUpper      Op = "upper"
	OpLower      Op = "lower"
	OpTrim       Op = "trim"
	OpLength     Op = "length"
	OpSubstring  Op = "substring"
	OpStartsWith Op = "startsWith"
	OpEndsWith   Op = "endsWith"
	OpContains   Op = "contains"
	OpLike       Op = "like"
)

// Date operations.
const (
	OpDate     Op = "date"
	OpDateAdd  Op = "dateAdd"
	OpDateDiff Op = "dateDiff"
	OpBefore   Op = "before"
	OpAfter    Op = "after"
)

// Array operations.
const (
	OpArray    Op = "array"
	OpSome     Op = "some"
	OpEvery    Op = "every"
	OpNone     Op = "none"
	OpFilter   Op = "filter"
	OpCount    Op = "count"
	OpIncludes Op = "includes"
)

// Logical operations.
const (
	OpAnd      Op = "and"
	OpOr       Op = "or"
	OpNot      Op = "not"
	OpCoalesce Op = "coalesce"
)

// Comparison operations.
const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
)

// Permission operations.
const (
	OpHasRole         Op = "hasRole"
	OpHasAnyRole      Op = "hasAnyRole"
	OpHasAllRoles     Op = "hasAllRoles"
	OpIsAnonymous     Op = "isAnonymous"
	OpIsAuthenticated Op = "isAuthenticated"
)

// Category groups operations.
type Category string

// Operation categories.
const (
	CategoryMath       Category = "math"
	CategoryString     Category = "string"
	CategoryDate       Category = "date"
	CategoryArray      Category = "array"
	CategoryLogical    Category = "logical"
	CategoryComparison Category = "comparison"
	CategoryPermission Category = "permission"
)

// variadic marks an operation without an upper arity bound.
const variadic = -1

// eagerFunc receives fully evaluated arguments.
type eagerFunc func(c *Context, args []Value) (Value, error)

// lazyFunc receives argument nodes and decides which of them to evaluate.
type lazyFunc func(e *evaluation, c *Context, args []Node) (Value, error)

type opSpec struct {
	category Category
	minArgs  int
	maxArgs  int
	eager    eagerFunc
	lazy     lazyFunc
}

// registry is populated once in init and read-only afterwards.
var registry map[Op]opSpec

func init() {
	registry = make(map[Op]opSpec)
	for _, table := range []map[Op]opSpec{
		mathOps(), stringOps(), dateOps(), arrayOps(),
		logicalOps(), comparisonOps(), permissionOps(),
	} {
		for op, spec := range table {
			if _, dup := registry[op]; dup {
				panic("expr: duplicate operation " + string(op))
			}
			registry[op] = spec
		}
	}
}

// LookupOp maps an untrusted operation name to a registered Op.
func LookupOp(name string) (Op, bool) {
	op := Op(name)
	_, ok := registry[op]
	return op, ok
}

// Ops returns every registered operation in name order.
func Ops() []Op {
	ops := make([]Op, 0, len(registry))
	for op := range registry {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// CategoryOf returns the category of a registered operation.
func CategoryOf(op Op) (Category, bool) {
	spec, ok := registry[op]
	return spec.category, ok
}

// Arity returns the argument bounds of a registered operation. A max of -1
// means the operation is variadic.
func Arity(op Op) (minArgs, maxArgs int, ok bool) {
	spec, ok := registry[op]
	return spec.minArgs, spec.maxArgs, ok
}

// OpsIn returns the registered operations of a category in name order.
func OpsIn(cat Category) []Op {
	var ops []Op
	for _, op := range Ops() {
		if registry[op].category == cat {
			ops = append(ops, op)
		}
	}
	return ops
}

func checkArity(op Op, spec opSpec, n int) error {
	if n < spec.minArgs {
		return errMalformed("%s requires at least %d argument(s), got %d", op, spec.minArgs, n)
	}
	if spec.maxArgs != variadic && n > spec.maxArgs {
		return errMalformed("%s accepts at most %d argument(s), got %d", op, spec.maxArgs, n)
	}
	return nil
}

// --- argument helpers ---

func numArg(op Op, args []Value, i int) (float64, error) {
	f, ok := args[i].(float64)
	if !ok {
		return 0, errTypeMismatch(string(op), "argument %d must be a number, got %s", i+1, TypeName(args[i]))
	}
	return f, nil
}

func strArg(op Op, args []Value, i int) (string, error) {
	s, ok := args[i].(string)
	if !ok {
		return "", errTypeMismatch(string(op), "argument %d must be a string, got %s", i+1, TypeName(args[i]))
	}
	return s, nil
}

func boolValue(op Op, v Value, i int) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, errTypeMismatch(string(op), "argument %d must be a boolean, got %s", i+1, TypeName(v))
	}
	return b, nil
}

func arrValue(op Op, v Value, i int) ([]any, error) {
	a, ok := v.([]any)
	if !ok {
		return nil, errTypeMismatch(string(op), "argument %d must be an array, got %s", i+1, TypeName(v))
	}
	return a, nil
}

func finite(op Op, f float64) (Value, error) {
	if !isFinite(f) {
		return nil, errOverflow(string(op))
	}
	return f, nil
}
