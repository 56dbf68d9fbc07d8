// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package expr

import (
	"fmt"

	"github.com/samber/oops"
)

// Kind classifies an evaluation failure.
type Kind string

// Evaluation failure kinds.
const (
	KindNone                 Kind = ""
	KindBudgetExceeded       Kind = "budget_exceeded"
	KindUnknownOperation     Kind = "unknown_operation"
	KindOperationNotAllowed  Kind = "operation_not_allowed"
	KindTypeMismatch         Kind = "type_mismatch"
	KindForbiddenFieldAccess Kind = "forbidden_field_access"
	KindDivisionByZero       Kind = "division_by_zero"
	KindNumericOverflow      Kind = "numeric_overflow"
	KindMalformedExpression  Kind = "malformed_expression"
	KindPanic                Kind = "evaluation_panic"
	KindUnknown              Kind = "unknown"
)

// Error codes attached to oops errors returned by this package.
const (
	CodeBudgetExceeded       = "BUDGET_EXCEEDED"
	CodeUnknownOperation     = "UNKNOWN_OPERATION"
	CodeOperationNotAllowed  = "OPERATION_NOT_ALLOWED"
	CodeTypeMismatch         = "TYPE_MISMATCH"
	CodeForbiddenFieldAccess = "FORBIDDEN_FIELD_ACCESS"
	CodeDivisionByZero       = "DIVISION_BY_ZERO"
	CodeNumericOverflow      = "NUMERIC_OVERFLOW"
	CodeMalformedExpression  = "MALFORMED_EXPRESSION"
	CodePanic                = "EVALUATION_PANIC"
)

var kindByCode = map[string]Kind{
	CodeBudgetExceeded:       KindBudgetExceeded,
	CodeUnknownOperation:     KindUnknownOperation,
	CodeOperationNotAllowed:  KindOperationNotAllowed,
	CodeTypeMismatch:         KindTypeMismatch,
	CodeForbiddenFieldAccess: KindForbiddenFieldAccess,
	CodeDivisionByZero:       KindDivisionByZero,
	CodeNumericOverflow:      KindNumericOverflow,
	CodeMalformedExpression:  KindMalformedExpression,
	CodePanic:                KindPanic,
}

// BudgetLimit names which budget bound was exceeded.
type BudgetLimit string

// Budget limits reported in the "limit" context key of BUDGET_EXCEEDED errors.
const (
	LimitDepth   BudgetLimit = "depth"
	LimitOps     BudgetLimit = "ops"
	LimitTimeout BudgetLimit = "timeout"
)

// KindOf reports the failure kind of err. A nil error yields KindNone; errors
// that did not originate in the evaluator yield KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return KindUnknown
	}
	code, _ := oopsErr.Code().(string)
	if kind, ok := kindByCode[code]; ok {
		return kind
	}
	return KindUnknown
}

// LimitOf returns the exceeded budget limit for a BUDGET_EXCEEDED error.
func LimitOf(err error) (BudgetLimit, bool) {
	if KindOf(err) != KindBudgetExceeded {
		return "", false
	}
	oopsErr, _ := oops.AsOops(err)
	limit, ok := oopsErr.Context()["limit"].(BudgetLimit)
	return limit, ok
}

func errBudget(limit BudgetLimit, bound any) error {
	return oops.Code(CodeBudgetExceeded).
		With("limit", limit).
		With("bound", bound).
		Errorf("evaluation budget exceeded: %s", limit)
}

func errUnknownOperation(op string) error {
	return oops.Code(CodeUnknownOperation).With("op", op).Errorf("unknown operation %q", op)
}

func errNotAllowed(op Op) error {
	return oops.Code(CodeOperationNotAllowed).With("op", string(op)).Errorf("operation %q is not allowed", op)
}

func errTypeMismatch(op string, format string, args ...any) error {
	return oops.Code(CodeTypeMismatch).With("op", op).Errorf("%s: %s", op, fmt.Sprintf(format, args...))
}

func errForbiddenField(path, segment string) error {
	return oops.Code(CodeForbiddenFieldAccess).
		With("path", path).
		With("segment", segment).
		Errorf("field path %q is not accessible", path)
}

func errDivisionByZero(op string) error {
	return oops.Code(CodeDivisionByZero).With("op", op).Errorf("%s: division by zero", op)
}

func errOverflow(op string) error {
	return oops.Code(CodeNumericOverflow).With("op", op).Errorf("%s: result is not a finite number", op)
}

func errMalformed(format string, args ...any) error {
	return oops.Code(CodeMalformedExpression).Errorf(format, args...)
}
