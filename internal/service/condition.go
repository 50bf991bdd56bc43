package service

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/aurelia-erp/be-approvals/internal/common/errors"
	"github.com/aurelia-erp/be-approvals/internal/repository"
)

// Designer condition expressions are "field operator value" with a closed
// operator set. Anything else is rejected at publish time — no silent
// defaulting to equality.
var expressionOperators = map[string]repository.ConditionOperator{
	">":  repository.OpGt,
	"<":  repository.OpLt,
	"=":  repository.OpEq,
	"==": repository.OpEq,
	"!=": repository.OpNe,
	">=": repository.OpGte,
	"<=": repository.OpLte,
	"in": repository.OpIn,
}

// ParseConditionExpression parses a designer expression into a predicate.
// Grammar: field, operator, value separated by whitespace. The value is a
// single token, except for "in" where the rest of the expression is a
// comma-separated list ("region in EU, US").
func ParseConditionExpression(expr string) (repository.Condition, error) {
	tokens := strings.Fields(expr)
	if len(tokens) < 3 {
		return repository.Condition{}, errors.InvalidInput("condition",
			fmt.Sprintf("expected 'field operator value', got %q", expr))
	}

	op, ok := expressionOperators[tokens[1]]
	if !ok {
		return repository.Condition{}, errors.InvalidInput("condition",
			fmt.Sprintf("unknown operator %q in %q", tokens[1], expr))
	}
	if op != repository.OpIn && len(tokens) != 3 {
		return repository.Condition{}, errors.InvalidInput("condition",
			fmt.Sprintf("expected 'field operator value', got %q", expr))
	}

	return repository.Condition{
		Field:    tokens[0],
		Operator: op,
		Value:    strings.Join(tokens[2:], " "),
	}, nil
}

// EvalCondition evaluates one predicate against the submission payload.
// A missing payload field fails the condition.
func EvalCondition(cond repository.Condition, payload map[string]any) bool {
	raw, ok := payload[cond.Field]
	if !ok || raw == nil {
		return false
	}

	switch cond.Operator {
	case repository.OpEq:
		return compareEqual(raw, cond.Value)
	case repository.OpNe:
		return !compareEqual(raw, cond.Value)
	case repository.OpGt, repository.OpLt, repository.OpGte, repository.OpLte:
		left, err1 := cast.ToFloat64E(raw)
		right, err2 := cast.ToFloat64E(cond.Value)
		if err1 != nil || err2 != nil {
			return false
		}
		switch cond.Operator {
		case repository.OpGt:
			return left > right
		case repository.OpLt:
			return left < right
		case repository.OpGte:
			return left >= right
		default:
			return left <= right
		}
	case repository.OpIn:
		for _, candidate := range strings.Split(cond.Value, ",") {
			if compareEqual(raw, strings.TrimSpace(candidate)) {
				return true
			}
		}
		return false
	}
	return false
}

// EvalConditions returns true only when every condition holds.
func EvalConditions(conds []repository.Condition, payload map[string]any) bool {
	for _, c := range conds {
		if !EvalCondition(c, payload) {
			return false
		}
	}
	return true
}

// compareEqual compares numerically when both sides parse as numbers,
// falling back to string comparison. JSON payloads deliver numbers as
// float64, so "3" must equal 3.
func compareEqual(raw any, value string) bool {
	if left, err := cast.ToFloat64E(raw); err == nil {
		if right, err := cast.ToFloat64E(value); err == nil {
			return left == right
		}
	}
	return cast.ToString(raw) == value
}
