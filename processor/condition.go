package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/execution"
	"github.com/c360/journeykit/workflow"
)

// Condition evaluates an ordered predicate list and routes the execution
// down the true or false edge.
type Condition struct {
	logger *slog.Logger
}

// NewCondition creates the condition processor
func NewCondition(logger *slog.Logger) *Condition {
	if logger == nil {
		logger = slog.Default()
	}
	return &Condition{logger: logger}
}

// Kind returns the step kind this processor handles
func (p *Condition) Kind() workflow.StepKind {
	return workflow.KindCondition
}

// Process evaluates the predicates and selects the labeled edge. A missing
// edge for the result is fatal for the execution, not a silent stop.
func (p *Condition) Process(_ context.Context, step *workflow.Step,
	exec *execution.Execution, def *workflow.Definition) (*Outcome, error) {

	result := Evaluate(step.Condition.Predicates, exec)

	label := workflow.LabelFalse
	if result {
		label = workflow.LabelTrue
	}

	p.logger.Debug("Condition evaluated",
		"execution_id", exec.ID, "step_id", step.ID, "result", label)

	next, ok := def.NextStep(step.ID, label)
	if !ok {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: step %s result %s", errors.ErrMissingBranch, step.ID, label),
			"Condition", "Process", "resolve branch")
	}

	return &Outcome{
		Status:     execution.StepSuccess,
		NextStepID: next,
		Detail:     fmt.Sprintf("evaluated to %s", label),
	}, nil
}

// Evaluate applies the evaluation policy: predicates run in order; an OR
// predicate that matches short-circuits the whole condition to true; a
// non-OR predicate that fails short-circuits to false; an empty list is
// true.
func Evaluate(predicates []workflow.Predicate, exec *execution.Execution) bool {
	for _, pred := range predicates {
		match := evaluatePredicate(pred, exec)
		if pred.Logical == workflow.LogicalOr {
			if match {
				return true
			}
			continue
		}
		if !match {
			return false
		}
	}
	return true
}

func evaluatePredicate(pred workflow.Predicate, exec *execution.Execution) bool {
	actual, exists := Resolve(pred.Field, exec)

	switch pred.Operator {
	case workflow.OpExists:
		return exists && actual != nil
	case workflow.OpNotExists:
		return !exists || actual == nil
	}

	// Every other operator compares against the configured value. A
	// missing field never matches a positive comparison but does satisfy
	// the negated ones.
	switch pred.Operator {
	case workflow.OpEquals:
		return exists && looseEqual(actual, pred.Value)
	case workflow.OpNotEquals:
		return !exists || !looseEqual(actual, pred.Value)
	case workflow.OpContains:
		return exists && contains(actual, pred.Value)
	case workflow.OpNotContains:
		return !exists || !contains(actual, pred.Value)
	case workflow.OpGreaterThan:
		a, aok := coerceNumber(actual)
		b, bok := coerceNumber(pred.Value)
		return exists && aok && bok && a > b
	case workflow.OpLessThan:
		a, aok := coerceNumber(actual)
		b, bok := coerceNumber(pred.Value)
		return exists && aok && bok && a < b
	default:
		return false
	}
}

// looseEqual compares numerically when both sides coerce to numbers,
// otherwise on string-coerced values, so 7 == "7" and true == "true".
func looseEqual(a, b any) bool {
	if an, aok := coerceNumber(a); aok {
		if bn, bok := coerceNumber(b); bok {
			return an == bn
		}
	}
	return coerceString(a) == coerceString(b)
}

// contains performs a substring test on string-coerced values
func contains(haystack, needle any) bool {
	return strings.Contains(coerceString(haystack), coerceString(needle))
}
