package notification

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/duerelay/duerelay/internal/domain/ledger"
)

// AmountParam exposes the parsed amount to filter expressions.
const AmountParam = "amountValue"

// CompileFilter parses a row filter expression. An empty expression yields a
// nil filter that accepts every row.
func CompileFilter(expr string) (*govaluate.EvaluableExpression, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	compiled, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", expr, err)
	}
	return compiled, nil
}

// matchFilter evaluates the filter against the row columns. Evaluation
// errors and non-boolean results reject the row.
func matchFilter(filter *govaluate.EvaluableExpression, rec ledger.Record) bool {
	if filter == nil {
		return true
	}
	params := make(map[string]interface{}, len(rec.Columns)+1)
	for k, v := range rec.Columns {
		params[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if v, ok := parseAmount(rec.Amount); ok {
		params[AmountParam] = v
	}
	result, err := filter.Evaluate(params)
	if err != nil {
		return false
	}
	b, ok := result.(bool)
	return ok && b
}
