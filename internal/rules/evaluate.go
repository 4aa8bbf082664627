// internal/rules/evaluate.go
package rules

import (
	"fmt"

	"github.com/solatis/uploadwaf/internal/types"
)

/*
 * Statement evaluation.
 *
 * Walks a lowered statement tree against RequestAttributes. Evaluation is
 * total: there is no error return and no input that can make it fail.
 *
 * Semantics:
 *   - ByteMatch: extract field -> transform -> positional compare
 *   - And: short-circuit on first false; empty And is true
 *   - Or: short-circuit on first true; empty Or is false
 *   - Not: negation
 *   - ManagedGroup: scope-down false -> false without consulting the oracle;
 *     otherwise the oracle's verdict, with errors and panics treated as
 *     "no match" (the detector abstains)
 *
 * Depth is bounded by MaxStatementDepth at compile time, so recursion here
 * never depends on request content.
 */

// Match evaluates a compiled statement against attrs.
func (e *Engine) Match(stmt *CompiledStatement, attrs types.RequestAttributes) bool {
	return e.eval(stmt.root, attrs)
}

func (e *Engine) eval(n *node, attrs types.RequestAttributes) bool {
	switch n.kind {
	case nodeByteMatch:
		value := applyTransforms(extractField(n, attrs), n.transforms)
		return matchPosition(n.constraint, value, n.search)

	case nodeAnd:
		for _, op := range n.operands {
			if !e.eval(op, attrs) {
				return false
			}
		}
		return true

	case nodeOr:
		for _, op := range n.operands {
			if e.eval(op, attrs) {
				return true
			}
		}
		return false

	case nodeNot:
		return !e.eval(n.operands[0], attrs)

	case nodeManagedGroup:
		if n.scopeDown != nil && !e.eval(n.scopeDown, attrs) {
			return false
		}
		return e.consult(n.vendor, n.group, attrs)

	default:
		return false
	}
}

// consult asks the oracle for a verdict, degrading failures to "no match".
func (e *Engine) consult(vendor, group string, attrs types.RequestAttributes) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("vendor", vendor).
				Str("group", group).
				Err(fmt.Errorf("oracle panic: %v", r)).
				Msg("managed group detector abstained")
			matched = false
		}
	}()

	matched, err := e.oracle.Consult(vendor, group, attrs)
	if err != nil {
		e.logger.Warn().
			Str("vendor", vendor).
			Str("group", group).
			Err(err).
			Msg("managed group detector abstained")
		return false
	}
	return matched
}
