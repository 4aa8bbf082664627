// internal/rules/operators.go
package rules

import (
	"strings"

	"github.com/solatis/uploadwaf/internal/types"
)

/*
 * Positional constraint comparison.
 *
 * Both sides arrive already transformed. Comparison is byte-wise and
 * case-sensitive; case-insensitive matching is expressed through the
 * LOWERCASE transformation, never through the constraint.
 *
 *   - EXACTLY: equality
 *   - STARTS_WITH: prefix
 *   - CONTAINS: substring
 */

// matchPosition applies the positional constraint to value and search.
func matchPosition(pc types.PositionalConstraint, value, search string) bool {
	switch pc {
	case types.PositionExactly:
		return value == search
	case types.PositionStartsWith:
		return strings.HasPrefix(value, search)
	case types.PositionContains:
		return strings.Contains(value, search)
	default:
		return false
	}
}

// validateConstraint rejects unknown or unspecified positional constraints.
func validateConstraint(pc types.PositionalConstraint) error {
	switch pc {
	case types.PositionExactly, types.PositionStartsWith, types.PositionContains:
		return nil
	default:
		return types.ErrUnsupportedConstraint
	}
}
