// internal/rules/transform.go
package rules

import (
	"strings"

	"github.com/solatis/uploadwaf/internal/types"
)

/*
 * Text transformations.
 *
 * Transformations normalize both the extracted field value and the search
 * string before comparison. They apply in declared order; an empty list is
 * the identity. Only NONE and LOWERCASE are supported; anything else is
 * rejected by validateTransformations at compile time so applyTransforms
 * never sees an unknown value.
 *
 * Search strings are transformed once at compile time. Every supported
 * transformation is a pure function of its input, so pre-transforming the
 * literal side is equivalent to transforming it per request.
 */

// applyTransforms runs each transformation over s in order.
func applyTransforms(s string, transforms []types.Transformation) string {
	for _, t := range transforms {
		switch t {
		case types.TransformLowercase:
			s = strings.ToLower(s)
		case types.TransformNone:
			// identity
		}
	}
	return s
}

// validateTransformations rejects unknown or unspecified transformation values.
func validateTransformations(transforms []types.Transformation) error {
	for _, t := range transforms {
		switch t {
		case types.TransformNone, types.TransformLowercase:
		default:
			return types.ErrUnsupportedTransformation
		}
	}
	return nil
}
