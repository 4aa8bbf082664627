// internal/rules/field.go
package rules

import (
	"strings"

	"github.com/solatis/uploadwaf/internal/types"
)

/*
 * Field extraction.
 *
 * Resolves a ByteMatch field against RequestAttributes. Extraction is total:
 * a missing header yields "" and is matched like any other value (so
 * CONTAINS "" matches, EXACTLY "x" does not). Header names are normalized to
 * lowercase at compile time to match the lowercase keys of
 * RequestAttributes.Headers.
 */

// extractField returns the string value of the compiled field.
func extractField(n *node, attrs types.RequestAttributes) string {
	switch n.field {
	case types.FieldMethod:
		return attrs.Method
	case types.FieldURIPath:
		return attrs.URIPath
	case types.FieldSingleHeader:
		return attrs.HeaderValue(n.header)
	default:
		return ""
	}
}

// validateField checks the field kind is supported and normalizes the header name.
func validateField(f types.FieldToMatch) (types.FieldKind, string, error) {
	switch f.Kind {
	case types.FieldMethod, types.FieldURIPath:
		return f.Kind, "", nil
	case types.FieldSingleHeader:
		name := strings.ToLower(strings.TrimSpace(f.Header))
		if name == "" {
			return f.Kind, "", types.ErrEmptyHeaderName
		}
		return f.Kind, name, nil
	default:
		return f.Kind, "", types.ErrUnsupportedField
	}
}
