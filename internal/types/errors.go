package types

import "errors"

// Sentinel errors for policy construction. All of them are configuration-time
// failures; evaluation itself never returns an error.
var (
	// ErrNoAllowedPaths indicates a compile request without any allowed upload path.
	ErrNoAllowedPaths = errors.New("at least one allowed path is required")

	// ErrEmptyAllowedPath indicates an allowed path that is the empty string.
	ErrEmptyAllowedPath = errors.New("allowed path must not be empty")

	// ErrDuplicateManagedGroup indicates a managed group name listed twice.
	ErrDuplicateManagedGroup = errors.New("duplicate managed group name")

	// ErrDuplicatePriority indicates two rules share a priority.
	ErrDuplicatePriority = errors.New("duplicate rule priority")

	// ErrDuplicateRuleName indicates two rules share a name.
	ErrDuplicateRuleName = errors.New("duplicate rule name")

	// ErrNegativePriority indicates a rule priority below zero.
	ErrNegativePriority = errors.New("rule priority must be non-negative")

	// ErrEmptyRuleName indicates a rule without a name.
	ErrEmptyRuleName = errors.New("rule name is required")

	// ErrTooManyRules indicates a policy exceeds MaxRules.
	ErrTooManyRules = errors.New("policy has too many rules")

	// ErrInvalidAction indicates an unknown rule or default action.
	ErrInvalidAction = errors.New("invalid action")

	// ErrNilStatement indicates a rule or operator without a statement.
	ErrNilStatement = errors.New("statement is required")

	// ErrUnsupportedStatement indicates a Statement implementation the evaluator does not know.
	ErrUnsupportedStatement = errors.New("unsupported statement type")

	// ErrUnsupportedField indicates an unknown FieldToMatch kind.
	ErrUnsupportedField = errors.New("unsupported field to match")

	// ErrEmptyHeaderName indicates a single-header field without a header name.
	ErrEmptyHeaderName = errors.New("header name is required")

	// ErrUnsupportedConstraint indicates an unknown positional constraint.
	ErrUnsupportedConstraint = errors.New("unsupported positional constraint")

	// ErrUnsupportedTransformation indicates an unknown text transformation.
	ErrUnsupportedTransformation = errors.New("unsupported text transformation")

	// ErrSearchStringTooLong indicates a search string exceeds MaxSearchStringLength.
	ErrSearchStringTooLong = errors.New("search string exceeds maximum length")

	// ErrStatementTooDeep indicates nesting beyond MaxStatementDepth.
	ErrStatementTooDeep = errors.New("statement exceeds maximum depth")

	// ErrTooManyOperands indicates an And/Or beyond MaxOperands.
	ErrTooManyOperands = errors.New("statement has too many operands")

	// ErrMissingGroupName indicates a managed group statement without a name.
	ErrMissingGroupName = errors.New("managed group name is required")
)
