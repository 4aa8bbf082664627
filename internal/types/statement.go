package types

/*
 * Statement model.
 *
 * A Statement is a sealed sum type: ByteMatch, And, Or, Not and ManagedGroup
 * are the only implementations (isStatement is unexported). The tree is a
 * declarative value; internal/rules compiles it into an immutable evaluation
 * tree after rejecting unsupported fields, constraints and transformations.
 *
 * Constructors copy their slice arguments so a caller mutating its own slice
 * after construction cannot change a statement already handed to a policy.
 */

// FieldKind selects which part of the request a ByteMatch inspects.
type FieldKind int

const (
	FieldUnspecified FieldKind = iota
	FieldMethod
	FieldURIPath
	FieldSingleHeader
)

func (k FieldKind) String() string {
	switch k {
	case FieldMethod:
		return "METHOD"
	case FieldURIPath:
		return "URI_PATH"
	case FieldSingleHeader:
		return "SINGLE_HEADER"
	default:
		return "UNSPECIFIED"
	}
}

// FieldToMatch names the request component to extract.
// Header is only meaningful for FieldSingleHeader and is matched case-insensitively.
type FieldToMatch struct {
	Kind   FieldKind
	Header string
}

// Method returns a FieldToMatch for the HTTP method.
func Method() FieldToMatch { return FieldToMatch{Kind: FieldMethod} }

// URIPath returns a FieldToMatch for the request URI path.
func URIPath() FieldToMatch { return FieldToMatch{Kind: FieldURIPath} }

// Header returns a FieldToMatch for a single named header.
func Header(name string) FieldToMatch { return FieldToMatch{Kind: FieldSingleHeader, Header: name} }

// PositionalConstraint selects how the search string is located in the field value.
type PositionalConstraint int

const (
	PositionUnspecified PositionalConstraint = iota
	PositionExactly
	PositionStartsWith
	PositionContains
)

func (p PositionalConstraint) String() string {
	switch p {
	case PositionExactly:
		return "EXACTLY"
	case PositionStartsWith:
		return "STARTS_WITH"
	case PositionContains:
		return "CONTAINS"
	default:
		return "UNSPECIFIED"
	}
}

// Transformation normalizes text before comparison.
type Transformation int

const (
	TransformUnspecified Transformation = iota
	TransformNone
	TransformLowercase
)

func (t Transformation) String() string {
	switch t {
	case TransformNone:
		return "NONE"
	case TransformLowercase:
		return "LOWERCASE"
	default:
		return "UNSPECIFIED"
	}
}

// Statement is a boolean predicate over RequestAttributes.
type Statement interface {
	isStatement()
}

// ByteMatch compares one request field against a literal search string.
// Transformations apply in order to both sides; an empty list behaves as NONE.
type ByteMatch struct {
	Field                FieldToMatch
	PositionalConstraint PositionalConstraint
	SearchString         string
	Transformations      []Transformation
}

// And is true iff every operand is true. An empty And is true.
type And struct {
	Operands []Statement
}

// Or is true iff any operand is true. An empty Or is false.
type Or struct {
	Operands []Statement
}

// Not negates its operand.
type Not struct {
	Operand Statement
}

// ManagedGroup delegates to an external detection capability identified by
// Vendor and Name. When ScopeDown is set and evaluates false, the capability
// is not consulted and the group does not match.
type ManagedGroup struct {
	Vendor    string
	Name      string
	ScopeDown Statement
}

func (ByteMatch) isStatement()    {}
func (And) isStatement()          {}
func (Or) isStatement()           {}
func (Not) isStatement()          {}
func (ManagedGroup) isStatement() {}

// NewByteMatch builds a ByteMatch, copying transformations.
func NewByteMatch(field FieldToMatch, pc PositionalConstraint, search string, transforms ...Transformation) ByteMatch {
	return ByteMatch{
		Field:                field,
		PositionalConstraint: pc,
		SearchString:         search,
		Transformations:      append([]Transformation(nil), transforms...),
	}
}

// AllOf builds an And over a copy of operands.
func AllOf(operands ...Statement) And {
	return And{Operands: append([]Statement(nil), operands...)}
}

// AnyOf builds an Or over a copy of operands.
func AnyOf(operands ...Statement) Or {
	return Or{Operands: append([]Statement(nil), operands...)}
}

// Negate builds a Not.
func Negate(operand Statement) Not {
	return Not{Operand: operand}
}
