// internal/rules/compile.go
package rules

import (
	"fmt"
	"sort"

	"github.com/solatis/uploadwaf/internal/types"
)

/*
 * Policy compilation and validation.
 *
 * Compiles a declarative types.Policy into a CompiledPolicy: an immutable,
 * priority-ordered rule list whose statements have been validated and
 * lowered into an evaluation tree.
 *
 * Compilation workflow:
 *   1. Validate default action and rule count
 *   2. Per rule: validate name, priority and action; reject duplicates
 *   3. Lower each statement (enum validation, header normalization,
 *      search-string pre-transformation, depth/operand limits)
 *   4. Sort rules by ascending priority
 *   5. Mint a fresh UUIDv7 policy ID
 *
 * Compile-time validation moves every configuration error (unknown field,
 * constraint or transformation; duplicate priority) ahead of the first
 * request, so Decide has no error path.
 *
 * The declarative source is deep-copied before lowering. Callers may reuse
 * or mutate their Policy value afterwards without affecting the compiled one.
 */

// nodeKind tags a lowered statement.
type nodeKind int

const (
	nodeByteMatch nodeKind = iota
	nodeAnd
	nodeOr
	nodeNot
	nodeManagedGroup
)

// node is one lowered statement. Only the fields for its kind are set.
type node struct {
	kind nodeKind

	// byte match
	field      types.FieldKind
	header     string
	constraint types.PositionalConstraint
	search     string // already transformed
	transforms []types.Transformation

	// and / or / not (not uses operands[0])
	operands []*node

	// managed group
	vendor    string
	group     string
	scopeDown *node // nil when absent
}

// CompiledStatement is a validated statement ready for evaluation.
type CompiledStatement struct {
	root   *node
	source types.Statement
}

// Source returns a copy of the declarative statement this was compiled from.
func (s *CompiledStatement) Source() types.Statement {
	return cloneStatement(s.source)
}

// CompiledRule is a validated rule ready for evaluation.
type CompiledRule struct {
	Name     string
	Priority int
	Action   types.Action
	stmt     *CompiledStatement
}

// Statement returns the rule's compiled statement.
func (r CompiledRule) Statement() *CompiledStatement {
	return r.stmt
}

// CompiledPolicy is an immutable, priority-ordered policy.
// Safe for concurrent use by any number of evaluators.
type CompiledPolicy struct {
	ID            types.PolicyID
	Name          string
	DefaultAction types.Action
	rules         []CompiledRule
}

// Rules returns the rules in evaluation order. The slice is a copy.
func (p *CompiledPolicy) Rules() []CompiledRule {
	return append([]CompiledRule(nil), p.rules...)
}

// Definition returns the declarative policy in evaluation order.
func (p *CompiledPolicy) Definition() types.Policy {
	def := types.Policy{
		Name:          p.Name,
		DefaultAction: p.DefaultAction,
		Rules:         make([]types.Rule, 0, len(p.rules)),
	}
	for _, r := range p.rules {
		def.Rules = append(def.Rules, types.Rule{
			Name:      r.Name,
			Priority:  r.Priority,
			Action:    r.Action,
			Statement: r.stmt.Source(),
		})
	}
	return def
}

// Compile validates and freezes a policy for evaluation.
func Compile(policy *types.Policy) (*CompiledPolicy, error) {
	if policy.DefaultAction != types.ActionAllow && policy.DefaultAction != types.ActionBlock {
		return nil, fmt.Errorf("default action %s: %w", policy.DefaultAction, types.ErrInvalidAction)
	}
	if len(policy.Rules) > types.MaxRules {
		return nil, types.ErrTooManyRules
	}

	compiled := &CompiledPolicy{
		Name:          policy.Name,
		DefaultAction: policy.DefaultAction,
		rules:         make([]CompiledRule, 0, len(policy.Rules)),
	}

	names := make(map[string]struct{}, len(policy.Rules))
	priorities := make(map[int]string, len(policy.Rules))

	for _, rule := range policy.Rules {
		if rule.Name == "" {
			return nil, types.ErrEmptyRuleName
		}
		if _, dup := names[rule.Name]; dup {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, types.ErrDuplicateRuleName)
		}
		names[rule.Name] = struct{}{}

		if rule.Priority < 0 {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, types.ErrNegativePriority)
		}
		if other, dup := priorities[rule.Priority]; dup {
			return nil, fmt.Errorf("rule %q and %q share priority %d: %w", other, rule.Name, rule.Priority, types.ErrDuplicatePriority)
		}
		priorities[rule.Priority] = rule.Name

		if !rule.Action.Terminal() && !rule.Action.Override() {
			return nil, fmt.Errorf("rule %q action %s: %w", rule.Name, rule.Action, types.ErrInvalidAction)
		}

		stmt, err := CompileStatement(rule.Statement)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}

		compiled.rules = append(compiled.rules, CompiledRule{
			Name:     rule.Name,
			Priority: rule.Priority,
			Action:   rule.Action,
			stmt:     stmt,
		})
	}

	// Priorities are unique, so the sort order is total.
	sort.Slice(compiled.rules, func(i, j int) bool {
		return compiled.rules[i].Priority < compiled.rules[j].Priority
	})

	compiled.ID = types.NewPolicyID()
	return compiled, nil
}

// CompileStatement validates and lowers a single statement.
func CompileStatement(stmt types.Statement) (*CompiledStatement, error) {
	source := cloneStatement(stmt)
	root, err := lower(source, 1)
	if err != nil {
		return nil, err
	}
	return &CompiledStatement{root: root, source: source}, nil
}

// lower converts a declarative statement into an evaluation node.
// depth counts the current nesting level starting at 1.
func lower(stmt types.Statement, depth int) (*node, error) {
	if depth > types.MaxStatementDepth {
		return nil, types.ErrStatementTooDeep
	}

	switch s := stmt.(type) {
	case nil:
		return nil, types.ErrNilStatement

	case types.ByteMatch:
		return lowerByteMatch(s)
	case *types.ByteMatch:
		if s == nil {
			return nil, types.ErrNilStatement
		}
		return lowerByteMatch(*s)

	case types.And:
		return lowerOperands(nodeAnd, s.Operands, depth)
	case *types.And:
		if s == nil {
			return nil, types.ErrNilStatement
		}
		return lowerOperands(nodeAnd, s.Operands, depth)

	case types.Or:
		return lowerOperands(nodeOr, s.Operands, depth)
	case *types.Or:
		if s == nil {
			return nil, types.ErrNilStatement
		}
		return lowerOperands(nodeOr, s.Operands, depth)

	case types.Not:
		return lowerNot(s, depth)
	case *types.Not:
		if s == nil {
			return nil, types.ErrNilStatement
		}
		return lowerNot(*s, depth)

	case types.ManagedGroup:
		return lowerManagedGroup(s, depth)
	case *types.ManagedGroup:
		if s == nil {
			return nil, types.ErrNilStatement
		}
		return lowerManagedGroup(*s, depth)

	default:
		return nil, fmt.Errorf("%T: %w", stmt, types.ErrUnsupportedStatement)
	}
}

func lowerByteMatch(s types.ByteMatch) (*node, error) {
	kind, header, err := validateField(s.Field)
	if err != nil {
		return nil, err
	}
	if err := validateConstraint(s.PositionalConstraint); err != nil {
		return nil, err
	}
	if err := validateTransformations(s.Transformations); err != nil {
		return nil, err
	}
	if len(s.SearchString) > types.MaxSearchStringLength {
		return nil, types.ErrSearchStringTooLong
	}

	transforms := append([]types.Transformation(nil), s.Transformations...)
	return &node{
		kind:       nodeByteMatch,
		field:      kind,
		header:     header,
		constraint: s.PositionalConstraint,
		search:     applyTransforms(s.SearchString, transforms),
		transforms: transforms,
	}, nil
}

func lowerOperands(kind nodeKind, operands []types.Statement, depth int) (*node, error) {
	if len(operands) > types.MaxOperands {
		return nil, types.ErrTooManyOperands
	}
	n := &node{kind: kind, operands: make([]*node, 0, len(operands))}
	for _, op := range operands {
		child, err := lower(op, depth+1)
		if err != nil {
			return nil, err
		}
		n.operands = append(n.operands, child)
	}
	return n, nil
}

func lowerNot(s types.Not, depth int) (*node, error) {
	child, err := lower(s.Operand, depth+1)
	if err != nil {
		return nil, err
	}
	return &node{kind: nodeNot, operands: []*node{child}}, nil
}

func lowerManagedGroup(s types.ManagedGroup, depth int) (*node, error) {
	if s.Name == "" {
		return nil, types.ErrMissingGroupName
	}
	n := &node{kind: nodeManagedGroup, vendor: s.Vendor, group: s.Name}
	if s.ScopeDown != nil {
		scope, err := lower(s.ScopeDown, depth+1)
		if err != nil {
			return nil, fmt.Errorf("scope-down of %s: %w", s.Name, err)
		}
		n.scopeDown = scope
	}
	return n, nil
}

// cloneStatement deep-copies a statement tree, normalizing pointer variants to values.
// Unknown implementations are returned as-is; lower rejects them.
func cloneStatement(stmt types.Statement) types.Statement {
	switch s := stmt.(type) {
	case types.ByteMatch:
		return types.NewByteMatch(s.Field, s.PositionalConstraint, s.SearchString, s.Transformations...)
	case *types.ByteMatch:
		if s == nil {
			return nil
		}
		return cloneStatement(*s)
	case types.And:
		return types.And{Operands: cloneOperands(s.Operands)}
	case *types.And:
		if s == nil {
			return nil
		}
		return cloneStatement(*s)
	case types.Or:
		return types.Or{Operands: cloneOperands(s.Operands)}
	case *types.Or:
		if s == nil {
			return nil
		}
		return cloneStatement(*s)
	case types.Not:
		return types.Not{Operand: cloneStatement(s.Operand)}
	case *types.Not:
		if s == nil {
			return nil
		}
		return cloneStatement(*s)
	case types.ManagedGroup:
		return types.ManagedGroup{Vendor: s.Vendor, Name: s.Name, ScopeDown: cloneStatement(s.ScopeDown)}
	case *types.ManagedGroup:
		if s == nil {
			return nil
		}
		return cloneStatement(*s)
	default:
		return stmt
	}
}

func cloneOperands(operands []types.Statement) []types.Statement {
	if operands == nil {
		return nil
	}
	out := make([]types.Statement, len(operands))
	for i, op := range operands {
		out[i] = cloneStatement(op)
	}
	return out
}
