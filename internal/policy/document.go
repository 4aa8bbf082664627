package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/solatis/uploadwaf/internal/types"
)

/*
 * Policy documents.
 *
 * A document is the YAML (or JSON) form of a types.Policy, used for custom
 * policies and for the signature oracle's detection lists:
 *
 *   name: uploads
 *   default_action: allow
 *   rules:
 *     - name: BlockMultipartOutsideAllowedPaths
 *       priority: 0
 *       action: block
 *       statement:
 *         and:
 *           - byte_match:
 *               field: header:content-type
 *               positional_constraint: contains
 *               search_string: multipart/form-data
 *               transformations: [lowercase]
 *           - not:
 *               byte_match: {field: uri_path, positional_constraint: starts_with, search_string: /upload}
 *
 * Each statement node sets exactly one of byte_match, and, or, not,
 * managed_group. Enum names are case-insensitive. Unknown names are
 * configuration errors, reported with the rule and the offending value.
 */

// ErrAmbiguousStatement indicates a statement node with zero or several variants set.
var ErrAmbiguousStatement = errors.New("statement must set exactly one of byte_match, and, or, not, managed_group")

// Document is the serialized form of a policy.
type Document struct {
	Name          string    `yaml:"name,omitempty" json:"name,omitempty"`
	DefaultAction string    `yaml:"default_action" json:"default_action"`
	Rules         []RuleDoc `yaml:"rules" json:"rules"`
}

// RuleDoc is the serialized form of a rule.
type RuleDoc struct {
	Name      string       `yaml:"name" json:"name"`
	Priority  int          `yaml:"priority" json:"priority"`
	Action    string       `yaml:"action" json:"action"`
	Statement StatementDoc `yaml:"statement" json:"statement"`
}

// StatementDoc is the serialized form of a statement node.
// Pointer slices distinguish an empty operand list from an absent one.
type StatementDoc struct {
	ByteMatch    *ByteMatchDoc    `yaml:"byte_match,omitempty" json:"byte_match,omitempty"`
	And          *[]StatementDoc  `yaml:"and,omitempty" json:"and,omitempty"`
	Or           *[]StatementDoc  `yaml:"or,omitempty" json:"or,omitempty"`
	Not          *StatementDoc    `yaml:"not,omitempty" json:"not,omitempty"`
	ManagedGroup *ManagedGroupDoc `yaml:"managed_group,omitempty" json:"managed_group,omitempty"`
}

// ByteMatchDoc is the serialized form of a ByteMatch.
// Field is "method", "uri_path" or "header:<name>".
type ByteMatchDoc struct {
	Field                string   `yaml:"field" json:"field"`
	PositionalConstraint string   `yaml:"positional_constraint" json:"positional_constraint"`
	SearchString         string   `yaml:"search_string" json:"search_string"`
	Transformations      []string `yaml:"transformations,omitempty" json:"transformations,omitempty"`
}

// ManagedGroupDoc is the serialized form of a ManagedGroup.
type ManagedGroupDoc struct {
	Vendor    string        `yaml:"vendor,omitempty" json:"vendor,omitempty"`
	Name      string        `yaml:"name" json:"name"`
	ScopeDown *StatementDoc `yaml:"scope_down,omitempty" json:"scope_down,omitempty"`
}

// LoadDocument reads and parses a policy document from path.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy document: %w", err)
	}
	return ParseDocument(data)
}

// ParseDocument parses a YAML or JSON policy document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy document: %w", err)
	}
	return &doc, nil
}

// Policy converts the document to a declarative policy.
// Validation beyond enum decoding is left to rules.Compile.
func (d *Document) Policy() (*types.Policy, error) {
	def := types.ParseAction(d.DefaultAction)
	if def == types.ActionUnspecified {
		return nil, fmt.Errorf("default action %q: %w", d.DefaultAction, types.ErrInvalidAction)
	}

	policy := &types.Policy{
		Name:          d.Name,
		DefaultAction: def,
		Rules:         make([]types.Rule, 0, len(d.Rules)),
	}
	for _, r := range d.Rules {
		action := types.ParseAction(r.Action)
		if action == types.ActionUnspecified {
			return nil, fmt.Errorf("rule %q action %q: %w", r.Name, r.Action, types.ErrInvalidAction)
		}
		stmt, err := r.Statement.Statement()
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		policy.Rules = append(policy.Rules, types.Rule{
			Name:      r.Name,
			Priority:  r.Priority,
			Action:    action,
			Statement: stmt,
		})
	}
	return policy, nil
}

// Statement converts the node to a types.Statement.
func (s StatementDoc) Statement() (types.Statement, error) {
	set := 0
	for _, present := range []bool{s.ByteMatch != nil, s.And != nil, s.Or != nil, s.Not != nil, s.ManagedGroup != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, ErrAmbiguousStatement
	}

	switch {
	case s.ByteMatch != nil:
		return s.ByteMatch.statement()
	case s.And != nil:
		operands, err := statements(*s.And)
		if err != nil {
			return nil, err
		}
		return types.And{Operands: operands}, nil
	case s.Or != nil:
		operands, err := statements(*s.Or)
		if err != nil {
			return nil, err
		}
		return types.Or{Operands: operands}, nil
	case s.Not != nil:
		operand, err := s.Not.Statement()
		if err != nil {
			return nil, err
		}
		return types.Not{Operand: operand}, nil
	default:
		group := types.ManagedGroup{Vendor: s.ManagedGroup.Vendor, Name: s.ManagedGroup.Name}
		if group.Vendor == "" {
			group.Vendor = ManagedVendor
		}
		if s.ManagedGroup.ScopeDown != nil {
			scope, err := s.ManagedGroup.ScopeDown.Statement()
			if err != nil {
				return nil, fmt.Errorf("scope_down: %w", err)
			}
			group.ScopeDown = scope
		}
		return group, nil
	}
}

func statements(docs []StatementDoc) ([]types.Statement, error) {
	out := make([]types.Statement, 0, len(docs))
	for _, d := range docs {
		stmt, err := d.Statement()
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
	}
	return out, nil
}

func (b *ByteMatchDoc) statement() (types.Statement, error) {
	field, err := ParseField(b.Field)
	if err != nil {
		return nil, err
	}
	pc := ParsePositionalConstraint(b.PositionalConstraint)
	if pc == types.PositionUnspecified {
		return nil, fmt.Errorf("positional constraint %q: %w", b.PositionalConstraint, types.ErrUnsupportedConstraint)
	}
	transforms := make([]types.Transformation, 0, len(b.Transformations))
	for _, name := range b.Transformations {
		t := ParseTransformation(name)
		if t == types.TransformUnspecified {
			return nil, fmt.Errorf("transformation %q: %w", name, types.ErrUnsupportedTransformation)
		}
		transforms = append(transforms, t)
	}
	return types.NewByteMatch(field, pc, b.SearchString, transforms...), nil
}

// ParseField decodes "method", "uri_path" or "header:<name>".
func ParseField(s string) (types.FieldToMatch, error) {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	switch {
	case lower == "method":
		return types.Method(), nil
	case lower == "uri_path":
		return types.URIPath(), nil
	case strings.HasPrefix(lower, "header:"):
		name := strings.TrimSpace(trimmed[len("header:"):])
		if name == "" {
			return types.FieldToMatch{}, types.ErrEmptyHeaderName
		}
		return types.Header(name), nil
	default:
		return types.FieldToMatch{}, fmt.Errorf("field %q: %w", s, types.ErrUnsupportedField)
	}
}

// FormatField is the inverse of ParseField.
func FormatField(f types.FieldToMatch) string {
	switch f.Kind {
	case types.FieldMethod:
		return "method"
	case types.FieldURIPath:
		return "uri_path"
	case types.FieldSingleHeader:
		return "header:" + f.Header
	default:
		return ""
	}
}

// ParsePositionalConstraint decodes a constraint name; unknown names return PositionUnspecified.
func ParsePositionalConstraint(s string) types.PositionalConstraint {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EXACTLY":
		return types.PositionExactly
	case "STARTS_WITH":
		return types.PositionStartsWith
	case "CONTAINS":
		return types.PositionContains
	default:
		return types.PositionUnspecified
	}
}

// ParseTransformation decodes a transformation name; unknown names return TransformUnspecified.
func ParseTransformation(s string) types.Transformation {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE":
		return types.TransformNone
	case "LOWERCASE":
		return types.TransformLowercase
	default:
		return types.TransformUnspecified
	}
}

// NewDocument serializes a declarative policy.
func NewDocument(p types.Policy) Document {
	doc := Document{
		Name:          p.Name,
		DefaultAction: strings.ToLower(p.DefaultAction.String()),
		Rules:         make([]RuleDoc, 0, len(p.Rules)),
	}
	for _, r := range p.Rules {
		doc.Rules = append(doc.Rules, RuleDoc{
			Name:      r.Name,
			Priority:  r.Priority,
			Action:    strings.ToLower(r.Action.String()),
			Statement: statementDoc(r.Statement),
		})
	}
	return doc
}

func statementDoc(stmt types.Statement) StatementDoc {
	switch s := stmt.(type) {
	case types.ByteMatch:
		bm := &ByteMatchDoc{
			Field:                FormatField(s.Field),
			PositionalConstraint: strings.ToLower(s.PositionalConstraint.String()),
			SearchString:         s.SearchString,
		}
		for _, t := range s.Transformations {
			bm.Transformations = append(bm.Transformations, strings.ToLower(t.String()))
		}
		return StatementDoc{ByteMatch: bm}
	case types.And:
		ops := statementDocs(s.Operands)
		return StatementDoc{And: &ops}
	case types.Or:
		ops := statementDocs(s.Operands)
		return StatementDoc{Or: &ops}
	case types.Not:
		inner := statementDoc(s.Operand)
		return StatementDoc{Not: &inner}
	case types.ManagedGroup:
		group := &ManagedGroupDoc{Vendor: s.Vendor, Name: s.Name}
		if s.ScopeDown != nil {
			scope := statementDoc(s.ScopeDown)
			group.ScopeDown = &scope
		}
		return StatementDoc{ManagedGroup: group}
	default:
		return StatementDoc{}
	}
}

func statementDocs(stmts []types.Statement) []StatementDoc {
	out := make([]StatementDoc, 0, len(stmts))
	for _, s := range stmts {
		out = append(out, statementDoc(s))
	}
	return out
}
