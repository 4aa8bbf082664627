// Package wafv2 renders compiled policies as AWS WAFv2 web ACLs.
package wafv2

import (
	"errors"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/wafv2"
	waftypes "github.com/aws/aws-sdk-go-v2/service/wafv2/types"

	"github.com/solatis/uploadwaf/internal/policy"
	"github.com/solatis/uploadwaf/internal/rules"
	"github.com/solatis/uploadwaf/internal/types"
)

// DefaultACLName is used when neither the options nor the policy name one.
const DefaultACLName = "WebAcl"

// ErrUnrepresentable indicates a construct WAFv2 has no equivalent for.
var ErrUnrepresentable = errors.New("not representable in WAFv2")

// Options controls rendering.
type Options struct {
	Name string
	// Vendor replaces policy.ManagedVendor on managed rule groups. Defaults to "AWS".
	Vendor      string
	Scope       waftypes.Scope
	Description string
	// MetricsEnabled turns on CloudWatch metrics and request sampling for every rule.
	MetricsEnabled bool
}

func (o Options) withDefaults(p *rules.CompiledPolicy) Options {
	if o.Name == "" {
		o.Name = p.Name
	}
	if o.Name == "" {
		o.Name = DefaultACLName
	}
	if o.Vendor == "" {
		o.Vendor = "AWS"
	}
	if o.Scope == "" {
		o.Scope = waftypes.ScopeRegional
	}
	return o
}

// Render converts p into a CreateWebACL request.
func Render(p *rules.CompiledPolicy, opts Options) (*wafv2.CreateWebACLInput, error) {
	opts = opts.withDefaults(p)

	def, err := defaultAction(p.DefaultAction)
	if err != nil {
		return nil, err
	}

	input := &wafv2.CreateWebACLInput{
		Name:             aws.String(opts.Name),
		Scope:            opts.Scope,
		DefaultAction:    def,
		VisibilityConfig: visibility(opts.Name, opts.MetricsEnabled),
	}
	if opts.Description != "" {
		input.Description = aws.String(opts.Description)
	}

	for _, r := range p.Definition().Rules {
		rule, err := toRule(r, opts)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		input.Rules = append(input.Rules, rule)
	}
	return input, nil
}

// MetricName returns the CloudWatch metric name for a rule: managed groups
// get a "-Scoped" suffix because their scope-down narrows the vendor's metric.
func MetricName(r types.Rule) string {
	if _, ok := r.Statement.(types.ManagedGroup); ok {
		return r.Name + "-Scoped"
	}
	return r.Name
}

func toRule(r types.Rule, opts Options) (waftypes.Rule, error) {
	stmt, err := toStatement(r.Statement, opts)
	if err != nil {
		return waftypes.Rule{}, err
	}

	if r.Priority < 0 || r.Priority > math.MaxInt32 {
		return waftypes.Rule{}, fmt.Errorf("rule %s priority %d: %w", r.Name, r.Priority, ErrUnrepresentable)
	}

	out := waftypes.Rule{
		Name:             aws.String(r.Name),
		Priority:         int32(r.Priority),
		Statement:        stmt,
		VisibilityConfig: visibility(MetricName(r), opts.MetricsEnabled),
	}

	_, managed := r.Statement.(types.ManagedGroup)
	switch {
	case managed && r.Action == types.ActionNone:
		out.OverrideAction = &waftypes.OverrideAction{None: &waftypes.NoneAction{}}
	case managed && r.Action == types.ActionCount:
		out.OverrideAction = &waftypes.OverrideAction{Count: &waftypes.CountAction{}}
	case managed:
		return waftypes.Rule{}, fmt.Errorf("managed group with %s action: %w", r.Action, ErrUnrepresentable)
	case r.Action == types.ActionAllow:
		out.Action = &waftypes.RuleAction{Allow: &waftypes.AllowAction{}}
	case r.Action == types.ActionBlock:
		out.Action = &waftypes.RuleAction{Block: &waftypes.BlockAction{}}
	case r.Action == types.ActionCount:
		out.Action = &waftypes.RuleAction{Count: &waftypes.CountAction{}}
	default:
		// NONE is only an override action in WAFv2.
		return waftypes.Rule{}, fmt.Errorf("%s action on a non-managed statement: %w", r.Action, ErrUnrepresentable)
	}
	return out, nil
}

func toStatement(stmt types.Statement, opts Options) (*waftypes.Statement, error) {
	switch s := stmt.(type) {
	case types.ByteMatch:
		bm, err := toByteMatch(s)
		if err != nil {
			return nil, err
		}
		return &waftypes.Statement{ByteMatchStatement: bm}, nil

	case types.And:
		// WAFv2 requires at least two operands; AND[] and AND[x] have no direct form.
		if len(s.Operands) < 2 {
			return nil, fmt.Errorf("AND with %d operands: %w", len(s.Operands), ErrUnrepresentable)
		}
		ops, err := toStatements(s.Operands, opts)
		if err != nil {
			return nil, err
		}
		return &waftypes.Statement{AndStatement: &waftypes.AndStatement{Statements: ops}}, nil

	case types.Or:
		// A single-operand OR is emitted as its operand.
		if len(s.Operands) == 1 {
			return toStatement(s.Operands[0], opts)
		}
		if len(s.Operands) == 0 {
			return nil, fmt.Errorf("OR with no operands: %w", ErrUnrepresentable)
		}
		ops, err := toStatements(s.Operands, opts)
		if err != nil {
			return nil, err
		}
		return &waftypes.Statement{OrStatement: &waftypes.OrStatement{Statements: ops}}, nil

	case types.Not:
		inner, err := toStatement(s.Operand, opts)
		if err != nil {
			return nil, err
		}
		return &waftypes.Statement{NotStatement: &waftypes.NotStatement{Statement: inner}}, nil

	case types.ManagedGroup:
		vendor := s.Vendor
		if vendor == policy.ManagedVendor {
			vendor = opts.Vendor
		}
		mg := &waftypes.ManagedRuleGroupStatement{
			Name:       aws.String(s.Name),
			VendorName: aws.String(vendor),
		}
		if s.ScopeDown != nil {
			scope, err := toStatement(s.ScopeDown, opts)
			if err != nil {
				return nil, fmt.Errorf("scope-down: %w", err)
			}
			mg.ScopeDownStatement = scope
		}
		return &waftypes.Statement{ManagedRuleGroupStatement: mg}, nil

	default:
		return nil, fmt.Errorf("%T: %w", stmt, ErrUnrepresentable)
	}
}

func toStatements(stmts []types.Statement, opts Options) ([]waftypes.Statement, error) {
	out := make([]waftypes.Statement, 0, len(stmts))
	for _, s := range stmts {
		st, err := toStatement(s, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

func toByteMatch(s types.ByteMatch) (*waftypes.ByteMatchStatement, error) {
	field := &waftypes.FieldToMatch{}
	switch s.Field.Kind {
	case types.FieldMethod:
		field.Method = &waftypes.Method{}
	case types.FieldURIPath:
		field.UriPath = &waftypes.UriPath{}
	case types.FieldSingleHeader:
		field.SingleHeader = &waftypes.SingleHeader{Name: aws.String(s.Field.Header)}
	default:
		return nil, fmt.Errorf("field %s: %w", s.Field.Kind, ErrUnrepresentable)
	}

	var pc waftypes.PositionalConstraint
	switch s.PositionalConstraint {
	case types.PositionExactly:
		pc = waftypes.PositionalConstraintExactly
	case types.PositionStartsWith:
		pc = waftypes.PositionalConstraintStartsWith
	case types.PositionContains:
		pc = waftypes.PositionalConstraintContains
	default:
		return nil, fmt.Errorf("constraint %s: %w", s.PositionalConstraint, ErrUnrepresentable)
	}

	transforms := s.Transformations
	if len(transforms) == 0 {
		transforms = []types.Transformation{types.TransformNone}
	}
	tts := make([]waftypes.TextTransformation, 0, len(transforms))
	for i, t := range transforms {
		var tt waftypes.TextTransformationType
		switch t {
		case types.TransformNone:
			tt = waftypes.TextTransformationTypeNone
		case types.TransformLowercase:
			tt = waftypes.TextTransformationTypeLowercase
		default:
			return nil, fmt.Errorf("transformation %s: %w", t, ErrUnrepresentable)
		}
		tts = append(tts, waftypes.TextTransformation{Priority: int32(i), Type: tt})
	}

	return &waftypes.ByteMatchStatement{
		FieldToMatch:         field,
		PositionalConstraint: pc,
		SearchString:         []byte(s.SearchString),
		TextTransformations:  tts,
	}, nil
}

func defaultAction(a types.Action) (*waftypes.DefaultAction, error) {
	switch a {
	case types.ActionAllow:
		return &waftypes.DefaultAction{Allow: &waftypes.AllowAction{}}, nil
	case types.ActionBlock:
		return &waftypes.DefaultAction{Block: &waftypes.BlockAction{}}, nil
	default:
		return nil, fmt.Errorf("default action %s: %w", a, ErrUnrepresentable)
	}
}

func visibility(metric string, enabled bool) *waftypes.VisibilityConfig {
	return &waftypes.VisibilityConfig{
		CloudWatchMetricsEnabled: enabled,
		MetricName:               aws.String(metric),
		SampledRequestsEnabled:   enabled,
	}
}
