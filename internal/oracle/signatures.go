// Package oracle provides managed-group detectors for the rules engine.
//
// A SignatureSet stands in for a provider's managed rule groups: each group
// is a list of detection statements, and a request is flagged when any of
// them matches. Groups the set does not know abstain.
package oracle

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/solatis/uploadwaf/internal/policy"
	"github.com/solatis/uploadwaf/internal/rules"
	"github.com/solatis/uploadwaf/internal/types"
)

// ErrNestedManagedGroup indicates a detection statement that refers to another managed group.
var ErrNestedManagedGroup = errors.New("detection statements cannot reference managed groups")

// File is the on-disk signature format:
//
//	groups:
//	  CommonRuleSet:
//	    - byte_match: {field: uri_path, positional_constraint: contains, search_string: "../"}
type File struct {
	Vendor string                           `yaml:"vendor,omitempty"`
	Groups map[string][]policy.StatementDoc `yaml:"groups"`
}

// SignatureSet is a static rules.Oracle. Safe for concurrent use.
type SignatureSet struct {
	vendor string
	groups map[string][]*rules.CompiledStatement
	engine *rules.Engine
	logger zerolog.Logger
}

// Load reads a signature file from path.
func Load(path string, logger zerolog.Logger) (*SignatureSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signatures: %w", err)
	}
	return Parse(data, logger)
}

// Parse decodes and compiles a signature file.
func Parse(data []byte, logger zerolog.Logger) (*SignatureSet, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse signatures: %w", err)
	}
	return New(f, logger)
}

// New compiles every detection statement in f.
// An empty vendor accepts consultations for any vendor.
func New(f File, logger zerolog.Logger) (*SignatureSet, error) {
	set := &SignatureSet{
		vendor: f.Vendor,
		groups: make(map[string][]*rules.CompiledStatement, len(f.Groups)),
		engine: rules.NewEngine(),
		logger: logger.With().Str("component", "signatures").Logger(),
	}

	for name, docs := range f.Groups {
		compiled := make([]*rules.CompiledStatement, 0, len(docs))
		for i, doc := range docs {
			stmt, err := doc.Statement()
			if err != nil {
				return nil, fmt.Errorf("group %s detection %d: %w", name, i, err)
			}
			if referencesGroup(stmt) {
				return nil, fmt.Errorf("group %s detection %d: %w", name, i, ErrNestedManagedGroup)
			}
			cs, err := rules.CompileStatement(stmt)
			if err != nil {
				return nil, fmt.Errorf("group %s detection %d: %w", name, i, err)
			}
			compiled = append(compiled, cs)
		}
		set.groups[name] = compiled
	}

	return set, nil
}

// Consult implements rules.Oracle.
func (s *SignatureSet) Consult(vendor, name string, attrs types.RequestAttributes) (bool, error) {
	if s.vendor != "" && !strings.EqualFold(s.vendor, vendor) {
		return false, nil
	}
	detections, ok := s.groups[name]
	if !ok {
		return false, nil
	}
	for i, d := range detections {
		if s.engine.Match(d, attrs) {
			s.logger.Debug().
				Str("group", name).
				Int("detection", i).
				Str("uri_path", attrs.URIPath).
				Msg("detection matched")
			return true, nil
		}
	}
	return false, nil
}

// Groups returns the known group names, sorted.
func (s *SignatureSet) Groups() []string {
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Missing returns the managed groups referenced by p that this set cannot evaluate.
// Those groups abstain on every request.
func (s *SignatureSet) Missing(p types.Policy) []string {
	var missing []string
	for _, r := range p.Rules {
		collectGroups(r.Statement, func(g types.ManagedGroup) {
			if _, ok := s.groups[g.Name]; !ok {
				missing = append(missing, g.Name)
			}
		})
	}
	return missing
}

func referencesGroup(stmt types.Statement) bool {
	found := false
	collectGroups(stmt, func(types.ManagedGroup) { found = true })
	return found
}

func collectGroups(stmt types.Statement, fn func(types.ManagedGroup)) {
	switch s := stmt.(type) {
	case types.ManagedGroup:
		fn(s)
		collectGroups(s.ScopeDown, fn)
	case *types.ManagedGroup:
		if s != nil {
			collectGroups(*s, fn)
		}
	case types.And:
		for _, op := range s.Operands {
			collectGroups(op, fn)
		}
	case *types.And:
		if s != nil {
			collectGroups(*s, fn)
		}
	case types.Or:
		for _, op := range s.Operands {
			collectGroups(op, fn)
		}
	case *types.Or:
		if s != nil {
			collectGroups(*s, fn)
		}
	case types.Not:
		collectGroups(s.Operand, fn)
	case *types.Not:
		if s != nil {
			collectGroups(*s, fn)
		}
	}
}
