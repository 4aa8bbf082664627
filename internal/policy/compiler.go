// Package policy synthesizes web-ACL policies from declared intent.
//
// Compile turns "allow multipart uploads only under these paths, and run
// these managed detections everywhere else" into a concrete rule set:
//
//	priority 0   BlockMultipartOutsideAllowedPaths  BLOCK
//	             multipart AND NOT allowed-path
//	priority 10+ <managed group>                    NONE (override)
//	             managed group scoped down to
//	             NOT (write-method AND multipart AND allowed-path)
//	default      ALLOW
//
// The scope-down keeps declared upload traffic away from generic detectors
// that tend to false-positive on binary bodies. Only the exact legitimate
// upload shape is excluded; non-multipart traffic to upload paths is still
// inspected.
package policy

import (
	"fmt"

	"github.com/solatis/uploadwaf/internal/rules"
	"github.com/solatis/uploadwaf/internal/types"
)

const (
	// BlockRuleName names the terminal rule that rejects stray multipart bodies.
	BlockRuleName = "BlockMultipartOutsideAllowedPaths"

	// ManagedVendor is the vendor recorded on synthesized managed-group statements.
	// Exporters map it to a concrete provider name.
	ManagedVendor = "external"

	// MultipartMediaType is the content type fragment that marks an upload body.
	MultipartMediaType = "multipart/form-data"

	// ContentTypeHeader is the header inspected for MultipartMediaType.
	ContentTypeHeader = "content-type"

	blockRulePriority     = 0
	managedGroupPriority0 = 10
)

// Intent is the declared upload policy.
type Intent struct {
	Name          string
	AllowedPaths  []string
	ManagedGroups []string
}

// IsMultipart matches any content type containing multipart/form-data, case-insensitively.
func IsMultipart() types.ByteMatch {
	return types.NewByteMatch(
		types.Header(ContentTypeHeader),
		types.PositionContains,
		MultipartMediaType,
		types.TransformLowercase,
	)
}

// IsAllowedPath matches URI paths starting with any of paths. Case-sensitive.
func IsAllowedPath(paths []string) types.Or {
	operands := make([]types.Statement, 0, len(paths))
	for _, p := range paths {
		operands = append(operands, types.NewByteMatch(types.URIPath(), types.PositionStartsWith, p, types.TransformNone))
	}
	return types.Or{Operands: operands}
}

// IsWriteMethod matches POST or PUT.
func IsWriteMethod() types.Or {
	return types.AnyOf(
		types.NewByteMatch(types.Method(), types.PositionExactly, "POST", types.TransformNone),
		types.NewByteMatch(types.Method(), types.PositionExactly, "PUT", types.TransformNone),
	)
}

// Compile synthesizes the declarative policy for allowedPaths and managedGroups.
// Rule priorities follow declaration order: the block rule first, then one
// override rule per managed group starting at priority 10.
func Compile(allowedPaths, managedGroups []string) (*types.Policy, error) {
	return CompileIntent(Intent{AllowedPaths: allowedPaths, ManagedGroups: managedGroups})
}

// CompileIntent is Compile with a policy name.
func CompileIntent(intent Intent) (*types.Policy, error) {
	if len(intent.AllowedPaths) == 0 {
		return nil, types.ErrNoAllowedPaths
	}
	for i, p := range intent.AllowedPaths {
		if p == "" {
			return nil, fmt.Errorf("allowed path %d: %w", i, types.ErrEmptyAllowedPath)
		}
	}

	isMultipart := IsMultipart()
	isAllowedPath := IsAllowedPath(intent.AllowedPaths)

	blockRule := types.Rule{
		Name:      BlockRuleName,
		Priority:  blockRulePriority,
		Action:    types.ActionBlock,
		Statement: types.AllOf(isMultipart, types.Negate(isAllowedPath)),
	}

	legitimateUpload := types.AllOf(IsWriteMethod(), isMultipart, isAllowedPath)

	policy := &types.Policy{
		Name:          intent.Name,
		DefaultAction: types.ActionAllow,
		Rules:         make([]types.Rule, 0, 1+len(intent.ManagedGroups)),
	}
	policy.Rules = append(policy.Rules, blockRule)

	seen := make(map[string]struct{}, len(intent.ManagedGroups))
	for i, group := range intent.ManagedGroups {
		if group == "" {
			return nil, fmt.Errorf("managed group %d: %w", i, types.ErrMissingGroupName)
		}
		if _, dup := seen[group]; dup {
			return nil, fmt.Errorf("%s: %w", group, types.ErrDuplicateManagedGroup)
		}
		seen[group] = struct{}{}

		policy.Rules = append(policy.Rules, types.Rule{
			Name:     group,
			Priority: managedGroupPriority0 + i,
			Action:   types.ActionNone,
			Statement: types.ManagedGroup{
				Vendor:    ManagedVendor,
				Name:      group,
				ScopeDown: types.Negate(legitimateUpload),
			},
		})
	}

	return policy, nil
}

// Build compiles intent straight to an evaluable policy.
func Build(intent Intent) (*rules.CompiledPolicy, error) {
	def, err := CompileIntent(intent)
	if err != nil {
		return nil, err
	}
	return rules.Compile(def)
}
