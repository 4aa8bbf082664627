package types

import "strings"

// Action is what a rule does when its statement matches.
// Allow and Block are terminal; Count and None are overrides that record the
// match and let evaluation continue.
type Action int

const (
	ActionUnspecified Action = iota
	ActionAllow
	ActionBlock
	ActionCount
	ActionNone
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "ALLOW"
	case ActionBlock:
		return "BLOCK"
	case ActionCount:
		return "COUNT"
	case ActionNone:
		return "NONE"
	default:
		return "UNSPECIFIED"
	}
}

// Terminal reports whether a match on this action stops evaluation.
func (a Action) Terminal() bool {
	return a == ActionAllow || a == ActionBlock
}

// Override reports whether this action only records the match.
func (a Action) Override() bool {
	return a == ActionCount || a == ActionNone
}

// ParseAction converts a case-insensitive action name to an Action.
// Returns ActionUnspecified for unknown names.
func ParseAction(s string) Action {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ALLOW":
		return ActionAllow
	case "BLOCK":
		return ActionBlock
	case "COUNT":
		return ActionCount
	case "NONE":
		return ActionNone
	default:
		return ActionUnspecified
	}
}

// Rule binds a named, prioritized action to a statement.
// Lower priorities are evaluated first.
type Rule struct {
	Name      string
	Priority  int
	Action    Action
	Statement Statement
}

// Policy is an ordered rule set plus the action applied when no terminal
// rule matches. This is the declarative form; rules.Compile validates it,
// orders it by priority and freezes it for evaluation.
type Policy struct {
	Name          string
	DefaultAction Action
	Rules         []Rule
}
