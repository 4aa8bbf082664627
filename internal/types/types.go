// Package types provides the domain model shared across uploadwaf components.
//
// Statements, rules and policies are plain declarative values here. Validation
// and evaluation live in internal/rules; synthesis from intent lives in
// internal/policy. Keeping the model free of behavior lets the decision API,
// the policy document decoder and the WAFv2 exporter share one vocabulary
// without importing the evaluator.
package types

// PolicyID identifies one compiled policy version (UUIDv7).
// A new ID is minted on every compilation; policies are never edited in place.
type PolicyID string

// SampleID identifies one sampled request record (UUIDv7).
type SampleID string

// DefaultRuleName is the telemetry label used when no terminal rule matched
// and the policy's default action was applied.
const DefaultRuleName = "DEFAULT"

// Structural limits enforced at compile time so evaluation cost is bounded
// by policy size, never by request content.
const (
	// MaxStatementDepth bounds recursion through nested And/Or/Not/scope-down.
	MaxStatementDepth = 32

	// MaxOperands bounds the fan-out of a single And/Or statement.
	MaxOperands = 256

	// MaxRules bounds the number of rules in one policy.
	MaxRules = 1024

	// MaxSearchStringLength bounds a single ByteMatch search string.
	// Matches the limit enforced by hosted WAF byte-match statements.
	MaxSearchStringLength = 200
)
