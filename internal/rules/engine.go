// internal/rules/engine.go
package rules

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/uploadwaf/internal/types"
)

/*
 * Policy decision engine.
 *
 * Decide iterates a CompiledPolicy in ascending priority order:
 *   - statement false: record no-match, continue
 *   - statement true, terminal action (Allow/Block): record, sample, return
 *   - statement true, override action (Count/None): record, sample, remember
 *     the rule name, continue as if the rule did not exist
 *   - no terminal match: default action, recorded under DefaultRuleName
 *
 * The engine holds no per-request state; a single Engine may serve any
 * number of goroutines. Recorder and sampler failures (errors or panics) are
 * logged and swallowed so telemetry can never change or fail a decision.
 */

// Engine evaluates compiled policies with injected collaborators.
type Engine struct {
	oracle   Oracle
	recorder Recorder
	sampler  Sampler
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithOracle sets the managed-group detector. Defaults to one that never matches.
func WithOracle(o Oracle) Option {
	return func(e *Engine) {
		if o != nil {
			e.oracle = o
		}
	}
}

// WithRecorder sets the per-rule match recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithSampler sets the sampled-request sink.
func WithSampler(s Sampler) Option {
	return func(e *Engine) {
		if s != nil {
			e.sampler = s
		}
	}
}

// WithLogger sets the logger used for abstentions and telemetry failures.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a rules engine. Collaborators default to no-ops.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		oracle:   abstainOracle{},
		recorder: nopRecorder{},
		sampler:  nopSampler{},
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide produces the decision for attrs under policy.
func (e *Engine) Decide(policy *CompiledPolicy, attrs types.RequestAttributes) types.Decision {
	decision := types.Decision{PolicyID: policy.ID}

	for i := range policy.rules {
		rule := &policy.rules[i]
		matched := e.eval(rule.stmt.root, attrs)
		e.record(rule.Name, matched)
		if !matched {
			continue
		}

		e.sample(policy.ID, rule.Name, rule.Action, attrs)

		if rule.Action.Terminal() {
			decision.Action = rule.Action
			decision.MatchedRule = rule.Name
			return decision
		}
		decision.Overrides = append(decision.Overrides, rule.Name)
	}

	decision.Action = policy.DefaultAction
	e.record(types.DefaultRuleName, true)
	e.sample(policy.ID, types.DefaultRuleName, policy.DefaultAction, attrs)
	return decision
}

func (e *Engine) record(rule string, matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("rule", rule).Err(fmt.Errorf("recorder panic: %v", r)).Msg("telemetry dropped")
		}
	}()
	e.recorder.Record(rule, matched)
}

func (e *Engine) sample(policyID types.PolicyID, rule string, action types.Action, attrs types.RequestAttributes) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("rule", rule).Err(fmt.Errorf("sampler panic: %v", r)).Msg("sample dropped")
		}
	}()
	err := e.sampler.Sample(types.SampledRequest{
		PolicyID:   policyID,
		Rule:       rule,
		Action:     action,
		Method:     attrs.Method,
		URIPath:    attrs.URIPath,
		RecordedAt: e.now().UTC(),
	})
	if err != nil {
		e.logger.Warn().Str("rule", rule).Err(err).Msg("sample dropped")
	}
}
