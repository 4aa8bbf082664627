// Package reload keeps the live policy and swaps it when its sources change.
package reload

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/solatis/uploadwaf/internal/core/config"
	"github.com/solatis/uploadwaf/internal/oracle"
	"github.com/solatis/uploadwaf/internal/policy"
	"github.com/solatis/uploadwaf/internal/rules"
	"github.com/solatis/uploadwaf/internal/types"
)

// Snapshot is one compiled policy together with the engine that evaluates it.
// Snapshots are never modified after Build returns.
type Snapshot struct {
	Policy     *rules.CompiledPolicy
	Engine     *rules.Engine
	Signatures *oracle.SignatureSet
	LoadedAt   time.Time
}

// Decide evaluates attrs against the snapshot's policy.
func (s *Snapshot) Decide(attrs types.RequestAttributes) types.Decision {
	return s.Engine.Decide(s.Policy, attrs)
}

// Holder publishes the current Snapshot to concurrent readers.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder returns a holder serving s.
func NewHolder(s *Snapshot) *Holder {
	h := &Holder{}
	h.current.Store(s)
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Swap installs s and returns the snapshot it replaced.
func (h *Holder) Swap(s *Snapshot) *Snapshot {
	return h.current.Swap(s)
}

// Builder turns policy configuration into snapshots. Telemetry sinks are
// shared by every snapshot it builds.
type Builder struct {
	Recorder rules.Recorder
	Sampler  rules.Sampler
	Logger   zerolog.Logger
}

// Build compiles cfg. A policy document, when configured, takes precedence
// over the allowed-path intent.
func (b *Builder) Build(cfg config.PolicyConfig) (*Snapshot, error) {
	def, err := Definition(cfg)
	if err != nil {
		return nil, err
	}

	compiled, err := rules.Compile(def)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy: %w", err)
	}

	opts := []rules.Option{
		rules.WithRecorder(b.Recorder),
		rules.WithSampler(b.Sampler),
		rules.WithLogger(b.Logger),
	}

	var sigs *oracle.SignatureSet
	if cfg.Signatures != "" {
		sigs, err = oracle.Load(cfg.Signatures, b.Logger)
		if err != nil {
			return nil, err
		}
		for _, group := range sigs.Missing(*def) {
			b.Logger.Warn().Str("group", group).Msg("managed group has no signatures and will never match")
		}
		opts = append(opts, rules.WithOracle(sigs))
	}

	b.Logger.Info().
		Str("policy_id", string(compiled.ID)).
		Str("policy", compiled.Name).
		Int("rules", len(compiled.Rules())).
		Msg("policy compiled")

	return &Snapshot{
		Policy:     compiled,
		Engine:     rules.NewEngine(opts...),
		Signatures: sigs,
		LoadedAt:   time.Now().UTC(),
	}, nil
}

// Definition produces the declarative policy cfg describes: the document
// when one is configured, else the upload intent.
func Definition(cfg config.PolicyConfig) (*types.Policy, error) {
	if cfg.Document != "" {
		doc, err := policy.LoadDocument(cfg.Document)
		if err != nil {
			return nil, err
		}
		def, err := doc.Policy()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Document, err)
		}
		if def.Name == "" {
			def.Name = cfg.Name
		}
		return def, nil
	}

	return policy.CompileIntent(policy.Intent{
		Name:          cfg.Name,
		AllowedPaths:  cfg.AllowedPaths,
		ManagedGroups: cfg.ManagedGroups,
	})
}

// Rebuild returns a Func that reads policy configuration with load, builds a
// snapshot and installs it in h. A failed build leaves h untouched.
func Rebuild(h *Holder, b *Builder, load func() (config.PolicyConfig, error)) Func {
	return func(context.Context) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		next, err := b.Build(cfg)
		if err != nil {
			return err
		}
		prev := h.Swap(next)
		if prev != nil {
			b.Logger.Info().
				Str("previous_policy_id", string(prev.Policy.ID)).
				Str("policy_id", string(next.Policy.ID)).
				Msg("policy swapped")
		}
		return nil
	}
}
