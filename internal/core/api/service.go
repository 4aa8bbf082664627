// Package api provides the gRPC decision service for uploadwaf.
//
// Messages are google.protobuf.Struct values so remote callers need no
// generated stubs; desc.go carries the hand-written service descriptor.
package api

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/solatis/uploadwaf/internal/core/config"
	"github.com/solatis/uploadwaf/internal/core/reload"
	"github.com/solatis/uploadwaf/internal/telemetry"
	"github.com/solatis/uploadwaf/internal/types"
)

// SampleLister reads stored samples. Implemented by telemetry.MemoryStore
// and db.SampleRepository.
type SampleLister interface {
	ListSamples(ctx context.Context, f telemetry.SampleFilter) ([]types.SampledRequest, error)
}

// DecisionService implements DecisionServer.
// Thin orchestration layer over the live policy snapshot and sample store.
type DecisionService struct {
	holder  *reload.Holder
	samples SampleLister
	cfg     config.DecisionAPIConfig
	logger  zerolog.Logger
}

// NewDecisionService creates service instance with dependencies.
// samples may be nil, in which case ListSamples reports UNAVAILABLE.
func NewDecisionService(holder *reload.Holder, samples SampleLister, cfg config.DecisionAPIConfig, logger zerolog.Logger) (*DecisionService, error) {
	if holder == nil {
		return nil, fmt.Errorf("holder cannot be nil")
	}
	if holder.Load() == nil {
		return nil, fmt.Errorf("holder has no policy loaded")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max batch size must be positive, got %d", cfg.MaxBatchSize)
	}

	return &DecisionService{
		holder:  holder,
		samples: samples,
		cfg:     cfg,
		logger:  logger.With().Str("component", "decision-api").Logger(),
	}, nil
}
