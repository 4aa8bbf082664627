package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/uploadwaf/internal/telemetry"
	"github.com/solatis/uploadwaf/internal/types"
)

const defaultSampleLimit = 100

// ListSamples returns recent sampled requests, newest first.
// Request fields policy_id, rule and limit are optional; limit is capped at
// the configured batch size.
func (s *DecisionService) ListSamples(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.samples == nil {
		return nil, status.Error(codes.Unavailable, "sampling disabled")
	}

	fields := req.GetFields()
	policyID, err := stringField(fields, "policy_id", false)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	rule, err := stringField(fields, "rule", false)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	limit, err := numberField(fields, "limit")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if limit == 0 {
		limit = defaultSampleLimit
	}
	if limit > s.cfg.MaxBatchSize {
		limit = s.cfg.MaxBatchSize
	}

	samples, err := s.samples.ListSamples(ctx, telemetry.SampleFilter{
		PolicyID: types.PolicyID(policyID),
		Rule:     rule,
		Limit:    limit,
	})
	if err != nil {
		return nil, status.Error(codes.Unavailable, fmt.Sprintf("failed to query samples: %v", err))
	}

	values := make([]interface{}, len(samples))
	for i, sample := range samples {
		values[i] = sampleValue(sample)
	}
	out, err := structpb.NewStruct(map[string]interface{}{"samples": values})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
