package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/uploadwaf/internal/core/auth"
)

// Decide evaluates a single request description against the live policy.
func (s *DecisionService) Decide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	attrs, err := attributesFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	decision := s.holder.Load().Decide(attrs)

	if p, ok := auth.PrincipalFromContext(ctx); ok {
		s.logger.Debug().
			Str("caller", p.Name).
			Str("path", attrs.URIPath).
			Str("action", decision.Action.String()).
			Msg("decision served")
	}

	out, err := structpb.NewStruct(decisionValue(decision))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// DecideBatch evaluates {requests: [...]} in order against one snapshot so
// every decision in the response carries the same policy ID.
// Malformed entries fail the whole batch.
func (s *DecisionService) DecideBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	list := req.GetFields()["requests"].GetListValue()
	if list == nil {
		return nil, status.Error(codes.InvalidArgument, "requests must be a list")
	}
	entries := list.GetValues()
	if len(entries) > s.cfg.MaxBatchSize {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("batch size exceeds maximum of %d requests", s.cfg.MaxBatchSize))
	}

	snap := s.holder.Load()
	decisions := make([]interface{}, len(entries))
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, status.FromContextError(err).Err()
		}
		rs := entry.GetStructValue()
		if rs == nil {
			return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("requests[%d] must be an object", i))
		}
		attrs, err := attributesFromStruct(rs)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("requests[%d]: %v", i, err))
		}
		decisions[i] = decisionValue(snap.Decide(attrs))
	}

	out, err := structpb.NewStruct(map[string]interface{}{
		"policy_id": string(snap.Policy.ID),
		"decisions": decisions,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
