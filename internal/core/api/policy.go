package api

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/uploadwaf/internal/policy"
)

// GetPolicy returns the live policy as a document.
// The policy ID doubles as an ETAG: a request whose if_none_match equals the
// live ID gets {not_modified: true} without the document.
func (s *DecisionService) GetPolicy(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ifNoneMatch, err := stringField(req.GetFields(), "if_none_match", false)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	snap := s.holder.Load()
	policyID := string(snap.Policy.ID)
	if ifNoneMatch != "" && ifNoneMatch == policyID {
		return structpb.NewStruct(map[string]interface{}{
			"policy_id":    policyID,
			"not_modified": true,
		})
	}

	data, err := json.Marshal(policy.NewDocument(snap.Policy.Definition()))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	document := &structpb.Struct{}
	if err := protojson.Unmarshal(data, document); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"policy_id": structpb.NewStringValue(policyID),
		"loaded_at": structpb.NewStringValue(snap.LoadedAt.Format(time.RFC3339Nano)),
		"document":  structpb.NewStructValue(document),
	}}, nil
}
