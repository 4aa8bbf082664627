package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "uploadwaf.v1.DecisionService"

const (
	methodDecide      = "/" + ServiceName + "/Decide"
	methodDecideBatch = "/" + ServiceName + "/DecideBatch"
	methodGetPolicy   = "/" + ServiceName + "/GetPolicy"
	methodListSamples = "/" + ServiceName + "/ListSamples"
)

// DecisionServer is the server API for the decision service.
type DecisionServer interface {
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DecideBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPolicy(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSamples(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterDecisionServer registers srv with s.
func RegisterDecisionServer(s grpc.ServiceRegistrar, srv DecisionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryMethod func(DecisionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DecisionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(DecisionServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the decision service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DecisionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: unaryHandler(methodDecide, DecisionServer.Decide)},
		{MethodName: "DecideBatch", Handler: unaryHandler(methodDecideBatch, DecisionServer.DecideBatch)},
		{MethodName: "GetPolicy", Handler: unaryHandler(methodGetPolicy, DecisionServer.GetPolicy)},
		{MethodName: "ListSamples", Handler: unaryHandler(methodListSamples, DecisionServer.ListSamples)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "uploadwaf/v1/decision.proto",
}

// DecisionClient calls a remote decision service.
type DecisionClient struct {
	cc grpc.ClientConnInterface
}

// NewDecisionClient wraps cc.
func NewDecisionClient(cc grpc.ClientConnInterface) *DecisionClient {
	return &DecisionClient{cc: cc}
}

func (c *DecisionClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Decide evaluates one request remotely.
func (c *DecisionClient) Decide(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodDecide, in, opts...)
}

// DecideBatch evaluates several requests remotely.
func (c *DecisionClient) DecideBatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodDecideBatch, in, opts...)
}

// GetPolicy fetches the live policy document.
func (c *DecisionClient) GetPolicy(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetPolicy, in, opts...)
}

// ListSamples fetches recent sampled requests.
func (c *DecisionClient) ListSamples(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodListSamples, in, opts...)
}
