package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "arbiter.v1.Arbiter"

// ArbiterServer is the server API for the arbiter.v1.Arbiter service.
// Messages are structpb.Struct, so no generated code is needed.
type ArbiterServer interface {
	// Arbitrate ingests a path and runs it to a verdict.
	Arbitrate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Submit ingests a path and queues it for arbitration.
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// GetCheckpoint returns the stored record of a document.
	GetCheckpoint(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterArbiterServer(s grpc.ServiceRegistrar, srv ArbiterServer) {
	s.RegisterService(&Arbiter_ServiceDesc, srv)
}

func unaryHandler(method string, call func(ArbiterServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ArbiterServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ArbiterServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Arbiter_ServiceDesc is the grpc.ServiceDesc for the arbiter.v1.Arbiter service.
var Arbiter_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ArbiterServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Arbitrate", ArbiterServer.Arbitrate),
		unaryHandler("Submit", ArbiterServer.Submit),
		unaryHandler("GetCheckpoint", ArbiterServer.GetCheckpoint),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "arbiter/v1/arbiter.proto",
}

// ArbiterClient is the client API for the arbiter.v1.Arbiter service.
type ArbiterClient struct {
	cc grpc.ClientConnInterface
}

func NewArbiterClient(cc grpc.ClientConnInterface) *ArbiterClient {
	return &ArbiterClient{cc: cc}
}

func (c *ArbiterClient) call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ArbiterClient) Arbitrate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "Arbitrate", in, opts...)
}

func (c *ArbiterClient) Submit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "Submit", in, opts...)
}

func (c *ArbiterClient) GetCheckpoint(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, "GetCheckpoint", in, opts...)
}
