// Package grpc provides the gRPC API of the dissolve service.
//
// Messages are google.protobuf.Struct values with the same shape as the
// HTTP request and response bodies, so no generated code is needed.
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "dissolve.v1.DissolveService"
	// DissolveMethod is the full method name of the Dissolve RPC.
	DissolveMethod = "/" + ServiceName + "/Dissolve"
)

// DissolveServer is the server API for DissolveService.
type DissolveServer interface {
	Dissolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes DissolveService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DissolveServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Dissolve",
			Handler:    dissolveHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dissolve/v1/dissolve.proto",
}

// RegisterDissolveServer registers srv with s.
func RegisterDissolveServer(s grpc.ServiceRegistrar, srv DissolveServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func dissolveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DissolveServer).Dissolve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DissolveMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DissolveServer).Dissolve(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls DissolveService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client on cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dissolve calls the Dissolve RPC.
func (c *Client) Dissolve(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DissolveMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
