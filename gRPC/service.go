package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName       = "visioncount.CountService"
	countFullMethod   = "/" + ServiceName + "/Count"
	labelsFullMethod  = "/" + ServiceName + "/Labels"
	engineFullMethod  = "/" + ServiceName + "/Engine"
	serviceDescSource = "visioncount/count.proto"
)

// CountServiceServer is implemented by Server. The messages are protobuf
// well-known types so no generated code is needed on either side.
type CountServiceServer interface {
	Count(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	Labels(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Engine(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func RegisterCountServiceServer(s grpc.ServiceRegistrar, srv CountServiceServer) {
	s.RegisterService(&CountService_ServiceDesc, srv)
}

func _CountService_Count_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CountServiceServer).Count(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: countFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CountServiceServer).Count(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _CountService_Labels_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CountServiceServer).Labels(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: labelsFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CountServiceServer).Labels(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _CountService_Engine_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CountServiceServer).Engine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: engineFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CountServiceServer).Engine(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var CountService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CountServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Count", Handler: _CountService_Count_Handler},
		{MethodName: "Labels", Handler: _CountService_Labels_Handler},
		{MethodName: "Engine", Handler: _CountService_Engine_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: serviceDescSource,
}

type CountServiceClient interface {
	Count(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	Labels(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	Engine(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type countServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCountServiceClient(cc grpc.ClientConnInterface) CountServiceClient {
	return &countServiceClient{cc}
}

func (c *countServiceClient) Count(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, countFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *countServiceClient) Labels(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, labelsFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *countServiceClient) Engine(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, engineFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
