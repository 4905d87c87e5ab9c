package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Messages are google.protobuf.Struct on the wire, so clients in any
// language can call the service without generated stubs.
const (
	ServiceName = "hazardalerts.v1.HazardService"

	FindNearbyMethod    = "/" + ServiceName + "/FindNearby"
	FilterHazardsMethod = "/" + ServiceName + "/FilterHazards"
	StreamAlertsMethod  = "/" + ServiceName + "/StreamAlerts"
)

// HazardServiceServer is the server API for the hazard service.
type HazardServiceServer interface {
	FindNearby(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FilterHazards(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamAlerts(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

var HazardServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HazardServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "FindNearby",
			Handler:    findNearbyHandler,
		},
		{
			MethodName: "FilterHazards",
			Handler:    filterHazardsHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamAlerts",
			Handler:       streamAlertsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "hazardalerts/v1/hazard.proto",
}

func findNearbyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HazardServiceServer).FindNearby(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: FindNearbyMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HazardServiceServer).FindNearby(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func filterHazardsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HazardServiceServer).FilterHazards(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: FilterHazardsMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HazardServiceServer).FilterHazards(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamAlertsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(HazardServiceServer).StreamAlerts(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// HazardServiceClient is the client API for the hazard service.
type HazardServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewHazardServiceClient(cc grpc.ClientConnInterface) *HazardServiceClient {
	return &HazardServiceClient{cc: cc}
}

func (c *HazardServiceClient) FindNearby(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FindNearbyMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HazardServiceClient) FilterHazards(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FilterHazardsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HazardServiceClient) StreamAlerts(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &HazardServiceDesc.Streams[0], StreamAlertsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
