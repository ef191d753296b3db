package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// SyncServer is the server API for the skiff.v1.Sync service.
type SyncServer interface {
	Ping(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	FetchBlob(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	HasBlob(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	SyncEntries(*wrapperspb.BytesValue, Sync_SyncEntriesServer) error
}

// UnimplementedSyncServer can be embedded for forward compatibility.
type UnimplementedSyncServer struct{}

func (UnimplementedSyncServer) Ping(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Ping not implemented")
}
func (UnimplementedSyncServer) FetchBlob(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method FetchBlob not implemented")
}
func (UnimplementedSyncServer) HasBlob(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method HasBlob not implemented")
}
func (UnimplementedSyncServer) SyncEntries(*wrapperspb.BytesValue, Sync_SyncEntriesServer) error {
	return status.Error(codes.Unimplemented, "method SyncEntries not implemented")
}

// RegisterSyncServer registers the Sync service on a gRPC server.
func RegisterSyncServer(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&Sync_ServiceDesc, srv)
}

// SyncClient is the client API for the skiff.v1.Sync service.
type SyncClient interface {
	Ping(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	FetchBlob(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	HasBlob(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	SyncEntries(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (Sync_SyncEntriesClient, error)
}

type syncClient struct{ cc grpc.ClientConnInterface }

func NewSyncClient(cc grpc.ClientConnInterface) SyncClient { return &syncClient{cc: cc} }

func (c *syncClient) Ping(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/skiff.v1.Sync/Ping", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncClient) FetchBlob(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/skiff.v1.Sync/FetchBlob", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncClient) HasBlob(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/skiff.v1.Sync/HasBlob", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncClient) SyncEntries(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (Sync_SyncEntriesClient, error) {
	stream, err := c.cc.NewStream(ctx, &Sync_ServiceDesc.Streams[0], "/skiff.v1.Sync/SyncEntries", opts...)
	if err != nil {
		return nil, err
	}
	x := &syncEntriesClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Sync_SyncEntriesClient receives the row stream.
type Sync_SyncEntriesClient interface {
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type syncEntriesClient struct{ grpc.ClientStream }

func (x *syncEntriesClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Sync_SyncEntriesServer sends the row stream.
type Sync_SyncEntriesServer interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

type syncEntriesServer struct{ grpc.ServerStream }

func (x *syncEntriesServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

func _Sync_Ping_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/skiff.v1.Sync/Ping"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SyncServer).Ping(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Sync_FetchBlob_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).FetchBlob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/skiff.v1.Sync/FetchBlob"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SyncServer).FetchBlob(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Sync_HasBlob_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).HasBlob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/skiff.v1.Sync/HasBlob"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SyncServer).HasBlob(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Sync_SyncEntries_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SyncServer).SyncEntries(m, &syncEntriesServer{stream})
}

// Sync_ServiceDesc is the grpc.ServiceDesc for the Sync service.
var Sync_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "skiff.v1.Sync",
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: _Sync_Ping_Handler},
		{MethodName: "FetchBlob", Handler: _Sync_FetchBlob_Handler},
		{MethodName: "HasBlob", Handler: _Sync_HasBlob_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "SyncEntries", Handler: _Sync_SyncEntries_Handler, ServerStreams: true},
	},
	Metadata: "sync.proto",
}
