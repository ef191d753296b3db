package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// DocsServer is the server API for the skiff.v1.Docs service.
type DocsServer interface {
	CreateDoc(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	ImportDoc(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	ListDocs(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	CreateAuthor(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	ListAuthors(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	SetBytes(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	GetLatest(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Entries(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	GetContent(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Share(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	NodeInfo(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Stats(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Subscribe(*wrapperspb.BytesValue, Docs_SubscribeServer) error
}

// UnimplementedDocsServer can be embedded for forward compatibility.
type UnimplementedDocsServer struct{}

func (UnimplementedDocsServer) CreateDoc(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateDoc not implemented")
}
func (UnimplementedDocsServer) ImportDoc(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method ImportDoc not implemented")
}
func (UnimplementedDocsServer) ListDocs(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method ListDocs not implemented")
}
func (UnimplementedDocsServer) CreateAuthor(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateAuthor not implemented")
}
func (UnimplementedDocsServer) ListAuthors(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method ListAuthors not implemented")
}
func (UnimplementedDocsServer) SetBytes(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method SetBytes not implemented")
}
func (UnimplementedDocsServer) GetLatest(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLatest not implemented")
}
func (UnimplementedDocsServer) Entries(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Entries not implemented")
}
func (UnimplementedDocsServer) GetContent(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetContent not implemented")
}
func (UnimplementedDocsServer) Share(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Share not implemented")
}
func (UnimplementedDocsServer) NodeInfo(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method NodeInfo not implemented")
}
func (UnimplementedDocsServer) Stats(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Stats not implemented")
}
func (UnimplementedDocsServer) Subscribe(*wrapperspb.BytesValue, Docs_SubscribeServer) error {
	return status.Error(codes.Unimplemented, "method Subscribe not implemented")
}

// RegisterDocsServer registers the Docs service on a gRPC server.
func RegisterDocsServer(s grpc.ServiceRegistrar, srv DocsServer) {
	s.RegisterService(&Docs_ServiceDesc, srv)
}

// DocsClient is the client API for the skiff.v1.Docs service.
type DocsClient interface {
	CreateDoc(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	ImportDoc(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	ListDocs(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	CreateAuthor(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	ListAuthors(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	SetBytes(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	GetLatest(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Entries(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	GetContent(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Share(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	NodeInfo(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Stats(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Subscribe(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (Docs_SubscribeClient, error)
}

type docsClient struct{ cc grpc.ClientConnInterface }

func NewDocsClient(cc grpc.ClientConnInterface) DocsClient { return &docsClient{cc: cc} }

func (c *docsClient) invoke(ctx context.Context, method string, in *wrapperspb.BytesValue, opts []grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *docsClient) CreateDoc(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return c.invoke(ctx, "/skiff.v1.Docs/CreateDoc", in, opts)
}

func (c *docsClient) ImportDoc(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return c.invoke(ctx, "/skiff.v1.Docs/ImportDoc", in, opts)
}

func (c *docsClient) ListDocs(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return c.invoke(ctx, "/skiff.v1.Docs/ListDocs", in, opts)
}

func (c *docsClient) CreateAuthor(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return c.invoke(ctx, "/skiff.v1.Docs/CreateAuthor", in, opts)
}

func (c *docsClient) ListAuthors(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return c.invoke(ctx, "/skiff.v1.Docs/ListAuthors", in, opts)
}

func (c *docsClient) SetBytes(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return c.invoke(ctx, "/skiff.v1.Docs/SetBytes", in, opts)
}

func (c *docsClient) GetLatest(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return c.invoke(ctx, "/skiff.v1.Docs/GetLatest", in, opts)
}

func (c *docsClient) Entries(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return c.invoke(ctx, "/skiff.v1.Docs/Entries", in, opts)
}

func (c *docsClient) GetContent(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return c.invoke(ctx, "/skiff.v1.Docs/GetContent", in, opts)
}

func (c *docsClient) Share(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return c.invoke(ctx, "/skiff.v1.Docs/Share", in, opts)
}

func (c *docsClient) NodeInfo(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return c.invoke(ctx, "/skiff.v1.Docs/NodeInfo", in, opts)
}

func (c *docsClient) Stats(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return c.invoke(ctx, "/skiff.v1.Docs/Stats", in, opts)
}

func (c *docsClient) Subscribe(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (Docs_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &Docs_ServiceDesc.Streams[0], "/skiff.v1.Docs/Subscribe", opts...)
	if err != nil {
		return nil, err
	}
	x := &docsSubscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Docs_SubscribeClient receives the event stream.
type Docs_SubscribeClient interface {
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type docsSubscribeClient struct{ grpc.ClientStream }

func (x *docsSubscribeClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Docs_SubscribeServer sends the event stream.
type Docs_SubscribeServer interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

type docsSubscribeServer struct{ grpc.ServerStream }

func (x *docsSubscribeServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

func unaryDocsHandler(method string, call func(DocsServer, context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DocsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/skiff.v1.Docs/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(DocsServer), ctx, req.(*wrapperspb.BytesValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func _Docs_Subscribe_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DocsServer).Subscribe(m, &docsSubscribeServer{stream})
}

// Docs_ServiceDesc is the grpc.ServiceDesc for the Docs service.
var Docs_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "skiff.v1.Docs",
	HandlerType: (*DocsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateDoc", Handler: unaryDocsHandler("CreateDoc", DocsServer.CreateDoc)},
		{MethodName: "ImportDoc", Handler: unaryDocsHandler("ImportDoc", DocsServer.ImportDoc)},
		{MethodName: "ListDocs", Handler: unaryDocsHandler("ListDocs", DocsServer.ListDocs)},
		{MethodName: "CreateAuthor", Handler: unaryDocsHandler("CreateAuthor", DocsServer.CreateAuthor)},
		{MethodName: "ListAuthors", Handler: unaryDocsHandler("ListAuthors", DocsServer.ListAuthors)},
		{MethodName: "SetBytes", Handler: unaryDocsHandler("SetBytes", DocsServer.SetBytes)},
		{MethodName: "GetLatest", Handler: unaryDocsHandler("GetLatest", DocsServer.GetLatest)},
		{MethodName: "Entries", Handler: unaryDocsHandler("Entries", DocsServer.Entries)},
		{MethodName: "GetContent", Handler: unaryDocsHandler("GetContent", DocsServer.GetContent)},
		{MethodName: "Share", Handler: unaryDocsHandler("Share", DocsServer.Share)},
		{MethodName: "NodeInfo", Handler: unaryDocsHandler("NodeInfo", DocsServer.NodeInfo)},
		{MethodName: "Stats", Handler: unaryDocsHandler("Stats", DocsServer.Stats)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: _Docs_Subscribe_Handler, ServerStreams: true},
	},
	Metadata: "docs.proto",
}
