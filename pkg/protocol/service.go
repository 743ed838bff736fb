package protocol

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	DatacenterServiceName = "mediagate.protocol.Datacenter"

	Datacenter_Authorize_FullMethodName           = "/" + DatacenterServiceName + "/Authorize"
	Datacenter_ImportAuthorization_FullMethodName = "/" + DatacenterServiceName + "/ImportAuthorization"
	Datacenter_ExportAuthorization_FullMethodName = "/" + DatacenterServiceName + "/ExportAuthorization"
	Datacenter_GetMessage_FullMethodName          = "/" + DatacenterServiceName + "/GetMessage"
	Datacenter_GetFile_FullMethodName             = "/" + DatacenterServiceName + "/GetFile"
)

// DatacenterClient is the client API of one remote datacenter
type DatacenterClient interface {
	// Authorize opens a session with the gateway's own API token
	Authorize(ctx context.Context, in *AuthorizeRequest, opts ...grpc.CallOption) (*AuthorizeResponse, error)
	// ImportAuthorization opens a session from a credential exported elsewhere
	ImportAuthorization(ctx context.Context, in *ImportAuthorizationRequest, opts ...grpc.CallOption) (*AuthorizeResponse, error)
	// ExportAuthorization issues a credential valid on another datacenter
	ExportAuthorization(ctx context.Context, in *ExportAuthorizationRequest, opts ...grpc.CallOption) (*ExportAuthorizationResponse, error)
	GetMessage(ctx context.Context, in *GetMessageRequest, opts ...grpc.CallOption) (*GetMessageResponse, error)
	GetFile(ctx context.Context, in *GetFileRequest, opts ...grpc.CallOption) (*GetFileResponse, error)
}

type datacenterClient struct {
	cc grpc.ClientConnInterface
}

func NewDatacenterClient(cc grpc.ClientConnInterface) DatacenterClient {
	return &datacenterClient{cc}
}

func (c *datacenterClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *datacenterClient) Authorize(ctx context.Context, in *AuthorizeRequest, opts ...grpc.CallOption) (*AuthorizeResponse, error) {
	out := new(AuthorizeResponse)
	if err := c.invoke(ctx, Datacenter_Authorize_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *datacenterClient) ImportAuthorization(ctx context.Context, in *ImportAuthorizationRequest, opts ...grpc.CallOption) (*AuthorizeResponse, error) {
	out := new(AuthorizeResponse)
	if err := c.invoke(ctx, Datacenter_ImportAuthorization_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *datacenterClient) ExportAuthorization(ctx context.Context, in *ExportAuthorizationRequest, opts ...grpc.CallOption) (*ExportAuthorizationResponse, error) {
	out := new(ExportAuthorizationResponse)
	if err := c.invoke(ctx, Datacenter_ExportAuthorization_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *datacenterClient) GetMessage(ctx context.Context, in *GetMessageRequest, opts ...grpc.CallOption) (*GetMessageResponse, error) {
	out := new(GetMessageResponse)
	if err := c.invoke(ctx, Datacenter_GetMessage_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *datacenterClient) GetFile(ctx context.Context, in *GetFileRequest, opts ...grpc.CallOption) (*GetFileResponse, error) {
	out := new(GetFileResponse)
	if err := c.invoke(ctx, Datacenter_GetFile_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// DatacenterServer is the server API of one datacenter
type DatacenterServer interface {
	Authorize(context.Context, *AuthorizeRequest) (*AuthorizeResponse, error)
	ImportAuthorization(context.Context, *ImportAuthorizationRequest) (*AuthorizeResponse, error)
	ExportAuthorization(context.Context, *ExportAuthorizationRequest) (*ExportAuthorizationResponse, error)
	GetMessage(context.Context, *GetMessageRequest) (*GetMessageResponse, error)
	GetFile(context.Context, *GetFileRequest) (*GetFileResponse, error)
}

// UnimplementedDatacenterServer can be embedded to have forward compatible implementations
type UnimplementedDatacenterServer struct{}

func (UnimplementedDatacenterServer) Authorize(context.Context, *AuthorizeRequest) (*AuthorizeResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Authorize not implemented")
}
func (UnimplementedDatacenterServer) ImportAuthorization(context.Context, *ImportAuthorizationRequest) (*AuthorizeResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ImportAuthorization not implemented")
}
func (UnimplementedDatacenterServer) ExportAuthorization(context.Context, *ExportAuthorizationRequest) (*ExportAuthorizationResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ExportAuthorization not implemented")
}
func (UnimplementedDatacenterServer) GetMessage(context.Context, *GetMessageRequest) (*GetMessageResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetMessage not implemented")
}
func (UnimplementedDatacenterServer) GetFile(context.Context, *GetFileRequest) (*GetFileResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetFile not implemented")
}

func RegisterDatacenterServer(s grpc.ServiceRegistrar, srv DatacenterServer) {
	s.RegisterService(&Datacenter_ServiceDesc, srv)
}

func _Datacenter_Authorize_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AuthorizeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DatacenterServer).Authorize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Datacenter_Authorize_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DatacenterServer).Authorize(ctx, req.(*AuthorizeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Datacenter_ImportAuthorization_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ImportAuthorizationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DatacenterServer).ImportAuthorization(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Datacenter_ImportAuthorization_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DatacenterServer).ImportAuthorization(ctx, req.(*ImportAuthorizationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Datacenter_ExportAuthorization_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExportAuthorizationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DatacenterServer).ExportAuthorization(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Datacenter_ExportAuthorization_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DatacenterServer).ExportAuthorization(ctx, req.(*ExportAuthorizationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Datacenter_GetMessage_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetMessageRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DatacenterServer).GetMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Datacenter_GetMessage_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DatacenterServer).GetMessage(ctx, req.(*GetMessageRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Datacenter_GetFile_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetFileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DatacenterServer).GetFile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Datacenter_GetFile_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DatacenterServer).GetFile(ctx, req.(*GetFileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Datacenter_ServiceDesc is the grpc.ServiceDesc for the Datacenter service
var Datacenter_ServiceDesc = grpc.ServiceDesc{
	ServiceName: DatacenterServiceName,
	HandlerType: (*DatacenterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authorize", Handler: _Datacenter_Authorize_Handler},
		{MethodName: "ImportAuthorization", Handler: _Datacenter_ImportAuthorization_Handler},
		{MethodName: "ExportAuthorization", Handler: _Datacenter_ExportAuthorization_Handler},
		{MethodName: "GetMessage", Handler: _Datacenter_GetMessage_Handler},
		{MethodName: "GetFile", Handler: _Datacenter_GetFile_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mediagate/datacenter",
}
