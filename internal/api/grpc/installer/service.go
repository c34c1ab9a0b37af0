package installer

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "bootinstaller.v1.InstallerService"
	// ExecuteMethod is the full method name of Execute.
	ExecuteMethod = "/" + ServiceName + "/Execute"
	// StatusMethod is the full method name of Status.
	StatusMethod = "/" + ServiceName + "/Status"
)

// InstallerServer is the server API of the installer service.
//
//nolint:revive // Mirrors the name protoc-gen-go-grpc would generate.
type InstallerServer interface {
	Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Status(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the installer service for grpc.Server.RegisterService.
//
//nolint:gochecknoglobals // Registered once per server, like generated descriptors.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InstallerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Execute",
			Handler:    executeHandler,
		},
		{
			MethodName: "Status",
			Handler:    statusHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bootinstaller/v1/installer.proto",
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv InstallerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

//nolint:revive // Signature is fixed by grpc.MethodHandler.
func executeHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(InstallerServer).Execute(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ExecuteMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InstallerServer).Execute(ctx, req.(*structpb.Struct))
	}

	return interceptor(ctx, in, info, handler)
}

//nolint:revive // Signature is fixed by grpc.MethodHandler.
func statusHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(InstallerServer).Status(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: StatusMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InstallerServer).Status(ctx, req.(*structpb.Struct))
	}

	return interceptor(ctx, in, info, handler)
}
