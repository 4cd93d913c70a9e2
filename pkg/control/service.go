package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName = "hsu.extensions.ExtensionService"

	statusMethod = "/" + serviceName + "/Status"
	invokeMethod = "/" + serviceName + "/Invoke"

	fieldGroup = "group"
	fieldArgs  = "args"
)

// extensionServiceServer is implemented by grpcServerHandler. Messages are
// well-known protobuf types, so no generated code is needed.
type extensionServiceServer interface {
	Status(ctx context.Context, request *emptypb.Empty) (*wrapperspb.StringValue, error)
	Invoke(ctx context.Context, request *structpb.Struct) (*wrapperspb.StringValue, error)
}

var extensionServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*extensionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Status",
			Handler:    statusHandler,
		},
		{
			MethodName: "Invoke",
			Handler:    invokeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hsu/extensions/extension_service.proto",
}

func statusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(extensionServiceServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: statusMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(extensionServiceServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(extensionServiceServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: invokeMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(extensionServiceServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func newInvokeRequest(group string, args []string) (*structpb.Struct, error) {
	values := make([]interface{}, len(args))
	for i, arg := range args {
		values[i] = arg
	}
	return structpb.NewStruct(map[string]interface{}{
		fieldGroup: group,
		fieldArgs:  values,
	})
}

func parseInvokeRequest(request *structpb.Struct) (string, []string) {
	fields := request.GetFields()
	group := fields[fieldGroup].GetStringValue()

	var args []string
	for _, value := range fields[fieldArgs].GetListValue().GetValues() {
		args = append(args, value.GetStringValue())
	}
	return group, args
}
