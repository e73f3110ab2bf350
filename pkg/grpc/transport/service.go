package transport

import (
	"context"

	"google.golang.org/grpc"
)

// ControlRequest is the wire shape of one control call. Type selects the
// operation and Payload carries its JSON-encoded arguments.
type ControlRequest struct {
	Type    string `json:"type"`
	Payload []byte `json:"payload,omitempty"`
}

// ControlResponse is the wire shape of one control reply. Error is empty
// on success.
type ControlResponse struct {
	Type    string `json:"type"`
	Payload []byte `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	serviceName      = "tartfs.ControlService"
	invokeMethodName = "/tartfs.ControlService/Invoke"
)

// ControlServiceServer is the server-side contract of the control
// service. The gRPC server dispatches every unary Invoke call to it.
type ControlServiceServer interface {
	Invoke(ctx context.Context, req *ControlRequest) (*ControlResponse, error)
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ControlRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServiceServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: invokeMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServiceServer).Invoke(ctx, req.(*ControlRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// controlServiceDesc describes the service by hand. The schema is a
// single unary method carried over the JSON codec, so there is no
// generated code to lean on.
var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ControlServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler:    invokeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tartfs/control",
}

// RegisterControlServiceServer registers a control service implementation
// with a gRPC server.
func RegisterControlServiceServer(s *grpc.Server, srv ControlServiceServer) {
	s.RegisterService(&controlServiceDesc, srv)
}
