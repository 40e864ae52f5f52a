package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "agentgate.v1.Gate"

// Method names, relative to ServiceName.
const (
	MethodDecide      = "Decide"
	MethodExecute     = "Execute"
	MethodIssueToken  = "IssueToken"
	MethodVerifyToken = "VerifyToken"
	MethodApprove     = "Approve"
	MethodDeny        = "Deny"
	MethodListPending = "ListPending"
)

// GateServer is the server API for the Gate service. Requests and
// responses are JSON-shaped google.protobuf.Struct messages.
type GateServer interface {
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IssueToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Approve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Deny(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPending(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterGateServer registers srv on s.
func RegisterGateServer(s grpc.ServiceRegistrar, srv GateServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary(method string, call func(GateServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(GateServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(GateServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the Gate service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GateServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodDecide, GateServer.Decide),
		unary(MethodExecute, GateServer.Execute),
		unary(MethodIssueToken, GateServer.IssueToken),
		unary(MethodVerifyToken, GateServer.VerifyToken),
		unary(MethodApprove, GateServer.Approve),
		unary(MethodDeny, GateServer.Deny),
		unary(MethodListPending, GateServer.ListPending),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agentgate/v1/gate.proto",
}

// Client calls the Gate service over a gRPC connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req and decodes the response into resp.
// req and resp are any JSON-marshalable values.
func (c *Client) Call(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	if req == nil {
		req = struct{}{}
	}
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return fromStruct(out, resp)
}
