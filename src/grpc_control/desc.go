package grpc_control

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "control.Control"

// ControlServer is the server API of control.Control.
type ControlServer interface {
	ListProviders(context.Context, *Empty) (*ListProvidersResponse, error)
	ListCommands(context.Context, *Empty) (*ListCommandsResponse, error)
	Execute(context.Context, *ExecuteRequest) (*ExecuteResponse, error)
	ListFeeds(context.Context, *Empty) (*ListFeedsResponse, error)
	Subscribe(context.Context, *FeedRequest) (*FeedResponse, error)
	Unsubscribe(context.Context, *FeedRequest) (*FeedResponse, error)
}

// ServiceDesc describes control.Control for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListProviders", ControlServer.ListProviders),
		unary("ListCommands", ControlServer.ListCommands),
		unary("Execute", ControlServer.Execute),
		unary("ListFeeds", ControlServer.ListFeeds),
		unary("Subscribe", ControlServer.Subscribe),
		unary("Unsubscribe", ControlServer.Unsubscribe),
	},
	Streams: []grpc.StreamDesc{},
}

// Register mounts srv on s.
func Register(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// -----------------------------------------------------------------------------

func unary[Req, Resp any](method string, call func(ControlServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServer), ctx, req.(*Req))
			})
		},
	}
}

// -----------------------------------------------------------------------------

// ControlClient calls control.Control with the JSON codec.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) ListProviders(ctx context.Context, opts ...grpc.CallOption) (*ListProvidersResponse, error) {
	return invoke[ListProvidersResponse](ctx, c.cc, "ListProviders", &Empty{}, opts)
}

func (c *ControlClient) ListCommands(ctx context.Context, opts ...grpc.CallOption) (*ListCommandsResponse, error) {
	return invoke[ListCommandsResponse](ctx, c.cc, "ListCommands", &Empty{}, opts)
}

func (c *ControlClient) Execute(ctx context.Context, in *ExecuteRequest, opts ...grpc.CallOption) (*ExecuteResponse, error) {
	return invoke[ExecuteResponse](ctx, c.cc, "Execute", in, opts)
}

func (c *ControlClient) ListFeeds(ctx context.Context, opts ...grpc.CallOption) (*ListFeedsResponse, error) {
	return invoke[ListFeedsResponse](ctx, c.cc, "ListFeeds", &Empty{}, opts)
}

func (c *ControlClient) Subscribe(ctx context.Context, in *FeedRequest, opts ...grpc.CallOption) (*FeedResponse, error) {
	return invoke[FeedResponse](ctx, c.cc, "Subscribe", in, opts)
}

func (c *ControlClient) Unsubscribe(ctx context.Context, in *FeedRequest, opts ...grpc.CallOption) (*FeedResponse, error) {
	return invoke[FeedResponse](ctx, c.cc, "Unsubscribe", in, opts)
}
