package tracegatev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tracegate.v1.Routing"

const (
	Routing_Login_FullMethodName             = "/tracegate.v1.Routing/Login"
	Routing_Logout_FullMethodName            = "/tracegate.v1.Routing/Logout"
	Routing_Heartbeat_FullMethodName         = "/tracegate.v1.Routing/Heartbeat"
	Routing_SubmitResult_FullMethodName      = "/tracegate.v1.Routing/SubmitResult"
	Routing_QueryHistory_FullMethodName      = "/tracegate.v1.Routing/QueryHistory"
	Routing_RequestOverride_FullMethodName   = "/tracegate.v1.Routing/RequestOverride"
	Routing_Scrap_FullMethodName             = "/tracegate.v1.Routing/Scrap"
	Routing_CheckGoldenSample_FullMethodName = "/tracegate.v1.Routing/CheckGoldenSample"
	Routing_AddGoldenSample_FullMethodName   = "/tracegate.v1.Routing/AddGoldenSample"
	Routing_Hold_FullMethodName              = "/tracegate.v1.Routing/Hold"
	Routing_Release_FullMethodName           = "/tracegate.v1.Routing/Release"
	Routing_Health_FullMethodName            = "/tracegate.v1.Routing/Health"
)

// RoutingServer is the server API for the Routing service.
type RoutingServer interface {
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	SubmitResult(context.Context, *SubmitResultRequest) (*DecisionResponse, error)
	QueryHistory(context.Context, *QueryHistoryRequest) (*QueryHistoryResponse, error)
	RequestOverride(context.Context, *RequestOverrideRequest) (*DecisionResponse, error)
	Scrap(context.Context, *ScrapRequest) (*DecisionResponse, error)
	CheckGoldenSample(context.Context, *GoldenSampleRequest) (*GoldenSampleResponse, error)
	AddGoldenSample(context.Context, *GoldenSampleRequest) (*GoldenSampleResponse, error)
	Hold(context.Context, *HoldRequest) (*HoldResponse, error)
	Release(context.Context, *HoldRequest) (*HoldResponse, error)
	Health(context.Context, *HealthRequest) (*HealthResponse, error)
}

// UnimplementedRoutingServer answers every method with codes.Unimplemented.
// Embed it to stay forward compatible.
type UnimplementedRoutingServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedRoutingServer) Login(context.Context, *LoginRequest) (*LoginResponse, error) {
	return nil, unimplemented("Login")
}
func (UnimplementedRoutingServer) Logout(context.Context, *LogoutRequest) (*LogoutResponse, error) {
	return nil, unimplemented("Logout")
}
func (UnimplementedRoutingServer) Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error) {
	return nil, unimplemented("Heartbeat")
}
func (UnimplementedRoutingServer) SubmitResult(context.Context, *SubmitResultRequest) (*DecisionResponse, error) {
	return nil, unimplemented("SubmitResult")
}
func (UnimplementedRoutingServer) QueryHistory(context.Context, *QueryHistoryRequest) (*QueryHistoryResponse, error) {
	return nil, unimplemented("QueryHistory")
}
func (UnimplementedRoutingServer) RequestOverride(context.Context, *RequestOverrideRequest) (*DecisionResponse, error) {
	return nil, unimplemented("RequestOverride")
}
func (UnimplementedRoutingServer) Scrap(context.Context, *ScrapRequest) (*DecisionResponse, error) {
	return nil, unimplemented("Scrap")
}
func (UnimplementedRoutingServer) CheckGoldenSample(context.Context, *GoldenSampleRequest) (*GoldenSampleResponse, error) {
	return nil, unimplemented("CheckGoldenSample")
}
func (UnimplementedRoutingServer) AddGoldenSample(context.Context, *GoldenSampleRequest) (*GoldenSampleResponse, error) {
	return nil, unimplemented("AddGoldenSample")
}
func (UnimplementedRoutingServer) Hold(context.Context, *HoldRequest) (*HoldResponse, error) {
	return nil, unimplemented("Hold")
}
func (UnimplementedRoutingServer) Release(context.Context, *HoldRequest) (*HoldResponse, error) {
	return nil, unimplemented("Release")
}
func (UnimplementedRoutingServer) Health(context.Context, *HealthRequest) (*HealthResponse, error) {
	return nil, unimplemented("Health")
}

// RegisterRoutingServer registers srv on s.
func RegisterRoutingServer(s grpc.ServiceRegistrar, srv RoutingServer) {
	s.RegisterService(&Routing_ServiceDesc, srv)
}

// unaryHandler adapts a typed method to grpc.MethodDesc.Handler.
func unaryHandler[Req, Resp any](fullMethod string, call func(RoutingServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RoutingServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(RoutingServer), ctx, req.(*Req))
		})
	}
}

// Routing_ServiceDesc is the grpc.ServiceDesc for the Routing service.
var Routing_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RoutingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: unaryHandler(Routing_Login_FullMethodName, RoutingServer.Login)},
		{MethodName: "Logout", Handler: unaryHandler(Routing_Logout_FullMethodName, RoutingServer.Logout)},
		{MethodName: "Heartbeat", Handler: unaryHandler(Routing_Heartbeat_FullMethodName, RoutingServer.Heartbeat)},
		{MethodName: "SubmitResult", Handler: unaryHandler(Routing_SubmitResult_FullMethodName, RoutingServer.SubmitResult)},
		{MethodName: "QueryHistory", Handler: unaryHandler(Routing_QueryHistory_FullMethodName, RoutingServer.QueryHistory)},
		{MethodName: "RequestOverride", Handler: unaryHandler(Routing_RequestOverride_FullMethodName, RoutingServer.RequestOverride)},
		{MethodName: "Scrap", Handler: unaryHandler(Routing_Scrap_FullMethodName, RoutingServer.Scrap)},
		{MethodName: "CheckGoldenSample", Handler: unaryHandler(Routing_CheckGoldenSample_FullMethodName, RoutingServer.CheckGoldenSample)},
		{MethodName: "AddGoldenSample", Handler: unaryHandler(Routing_AddGoldenSample_FullMethodName, RoutingServer.AddGoldenSample)},
		{MethodName: "Hold", Handler: unaryHandler(Routing_Hold_FullMethodName, RoutingServer.Hold)},
		{MethodName: "Release", Handler: unaryHandler(Routing_Release_FullMethodName, RoutingServer.Release)},
		{MethodName: "Health", Handler: unaryHandler(Routing_Health_FullMethodName, RoutingServer.Health)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tracegate/v1/routing.proto",
}

// RoutingClient is the client API for the Routing service.
type RoutingClient interface {
	Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error)
	Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error)
	Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error)
	SubmitResult(ctx context.Context, in *SubmitResultRequest, opts ...grpc.CallOption) (*DecisionResponse, error)
	QueryHistory(ctx context.Context, in *QueryHistoryRequest, opts ...grpc.CallOption) (*QueryHistoryResponse, error)
	RequestOverride(ctx context.Context, in *RequestOverrideRequest, opts ...grpc.CallOption) (*DecisionResponse, error)
	Scrap(ctx context.Context, in *ScrapRequest, opts ...grpc.CallOption) (*DecisionResponse, error)
	CheckGoldenSample(ctx context.Context, in *GoldenSampleRequest, opts ...grpc.CallOption) (*GoldenSampleResponse, error)
	AddGoldenSample(ctx context.Context, in *GoldenSampleRequest, opts ...grpc.CallOption) (*GoldenSampleResponse, error)
	Hold(ctx context.Context, in *HoldRequest, opts ...grpc.CallOption) (*HoldResponse, error)
	Release(ctx context.Context, in *HoldRequest, opts ...grpc.CallOption) (*HoldResponse, error)
	Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error)
}

type routingClient struct {
	cc grpc.ClientConnInterface
}

// NewRoutingClient returns a client stub over cc. Every call is sent with
// the JSON content subtype.
func NewRoutingClient(cc grpc.ClientConnInterface) RoutingClient {
	return &routingClient{cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *routingClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, Routing_Login_FullMethodName, in, opts)
}

func (c *routingClient) Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	return invoke[LogoutResponse](ctx, c.cc, Routing_Logout_FullMethodName, in, opts)
}

func (c *routingClient) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	return invoke[HeartbeatResponse](ctx, c.cc, Routing_Heartbeat_FullMethodName, in, opts)
}

func (c *routingClient) SubmitResult(ctx context.Context, in *SubmitResultRequest, opts ...grpc.CallOption) (*DecisionResponse, error) {
	return invoke[DecisionResponse](ctx, c.cc, Routing_SubmitResult_FullMethodName, in, opts)
}

func (c *routingClient) QueryHistory(ctx context.Context, in *QueryHistoryRequest, opts ...grpc.CallOption) (*QueryHistoryResponse, error) {
	return invoke[QueryHistoryResponse](ctx, c.cc, Routing_QueryHistory_FullMethodName, in, opts)
}

func (c *routingClient) RequestOverride(ctx context.Context, in *RequestOverrideRequest, opts ...grpc.CallOption) (*DecisionResponse, error) {
	return invoke[DecisionResponse](ctx, c.cc, Routing_RequestOverride_FullMethodName, in, opts)
}

func (c *routingClient) Scrap(ctx context.Context, in *ScrapRequest, opts ...grpc.CallOption) (*DecisionResponse, error) {
	return invoke[DecisionResponse](ctx, c.cc, Routing_Scrap_FullMethodName, in, opts)
}

func (c *routingClient) CheckGoldenSample(ctx context.Context, in *GoldenSampleRequest, opts ...grpc.CallOption) (*GoldenSampleResponse, error) {
	return invoke[GoldenSampleResponse](ctx, c.cc, Routing_CheckGoldenSample_FullMethodName, in, opts)
}

func (c *routingClient) AddGoldenSample(ctx context.Context, in *GoldenSampleRequest, opts ...grpc.CallOption) (*GoldenSampleResponse, error) {
	return invoke[GoldenSampleResponse](ctx, c.cc, Routing_AddGoldenSample_FullMethodName, in, opts)
}

func (c *routingClient) Hold(ctx context.Context, in *HoldRequest, opts ...grpc.CallOption) (*HoldResponse, error) {
	return invoke[HoldResponse](ctx, c.cc, Routing_Hold_FullMethodName, in, opts)
}

func (c *routingClient) Release(ctx context.Context, in *HoldRequest, opts ...grpc.CallOption) (*HoldResponse, error) {
	return invoke[HoldResponse](ctx, c.cc, Routing_Release_FullMethodName, in, opts)
}

func (c *routingClient) Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	return invoke[HealthResponse](ctx, c.cc, Routing_Health_FullMethodName, in, opts)
}
