package handler

import (
	"context"

	"google.golang.org/grpc"

	"propertyhub/backend/internal/server/jsoncodec"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "propertyhub.session.v1.SessionService"

// Full method names, used for public-method and role tables.
const (
	LoginMethod              = "/" + ServiceName + "/Login"
	RefreshMethod            = "/" + ServiceName + "/Refresh"
	LogoutMethod             = "/" + ServiceName + "/Logout"
	WhoAmIMethod             = "/" + ServiceName + "/WhoAmI"
	RevokeUserSessionsMethod = "/" + ServiceName + "/RevokeUserSessions"
)

// SessionServiceServer is the server API for SessionService.
type SessionServiceServer interface {
	Login(context.Context, *LoginRequest) (*TokenResponse, error)
	Refresh(context.Context, *RefreshRequest) (*TokenResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	WhoAmI(context.Context, *WhoAmIRequest) (*WhoAmIResponse, error)
	RevokeUserSessions(context.Context, *RevokeUserSessionsRequest) (*RevokeUserSessionsResponse, error)
}

// RegisterSessionServiceServer registers srv with s.
func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}

// SessionServiceDesc describes SessionService for grpc.ServiceRegistrar.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: unaryHandler(LoginMethod, SessionServiceServer.Login)},
		{MethodName: "Refresh", Handler: unaryHandler(RefreshMethod, SessionServiceServer.Refresh)},
		{MethodName: "Logout", Handler: unaryHandler(LogoutMethod, SessionServiceServer.Logout)},
		{MethodName: "WhoAmI", Handler: unaryHandler(WhoAmIMethod, SessionServiceServer.WhoAmI)},
		{MethodName: "RevokeUserSessions", Handler: unaryHandler(RevokeUserSessionsMethod, SessionServiceServer.RevokeUserSessions)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "propertyhub/session/v1/session.json",
}

func unaryHandler[Req, Resp any](fullMethod string, call func(SessionServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SessionServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SessionServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Client is the client API for SessionService. Calls use the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsoncodec.Name)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*TokenResponse, error) {
	return invoke[TokenResponse](ctx, c.cc, LoginMethod, in, opts)
}

func (c *Client) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*TokenResponse, error) {
	return invoke[TokenResponse](ctx, c.cc, RefreshMethod, in, opts)
}

func (c *Client) Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	return invoke[LogoutResponse](ctx, c.cc, LogoutMethod, in, opts)
}

func (c *Client) WhoAmI(ctx context.Context, in *WhoAmIRequest, opts ...grpc.CallOption) (*WhoAmIResponse, error) {
	return invoke[WhoAmIResponse](ctx, c.cc, WhoAmIMethod, in, opts)
}

func (c *Client) RevokeUserSessions(ctx context.Context, in *RevokeUserSessionsRequest, opts ...grpc.CallOption) (*RevokeUserSessionsResponse, error) {
	return invoke[RevokeUserSessionsResponse](ctx, c.cc, RevokeUserSessionsMethod, in, opts)
}
