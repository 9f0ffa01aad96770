package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	tracegatev1 "github.com/alfredjeanlab/tracegate/api/tracegate/v1"
	"github.com/alfredjeanlab/tracegate/internal/model"
)

// retryServiceConfig retries UNAVAILABLE, which the server returns for
// store failures. Submits stay idempotent under retry through their key.
const retryServiceConfig = `{
  "methodConfig": [{
    "name": [{"service": "tracegate.v1.Routing"}],
    "retryPolicy": {
      "maxAttempts": 4,
      "initialBackoff": "0.1s",
      "maxBackoff": "2s",
      "backoffMultiplier": 2,
      "retryableStatusCodes": ["UNAVAILABLE"]
    }
  }]
}`

// GRPCClient implements Client using the gRPC transport.
type GRPCClient struct {
	conn   *grpc.ClientConn
	client tracegatev1.RoutingClient

	mu    sync.RWMutex
	token string
}

// NewGRPCClient connects to addr. Extra dial options are applied after the
// defaults, so callers may replace the transport credentials or dialer.
func NewGRPCClient(addr, token string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{token: token}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultServiceConfig(retryServiceConfig),
		grpc.WithUnaryInterceptor(c.bearerTokenInterceptor),
	}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	c.conn = conn
	c.client = tracegatev1.NewRoutingClient(conn)
	return c, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// bearerTokenInterceptor attaches the current session token to every
// outgoing call.
func (c *GRPCClient) bearerTokenInterceptor(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	return fromStatus(invoker(ctx, method, req, reply, cc, opts...))
}

// fromStatus converts a gRPC status error into *APIError, taking the reason
// code from the attached ErrorInfo.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	apiErr := &APIError{GRPCCode: st.Code(), Message: st.Message()}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == tracegatev1.ErrorDomain {
			apiErr.Code = info.GetReason()
		}
	}
	return apiErr
}

func (c *GRPCClient) Login(ctx context.Context, user, password string) (*tracegatev1.LoginResponse, error) {
	resp, err := c.client.Login(ctx, &tracegatev1.LoginRequest{User: user, Password: password})
	if err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return resp, nil
}

func (c *GRPCClient) Logout(ctx context.Context) (*tracegatev1.LogoutResponse, error) {
	resp, err := c.client.Logout(ctx, &tracegatev1.LogoutRequest{})
	if err != nil {
		return nil, err
	}
	c.SetToken("")
	return resp, nil
}

func (c *GRPCClient) Heartbeat(ctx context.Context, station, client string) (*tracegatev1.HeartbeatResponse, error) {
	return c.client.Heartbeat(ctx, &tracegatev1.HeartbeatRequest{Station: station, Client: client})
}

func (c *GRPCClient) SubmitResult(ctx context.Context, rec *model.TestRecord) (*tracegatev1.DecisionResponse, error) {
	if rec == nil || rec.Serial == "" {
		return nil, errors.New("client: record serial is required")
	}
	return c.client.SubmitResult(ctx, &tracegatev1.SubmitResultRequest{Record: rec})
}

func (c *GRPCClient) QueryHistory(ctx context.Context, serial string) (*tracegatev1.QueryHistoryResponse, error) {
	return c.client.QueryHistory(ctx, &tracegatev1.QueryHistoryRequest{Serial: serial})
}

func (c *GRPCClient) RequestOverride(ctx context.Context, serial, station, reason string) (*tracegatev1.DecisionResponse, error) {
	return c.client.RequestOverride(ctx, &tracegatev1.RequestOverrideRequest{Serial: serial, Station: station, Reason: reason})
}

func (c *GRPCClient) Scrap(ctx context.Context, serial, reason string) (*tracegatev1.DecisionResponse, error) {
	return c.client.Scrap(ctx, &tracegatev1.ScrapRequest{Serial: serial, Reason: reason})
}

func (c *GRPCClient) CheckGoldenSample(ctx context.Context, serial string) (bool, error) {
	resp, err := c.client.CheckGoldenSample(ctx, &tracegatev1.GoldenSampleRequest{Serial: serial})
	if err != nil {
		return false, err
	}
	return resp.Golden, nil
}

func (c *GRPCClient) AddGoldenSample(ctx context.Context, serial string) error {
	_, err := c.client.AddGoldenSample(ctx, &tracegatev1.GoldenSampleRequest{Serial: serial})
	return err
}

func (c *GRPCClient) Hold(ctx context.Context, serial string) error {
	_, err := c.client.Hold(ctx, &tracegatev1.HoldRequest{Serial: serial})
	return err
}

func (c *GRPCClient) Release(ctx context.Context, serial string) error {
	_, err := c.client.Release(ctx, &tracegatev1.HoldRequest{Serial: serial})
	return err
}

func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	resp, err := c.client.Health(ctx, &tracegatev1.HealthRequest{})
	if err != nil {
		return "", err
	}
	return resp.Status, nil
}
