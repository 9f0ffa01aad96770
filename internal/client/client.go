// Package client provides a transport-agnostic interface for the tracegate
// routing service, with HTTP/JSON and gRPC implementations.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"

	tracegatev1 "github.com/alfredjeanlab/tracegate/api/tracegate/v1"
	"github.com/alfredjeanlab/tracegate/internal/model"
)

// Client is the interface that all tg commands use to talk to the routing
// server. It is implemented by HTTPClient and GRPCClient.
type Client interface {
	// Sessions
	Login(ctx context.Context, user, password string) (*tracegatev1.LoginResponse, error)
	Logout(ctx context.Context) (*tracegatev1.LogoutResponse, error)
	Heartbeat(ctx context.Context, station, client string) (*tracegatev1.HeartbeatResponse, error)

	// Routing
	SubmitResult(ctx context.Context, rec *model.TestRecord) (*tracegatev1.DecisionResponse, error)
	QueryHistory(ctx context.Context, serial string) (*tracegatev1.QueryHistoryResponse, error)
	RequestOverride(ctx context.Context, serial, station, reason string) (*tracegatev1.DecisionResponse, error)
	Scrap(ctx context.Context, serial, reason string) (*tracegatev1.DecisionResponse, error)

	// Golden samples
	CheckGoldenSample(ctx context.Context, serial string) (bool, error)
	AddGoldenSample(ctx context.Context, serial string) error

	// Holds
	Hold(ctx context.Context, serial string) error
	Release(ctx context.Context, serial string) error

	Health(ctx context.Context) (string, error)

	// SetToken replaces the session token sent with every request. Login
	// sets it on success and Logout clears it.
	SetToken(token string)
	Close() error
}

// New returns a client for target. A grpc:// URL selects the gRPC
// transport; anything else is treated as an HTTP base URL.
func New(target, token string) (Client, error) {
	if addr, ok := strings.CutPrefix(target, "grpc://"); ok {
		return NewGRPCClient(addr, token)
	}
	if target == "" {
		return nil, errors.New("client: empty server URL")
	}
	return NewHTTPClient(target, token), nil
}

// APIError is an error reported by the server. StatusCode is set for HTTP
// responses and GRPCCode for gRPC ones; Code is the machine-readable reason
// shared by both transports.
type APIError struct {
	StatusCode int
	GRPCCode   codes.Code
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("rpc %s: %s", e.GRPCCode, e.Message)
}

// ErrorCode returns the server reason code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsAuthError reports whether err means the session is missing, expired or
// revoked, so the operator has to log in again.
func IsAuthError(err error) bool {
	switch ErrorCode(err) {
	case tracegatev1.CodeInvalidCredentials, tracegatev1.CodeExpired, tracegatev1.CodeRevoked:
		return true
	}
	return false
}

// Retryable reports whether the request may be resent unchanged. Submits
// carry an idempotency key, so resending one is safe.
func Retryable(err error) bool {
	switch ErrorCode(err) {
	case tracegatev1.CodeUnavailable, tracegatev1.CodeDeadlineExceeded:
		return true
	}
	return false
}
