package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	tracegatev1 "github.com/alfredjeanlab/tracegate/api/tracegate/v1"
	"github.com/alfredjeanlab/tracegate/internal/auth"
	"github.com/alfredjeanlab/tracegate/internal/model"
	"github.com/alfredjeanlab/tracegate/internal/routing"
	"github.com/alfredjeanlab/tracegate/internal/store"
)

// stubHandler is a no-op gRPC handler used in interceptor tests.
func stubHandler(_ context.Context, _ any) (any, error) {
	return "ok", nil
}

// fakeAuthn accepts "good" and reports ErrExpired for "old".
type fakeAuthn struct{}

func (fakeAuthn) Authenticate(_ context.Context, token string) (*model.Session, error) {
	switch token {
	case "good":
		return &model.Session{Token: "good", UserName: "olga", Role: model.RoleOperator}, nil
	case "old":
		return nil, auth.ErrExpired
	}
	return nil, auth.ErrInvalidCredentials
}

var submitInfo = &grpc.UnaryServerInfo{FullMethod: tracegatev1.Routing_SubmitResult_FullMethodName}

func TestAuthInterceptor_PublicMethods(t *testing.T) {
	interceptor := AuthInterceptor(fakeAuthn{})
	for _, method := range []string{
		tracegatev1.Routing_Login_FullMethodName,
		tracegatev1.Routing_Health_FullMethodName,
		"/grpc.health.v1.Health/Check",
	} {
		resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: method}, stubHandler)
		if err != nil {
			t.Fatalf("%s: expected no error, got %v", method, err)
		}
		if resp != "ok" {
			t.Fatalf("%s: expected 'ok', got %v", method, resp)
		}
	}
}

func TestAuthInterceptor_Rejects(t *testing.T) {
	interceptor := AuthInterceptor(fakeAuthn{})
	tests := []struct {
		name string
		md   metadata.MD
		want error
	}{
		{"no metadata", nil, auth.ErrInvalidCredentials},
		{"no header", metadata.Pairs("other", "value"), auth.ErrInvalidCredentials},
		{"wrong scheme", metadata.Pairs("authorization", "Basic abc"), auth.ErrInvalidCredentials},
		{"unknown token", metadata.Pairs("authorization", "Bearer nope"), auth.ErrInvalidCredentials},
		{"expired token", metadata.Pairs("authorization", "Bearer old"), auth.ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}
			called := false
			_, err := interceptor(ctx, nil, submitInfo, func(context.Context, any) (any, error) {
				called = true
				return nil, nil
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if called {
				t.Fatal("handler ran for a rejected request")
			}
		})
	}
}

func TestAuthInterceptor_AttachesSession(t *testing.T) {
	interceptor := AuthInterceptor(fakeAuthn{})
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer good"))
	_, err := interceptor(ctx, nil, submitInfo, func(ctx context.Context, _ any) (any, error) {
		sess := SessionFrom(ctx)
		if sess == nil || sess.UserName != "olga" {
			t.Fatalf("expected olga's session in context, got %+v", sess)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestRecoveryInterceptor(t *testing.T) {
	interceptor := RecoveryInterceptor(zap.NewNop())
	_, err := interceptor(context.Background(), nil, submitInfo, func(context.Context, any) (any, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", status.Code(err))
	}
}

func errorReason(t *testing.T, err error) string {
	t.Helper()
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("not a status error: %v", err)
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info.Reason
		}
	}
	return ""
}

func TestErrorInterceptor(t *testing.T) {
	tests := []struct {
		err    error
		code   codes.Code
		reason string
	}{
		{auth.ErrExpired, codes.Unauthenticated, tracegatev1.CodeExpired},
		{auth.ErrRevoked, codes.Unauthenticated, tracegatev1.CodeRevoked},
		{auth.ErrForbidden, codes.PermissionDenied, tracegatev1.CodeForbidden},
		{fmt.Errorf("%w: XRAY", routing.ErrUnknownStation), codes.InvalidArgument, tracegatev1.CodeUnknownStation},
		{routing.ErrHeld, codes.FailedPrecondition, tracegatev1.CodeHeld},
		{fmt.Errorf("%w: disk full", store.ErrCommit), codes.Unavailable, tracegatev1.CodeUnavailable},
		{inputError("serial is required"), codes.InvalidArgument, tracegatev1.CodeInvalidArgument},
	}
	for _, tt := range tests {
		_, err := ErrorInterceptor(context.Background(), nil, submitInfo, func(context.Context, any) (any, error) {
			return nil, tt.err
		})
		if status.Code(err) != tt.code {
			t.Errorf("%v: code = %v, want %v", tt.err, status.Code(err), tt.code)
		}
		if got := errorReason(t, err); got != tt.reason {
			t.Errorf("%v: reason = %q, want %q", tt.err, got, tt.reason)
		}
	}

	// Status errors pass through untouched.
	_, err := ErrorInterceptor(context.Background(), nil, submitInfo, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "gone")
	})
	if status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound to pass through, got %v", status.Code(err))
	}

	resp, err := ErrorInterceptor(context.Background(), nil, submitInfo, stubHandler)
	if err != nil || resp != "ok" {
		t.Errorf("success path altered: %v, %v", resp, err)
	}
}

func TestAuthMiddleware(t *testing.T) {
	var seen *model.Session
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := AuthMiddleware(fakeAuthn{}, next)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		status int
		code   string
	}{
		{"health exempt", http.MethodGet, "/v1/health", "", http.StatusOK, ""},
		{"login exempt", http.MethodPost, "/v1/sessions", "", http.StatusOK, ""},
		{"missing header", http.MethodGet, "/v1/units/U1/history", "", http.StatusUnauthorized, tracegatev1.CodeInvalidCredentials},
		{"wrong scheme", http.MethodGet, "/v1/units/U1/history", "Token good", http.StatusUnauthorized, tracegatev1.CodeInvalidCredentials},
		{"expired", http.MethodGet, "/v1/units/U1/history", "Bearer old", http.StatusUnauthorized, tracegatev1.CodeExpired},
		{"valid", http.MethodGet, "/v1/units/U1/history", "Bearer good", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.code != "" {
				var body tracegatev1.ErrorBody
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
					t.Fatalf("decode error body: %v", err)
				}
				if body.Code != tt.code || body.Error == "" {
					t.Fatalf("unexpected error body %+v", body)
				}
			}
		})
	}
	if seen == nil || seen.UserName != "olga" {
		t.Fatalf("expected session passed to handler, got %+v", seen)
	}
}

func TestAccessLog_PreservesStatus(t *testing.T) {
	handler := AccessLog(zap.NewNop(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}
