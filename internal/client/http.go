package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	tracegatev1 "github.com/alfredjeanlab/tracegate/api/tracegate/v1"
	"github.com/alfredjeanlab/tracegate/internal/model"
)

// HTTPClient implements Client using the tracegate HTTP/JSON API.
type HTTPClient struct {
	rc *resty.Client
}

// NewHTTPClient creates a client targeting baseURL (e.g.
// "http://localhost:8080"). Requests answered with 503, or that fail at the
// transport, are retried up to three times.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(100*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() == http.StatusServiceUnavailable
		})
	c := &HTTPClient{rc: rc}
	c.SetToken(token)
	return c
}

func (c *HTTPClient) SetToken(token string) {
	c.rc.SetAuthToken(token)
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) Login(ctx context.Context, user, password string) (*tracegatev1.LoginResponse, error) {
	var resp tracegatev1.LoginResponse
	req := tracegatev1.LoginRequest{User: user, Password: password}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", req, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return &resp, nil
}

func (c *HTTPClient) Logout(ctx context.Context) (*tracegatev1.LogoutResponse, error) {
	var resp tracegatev1.LogoutResponse
	if err := c.do(ctx, http.MethodDelete, "/v1/sessions/current", nil, &resp); err != nil {
		return nil, err
	}
	c.SetToken("")
	return &resp, nil
}

func (c *HTTPClient) Heartbeat(ctx context.Context, station, client string) (*tracegatev1.HeartbeatResponse, error) {
	var resp tracegatev1.HeartbeatResponse
	req := tracegatev1.HeartbeatRequest{Station: station, Client: client}
	if err := c.do(ctx, http.MethodPost, "/v1/heartbeat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) SubmitResult(ctx context.Context, rec *model.TestRecord) (*tracegatev1.DecisionResponse, error) {
	if rec == nil || rec.Serial == "" {
		return nil, fmt.Errorf("client: record serial is required")
	}
	var resp tracegatev1.DecisionResponse
	req := tracegatev1.SubmitResultRequest{Record: rec}
	if err := c.do(ctx, http.MethodPost, unitPath(rec.Serial, "results"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) QueryHistory(ctx context.Context, serial string) (*tracegatev1.QueryHistoryResponse, error) {
	var resp tracegatev1.QueryHistoryResponse
	if err := c.do(ctx, http.MethodGet, unitPath(serial, "history"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) RequestOverride(ctx context.Context, serial, station, reason string) (*tracegatev1.DecisionResponse, error) {
	var resp tracegatev1.DecisionResponse
	req := tracegatev1.RequestOverrideRequest{Station: station, Reason: reason}
	if err := c.do(ctx, http.MethodPost, unitPath(serial, "overrides"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Scrap(ctx context.Context, serial, reason string) (*tracegatev1.DecisionResponse, error) {
	var resp tracegatev1.DecisionResponse
	req := tracegatev1.ScrapRequest{Reason: reason}
	if err := c.do(ctx, http.MethodPost, unitPath(serial, "scrap"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) CheckGoldenSample(ctx context.Context, serial string) (bool, error) {
	var resp tracegatev1.GoldenSampleResponse
	if err := c.do(ctx, http.MethodGet, "/v1/golden-samples/"+url.PathEscape(serial), nil, &resp); err != nil {
		return false, err
	}
	return resp.Golden, nil
}

func (c *HTTPClient) AddGoldenSample(ctx context.Context, serial string) error {
	return c.do(ctx, http.MethodPut, "/v1/golden-samples/"+url.PathEscape(serial), nil, nil)
}

func (c *HTTPClient) Hold(ctx context.Context, serial string) error {
	return c.do(ctx, http.MethodPost, unitPath(serial, "hold"), nil, nil)
}

func (c *HTTPClient) Release(ctx context.Context, serial string) error {
	return c.do(ctx, http.MethodDelete, unitPath(serial, "hold"), nil, nil)
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp tracegatev1.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func unitPath(serial, leaf string) string {
	return "/v1/units/" + url.PathEscape(serial) + "/" + leaf
}

// do performs a request with an optional JSON body and decodes the JSON
// response into result when it is non-nil. Error responses become
// *APIError.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, result any) error {
	req := c.rc.R().
		SetContext(ctx).
		SetError(&tracegatev1.ErrorBody{})
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	if !resp.IsError() {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode(), Message: strings.TrimSpace(resp.String())}
	if eb, ok := resp.Error().(*tracegatev1.ErrorBody); ok && eb.Error != "" {
		apiErr.Code = eb.Code
		apiErr.Message = eb.Error
	}
	return apiErr
}
