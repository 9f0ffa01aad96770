// Package tracegatev1 is the wire contract of the tracegate.v1.Routing
// service: request and response messages, the gRPC service descriptor, a
// client stub and the JSON codec both sides speak.
//
// The same messages are the bodies of the HTTP/JSON routes.
package tracegatev1

import (
	"time"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

type LoginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string     `json:"token"`
	User      string     `json:"user"`
	Role      model.Role `json:"role"`
	ExpiresAt time.Time  `json:"expires_at"`
}

type LogoutRequest struct{}

type LogoutResponse struct {
	// Released lists the serials whose advisory holds were dropped.
	Released []string `json:"released,omitempty"`
}

type HeartbeatRequest struct {
	Station string `json:"station,omitempty"`
	Client  string `json:"client,omitempty"`
}

type HeartbeatResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
}

type SubmitResultRequest struct {
	Record *model.TestRecord `json:"record"`
}

// DecisionResponse answers SubmitResult, RequestOverride and Scrap.
type DecisionResponse struct {
	Entry     *model.HistoryEntry `json:"entry"`
	Replayed  bool                `json:"replayed,omitempty"`
	Committed bool                `json:"committed"`
	State     model.UnitState     `json:"state"`
}

type QueryHistoryRequest struct {
	Serial string `json:"serial"`
}

type QueryHistoryResponse struct {
	Serial  string                `json:"serial"`
	State   model.UnitState       `json:"state"`
	Entries []*model.HistoryEntry `json:"entries"`
	Held    bool                  `json:"held,omitempty"`
}

type RequestOverrideRequest struct {
	Serial  string `json:"serial"`
	Station string `json:"station"`
	Reason  string `json:"reason"`
}

type ScrapRequest struct {
	Serial string `json:"serial"`
	Reason string `json:"reason"`
}

type GoldenSampleRequest struct {
	Serial string `json:"serial"`
}

type GoldenSampleResponse struct {
	Serial string `json:"serial"`
	Golden bool   `json:"golden"`
}

type HoldRequest struct {
	Serial string `json:"serial"`
}

type HoldResponse struct {
	Serial string `json:"serial"`
	Held   bool   `json:"held"`
}

type HealthRequest struct{}

type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorBody is the JSON body of every non-2xx HTTP response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ErrorDomain is the ErrorInfo domain attached to gRPC status errors.
const ErrorDomain = "tracegate.v1"

// Error codes carried in ErrorBody.Code and in the gRPC ErrorInfo reason.
const (
	CodeInvalidCredentials    = "invalid_credentials"
	CodeExpired               = "expired"
	CodeRevoked               = "revoked"
	CodeForbidden             = "forbidden"
	CodeJustificationRequired = "justification_required"
	CodeInvalidArgument       = "invalid_argument"
	CodeInvalidRecord         = "invalid_record"
	CodeUnknownStation        = "unknown_station"
	CodeUnknownUnit           = "unknown_unit"
	CodeNothingToOverride     = "nothing_to_override"
	CodeUnitScrapped          = "unit_scrapped"
	CodeHeld                  = "held"
	CodeDeadlineExceeded      = "deadline_exceeded"
	CodeUnavailable           = "unavailable"
	CodeInternal              = "internal"
)
