package server

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	tracegatev1 "github.com/alfredjeanlab/tracegate/api/tracegate/v1"
	"github.com/alfredjeanlab/tracegate/internal/auth"
	"github.com/alfredjeanlab/tracegate/internal/routing"
)

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }

// errorClass is how one kind of error crosses each transport.
type errorClass struct {
	grpc codes.Code
	http int
	code string
}

var errorClasses = []struct {
	target error
	class  errorClass
}{
	{auth.ErrInvalidCredentials, errorClass{codes.Unauthenticated, http.StatusUnauthorized, tracegatev1.CodeInvalidCredentials}},
	{auth.ErrExpired, errorClass{codes.Unauthenticated, http.StatusUnauthorized, tracegatev1.CodeExpired}},
	{auth.ErrRevoked, errorClass{codes.Unauthenticated, http.StatusUnauthorized, tracegatev1.CodeRevoked}},
	{auth.ErrForbidden, errorClass{codes.PermissionDenied, http.StatusForbidden, tracegatev1.CodeForbidden}},
	{auth.ErrJustificationRequired, errorClass{codes.InvalidArgument, http.StatusBadRequest, tracegatev1.CodeJustificationRequired}},
	{routing.ErrInvalidRecord, errorClass{codes.InvalidArgument, http.StatusBadRequest, tracegatev1.CodeInvalidRecord}},
	{routing.ErrUnknownStation, errorClass{codes.InvalidArgument, http.StatusBadRequest, tracegatev1.CodeUnknownStation}},
	{routing.ErrUnknownUnit, errorClass{codes.InvalidArgument, http.StatusBadRequest, tracegatev1.CodeUnknownUnit}},
	{routing.ErrNothingToOverride, errorClass{codes.InvalidArgument, http.StatusBadRequest, tracegatev1.CodeNothingToOverride}},
	{routing.ErrUnitScrapped, errorClass{codes.InvalidArgument, http.StatusBadRequest, tracegatev1.CodeUnitScrapped}},
	{routing.ErrHeld, errorClass{codes.FailedPrecondition, http.StatusConflict, tracegatev1.CodeHeld}},
	{context.DeadlineExceeded, errorClass{codes.DeadlineExceeded, http.StatusGatewayTimeout, tracegatev1.CodeDeadlineExceeded}},
}

// unavailable covers store failures and anything unclassified. The client
// retries these with the same idempotency key.
var unavailable = errorClass{codes.Unavailable, http.StatusServiceUnavailable, tracegatev1.CodeUnavailable}

func classify(err error) errorClass {
	var ie inputError
	if errors.As(err, &ie) {
		return errorClass{codes.InvalidArgument, http.StatusBadRequest, tracegatev1.CodeInvalidArgument}
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.class
		}
	}
	return unavailable
}

// toStatus converts a domain error into a gRPC status error carrying the
// error code as ErrorInfo. Status errors pass through unchanged.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	c := classify(err)
	st := status.New(c.grpc, err.Error())
	if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: c.code, Domain: tracegatev1.ErrorDomain}); derr == nil {
		st = detailed
	}
	return st.Err()
}

// writeDomainError writes err as an ErrorBody with its mapped status.
func writeDomainError(w http.ResponseWriter, err error) {
	c := classify(err)
	writeJSON(w, c.http, tracegatev1.ErrorBody{Error: err.Error(), Code: c.code})
}
