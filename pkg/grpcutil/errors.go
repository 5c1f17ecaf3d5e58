package grpcutil

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCodes maps domain sentinel errors to status codes. Errors are matched
// with errors.Is, so wrapped sentinels are recognised.
type ErrorCodes map[error]codes.Code

// Merge returns a new map holding every entry of the given maps.
func Merge(maps ...ErrorCodes) ErrorCodes {
	out := make(ErrorCodes)
	for _, m := range maps {
		for err, code := range m {
			out[err] = code
		}
	}
	return out
}

// InvalidArgumentError creates an INVALID_ARGUMENT gRPC error.
func InvalidArgumentError(field, reason string) error {
	return status.Errorf(codes.InvalidArgument, "invalid %s: %s", field, reason)
}

// InternalError creates an INTERNAL gRPC error.
func InternalError(err error) error {
	return status.Errorf(codes.Internal, "internal error: %v", err)
}

// ToStatus converts err into a gRPC status error. Status errors keep their
// code, context errors map to Canceled and DeadlineExceeded, and domain
// errors found in errCodes keep their message under the mapped code.
// Anything else becomes Internal.
func ToStatus(err error, errCodes ErrorCodes) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	for target, code := range errCodes {
		if errors.Is(err, target) {
			return status.Error(code, err.Error())
		}
	}

	return InternalError(err)
}

// Code returns the status code ToStatus would assign to err.
func Code(err error, errCodes ErrorCodes) codes.Code {
	return status.Code(ToStatus(err, errCodes))
}

// HTTPStatus maps a gRPC code to the HTTP status used by the JSON gateway.
func HTTPStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusRequestEntityTooLarge
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Canceled:
		return 499
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// IsNotFound checks if an error is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// IsInvalidArgument checks if an error is an INVALID_ARGUMENT error.
func IsInvalidArgument(err error) bool {
	return status.Code(err) == codes.InvalidArgument
}
