// Package apierror defines the error vocabulary shared by the catalog,
// the cloud API clients, and the web layer. Errors are gRPC statuses
// carrying an ErrorInfo reason so callers can branch on the kind without
// string matching.
package apierror

import (
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
)

const domain = "jitaccess.cloudsolutions.dev"

// Reasons attached to statuses via ErrorInfo. The web layer and tests
// use these to distinguish kinds that share a gRPC code.
const (
	ReasonNotAuthenticated       = "NOT_AUTHENTICATED"
	ReasonAccessDenied           = "ACCESS_DENIED"
	ReasonResourceNotFound       = "RESOURCE_NOT_FOUND"
	ReasonQuotaExceeded          = "QUOTA_EXCEEDED"
	ReasonResourceExhausted      = "RESOURCE_EXHAUSTED"
	ReasonInvalidArgument        = "INVALID_ARGUMENT"
	ReasonInvalidToken           = "INVALID_TOKEN"
	ReasonAlreadyExists          = "ALREADY_EXISTS"
	ReasonFeatureNotAvailable    = "FEATURE_NOT_AVAILABLE"
	ReasonConflictRetryExhausted = "CONFLICT_RETRY_EXHAUSTED"
	ReasonIncompleteOperation    = "INCOMPLETE_OPERATION"
	ReasonNotSupported           = "NOT_SUPPORTED"
	ReasonInternal               = "INTERNAL"
)

func New(code codes.Code, reason, msg string, details ...protoadapt.MessageV1) *status.Status {
	all := append([]protoadapt.MessageV1{&errdetails.ErrorInfo{
		Domain: domain,
		Reason: reason,
	}}, details...)

	s, err := status.New(code, msg).WithDetails(all...)
	if err != nil {
		return status.New(codes.Internal, "internal error")
	}

	return s
}

// NotAuthenticated indicates that the caller credential is absent or
// invalid. Propagated upward unmodified.
func NotAuthenticated(msg string) *status.Status {
	return New(codes.Unauthenticated, ReasonNotAuthenticated, msg)
}

// AccessDenied indicates that the caller lacks the IAM permission for a
// specific operation.
func AccessDenied(msg string) *status.Status {
	return New(codes.PermissionDenied, ReasonAccessDenied, msg)
}

func NotFound(msg string) *status.Status {
	return New(codes.NotFound, ReasonResourceNotFound, msg)
}

// QuotaExceeded indicates a backoff-eligible API quota failure.
func QuotaExceeded(msg string) *status.Status {
	return New(codes.ResourceExhausted, ReasonQuotaExceeded, msg)
}

// ResourceExhausted indicates that the shared worker pool declined the
// operation. Retriable.
func ResourceExhausted(msg string) *status.Status {
	return New(codes.ResourceExhausted, ReasonResourceExhausted, msg)
}

func InvalidArgument(msg string) *status.Status {
	return New(codes.InvalidArgument, ReasonInvalidArgument, msg)
}

// InvalidToken indicates a signature, audience, or expiry failure when
// verifying an approval token.
func InvalidToken(msg string) *status.Status {
	return New(codes.PermissionDenied, ReasonInvalidToken, msg)
}

func AlreadyExists(msg string) *status.Status {
	return New(codes.AlreadyExists, ReasonAlreadyExists, msg)
}

// FeatureNotAvailable indicates that multi-party approval was requested
// but no notification delivery channel is configured.
func FeatureNotAvailable(msg string) *status.Status {
	return New(codes.Internal, ReasonFeatureNotAvailable, msg)
}

// ConflictRetryExhausted indicates that the bounded etag conflict retry
// in the policy mutator ran out of attempts.
func ConflictRetryExhausted(msg string) *status.Status {
	return New(codes.Aborted, ReasonConflictRetryExhausted, msg)
}

func Internal(msg string) *status.Status {
	return New(codes.Internal, ReasonInternal, msg)
}

// NotSupported indicates an operation this deployment variant does not
// implement.
func NotSupported(msg string) *status.Status {
	return New(codes.FailedPrecondition, ReasonNotSupported, msg)
}

// IncompleteOperation indicates a long-running platform operation that
// has not finished yet; callers may retry.
func IncompleteOperation(msg string) *status.Status {
	return New(codes.Unavailable, ReasonIncompleteOperation, msg)
}

// Reason extracts the ErrorInfo reason from an error produced by this
// package. Returns an empty string for foreign errors.
func Reason(err error) string {
	s, ok := status.FromError(err)
	if !ok {
		return ""
	}

	for _, detail := range s.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok {
			return info.GetReason()
		}
	}

	return ""
}

// HTTPStatus maps an error to the HTTP status code the REST surface
// should respond with.
func HTTPStatus(err error) int {
	s, ok := status.FromError(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch s.Code() {
	case codes.OK:
		return http.StatusOK
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument, codes.FailedPrecondition:
		return http.StatusBadRequest
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
