package apierror_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
)

func TestReason(t *testing.T) {
	testCases := []struct {
		desc   string
		err    error
		reason string
	}{
		{
			desc:   "access denied",
			err:    apierror.AccessDenied("no").Err(),
			reason: apierror.ReasonAccessDenied,
		},
		{
			desc:   "invalid token shares the code but not the reason",
			err:    apierror.InvalidToken("bad signature").Err(),
			reason: apierror.ReasonInvalidToken,
		},
		{
			desc:   "plain error",
			err:    errors.New("plain"),
			reason: "",
		},
		{
			desc:   "bare status without details",
			err:    status.Error(codes.Internal, "bare"),
			reason: "",
		},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			assert.Equal(t, tC.reason, apierror.Reason(tC.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	testCases := []struct {
		desc   string
		err    error
		status int
	}{
		{
			desc:   "not authenticated",
			err:    apierror.NotAuthenticated("who are you").Err(),
			status: http.StatusUnauthorized,
		},
		{
			desc:   "access denied",
			err:    apierror.AccessDenied("no").Err(),
			status: http.StatusForbidden,
		},
		{
			desc:   "invalid token maps to forbidden",
			err:    apierror.InvalidToken("bad signature").Err(),
			status: http.StatusForbidden,
		},
		{
			desc:   "invalid argument",
			err:    apierror.InvalidArgument("bad input").Err(),
			status: http.StatusBadRequest,
		},
		{
			desc:   "not supported",
			err:    apierror.NotSupported("not here").Err(),
			status: http.StatusBadRequest,
		},
		{
			desc:   "already exists",
			err:    apierror.AlreadyExists("dup").Err(),
			status: http.StatusConflict,
		},
		{
			desc:   "conflict retries exhausted",
			err:    apierror.ConflictRetryExhausted("gave up").Err(),
			status: http.StatusConflict,
		},
		{
			desc:   "worker pool exhausted",
			err:    apierror.ResourceExhausted("busy").Err(),
			status: http.StatusTooManyRequests,
		},
		{
			desc:   "feature not available",
			err:    apierror.FeatureNotAvailable("no channel").Err(),
			status: http.StatusInternalServerError,
		},
		{
			desc:   "plain error",
			err:    errors.New("plain"),
			status: http.StatusInternalServerError,
		},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			assert.Equal(t, tC.status, apierror.HTTPStatus(tC.err))
		})
	}
}
