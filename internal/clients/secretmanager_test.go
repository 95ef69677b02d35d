package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/secretmanager/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.cloudsolutions.dev/jitaccess/internal/notify"
)

// The secret client must satisfy the mail service's accessor contract.
var _ notify.SecretAccessor = (*SecretManagerClient)(nil)

func newTestSecretClient(t *testing.T, handler http.HandlerFunc) *SecretManagerClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewSecretManagerClient(
		context.Background(),
		option.WithEndpoint(server.URL),
		option.WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return client
}

func TestAccessSecretReturnsPayloadBytes(t *testing.T) {
	client := newTestSecretClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, ":access"))

		w.Header().Set("Content-Type", "application/json")
		response := &secretmanager.AccessSecretVersionResponse{
			Payload: &secretmanager.SecretPayload{
				Data: base64.StdEncoding.EncodeToString([]byte("hunter2")),
			},
		}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			t.Errorf("failed to encode response: %v", err)
		}
	})

	payload, err := client.AccessSecret(
		context.Background(),
		"projects/test-project/secrets/smtp/versions/latest")
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), payload)
}

func TestAccessSecretEmptyPayload(t *testing.T) {
	client := newTestSecretClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"payload": {}}`)
	})

	payload, err := client.AccessSecret(
		context.Background(),
		"projects/test-project/secrets/smtp/versions/latest")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestAccessSecretTranslatesDenied(t *testing.T) {
	client := newTestSecretClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error": {"code": 403, "message": "denied"}}`)
	})

	_, err := client.AccessSecret(
		context.Background(),
		"projects/test-project/secrets/smtp/versions/latest")
	require.Error(t, err)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}
