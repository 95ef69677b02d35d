package clients

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
	"go.cloudsolutions.dev/jitaccess/internal/auth"
)

// IamCredentialsClient signs JWTs with a service account's
// Google-managed key. The private key never leaves the platform.
type IamCredentialsClient struct {
	service *iamcredentials.Service
}

func NewIamCredentialsClient(ctx context.Context, opts ...option.ClientOption) (*IamCredentialsClient, error) {
	opts = append([]option.ClientOption{option.WithUserAgent(UserAgent)}, opts...)

	service, err := iamcredentials.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create IAM credentials client: %w", err)
	}

	return &IamCredentialsClient{service: service}, nil
}

// SignJwt signs the payload with the service account's current key.
// The resulting token is RS256-signed and carries the key id in its
// header.
func (c *IamCredentialsClient) SignJwt(
	ctx context.Context,
	serviceAccount auth.UserID,
	payload map[string]any,
) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode JWT payload: %w", err)
	}

	response, err := c.service.Projects.ServiceAccounts.
		SignJwt(
			fmt.Sprintf("projects/-/serviceAccounts/%s", serviceAccount.Email),
			&iamcredentials.SignJwtRequest{Payload: string(encoded)}).
		Context(ctx).
		Do()
	if err != nil {
		switch apiErrorCode(err) {
		case 401:
			return "", apierror.NotAuthenticated("not authenticated").Err()
		case 403:
			return "", apierror.AccessDenied(fmt.Sprintf(
				"denied access to service account '%s'", serviceAccount.Email)).Err()
		default:
			return "", err
		}
	}

	return response.SignedJwt, nil
}

// JwksURL returns the published location of the service account's
// public key set, used to verify tokens signed with SignJwt.
func (c *IamCredentialsClient) JwksURL(serviceAccount auth.UserID) string {
	return fmt.Sprintf(
		"https://www.googleapis.com/service_accounts/v1/metadata/jwk/%s",
		serviceAccount.Email)
}
