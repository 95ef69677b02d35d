package clients

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/secretmanager/v1"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
)

// SecretManagerClient reads secrets such as the SMTP password.
type SecretManagerClient struct {
	service *secretmanager.Service
}

func NewSecretManagerClient(ctx context.Context, opts ...option.ClientOption) (*SecretManagerClient, error) {
	opts = append([]option.ClientOption{option.WithUserAgent(UserAgent)}, opts...)

	service, err := secretmanager.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}

	return &SecretManagerClient{service: service}, nil
}

// AccessSecret reads a secret version's payload, addressed as
// "projects/x/secrets/y/versions/z". Returns nil when the version has
// no payload.
func (c *SecretManagerClient) AccessSecret(ctx context.Context, secretPath string) ([]byte, error) {
	response, err := c.service.Projects.Secrets.Versions.
		Access(secretPath).
		Context(ctx).
		Do()
	if err != nil {
		switch apiErrorCode(err) {
		case 401:
			return nil, apierror.NotAuthenticated("not authenticated").Err()
		case 403:
			return nil, apierror.AccessDenied(fmt.Sprintf("access to secret '%s' was denied", secretPath)).Err()
		case 404:
			return nil, apierror.NotFound(fmt.Sprintf("the secret '%s' does not exist", secretPath)).Err()
		default:
			return nil, err
		}
	}

	if response.Payload == nil || response.Payload.Data == "" {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(response.Payload.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload of secret '%s': %w", secretPath, err)
	}

	return data, nil
}
