package clients

import (
	"context"
	"fmt"

	"google.golang.org/api/cloudasset/v1"
	"google.golang.org/api/option"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

// AssetInventoryClient wraps the Asset Inventory API, without its
// Policy Analyzer subset.
type AssetInventoryClient struct {
	service *cloudasset.Service
}

func NewAssetInventoryClient(ctx context.Context, opts ...option.ClientOption) (*AssetInventoryClient, error) {
	opts = append([]option.ClientOption{option.WithUserAgent(UserAgent)}, opts...)

	service, err := cloudasset.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset inventory client: %w", err)
	}

	return &AssetInventoryClient{service: service}, nil
}

// GetEffectiveIamPolicies returns the effective set of IAM policies for
// a project: the project's own policy plus the policies of its
// ancestry.
func (c *AssetInventoryClient) GetEffectiveIamPolicies(
	ctx context.Context,
	scope string,
	project resource.ProjectID,
) ([]*cloudasset.PolicyInfo, error) {
	response, err := c.service.EffectiveIamPolicies.
		BatchGet(scope).
		Names(project.FullResourceName()).
		Context(ctx).
		Do()
	if err != nil {
		switch apiErrorCode(err) {
		case 401:
			return nil, apierror.NotAuthenticated("not authenticated").Err()
		case 403:
			return nil, apierror.AccessDenied(fmt.Sprintf("denied access to scope '%s'", scope)).Err()
		case 404:
			return nil, apierror.NotFound(fmt.Sprintf("the project '%s' does not exist", project)).Err()
		case 429:
			return nil, apierror.QuotaExceeded(
				"exceeded quota for BatchGetEffectiveIamPolicies API requests, consider increasing the request quota in the application project").Err()
		default:
			return nil, err
		}
	}

	if len(response.PolicyResults) == 0 {
		return nil, nil
	}
	return response.PolicyResults[0].Policies, nil
}

// CheckAccess verifies that the service's credentials can query
// effective IAM policies within the scope, by batch-getting the scope
// resource itself.
func (c *AssetInventoryClient) CheckAccess(ctx context.Context, scope string) error {
	_, err := c.service.EffectiveIamPolicies.
		BatchGet(scope).
		Names("//cloudresourcemanager.googleapis.com/" + scope).
		Context(ctx).
		Do()
	if err != nil {
		switch apiErrorCode(err) {
		case 401:
			return apierror.NotAuthenticated("not authenticated").Err()
		case 403:
			return apierror.AccessDenied(fmt.Sprintf("denied access to scope '%s'", scope)).Err()
		default:
			return err
		}
	}
	return nil
}
