package clients

import (
	"context"
	"fmt"

	"google.golang.org/api/cloudasset/v1"
	"google.golang.org/api/option"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
	"go.cloudsolutions.dev/jitaccess/internal/auth"
)

// PolicyAnalyzerClient wraps the IAM Policy Analyzer subset of the
// Asset Inventory API.
type PolicyAnalyzerClient struct {
	service *cloudasset.Service
}

func NewPolicyAnalyzerClient(ctx context.Context, opts ...option.ClientOption) (*PolicyAnalyzerClient, error) {
	opts = append([]option.ClientOption{option.WithUserAgent(UserAgent)}, opts...)

	service, err := cloudasset.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset inventory client: %w", err)
	}

	return &PolicyAnalyzerClient{service: service}, nil
}

// FindAccessibleResourcesByUser finds resources on which the user has
// bindings, optionally narrowed to a permission or to a single
// resource. With expandResources, the analysis also returns descendant
// resources that inherit a binding.
func (c *PolicyAnalyzerClient) FindAccessibleResourcesByUser(
	ctx context.Context,
	scope string,
	user auth.UserID,
	permission string,
	fullResourceName string,
	expandResources bool,
) (*cloudasset.IamPolicyAnalysis, error) {
	call := c.service.V1.AnalyzeIamPolicy(scope).
		AnalysisQueryIdentitySelectorIdentity(user.PrincipalIdentifier()).
		AnalysisQueryOptionsExpandResources(expandResources)

	if permission != "" {
		call = call.AnalysisQueryAccessSelectorPermissions(permission)
	}
	if fullResourceName != "" {
		call = call.AnalysisQueryResourceSelectorFullResourceName(fullResourceName)
	}

	response, err := call.Context(ctx).Do()
	if err != nil {
		return nil, translateAnalyzeError(err, scope)
	}

	if response.MainAnalysis == nil {
		return &cloudasset.IamPolicyAnalysis{}, nil
	}
	return response.MainAnalysis, nil
}

// FindPermissionedPrincipalsByResource finds principals that hold a
// role on a resource, including the conditions of their bindings.
func (c *PolicyAnalyzerClient) FindPermissionedPrincipalsByResource(
	ctx context.Context,
	scope string,
	fullResourceName string,
	role string,
) (*cloudasset.IamPolicyAnalysis, error) {
	response, err := c.service.V1.AnalyzeIamPolicy(scope).
		AnalysisQueryResourceSelectorFullResourceName(fullResourceName).
		AnalysisQueryAccessSelectorRoles(role).
		Context(ctx).
		Do()
	if err != nil {
		return nil, translateAnalyzeError(err, scope)
	}

	if response.MainAnalysis == nil {
		return &cloudasset.IamPolicyAnalysis{}, nil
	}
	return response.MainAnalysis, nil
}

func translateAnalyzeError(err error, scope string) error {
	switch apiErrorCode(err) {
	case 401:
		return apierror.NotAuthenticated("not authenticated").Err()
	case 403:
		return apierror.AccessDenied(fmt.Sprintf("denied access to scope '%s'", scope)).Err()
	case 429:
		return apierror.QuotaExceeded(
			"exceeded quota for AnalyzeIamPolicy API requests, consider increasing the request quota in the application project").Err()
	default:
		return err
	}
}
