package clients

import (
	"context"
	"fmt"
	"sort"
	"time"

	crmv1 "google.golang.org/api/cloudresourcemanager/v1"
	crmv3 "google.golang.org/api/cloudresourcemanager/v3"
	"google.golang.org/api/option"
	"k8s.io/apimachinery/pkg/util/wait"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
	"go.cloudsolutions.dev/jitaccess/internal/auth"
	"go.cloudsolutions.dev/jitaccess/internal/condition"
	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

// requestReasonHeader carries the justification for an IAM change into
// the platform's audit trail.
const requestReasonHeader = "X-Goog-Request-Reason"

// conflictBackoff paces retries after an etag conflict: the initial
// attempt plus three retries, starting at 100ms.
var conflictBackoff = wait.Backoff{
	Duration: 100 * time.Millisecond,
	Factor:   2,
	Steps:    4,
}

// BindingOptions control how ApplyTemporaryBinding treats existing
// bindings.
type BindingOptions struct {
	// PurgeExistingTemporaryBindings removes previous temporary
	// bindings for the same principal and role before adding the new
	// one. Permanent bindings and bindings for other principals are
	// never touched.
	PurgeExistingTemporaryBindings bool

	// FailIfBindingExists aborts with AlreadyExists when a structurally
	// equal binding is already present. Used as a replay guard for
	// approval tokens.
	FailIfBindingExists bool
}

// ResourceManagerClient wraps the Cloud Resource Manager API. It owns
// the read-modify-write cycle on project IAM policies.
type ResourceManagerClient struct {
	service   *crmv3.Service
	serviceV1 *crmv1.Service
}

func NewResourceManagerClient(ctx context.Context, opts ...option.ClientOption) (*ResourceManagerClient, error) {
	opts = append([]option.ClientOption{option.WithUserAgent(UserAgent)}, opts...)

	service, err := crmv3.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager client: %w", err)
	}

	serviceV1, err := crmv1.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager v1 client: %w", err)
	}

	return &ResourceManagerClient{
		service:   service,
		serviceV1: serviceV1,
	}, nil
}

// modifyIamPolicy runs one read-modify-write cycle per attempt against
// a project's IAM policy, relying on the platform's etag check to
// detect concurrent modification. On conflict the cycle restarts with a
// fresh read; writes are never serialized through a process-wide lock.
func (c *ResourceManagerClient) modifyIamPolicy(
	ctx context.Context,
	project resource.ProjectID,
	modify func(policy *crmv3.Policy) error,
	reason string,
) error {
	attempt := func() (bool, error) {
		policy, err := c.service.Projects.GetIamPolicy(
			project.Path(),
			&crmv3.GetIamPolicyRequest{
				Options: &crmv3.GetPolicyOptions{RequestedPolicyVersion: 3},
			}).
			Context(ctx).
			Do()
		if err != nil {
			return false, translatePolicyError(err, project)
		}

		// Conditions require policy version 3.
		policy.Version = 3

		if err := modify(policy); err != nil {
			return false, err
		}

		setCall := c.service.Projects.SetIamPolicy(
			project.Path(),
			&crmv3.SetIamPolicyRequest{Policy: policy}).
			Context(ctx)
		setCall.Header().Set(requestReasonHeader, reason)

		if _, err := setCall.Do(); err != nil {
			if code := apiErrorCode(err); code == 409 || code == 412 {
				// Concurrent modification, reread and try again.
				return false, nil
			}
			return false, translatePolicyError(err, project)
		}

		return true, nil
	}

	err := wait.ExponentialBackoff(conflictBackoff, attempt)
	if wait.Interrupted(err) {
		return apierror.ConflictRetryExhausted(fmt.Sprintf(
			"failed to update the IAM policy of project '%s' due to concurrent modifications", project)).Err()
	}
	return err
}

// ApplyTemporaryBinding grants a principal a role on a project for a
// bounded time window. The purge of prior temporary bindings runs
// before the existence check, so re-activating replaces an expired
// grant instead of failing.
func (c *ResourceManagerClient) ApplyTemporaryBinding(
	ctx context.Context,
	project resource.ProjectID,
	principal auth.UserID,
	role string,
	start time.Time,
	end time.Time,
	reason string,
	options BindingOptions,
) error {
	temporary := condition.NewTemporaryAccess(start, end.Sub(start))
	newBinding := &crmv3.Binding{
		Role:    role,
		Members: []string{principal.PrincipalIdentifier()},
		Condition: &crmv3.Expr{
			Title:       temporary.Title,
			Description: reason,
			Expression:  temporary.Expression,
		},
	}

	return c.modifyIamPolicy(ctx, project, func(policy *crmv3.Policy) error {
		if options.PurgeExistingTemporaryBindings {
			now := time.Now()
			retained := policy.Bindings[:0]
			for _, binding := range policy.Bindings {
				if isObsoleteTemporaryBinding(binding, principal, role, now) {
					continue
				}
				retained = append(retained, binding)
			}
			policy.Bindings = retained
		}

		if options.FailIfBindingExists {
			for _, binding := range policy.Bindings {
				if bindingsEqual(binding, newBinding, true) {
					return apierror.AlreadyExists(fmt.Sprintf(
						"the binding for role '%s' has already been applied", role)).Err()
				}
			}
		}

		policy.Bindings = append(policy.Bindings, newBinding)
		return nil
	}, reason)
}

// isObsoleteTemporaryBinding identifies a lapsed temporary grant for
// exactly this principal and role. Still-valid grants are preserved so
// that the existence check can detect a replayed approval; anything
// else, including permanent bindings with unrelated conditions, is
// preserved too.
func isObsoleteTemporaryBinding(binding *crmv3.Binding, principal auth.UserID, role string, now time.Time) bool {
	return binding.Role == role &&
		binding.Condition != nil &&
		condition.IsTemporaryAccess(binding.Condition.Title) &&
		!condition.Evaluate(binding.Condition.Expression, now) &&
		len(binding.Members) == 1 &&
		binding.Members[0] == principal.PrincipalIdentifier()
}

// bindingsEqual compares role, member sets (order-insensitive), and,
// unless disabled, the condition's title, expression, and description.
func bindingsEqual(a, b *crmv3.Binding, compareCondition bool) bool {
	if a.Role != b.Role {
		return false
	}
	if !memberSetsEqual(a.Members, b.Members) {
		return false
	}

	if !compareCondition {
		return true
	}

	switch {
	case a.Condition == nil && b.Condition == nil:
		return true
	case a.Condition == nil || b.Condition == nil:
		return false
	default:
		return a.Condition.Title == b.Condition.Title &&
			a.Condition.Expression == b.Condition.Expression &&
			a.Condition.Description == b.Condition.Description
	}
}

func memberSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	sortedA := append([]string(nil), a...)
	sortedB := append([]string(nil), b...)
	sort.Strings(sortedA)
	sort.Strings(sortedB)

	for i := range sortedA {
		if sortedA[i] != sortedB[i] {
			return false
		}
	}
	return true
}

// SearchProjects returns projects matching a Resource Manager search
// query that are visible to the service's credentials.
func (c *ResourceManagerClient) SearchProjects(ctx context.Context, query string) ([]resource.ProjectID, error) {
	var projects []resource.ProjectID

	err := c.service.Projects.Search().
		Query(query).
		Pages(ctx, func(page *crmv3.SearchProjectsResponse) error {
			for _, project := range page.Projects {
				projects = append(projects, resource.ProjectID(project.ProjectId))
			}
			return nil
		})
	if err != nil {
		switch apiErrorCode(err) {
		case 401:
			return nil, apierror.NotAuthenticated("not authenticated").Err()
		case 403:
			return nil, apierror.AccessDenied(fmt.Sprintf("denied access to search projects with query '%s'", query)).Err()
		case 429:
			return nil, apierror.QuotaExceeded("exceeded quota for project search API requests").Err()
		default:
			return nil, err
		}
	}

	return projects, nil
}

// GetProjectEffectiveTags returns the tags attached to a project,
// including inherited ones.
func (c *ResourceManagerClient) GetProjectEffectiveTags(
	ctx context.Context,
	fullResourceName string,
) ([]*crmv3.EffectiveTag, error) {
	var tags []*crmv3.EffectiveTag

	err := c.service.EffectiveTags.List().
		Parent(fullResourceName).
		Pages(ctx, func(page *crmv3.ListEffectiveTagsResponse) error {
			tags = append(tags, page.EffectiveTags...)
			return nil
		})
	if err != nil {
		switch apiErrorCode(err) {
		case 401:
			return nil, apierror.NotAuthenticated("not authenticated").Err()
		case 403:
			return nil, apierror.AccessDenied(fmt.Sprintf("denied access to tags of '%s'", fullResourceName)).Err()
		case 404:
			return nil, apierror.NotFound(fmt.Sprintf("the resource '%s' does not exist", fullResourceName)).Err()
		default:
			return nil, err
		}
	}

	return tags, nil
}

// GetAncestry returns a project's ancestry, starting with the project
// itself and ending at the organization.
func (c *ResourceManagerClient) GetAncestry(ctx context.Context, project resource.ProjectID) ([]resource.ID, error) {
	response, err := c.serviceV1.Projects.GetAncestry(
		string(project),
		&crmv1.GetAncestryRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, translatePolicyError(err, project)
	}

	ancestry := make([]resource.ID, 0, len(response.Ancestor))
	for _, ancestor := range response.Ancestor {
		switch ancestor.ResourceId.Type {
		case "project":
			ancestry = append(ancestry, resource.ProjectID(ancestor.ResourceId.Id))
		case "folder":
			ancestry = append(ancestry, resource.FolderID(ancestor.ResourceId.Id))
		case "organization":
			ancestry = append(ancestry, resource.OrganizationID(ancestor.ResourceId.Id))
		}
	}
	return ancestry, nil
}

func translatePolicyError(err error, project resource.ProjectID) error {
	switch apiErrorCode(err) {
	case 401:
		return apierror.NotAuthenticated("not authenticated").Err()
	case 403:
		return apierror.AccessDenied(fmt.Sprintf(
			"denied access to project '%s', the role might not be grantable at this scope", project)).Err()
	case 404:
		return apierror.NotFound(fmt.Sprintf("the project '%s' does not exist", project)).Err()
	case 429:
		return apierror.QuotaExceeded("exceeded quota for Resource Manager API requests").Err()
	default:
		return err
	}
}
