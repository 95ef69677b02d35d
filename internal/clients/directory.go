package clients

import (
	"context"
	"fmt"
	"time"

	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/option"
	"k8s.io/apimachinery/pkg/util/wait"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
	"go.cloudsolutions.dev/jitaccess/internal/auth"
)

// transientLookupBackoff paces retries for group lookups that fail with
// quota pushback or server-side faults.
var transientLookupBackoff = wait.Backoff{
	Duration: 200 * time.Millisecond,
	Factor:   2,
	Steps:    3,
}

// DirectoryGroupsClient wraps the Admin SDK Directory API for group
// membership lookups. Requires the service's credentials to hold the
// Groups Reader admin role.
type DirectoryGroupsClient struct {
	service *admin.Service
}

func NewDirectoryGroupsClient(ctx context.Context, opts ...option.ClientOption) (*DirectoryGroupsClient, error) {
	opts = append([]option.ClientOption{option.WithUserAgent(UserAgent)}, opts...)

	service, err := admin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory client: %w", err)
	}

	return &DirectoryGroupsClient{service: service}, nil
}

// ListDirectGroupMemberships returns the groups the user is a direct
// member of.
func (c *DirectoryGroupsClient) ListDirectGroupMemberships(
	ctx context.Context,
	user auth.UserID,
) ([]*admin.Group, error) {
	var groups []*admin.Group

	err := c.withTransientRetry(func() error {
		groups = groups[:0]
		return c.service.Groups.List().
			UserKey(user.Email).
			Pages(ctx, func(page *admin.Groups) error {
				groups = append(groups, page.Groups...)
				return nil
			})
	})
	if err != nil {
		return nil, translateDirectoryError(err, user.Email)
	}

	return groups, nil
}

// ListDirectGroupMembers returns the direct members of a group. Nested
// groups are not expanded.
func (c *DirectoryGroupsClient) ListDirectGroupMembers(
	ctx context.Context,
	groupEmail string,
) ([]*admin.Member, error) {
	var members []*admin.Member

	err := c.withTransientRetry(func() error {
		members = members[:0]
		return c.service.Members.List(groupEmail).
			Pages(ctx, func(page *admin.Members) error {
				members = append(members, page.Members...)
				return nil
			})
	})
	if err != nil {
		return nil, translateDirectoryError(err, groupEmail)
	}

	return members, nil
}

func (c *DirectoryGroupsClient) withTransientRetry(call func() error) error {
	var lastErr error

	err := wait.ExponentialBackoff(transientLookupBackoff, func() (bool, error) {
		lastErr = call()
		if lastErr == nil {
			return true, nil
		}
		if isRetriable(lastErr) {
			return false, nil
		}
		return false, lastErr
	})
	if wait.Interrupted(err) {
		return lastErr
	}
	return err
}

func translateDirectoryError(err error, key string) error {
	switch apiErrorCode(err) {
	case 401:
		return apierror.NotAuthenticated("not authenticated").Err()
	case 403:
		return apierror.AccessDenied(fmt.Sprintf(
			"denied access to list groups for '%s', the application might lack the Groups Reader admin role", key)).Err()
	case 404:
		return apierror.NotFound(fmt.Sprintf("'%s' is unknown to the directory", key)).Err()
	case 429:
		return apierror.QuotaExceeded("exceeded quota for Directory API requests").Err()
	default:
		return err
	}
}
