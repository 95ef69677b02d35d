package project

import (
	"context"
	"fmt"
	"time"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
	"go.cloudsolutions.dev/jitaccess/internal/auth"
	"go.cloudsolutions.dev/jitaccess/internal/catalog"
	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

// Options bound what users can request through the catalog.
type Options struct {
	// Scope is the organization, folder, or project entitlement
	// discovery runs against.
	Scope string

	// ActivationTimeout is the maximum duration an activation may be
	// requested for.
	ActivationTimeout time.Duration

	// ActivationRequestTimeout is how long an approval request stays
	// open before reviewers can no longer act on it.
	ActivationRequestTimeout time.Duration

	// MinReviewers and MaxReviewers bound the reviewer list of an
	// approval request.
	MinReviewers int
	MaxReviewers int

	// MaxActivationsPerRequest caps the number of roles a self-approved
	// request may activate at once.
	MaxActivationsPerRequest int

	// AvailableProjectsQuery, when set, switches project discovery from
	// entitlement analysis to a Resource Manager project search. Faster,
	// but may list projects the user has no entitlements on.
	AvailableProjectsQuery string
}

// Catalog exposes the entitlements users can request and enforces
// catalog policy on activation requests before they reach the
// activator.
type Catalog struct {
	repository ProjectRoleRepository
	searcher   ProjectSearcher
	options    Options
}

func NewCatalog(repository ProjectRoleRepository, searcher ProjectSearcher, options Options) *Catalog {
	return &Catalog{
		repository: repository,
		searcher:   searcher,
		options:    options,
	}
}

func (c *Catalog) Options() Options {
	return c.options
}

// ListProjects returns the projects the user can request access to.
//
// When a projects query is configured, discovery delegates to a project
// search under the service's credentials. That scales better than
// policy analysis but may over-report, so the result is a hint; the
// per-project entitlement listing remains authoritative.
func (c *Catalog) ListProjects(ctx context.Context, user auth.UserID) ([]resource.ProjectID, error) {
	if c.options.AvailableProjectsQuery != "" {
		return c.searcher.SearchProjects(ctx, c.options.AvailableProjectsQuery)
	}
	return c.repository.FindProjectsWithEntitlements(ctx, user)
}

// ListEntitlements returns the user's available and active entitlements
// on a project.
func (c *Catalog) ListEntitlements(
	ctx context.Context,
	user auth.UserID,
	project resource.ProjectID,
) (*catalog.EntitlementSet, error) {
	set, err := c.repository.FindEntitlements(
		ctx,
		user,
		project,
		[]catalog.ActivationType{catalog.JIT, catalog.MPA},
		[]catalog.Status{catalog.StatusAvailable, catalog.StatusActive})
	if err != nil {
		return nil, err
	}

	set.Available = set.Consolidated()
	return set, nil
}

// ListReviewers returns the users that could approve an activation of
// the given role binding, excluding the requesting user.
func (c *Catalog) ListReviewers(
	ctx context.Context,
	user auth.UserID,
	binding resource.ProjectRoleBinding,
) ([]auth.UserID, error) {
	if err := c.verifyUserCanActivate(ctx, user, binding.ProjectID(),
		[]resource.ProjectRoleBinding{binding}, catalog.MPA); err != nil {
		return nil, err
	}

	holders, err := c.repository.FindEntitlementHolders(ctx, binding, catalog.MPA)
	if err != nil {
		return nil, err
	}

	reviewers := holders[:0]
	for _, holder := range holders {
		if holder != user {
			reviewers = append(reviewers, holder)
		}
	}
	return reviewers, nil
}

// verifyUserCanActivate checks that every requested role binding is
// currently available to the user for the given activation type.
func (c *Catalog) verifyUserCanActivate(
	ctx context.Context,
	user auth.UserID,
	project resource.ProjectID,
	bindings []resource.ProjectRoleBinding,
	activationType catalog.ActivationType,
) error {
	set, err := c.repository.FindEntitlements(
		ctx,
		user,
		project,
		[]catalog.ActivationType{activationType},
		[]catalog.Status{catalog.StatusAvailable})
	if err != nil {
		return err
	}

	available := make(map[resource.ProjectRoleBinding]struct{}, len(set.Available))
	for _, entitlement := range set.Available {
		available[entitlement.ID] = struct{}{}
	}

	for _, binding := range bindings {
		if _, ok := available[binding]; !ok {
			return apierror.AccessDenied(fmt.Sprintf(
				"the user %s is not allowed to activate the role %s on %s",
				user.Email, binding.Role, binding.ProjectID())).Err()
		}
	}
	return nil
}

// VerifyUserCanRequest checks that the requesting user holds all the
// entitlements an activation request asks for.
func (c *Catalog) VerifyUserCanRequest(ctx context.Context, request *catalog.ActivationRequest) error {
	return c.verifyUserCanActivate(
		ctx,
		request.RequestingUser,
		request.Entitlements[0].ProjectID(),
		request.Entitlements,
		request.Type)
}

// VerifyUserCanApprove checks that the approving user themselves holds
// the entitlement they are about to approve for someone else.
func (c *Catalog) VerifyUserCanApprove(
	ctx context.Context,
	approver auth.UserID,
	request *catalog.ActivationRequest,
) error {
	return c.verifyUserCanActivate(
		ctx,
		approver,
		request.Entitlements[0].ProjectID(),
		request.Entitlements,
		request.Type)
}
