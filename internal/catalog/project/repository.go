// Package project implements the project role catalog: discovering the
// entitlements a user holds on projects, enforcing catalog policy on
// activation requests, and orchestrating activations.
package project

import (
	"context"

	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/cloudasset/v1"
	crmv3 "google.golang.org/api/cloudresourcemanager/v3"

	"go.cloudsolutions.dev/jitaccess/internal/auth"
	"go.cloudsolutions.dev/jitaccess/internal/catalog"
	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

// ProjectRoleRepository finds the eligible and active role bindings a
// user holds on a project. Entitlements as used here are role bindings
// annotated with a special IAM condition that makes the binding
// eligible.
type ProjectRoleRepository interface {
	// FindProjectsWithEntitlements returns the projects on which the
	// user holds any permanent or eligible binding, sorted by id.
	FindProjectsWithEntitlements(ctx context.Context, user auth.UserID) ([]resource.ProjectID, error)

	// FindEntitlements returns the user's entitlements on a project,
	// restricted to the requested activation types and statuses.
	FindEntitlements(
		ctx context.Context,
		user auth.UserID,
		project resource.ProjectID,
		types []catalog.ActivationType,
		statuses []catalog.Status,
	) (*catalog.EntitlementSet, error)

	// FindEntitlementHolders returns the users that hold an eligible
	// binding for the given role, i.e. the users who could approve an
	// activation request for it.
	FindEntitlementHolders(
		ctx context.Context,
		binding resource.ProjectRoleBinding,
		activationType catalog.ActivationType,
	) ([]auth.UserID, error)
}

// PolicyAnalyzer is the slice of the Policy Analyzer API consumed by
// the repository.
type PolicyAnalyzer interface {
	FindAccessibleResourcesByUser(
		ctx context.Context,
		scope string,
		user auth.UserID,
		permission string,
		fullResourceName string,
		expandResources bool,
	) (*cloudasset.IamPolicyAnalysis, error)

	FindPermissionedPrincipalsByResource(
		ctx context.Context,
		scope string,
		fullResourceName string,
		role string,
	) (*cloudasset.IamPolicyAnalysis, error)
}

// AssetInventory is the slice of the Asset Inventory API consumed by
// the repository.
type AssetInventory interface {
	GetEffectiveIamPolicies(ctx context.Context, scope string, project resource.ProjectID) ([]*cloudasset.PolicyInfo, error)
}

// DirectoryGroups resolves group memberships.
type DirectoryGroups interface {
	ListDirectGroupMemberships(ctx context.Context, user auth.UserID) ([]*admin.Group, error)
	ListDirectGroupMembers(ctx context.Context, groupEmail string) ([]*admin.Member, error)
}

// ProjectTagReader reads a project's effective tags.
type ProjectTagReader interface {
	GetProjectEffectiveTags(ctx context.Context, fullResourceName string) ([]*crmv3.EffectiveTag, error)
}

// ProjectSearcher runs a Resource Manager project search.
type ProjectSearcher interface {
	SearchProjects(ctx context.Context, query string) ([]resource.ProjectID, error)
}

func containsType(types []catalog.ActivationType, t catalog.ActivationType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsStatus(statuses []catalog.Status, s catalog.Status) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
