package project

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/cloudasset/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
	"go.cloudsolutions.dev/jitaccess/internal/auth"
	"go.cloudsolutions.dev/jitaccess/internal/catalog"
	"go.cloudsolutions.dev/jitaccess/internal/condition"
	"go.cloudsolutions.dev/jitaccess/internal/executor"
	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

// AssetInventoryRepositoryOptions configure the analysis scope.
type AssetInventoryRepositoryOptions struct {
	// Scope is the organization, folder, or project whose effective
	// policies are fetched, in "organizations/123" notation.
	Scope string
}

// AssetInventoryRepository finds entitlements with the plain Asset
// Inventory API, without the Policy Analyzer subset. Group memberships
// are resolved client-side through the Directory API, so lookups fan
// out over the shared worker pool.
type AssetInventoryRepository struct {
	assets  AssetInventory
	groups  DirectoryGroups
	pool    *executor.Pool
	options AssetInventoryRepositoryOptions
}

func NewAssetInventoryRepository(
	assets AssetInventory,
	groups DirectoryGroups,
	pool *executor.Pool,
	options AssetInventoryRepositoryOptions,
) *AssetInventoryRepository {
	return &AssetInventoryRepository{
		assets:  assets,
		groups:  groups,
		pool:    pool,
		options: options,
	}
}

// principalSet is the set of principal identifiers a user matches:
// themselves plus their direct groups.
type principalSet map[string]struct{}

func newPrincipalSet(user auth.UserID, groupEmails []string) principalSet {
	set := make(principalSet, len(groupEmails)+1)
	set[user.PrincipalIdentifier()] = struct{}{}
	for _, email := range groupEmails {
		set[auth.GroupID{Email: email}.PrincipalIdentifier()] = struct{}{}
	}
	return set
}

func (s principalSet) isMember(binding *cloudasset.Binding) bool {
	for _, member := range binding.Members {
		if _, ok := s[member]; ok {
			return true
		}
	}
	return false
}

// findProjectBindings looks up, in parallel, the effective set of IAM
// policies applying to the project (its own policy plus its ancestry)
// and the groups the user is a member of, then keeps the bindings that
// apply to the user.
func (r *AssetInventoryRepository) findProjectBindings(
	ctx context.Context,
	user auth.UserID,
	project resource.ProjectID,
) ([]*cloudasset.Binding, error) {
	var (
		groupEmails []string
		policies    []*cloudasset.PolicyInfo
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := r.pool.Acquire(); err != nil {
			return err
		}
		defer r.pool.Release()

		memberships, err := r.groups.ListDirectGroupMemberships(ctx, user)
		if err != nil {
			return err
		}
		for _, membership := range memberships {
			groupEmails = append(groupEmails, membership.Email)
		}
		return nil
	})
	group.Go(func() error {
		if err := r.pool.Acquire(); err != nil {
			return err
		}
		defer r.pool.Release()

		var err error
		policies, err = r.assets.GetEffectiveIamPolicies(ctx, r.options.Scope, project)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	principals := newPrincipalSet(user, groupEmails)

	var bindings []*cloudasset.Binding
	for _, policy := range policies {
		if policy.Policy == nil {
			continue
		}
		for _, binding := range policy.Policy.Bindings {
			if principals.isMember(binding) {
				bindings = append(bindings, binding)
			}
		}
	}
	return bindings, nil
}

// FindProjectsWithEntitlements is not supported by this repository
// variant; deployments using it must configure a projects search query
// instead.
func (r *AssetInventoryRepository) FindProjectsWithEntitlements(
	ctx context.Context,
	user auth.UserID,
) ([]resource.ProjectID, error) {
	return nil, apierror.NotSupported(
		"listing projects is not supported, use a project search query to determine available projects").Err()
}

// FindEntitlements returns the user's eligible and active role bindings
// on a project.
func (r *AssetInventoryRepository) FindEntitlements(
	ctx context.Context,
	user auth.UserID,
	project resource.ProjectID,
	types []catalog.ActivationType,
	statuses []catalog.Status,
) (*catalog.EntitlementSet, error) {
	ctx, span := tracer.Start(ctx, "FindEntitlements")
	defer span.End()

	bindings, err := r.findProjectBindings(ctx, user, project)
	if err != nil {
		return nil, err
	}

	available := make(map[resource.ProjectRoleBinding]catalog.Entitlement)
	if containsStatus(statuses, catalog.StatusAvailable) {
		if containsType(types, catalog.JIT) {
			for _, binding := range bindings {
				if binding.Condition == nil || !condition.IsJitConstraint(binding.Condition.Expression) {
					continue
				}
				projectRole := resource.NewProjectRoleBinding(project, binding.Role)
				available[projectRole] = catalog.Entitlement{
					ID:             projectRole,
					Name:           binding.Role,
					ActivationType: catalog.JIT,
					Status:         catalog.StatusAvailable,
				}
			}
		}

		// JIT eligibility wins over MPA eligibility for the same role.
		if containsType(types, catalog.MPA) {
			for _, binding := range bindings {
				if binding.Condition == nil || !condition.IsMultiPartyApprovalConstraint(binding.Condition.Expression) {
					continue
				}
				projectRole := resource.NewProjectRoleBinding(project, binding.Role)
				if _, ok := available[projectRole]; ok {
					continue
				}
				available[projectRole] = catalog.Entitlement{
					ID:             projectRole,
					Name:           binding.Role,
					ActivationType: catalog.MPA,
					Status:         catalog.StatusAvailable,
				}
			}
		}
	}

	active := make(map[resource.ProjectRoleBinding]struct{})
	if containsStatus(statuses, catalog.StatusActive) {
		now := nowFunc()
		for _, binding := range bindings {
			if binding.Condition == nil ||
				!condition.IsTemporaryAccess(binding.Condition.Title) ||
				!condition.Evaluate(binding.Condition.Expression, now) {
				continue
			}
			active[resource.NewProjectRoleBinding(project, binding.Role)] = struct{}{}
		}
	}

	entitlements := make([]catalog.Entitlement, 0, len(available))
	for _, entitlement := range available {
		entitlements = append(entitlements, entitlement)
	}
	catalog.SortEntitlements(entitlements)

	return &catalog.EntitlementSet{
		Available: entitlements,
		Active:    active,
	}, nil
}

// FindEntitlementHolders returns the users holding an eligible binding
// for the role. Group-typed principals are expanded concurrently by
// listing their direct members.
func (r *AssetInventoryRepository) FindEntitlementHolders(
	ctx context.Context,
	binding resource.ProjectRoleBinding,
	activationType catalog.ActivationType,
) ([]auth.UserID, error) {
	ctx, span := tracer.Start(ctx, "FindEntitlementHolders")
	defer span.End()

	policies, err := r.assets.GetEffectiveIamPolicies(ctx, r.options.Scope, binding.ProjectID())
	if err != nil {
		return nil, err
	}

	principals := make(map[string]struct{})
	for _, policy := range policies {
		if policy.Policy == nil {
			continue
		}
		for _, candidate := range policy.Policy.Bindings {
			if candidate.Role != binding.Role {
				continue
			}
			if candidate.Condition == nil ||
				!catalog.IsApprovalConstraint(candidate.Condition.Expression, activationType) {
				continue
			}
			for _, member := range candidate.Members {
				principals[member] = struct{}{}
			}
		}
	}

	holders := make(map[auth.UserID]struct{})
	var (
		mu    sync.Mutex
		group errgroup.Group
	)

	for principal := range principals {
		if user, ok := auth.UserFromPrincipalIdentifier(principal); ok {
			holders[user] = struct{}{}
			continue
		}

		groupID, ok := auth.GroupFromPrincipalIdentifier(principal)
		if !ok {
			continue
		}

		group.Go(func() error {
			if err := r.pool.Acquire(); err != nil {
				return err
			}
			defer r.pool.Release()

			members, err := r.groups.ListDirectGroupMembers(ctx, groupID.Email)
			if err != nil {
				// Access might be denied if this is an external group,
				// which is okay.
				if status.Code(err) == codes.PermissionDenied {
					return nil
				}
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			for _, member := range members {
				holders[auth.UserID{Email: member.Email}] = struct{}{}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	sorted := make([]auth.UserID, 0, len(holders))
	for user := range holders {
		sorted = append(sorted, user)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Email < sorted[j].Email })
	return sorted, nil
}
