package project

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/cloudasset/v1"

	"go.cloudsolutions.dev/jitaccess/internal/auth"
	"go.cloudsolutions.dev/jitaccess/internal/catalog"
	"go.cloudsolutions.dev/jitaccess/internal/condition"
	"go.cloudsolutions.dev/jitaccess/internal/executor"
	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

var tracer = otel.Tracer("go.cloudsolutions.dev/jitaccess/internal/catalog/project")

// evaluationTrue and evaluationConditional are the condition evaluation
// states the Policy Analyzer reports for an access control list.
const (
	evaluationTrue        = "TRUE"
	evaluationConditional = "CONDITIONAL"
)

// PolicyAnalyzerRepositoryOptions configure the analysis scope and the
// optional project tag requirement.
type PolicyAnalyzerRepositoryOptions struct {
	// Scope is the organization, folder, or project the analysis runs
	// against, in "organizations/123" notation.
	Scope string

	// RequiredProjectTagPath, when set, restricts project discovery to
	// projects carrying this namespaced tag value.
	RequiredProjectTagPath string
}

// PolicyAnalyzerRepository finds entitlements with the Policy Analyzer
// API. The API resolves group memberships and inherited bindings
// server-side, so a single analysis call per project suffices.
type PolicyAnalyzerRepository struct {
	analyzer PolicyAnalyzer
	tags     ProjectTagReader
	pool     *executor.Pool
	options  PolicyAnalyzerRepositoryOptions
}

func NewPolicyAnalyzerRepository(
	analyzer PolicyAnalyzer,
	tags ProjectTagReader,
	pool *executor.Pool,
	options PolicyAnalyzerRepositoryOptions,
) *PolicyAnalyzerRepository {
	return &PolicyAnalyzerRepository{
		analyzer: analyzer,
		tags:     tags,
		pool:     pool,
		options:  options,
	}
}

// findRoleBindings narrows an analysis down to project-level role
// bindings whose condition and condition evaluation satisfy the given
// predicates.
//
// The attached resource of a binding is irrelevant here; what matters
// is which resources the binding applies to.
func findRoleBindings(
	analysis *cloudasset.IamPolicyAnalysis,
	conditionPredicate func(*cloudasset.Expr) bool,
	evaluationPredicate func(string) bool,
) []resource.RoleBinding {
	var bindings []resource.RoleBinding

	for _, result := range analysis.AnalysisResults {
		if result.IamBinding == nil || !conditionPredicate(result.IamBinding.Condition) {
			continue
		}

		for _, acl := range result.AccessControlLists {
			evaluation := ""
			if acl.ConditionEvaluation != nil {
				evaluation = acl.ConditionEvaluation.EvaluationValue
			}
			if !evaluationPredicate(evaluation) {
				continue
			}

			for _, res := range acl.Resources {
				if !resource.IsProjectFullResourceName(res.FullResourceName) {
					continue
				}
				bindings = append(bindings, resource.RoleBinding{
					FullResourceName: res.FullResourceName,
					Role:             result.IamBinding.Role,
				})
			}
		}
	}

	return bindings
}

// FindProjectsWithEntitlements lists the projects the user holds any
// permanent or eligible binding on.
//
// To reliably find projects, the analysis must consider inherited role
// bindings, which requires expanding resources. The resulting resource
// list can grow large enough for the API to truncate it, so the query
// filters on a permission that only has meaning on projects and
// represents the lowest level of project access.
func (r *PolicyAnalyzerRepository) FindProjectsWithEntitlements(
	ctx context.Context,
	user auth.UserID,
) ([]resource.ProjectID, error) {
	ctx, span := tracer.Start(ctx, "FindProjectsWithEntitlements")
	defer span.End()

	analysis, err := r.analyzer.FindAccessibleResourcesByUser(
		ctx,
		r.options.Scope,
		user,
		"resourcemanager.projects.get",
		"",
		true)
	if err != nil {
		return nil, err
	}

	bindings := findRoleBindings(
		analysis,
		func(cond *cloudasset.Expr) bool {
			return cond == nil ||
				condition.IsJitConstraint(cond.Expression) ||
				condition.IsMultiPartyApprovalConstraint(cond.Expression)
		},
		func(evaluation string) bool {
			return evaluation == "" ||
				strings.EqualFold(evaluation, evaluationTrue) ||
				strings.EqualFold(evaluation, evaluationConditional)
		})

	seen := make(map[resource.ProjectID]struct{})
	var projects []resource.ProjectID
	for _, binding := range bindings {
		project, err := resource.ProjectFromFullResourceName(binding.FullResourceName)
		if err != nil {
			continue
		}
		if _, ok := seen[project]; ok {
			continue
		}
		seen[project] = struct{}{}
		projects = append(projects, project)
	}

	if r.options.RequiredProjectTagPath != "" {
		projects, err = r.filterByRequiredTag(ctx, projects)
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(projects, func(i, j int) bool { return projects[i] < projects[j] })
	return projects, nil
}

// filterByRequiredTag keeps the projects that carry the required tag.
// Tags are read last because each project costs one Resource Manager
// call; the calls fan out over the shared worker pool and join before
// composing the result.
func (r *PolicyAnalyzerRepository) filterByRequiredTag(
	ctx context.Context,
	projects []resource.ProjectID,
) ([]resource.ProjectID, error) {
	var (
		mu       sync.Mutex
		filtered []resource.ProjectID
	)

	group, ctx := errgroup.WithContext(ctx)
	for _, project := range projects {
		group.Go(func() error {
			if err := r.pool.Acquire(); err != nil {
				return err
			}
			defer r.pool.Release()

			tags, err := r.tags.GetProjectEffectiveTags(ctx, project.FullResourceName())
			if err != nil {
				return err
			}

			for _, tag := range tags {
				if tag.NamespacedTagValue == r.options.RequiredProjectTagPath {
					mu.Lock()
					filtered = append(filtered, project)
					mu.Unlock()
					return nil
				}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return filtered, nil
}

// FindEntitlements returns the user's eligible and active role bindings
// on a project.
//
// The existence of an eligibility condition alone is not sufficient; it
// must sit on a binding that applies to the user. The analysis
// considers group memberships if the service's credentials hold the
// Groups Reader admin role.
func (r *PolicyAnalyzerRepository) FindEntitlements(
	ctx context.Context,
	user auth.UserID,
	project resource.ProjectID,
	types []catalog.ActivationType,
	statuses []catalog.Status,
) (*catalog.EntitlementSet, error) {
	ctx, span := tracer.Start(ctx, "FindEntitlements")
	defer span.End()

	analysis, err := r.analyzer.FindAccessibleResourcesByUser(
		ctx,
		r.options.Scope,
		user,
		"",
		project.FullResourceName(),
		false)
	if err != nil {
		return nil, err
	}

	available := make(map[resource.ProjectRoleBinding]catalog.Entitlement)
	if containsStatus(statuses, catalog.StatusAvailable) {
		// JIT-eligible bindings carry a marker condition that the
		// analyzer reports as CONDITIONAL.
		if containsType(types, catalog.JIT) {
			for _, binding := range findRoleBindings(
				analysis,
				func(cond *cloudasset.Expr) bool {
					return cond != nil && condition.IsJitConstraint(cond.Expression)
				},
				func(evaluation string) bool {
					return strings.EqualFold(evaluation, evaluationConditional)
				}) {
				projectRole, err := resource.ProjectRoleBindingFromRoleBinding(binding)
				if err != nil {
					continue
				}
				available[projectRole] = catalog.Entitlement{
					ID:             projectRole,
					Name:           binding.Role,
					ActivationType: catalog.JIT,
					Status:         catalog.StatusAvailable,
				}
			}
		}

		// If a role is both JIT- and MPA-eligible, the JIT eligibility
		// wins.
		if containsType(types, catalog.MPA) {
			for _, binding := range findRoleBindings(
				analysis,
				func(cond *cloudasset.Expr) bool {
					return cond != nil && condition.IsMultiPartyApprovalConstraint(cond.Expression)
				},
				func(evaluation string) bool {
					return strings.EqualFold(evaluation, evaluationConditional)
				}) {
				projectRole, err := resource.ProjectRoleBindingFromRoleBinding(binding)
				if err != nil {
					continue
				}
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
		// Bindings that have been activated carry a time condition
		// created by us; a TRUE evaluation indicates it's still valid.
		for _, binding := range findRoleBindings(
			analysis,
			func(cond *cloudasset.Expr) bool {
				return cond != nil && condition.IsTemporaryAccess(cond.Title)
			},
			func(evaluation string) bool {
				return strings.EqualFold(evaluation, evaluationTrue)
			}) {
			projectRole, err := resource.ProjectRoleBindingFromRoleBinding(binding)
			if err != nil {
				continue
			}
			active[projectRole] = struct{}{}
		}
	}

	var warnings []string
	for _, nonCritical := range analysis.NonCriticalErrors {
		warnings = append(warnings, nonCritical.Cause)
	}

	entitlements := make([]catalog.Entitlement, 0, len(available))
	for _, entitlement := range available {
		entitlements = append(entitlements, entitlement)
	}
	catalog.SortEntitlements(entitlements)

	return &catalog.EntitlementSet{
		Available: entitlements,
		Active:    active,
		Warnings:  warnings,
	}, nil
}

// FindEntitlementHolders returns the users holding an eligible binding
// for the role, directly or through a group the analyzer expanded.
func (r *PolicyAnalyzerRepository) FindEntitlementHolders(
	ctx context.Context,
	binding resource.ProjectRoleBinding,
	activationType catalog.ActivationType,
) ([]auth.UserID, error) {
	ctx, span := tracer.Start(ctx, "FindEntitlementHolders")
	defer span.End()

	analysis, err := r.analyzer.FindPermissionedPrincipalsByResource(
		ctx,
		r.options.Scope,
		binding.FullResourceName,
		binding.Role)
	if err != nil {
		return nil, err
	}

	seen := make(map[auth.UserID]struct{})
	var holders []auth.UserID

	for _, result := range analysis.AnalysisResults {
		if result.IamBinding == nil ||
			result.IamBinding.Condition == nil ||
			!catalog.IsApprovalConstraint(result.IamBinding.Condition.Expression, activationType) {
			continue
		}
		if result.IdentityList == nil {
			continue
		}

		for _, identity := range result.IdentityList.Identities {
			user, ok := auth.UserFromPrincipalIdentifier(identity.Name)
			if !ok {
				continue
			}
			if _, dup := seen[user]; dup {
				continue
			}
			seen[user] = struct{}{}
			holders = append(holders, user)
		}
	}

	sort.Slice(holders, func(i, j int) bool { return holders[i].Email < holders[j].Email })
	return holders, nil
}

// nowFunc is replaced in tests.
var nowFunc = time.Now
