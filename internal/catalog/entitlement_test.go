package catalog_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"go.cloudsolutions.dev/jitaccess/internal/catalog"
	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

func TestIsApprovalConstraint(t *testing.T) {
	assert.True(t, catalog.IsApprovalConstraint("has({}.jitAccessConstraint)", catalog.JIT))
	assert.True(t, catalog.IsApprovalConstraint("has({}.multiPartyApprovalConstraint)", catalog.MPA))
	assert.False(t, catalog.IsApprovalConstraint("has({}.jitAccessConstraint)", catalog.MPA))
	assert.False(t, catalog.IsApprovalConstraint("has({}.multiPartyApprovalConstraint)", catalog.JIT))
	assert.False(t, catalog.IsApprovalConstraint("resource.name == 'x'", catalog.JIT))
}

func TestSortEntitlements(t *testing.T) {
	entitlements := []catalog.Entitlement{
		{Name: "roles/viewer", Status: catalog.StatusAvailable},
		{Name: "roles/browser", Status: catalog.StatusActive},
		{Name: "roles/editor", Status: catalog.StatusAvailable},
	}

	catalog.SortEntitlements(entitlements)

	var names []string
	for _, entitlement := range entitlements {
		names = append(names, entitlement.Name)
	}
	assert.Equal(t, []string{"roles/editor", "roles/viewer", "roles/browser"}, names)
}

func TestConsolidatedPromotesActiveEntitlements(t *testing.T) {
	viewer := resource.NewProjectRoleBinding("project-1", "roles/viewer")
	editor := resource.NewProjectRoleBinding("project-1", "roles/editor")

	set := &catalog.EntitlementSet{
		Available: []catalog.Entitlement{
			{ID: viewer, Name: "roles/viewer", ActivationType: catalog.JIT, Status: catalog.StatusAvailable},
			{ID: editor, Name: "roles/editor", ActivationType: catalog.MPA, Status: catalog.StatusAvailable},
		},
		Active: map[resource.ProjectRoleBinding]struct{}{
			viewer: {},
		},
	}

	want := []catalog.Entitlement{
		{ID: editor, Name: "roles/editor", ActivationType: catalog.MPA, Status: catalog.StatusAvailable},
		{ID: viewer, Name: "roles/viewer", ActivationType: catalog.JIT, Status: catalog.StatusActive},
	}
	if diff := cmp.Diff(want, set.Consolidated()); diff != "" {
		t.Errorf("unexpected consolidated entitlements (-want +got):\n%s", diff)
	}
}

func TestConsolidatedIncludesOrphanedActiveBindings(t *testing.T) {
	browser := resource.NewProjectRoleBinding("project-1", "roles/browser")

	set := &catalog.EntitlementSet{
		Active: map[resource.ProjectRoleBinding]struct{}{
			browser: {},
		},
	}

	merged := set.Consolidated()
	assert.Len(t, merged, 1)
	assert.Equal(t, browser, merged[0].ID)
	assert.Equal(t, catalog.StatusActive, merged[0].Status)
}
