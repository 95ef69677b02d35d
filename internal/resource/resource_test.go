package resource_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

func TestProjectID(t *testing.T) {
	project := resource.ProjectID("project-1")

	assert.Equal(t, "project-1", project.ID())
	assert.Equal(t, "project", project.Type())
	assert.Equal(t, "projects/project-1", project.Path())
	assert.Equal(t,
		"//cloudresourcemanager.googleapis.com/projects/project-1",
		project.FullResourceName())
}

func TestProjectFromFullResourceName(t *testing.T) {
	testCases := []struct {
		desc    string
		name    string
		project resource.ProjectID
		wantErr bool
	}{
		{
			desc:    "project",
			name:    "//cloudresourcemanager.googleapis.com/projects/project-1",
			project: "project-1",
		},
		{
			desc:    "folder",
			name:    "//cloudresourcemanager.googleapis.com/folders/123",
			wantErr: true,
		},
		{
			desc:    "prefix without an id",
			name:    "//cloudresourcemanager.googleapis.com/projects/",
			wantErr: true,
		},
		{
			desc:    "garbage",
			name:    "project-1",
			wantErr: true,
		},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			project, err := resource.ProjectFromFullResourceName(tC.name)
			if tC.wantErr {
				require.Error(t, err)
				assert.Equal(t, codes.InvalidArgument, status.Code(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tC.project, project)
		})
	}
}

func TestProjectRoleBinding(t *testing.T) {
	binding := resource.NewProjectRoleBinding("project-1", "roles/viewer")

	assert.Equal(t, "project-1", string(binding.ProjectID()))
	assert.Equal(t, "roles/viewer", binding.Role)
	assert.Equal(t,
		"//cloudresourcemanager.googleapis.com/projects/project-1:roles/viewer",
		binding.String())
}

func TestProjectRoleBindingFromRoleBinding(t *testing.T) {
	binding, err := resource.ProjectRoleBindingFromRoleBinding(resource.RoleBinding{
		FullResourceName: "//cloudresourcemanager.googleapis.com/projects/project-1",
		Role:             "roles/viewer",
	})
	require.NoError(t, err)
	assert.Equal(t, resource.ProjectID("project-1"), binding.ProjectID())

	_, err = resource.ProjectRoleBindingFromRoleBinding(resource.RoleBinding{
		FullResourceName: "//cloudresourcemanager.googleapis.com/folders/123",
		Role:             "roles/viewer",
	})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHierarchyFullResourceNames(t *testing.T) {
	assert.Equal(t,
		"//cloudresourcemanager.googleapis.com/folders/123",
		resource.FolderID("123").FullResourceName())
	assert.Equal(t,
		"//cloudresourcemanager.googleapis.com/organizations/456",
		resource.OrganizationID("456").FullResourceName())
}
