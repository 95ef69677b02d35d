package resource

import (
	"fmt"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
)

// RoleBinding is the assignment of a role on a resource, irrespective
// of any principal. Value type; comparable.
type RoleBinding struct {
	// FullResourceName is the fully-qualified name of the resource the
	// role applies to.
	FullResourceName string

	// Role is the role name, for example "roles/browser".
	Role string
}

func (b RoleBinding) String() string {
	return fmt.Sprintf("%s:%s", b.FullResourceName, b.Role)
}

// ProjectRoleBinding is a RoleBinding that is known to refer to a
// project resource.
type ProjectRoleBinding struct {
	RoleBinding
}

// NewProjectRoleBinding builds a binding for a role on a project.
func NewProjectRoleBinding(project ProjectID, role string) ProjectRoleBinding {
	return ProjectRoleBinding{RoleBinding{
		FullResourceName: project.FullResourceName(),
		Role:             role,
	}}
}

// ProjectRoleBindingFromRoleBinding validates that the binding's
// resource is a project.
func ProjectRoleBindingFromRoleBinding(binding RoleBinding) (ProjectRoleBinding, error) {
	if !IsProjectFullResourceName(binding.FullResourceName) {
		return ProjectRoleBinding{}, apierror.InvalidArgument(
			fmt.Sprintf("'%s' is not a project-level binding", binding)).Err()
	}
	return ProjectRoleBinding{binding}, nil
}

// ProjectID returns the project the binding applies to.
func (b ProjectRoleBinding) ProjectID() ProjectID {
	id, err := ProjectFromFullResourceName(b.FullResourceName)
	if err != nil {
		// Unreachable for bindings built through the constructors.
		return ""
	}
	return id
}
