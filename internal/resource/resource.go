// Package resource models the Cloud Resource Manager hierarchy:
// projects, folders, and organizations, identified by their short id or
// their fully-qualified resource name.
package resource

import (
	"fmt"
	"strings"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
)

const (
	projectPrefix      = "//cloudresourcemanager.googleapis.com/projects/"
	folderPrefix       = "//cloudresourcemanager.googleapis.com/folders/"
	organizationPrefix = "//cloudresourcemanager.googleapis.com/organizations/"
)

// ID is implemented by all resource identifiers in the hierarchy.
type ID interface {
	// ID returns the short identifier, for example "project-1".
	ID() string

	// Type returns "project", "folder", or "organization".
	Type() string

	// FullResourceName returns the fully-qualified name, for example
	// "//cloudresourcemanager.googleapis.com/projects/project-1".
	FullResourceName() string
}

// ProjectID identifies a project by its short id.
type ProjectID string

func (p ProjectID) ID() string   { return string(p) }
func (p ProjectID) Type() string { return "project" }

func (p ProjectID) FullResourceName() string {
	return projectPrefix + string(p)
}

// Path returns the "projects/<id>" notation used by the Resource
// Manager v3 API.
func (p ProjectID) Path() string {
	return "projects/" + string(p)
}

func (p ProjectID) String() string { return string(p) }

// IsProjectFullResourceName reports whether the given fully-qualified
// name refers to a project.
func IsProjectFullResourceName(name string) bool {
	return strings.HasPrefix(name, projectPrefix) &&
		len(name) > len(projectPrefix)
}

// ProjectFromFullResourceName parses a fully-qualified project name.
func ProjectFromFullResourceName(name string) (ProjectID, error) {
	if !IsProjectFullResourceName(name) {
		return "", apierror.InvalidArgument(fmt.Sprintf("'%s' is not a valid project resource name", name)).Err()
	}
	return ProjectID(strings.TrimPrefix(name, projectPrefix)), nil
}

// FolderID identifies a folder by its numeric id.
type FolderID string

func (f FolderID) ID() string   { return string(f) }
func (f FolderID) Type() string { return "folder" }

func (f FolderID) FullResourceName() string {
	return folderPrefix + string(f)
}

func (f FolderID) String() string { return string(f) }

// OrganizationID identifies an organization by its numeric id.
type OrganizationID string

func (o OrganizationID) ID() string   { return string(o) }
func (o OrganizationID) Type() string { return "organization" }

func (o OrganizationID) FullResourceName() string {
	return organizationPrefix + string(o)
}

func (o OrganizationID) String() string { return string(o) }
