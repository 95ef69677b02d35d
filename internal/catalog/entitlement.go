// Package catalog implements the entitlement and activation model: the
// value objects describing what a user may activate, the policy checks
// applied to activation requests, the signed approval tokens used for
// multi-party approval, and the orchestration of the activation itself.
package catalog

import (
	"sort"

	"go.cloudsolutions.dev/jitaccess/internal/condition"
	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

// ActivationType describes how an entitlement can be activated.
type ActivationType int

const (
	// JIT entitlements only require self-approval.
	JIT ActivationType = iota

	// MPA entitlements require approval by one or more peers.
	MPA
)

func (t ActivationType) String() string {
	switch t {
	case JIT:
		return "JIT"
	case MPA:
		return "MPA"
	default:
		return "NONE"
	}
}

// IsApprovalConstraint reports whether a condition expression is the
// eligibility marker matching the given activation type.
func IsApprovalConstraint(expression string, activationType ActivationType) bool {
	switch activationType {
	case JIT:
		return condition.IsJitConstraint(expression)
	case MPA:
		return condition.IsMultiPartyApprovalConstraint(expression)
	default:
		return false
	}
}

// Status describes the lifecycle state of an entitlement.
type Status int

const (
	// StatusAvailable entitlements can be activated.
	StatusAvailable Status = iota

	// StatusActive entitlements are currently activated.
	StatusActive

	// StatusActivationPending entitlements have an activation awaiting
	// peer approval.
	StatusActivationPending
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "AVAILABLE"
	case StatusActive:
		return "ACTIVE"
	case StatusActivationPending:
		return "ACTIVATION_PENDING"
	default:
		return "UNKNOWN"
	}
}

// Entitlement is a role that a user is allowed to activate, or has
// activated, on a project.
type Entitlement struct {
	ID             resource.ProjectRoleBinding
	Name           string
	ActivationType ActivationType
	Status         Status
}

// SortEntitlements orders entitlements by status, then by display name.
func SortEntitlements(entitlements []Entitlement) {
	sort.Slice(entitlements, func(i, j int) bool {
		if entitlements[i].Status != entitlements[j].Status {
			return entitlements[i].Status < entitlements[j].Status
		}
		return entitlements[i].Name < entitlements[j].Name
	})
}

// EntitlementSet is the result of an entitlement discovery: the
// entitlements available for activation, the role bindings that are
// currently active, and any non-critical warnings encountered during
// discovery.
type EntitlementSet struct {
	// Available is sorted by status, then name. A given role binding
	// appears at most once.
	Available []Entitlement

	// Active holds role bindings with a currently-valid temporary
	// grant. May intersect Available by role binding.
	Active map[resource.ProjectRoleBinding]struct{}

	// Warnings carries non-critical discovery errors verbatim.
	Warnings []string
}

// Consolidated merges available and active entitlements into a single
// sorted list, promoting entitlements that are both available and
// active to ACTIVE.
func (s *EntitlementSet) Consolidated() []Entitlement {
	var merged []Entitlement
	seen := make(map[resource.ProjectRoleBinding]struct{})

	for _, entitlement := range s.Available {
		if _, active := s.Active[entitlement.ID]; active {
			entitlement.Status = StatusActive
		}
		merged = append(merged, entitlement)
		seen[entitlement.ID] = struct{}{}
	}

	// Active bindings without a corresponding eligibility, for example
	// after the eligibility was revoked mid-activation.
	for binding := range s.Active {
		if _, ok := seen[binding]; ok {
			continue
		}
		merged = append(merged, Entitlement{
			ID:             binding,
			Name:           binding.Role,
			ActivationType: JIT,
			Status:         StatusActive,
		})
	}

	SortEntitlements(merged)
	return merged
}
