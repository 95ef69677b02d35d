package catalog

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
	"go.cloudsolutions.dev/jitaccess/internal/auth"
	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

// MinActivationDuration is the shortest activation window a request may
// ask for.
const MinActivationDuration = time.Minute

// ActivationRequest is a user's request to activate one or more
// entitlements. Immutable once constructed; requests are equal by ID.
type ActivationRequest struct {
	// ID is an opaque, URL-safe identifier, unique per request. The
	// prefix encodes the activation type ("jit-" or "mpa-").
	ID string

	Type           ActivationType
	RequestingUser auth.UserID

	// Entitlements holds the role bindings to activate. For MPA
	// requests, exactly one.
	Entitlements []resource.ProjectRoleBinding

	// Reviewers holds the peers asked to approve. Empty for JIT.
	Reviewers []auth.UserID

	Justification string
	StartTime     time.Time
	EndTime       time.Time
}

func (r *ActivationRequest) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// HasReviewer reports whether the given user is one of the request's
// reviewers.
func (r *ActivationRequest) HasReviewer(user auth.UserID) bool {
	for _, reviewer := range r.Reviewers {
		if reviewer == user {
			return true
		}
	}
	return false
}

func newRequestID(activationType ActivationType) string {
	switch activationType {
	case MPA:
		return "mpa-" + uuid.NewString()
	default:
		return "jit-" + uuid.NewString()
	}
}

func validateWindow(start time.Time, duration, maxDuration time.Duration) error {
	if duration < MinActivationDuration {
		return apierror.InvalidArgument(fmt.Sprintf(
			"the activation duration must be at least %v", MinActivationDuration)).Err()
	}
	if duration > maxDuration {
		return apierror.InvalidArgument(fmt.Sprintf(
			"the activation duration must not exceed %v", maxDuration)).Err()
	}
	if start.IsZero() {
		return apierror.InvalidArgument("a start time is required").Err()
	}
	return nil
}

// NewJitRequest creates a self-approved activation request. All
// entitlements must belong to the same project.
func NewJitRequest(
	user auth.UserID,
	entitlements []resource.ProjectRoleBinding,
	justification string,
	start time.Time,
	duration time.Duration,
	maxDuration time.Duration,
	maxRoles int,
) (*ActivationRequest, error) {
	if len(entitlements) == 0 {
		return nil, apierror.InvalidArgument("select at least one role to activate").Err()
	}
	if len(entitlements) > maxRoles {
		return nil, apierror.InvalidArgument(fmt.Sprintf(
			"the number of roles exceeds the maximum of %d roles per request", maxRoles)).Err()
	}

	project := entitlements[0].ProjectID()
	for _, entitlement := range entitlements[1:] {
		if entitlement.ProjectID() != project {
			return nil, apierror.InvalidArgument(
				"all roles in a request must belong to the same project").Err()
		}
	}

	if err := validateWindow(start, duration, maxDuration); err != nil {
		return nil, err
	}

	return &ActivationRequest{
		ID:             newRequestID(JIT),
		Type:           JIT,
		RequestingUser: user,
		Entitlements:   entitlements,
		Justification:  justification,
		StartTime:      start,
		EndTime:        start.Add(duration),
	}, nil
}

// NewMpaRequest creates a multi-party approval request for a single
// role binding. The requesting user must not be among the reviewers.
func NewMpaRequest(
	user auth.UserID,
	entitlements []resource.ProjectRoleBinding,
	reviewers []auth.UserID,
	justification string,
	start time.Time,
	duration time.Duration,
	maxDuration time.Duration,
	minReviewers int,
	maxReviewers int,
) (*ActivationRequest, error) {
	if len(entitlements) != 1 {
		return nil, apierror.InvalidArgument(
			"exactly one role can be activated per approval request").Err()
	}

	unique := make([]auth.UserID, 0, len(reviewers))
	seen := make(map[auth.UserID]struct{}, len(reviewers))
	for _, reviewer := range reviewers {
		if reviewer == user {
			return nil, apierror.InvalidArgument(
				"the requesting user cannot be a reviewer").Err()
		}
		if _, ok := seen[reviewer]; ok {
			continue
		}
		seen[reviewer] = struct{}{}
		unique = append(unique, reviewer)
	}

	if len(unique) < minReviewers {
		return nil, apierror.InvalidArgument(fmt.Sprintf(
			"select at least %d reviewers", minReviewers)).Err()
	}
	if len(unique) > maxReviewers {
		return nil, apierror.InvalidArgument(fmt.Sprintf(
			"select at most %d reviewers", maxReviewers)).Err()
	}

	if err := validateWindow(start, duration, maxDuration); err != nil {
		return nil, err
	}

	return &ActivationRequest{
		ID:             newRequestID(MPA),
		Type:           MPA,
		RequestingUser: user,
		Entitlements:   entitlements,
		Reviewers:      unique,
		Justification:  justification,
		StartTime:      start,
		EndTime:        start.Add(duration),
	}, nil
}

// Activation records a completed activation.
type Activation struct {
	Request        *ActivationRequest
	ActivationTime time.Time
}
