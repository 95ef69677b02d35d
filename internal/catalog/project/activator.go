package project

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
	"go.cloudsolutions.dev/jitaccess/internal/auth"
	"go.cloudsolutions.dev/jitaccess/internal/catalog"
	"go.cloudsolutions.dev/jitaccess/internal/clients"
	"go.cloudsolutions.dev/jitaccess/internal/notify"
	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

// TemporaryBindingApplier grants a principal a role on a project for a
// bounded time window. Implemented by the Resource Manager client.
type TemporaryBindingApplier interface {
	ApplyTemporaryBinding(
		ctx context.Context,
		project resource.ProjectID,
		principal auth.UserID,
		role string,
		start time.Time,
		end time.Time,
		reason string,
		options clients.BindingOptions,
	) error
}

// ActivatorOptions configure the activation flows.
type ActivatorOptions struct {
	// ApprovalBaseURL is the externally reachable address reviewers open
	// to act on an approval request.
	ApprovalBaseURL string
}

// Activator drives the two activation flows: self-approved activation
// of JIT entitlements and peer-approved activation of MPA entitlements.
// MPA requests are stateless; the signed token is the request.
type Activator struct {
	catalog       *Catalog
	bindings      TemporaryBindingApplier
	signer        *catalog.TokenSigner
	justification *catalog.JustificationPolicy
	notifier      notify.Service
	logger        *slog.Logger
	options       ActivatorOptions
}

func NewActivator(
	cat *Catalog,
	bindings TemporaryBindingApplier,
	signer *catalog.TokenSigner,
	justification *catalog.JustificationPolicy,
	notifier notify.Service,
	logger *slog.Logger,
	options ActivatorOptions,
) *Activator {
	return &Activator{
		catalog:       cat,
		bindings:      bindings,
		signer:        signer,
		justification: justification,
		notifier:      notifier,
		logger:        logger,
		options:       options,
	}
}

// JustificationHint describes what a valid justification looks like.
func (a *Activator) JustificationHint() string {
	return a.justification.Hint()
}

// CreateJitRequest builds a self-approved activation request, bounded
// by the catalog's limits.
func (a *Activator) CreateJitRequest(
	user auth.UserID,
	entitlements []resource.ProjectRoleBinding,
	justification string,
	start time.Time,
	duration time.Duration,
) (*catalog.ActivationRequest, error) {
	return catalog.NewJitRequest(
		user,
		entitlements,
		justification,
		start,
		duration,
		a.catalog.Options().ActivationTimeout,
		a.catalog.Options().MaxActivationsPerRequest)
}

// CreateMpaRequest builds an approval request, signs it, and notifies
// the reviewers. The request only exists inside the returned token; a
// reviewer presents the token to approve.
func (a *Activator) CreateMpaRequest(
	ctx context.Context,
	user auth.UserID,
	entitlements []resource.ProjectRoleBinding,
	reviewers []auth.UserID,
	justification string,
	start time.Time,
	duration time.Duration,
) (*catalog.ActivationRequest, *catalog.TokenWithExpiry, error) {
	if !a.notifier.CanSend() {
		return nil, nil, apierror.FeatureNotAvailable(
			"multi-party approval requires a notification channel, but none is configured").Err()
	}

	options := a.catalog.Options()
	request, err := catalog.NewMpaRequest(
		user,
		entitlements,
		reviewers,
		justification,
		start,
		duration,
		options.ActivationTimeout,
		options.MinReviewers,
		options.MaxReviewers)
	if err != nil {
		return nil, nil, err
	}

	if err := a.justification.Check(request.Justification); err != nil {
		return nil, nil, err
	}
	if err := a.catalog.VerifyUserCanRequest(ctx, request); err != nil {
		return nil, nil, err
	}

	token, err := a.signer.SignMpaRequest(ctx, request)
	if err != nil {
		return nil, nil, err
	}

	notification := notify.NewActivationRequested(request, a.approvalURL(token.Token))
	if err := a.notifier.Send(ctx, notification); err != nil {
		return nil, nil, err
	}

	a.logger.InfoContext(ctx, "activation requested",
		"request", request.ID,
		"user", user.Email,
		"project", string(request.Entitlements[0].ProjectID()),
		"role", request.Entitlements[0].Role,
		"reviewers", len(request.Reviewers))

	return request, token, nil
}

// Activate applies a self-approved request: the requesting user's
// justification and current eligibility are checked, then each role is
// bound in turn. A failure mid-way leaves earlier bindings in place.
func (a *Activator) Activate(
	ctx context.Context,
	request *catalog.ActivationRequest,
) (*catalog.Activation, error) {
	if request.Type != catalog.JIT {
		return nil, apierror.InvalidArgument("only self-approved requests can be activated directly").Err()
	}

	if err := a.justification.Check(request.Justification); err != nil {
		return nil, err
	}
	if err := a.catalog.VerifyUserCanRequest(ctx, request); err != nil {
		return nil, err
	}

	reason := fmt.Sprintf("Self-approved, justification: %s", request.Justification)
	for _, entitlement := range request.Entitlements {
		err := a.bindings.ApplyTemporaryBinding(
			ctx,
			entitlement.ProjectID(),
			request.RequestingUser,
			entitlement.Role,
			request.StartTime,
			request.EndTime,
			reason,
			clients.BindingOptions{PurgeExistingTemporaryBindings: true})
		if err != nil {
			return nil, err
		}

		a.logger.InfoContext(ctx, "role activated",
			"request", request.ID,
			"user", request.RequestingUser.Email,
			"project", string(entitlement.ProjectID()),
			"role", entitlement.Role,
			"end", request.EndTime)
	}

	if err := a.notifier.Send(ctx, notify.NewActivationSelfApproved(request)); err != nil {
		// The binding is in place; a delivery failure must not undo it.
		a.logger.WarnContext(ctx, "failed to send activation notification",
			"request", request.ID, "error", err)
	}

	return &catalog.Activation{
		Request:        request,
		ActivationTime: time.Now().UTC(),
	}, nil
}

// IntrospectMpaRequest verifies an approval token and returns the
// request it conveys, without acting on it. Used to render the approval
// page.
func (a *Activator) IntrospectMpaRequest(ctx context.Context, token string) (*catalog.ActivationRequest, error) {
	return a.signer.VerifyMpaRequest(ctx, token)
}

// Approve verifies an approval token and, if the approver is a
// legitimate reviewer, applies the requested binding. The replay guard
// is the binding itself: approving the same token twice fails with
// AlreadyExists.
func (a *Activator) Approve(
	ctx context.Context,
	approver auth.UserID,
	token string,
) (*catalog.Activation, error) {
	request, err := a.signer.VerifyMpaRequest(ctx, token)
	if err != nil {
		return nil, err
	}

	if approver == request.RequestingUser {
		return nil, apierror.AccessDenied("requesting users cannot approve their own requests").Err()
	}
	if !request.HasReviewer(approver) {
		return nil, apierror.AccessDenied(fmt.Sprintf(
			"the user %s has not been asked to review this request", approver.Email)).Err()
	}

	if err := a.justification.Check(request.Justification); err != nil {
		return nil, err
	}

	// Both parties must still be entitled at approval time; either
	// eligibility may have been revoked since the request was made.
	if err := a.catalog.VerifyUserCanRequest(ctx, request); err != nil {
		return nil, err
	}
	if err := a.catalog.VerifyUserCanApprove(ctx, approver, request); err != nil {
		return nil, err
	}

	entitlement := request.Entitlements[0]
	err = a.bindings.ApplyTemporaryBinding(
		ctx,
		entitlement.ProjectID(),
		request.RequestingUser,
		entitlement.Role,
		request.StartTime,
		request.EndTime,
		fmt.Sprintf("Approved by %s, justification: %s", approver.Email, request.Justification),
		clients.BindingOptions{
			PurgeExistingTemporaryBindings: true,
			FailIfBindingExists:            true,
		})
	if err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "activation approved",
		"request", request.ID,
		"user", request.RequestingUser.Email,
		"approver", approver.Email,
		"project", string(entitlement.ProjectID()),
		"role", entitlement.Role,
		"end", request.EndTime)

	if err := a.notifier.Send(ctx, notify.NewActivationApproved(request, approver)); err != nil {
		a.logger.WarnContext(ctx, "failed to send approval notification",
			"request", request.ID, "error", err)
	}

	return &catalog.Activation{
		Request:        request,
		ActivationTime: time.Now().UTC(),
	}, nil
}

func (a *Activator) approvalURL(token string) string {
	return fmt.Sprintf("%s/?activation=%s",
		a.options.ApprovalBaseURL,
		url.QueryEscape(catalog.ObfuscateToken(token)))
}
