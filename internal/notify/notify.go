// Package notify delivers activation lifecycle events to reviewers and
// requesters. Deliveries are best-effort; an activation never fails
// because a notification could not be sent.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.cloudsolutions.dev/jitaccess/internal/auth"
	"go.cloudsolutions.dev/jitaccess/internal/catalog"
)

// Notification event types.
const (
	TypeActivationRequested    = "ActivationRequested"
	TypeActivationApproved     = "ActivationApproved"
	TypeActivationSelfApproved = "ActivationSelfApproved"
)

// Notification is a single deliverable event. The properties carry the
// event payload; mail delivery renders them through a template, Pub/Sub
// delivery publishes them as-is.
type Notification struct {
	// Type identifies the event and selects the mail template.
	Type string

	Subject      string
	ToRecipients []auth.UserID
	CCRecipients []auth.UserID

	// Properties holds the event payload. Values must be JSON-encodable.
	Properties map[string]any
}

func windowProperties(request *catalog.ActivationRequest) map[string]any {
	return map[string]any{
		"beneficiary":   request.RequestingUser.Email,
		"project":       string(request.Entitlements[0].ProjectID()),
		"role":          request.Entitlements[0].Role,
		"justification": request.Justification,
		"start":         request.StartTime.UTC().Format(time.RFC1123),
		"end":           request.EndTime.UTC().Format(time.RFC1123),
	}
}

// NewActivationRequested notifies the reviewers of a pending approval
// request, carrying the link a reviewer follows to approve it.
func NewActivationRequested(request *catalog.ActivationRequest, approvalURL string) *Notification {
	properties := windowProperties(request)
	properties["action_url"] = approvalURL
	properties["request_expiry"] = request.EndTime.UTC().Format(time.RFC1123)

	return &Notification{
		Type: TypeActivationRequested,
		Subject: fmt.Sprintf("%s requests access to project %s",
			request.RequestingUser.Email, request.Entitlements[0].ProjectID()),
		ToRecipients: request.Reviewers,
		CCRecipients: []auth.UserID{request.RequestingUser},
		Properties:   properties,
	}
}

// NewActivationApproved notifies the requesting user that a reviewer
// approved their request. The remaining reviewers are copied so they
// know the request has been dealt with.
func NewActivationApproved(request *catalog.ActivationRequest, approver auth.UserID) *Notification {
	properties := windowProperties(request)
	properties["approver"] = approver.Email

	cc := make([]auth.UserID, 0, len(request.Reviewers))
	for _, reviewer := range request.Reviewers {
		if reviewer != approver {
			cc = append(cc, reviewer)
		}
	}

	return &Notification{
		Type: TypeActivationApproved,
		Subject: fmt.Sprintf("%s approved access to project %s",
			approver.Email, request.Entitlements[0].ProjectID()),
		ToRecipients: []auth.UserID{request.RequestingUser},
		CCRecipients: cc,
		Properties:   properties,
	}
}

// NewActivationSelfApproved records a self-approved activation. There
// is nobody to mail, but the event still reaches the Pub/Sub topic for
// audit consumers.
func NewActivationSelfApproved(request *catalog.ActivationRequest) *Notification {
	return &Notification{
		Type: TypeActivationSelfApproved,
		Subject: fmt.Sprintf("%s activated roles on project %s",
			request.RequestingUser.Email, request.Entitlements[0].ProjectID()),
		Properties: windowProperties(request),
	}
}

// Service delivers notifications over one channel.
type Service interface {
	// CanSend reports whether the channel is configured. Multi-party
	// approval requires at least one channel that can send.
	CanSend() bool

	Send(ctx context.Context, notification *Notification) error
}

// Dispatcher fans a notification out to all configured channels.
// Individual channel failures are collected, not short-circuited.
type Dispatcher struct {
	services []Service
}

func NewDispatcher(services ...Service) *Dispatcher {
	return &Dispatcher{services: services}
}

func (d *Dispatcher) CanSend() bool {
	for _, service := range d.services {
		if service.CanSend() {
			return true
		}
	}
	return false
}

func (d *Dispatcher) Send(ctx context.Context, notification *Notification) error {
	var errs []error
	for _, service := range d.services {
		if !service.CanSend() {
			continue
		}
		if err := service.Send(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to deliver %s notification: %w", notification.Type, errs[0])
	}
	return nil
}
