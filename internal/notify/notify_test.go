package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.cloudsolutions.dev/jitaccess/internal/auth"
	"go.cloudsolutions.dev/jitaccess/internal/catalog"
	"go.cloudsolutions.dev/jitaccess/internal/notify"
	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

var (
	alice = auth.UserID{Email: "alice@example.com"}
	bob   = auth.UserID{Email: "bob@example.com"}
	carol = auth.UserID{Email: "carol@example.com"}
)

func mpaRequest() *catalog.ActivationRequest {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &catalog.ActivationRequest{
		ID:             "mpa-1",
		Type:           catalog.MPA,
		RequestingUser: alice,
		Entitlements: []resource.ProjectRoleBinding{
			resource.NewProjectRoleBinding("project-1", "roles/owner"),
		},
		Reviewers:     []auth.UserID{bob, carol},
		Justification: "b/123",
		StartTime:     start,
		EndTime:       start.Add(2 * time.Hour),
	}
}

func TestNewActivationRequested(t *testing.T) {
	notification := notify.NewActivationRequested(
		mpaRequest(), "https://jitaccess.example.com/?activation=abc")

	assert.Equal(t, notify.TypeActivationRequested, notification.Type)
	assert.Equal(t, []auth.UserID{bob, carol}, notification.ToRecipients)
	assert.Equal(t, []auth.UserID{alice}, notification.CCRecipients)
	assert.Equal(t, "alice@example.com requests access to project project-1", notification.Subject)
	assert.Equal(t, "https://jitaccess.example.com/?activation=abc",
		notification.Properties["action_url"])
	assert.Equal(t, "project-1", notification.Properties["project"])
	assert.Equal(t, "roles/owner", notification.Properties["role"])
}

func TestNewActivationApprovedCopiesRemainingReviewers(t *testing.T) {
	notification := notify.NewActivationApproved(mpaRequest(), bob)

	assert.Equal(t, notify.TypeActivationApproved, notification.Type)
	assert.Equal(t, []auth.UserID{alice}, notification.ToRecipients)
	assert.Equal(t, []auth.UserID{carol}, notification.CCRecipients)
	assert.Equal(t, "bob@example.com", notification.Properties["approver"])
}

func TestNewActivationSelfApprovedHasNoRecipients(t *testing.T) {
	notification := notify.NewActivationSelfApproved(mpaRequest())

	assert.Equal(t, notify.TypeActivationSelfApproved, notification.Type)
	assert.Empty(t, notification.ToRecipients)
	assert.Empty(t, notification.CCRecipients)
	assert.Equal(t, "b/123", notification.Properties["justification"])
}

type fakeService struct {
	canSend bool
	err     error
	sent    int
}

func (f *fakeService) CanSend() bool { return f.canSend }

func (f *fakeService) Send(ctx context.Context, notification *notify.Notification) error {
	f.sent++
	return f.err
}

func TestDispatcherSkipsUnconfiguredChannels(t *testing.T) {
	mail := &fakeService{canSend: false}
	pubsub := &fakeService{canSend: true}
	dispatcher := notify.NewDispatcher(mail, pubsub)

	assert.True(t, dispatcher.CanSend())

	err := dispatcher.Send(context.Background(), notify.NewActivationSelfApproved(mpaRequest()))
	require.NoError(t, err)
	assert.Equal(t, 0, mail.sent)
	assert.Equal(t, 1, pubsub.sent)
}

func TestDispatcherCollectsFailuresWithoutShortCircuiting(t *testing.T) {
	failing := &fakeService{canSend: true, err: errors.New("smtp down")}
	working := &fakeService{canSend: true}
	dispatcher := notify.NewDispatcher(failing, working)

	err := dispatcher.Send(context.Background(), notify.NewActivationSelfApproved(mpaRequest()))
	require.Error(t, err)
	assert.Equal(t, 1, working.sent)
}

func TestDispatcherWithoutChannels(t *testing.T) {
	dispatcher := notify.NewDispatcher()
	assert.False(t, dispatcher.CanSend())
}

type fakePublisher struct {
	topics   []string
	messages []any
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, message any) (string, error) {
	f.topics = append(f.topics, topic)
	f.messages = append(f.messages, message)
	return "message-1", nil
}

func TestPubSubService(t *testing.T) {
	publisher := &fakePublisher{}

	disabled := notify.NewPubSubService(publisher, "")
	assert.False(t, disabled.CanSend())

	service := notify.NewPubSubService(publisher, "projects/test-project/topics/jitaccess-events")
	assert.True(t, service.CanSend())

	err := service.Send(context.Background(), notify.NewActivationSelfApproved(mpaRequest()))
	require.NoError(t, err)
	require.Len(t, publisher.topics, 1)
	assert.Equal(t, "projects/test-project/topics/jitaccess-events", publisher.topics[0])
}
