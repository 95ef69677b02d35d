package project_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.cloudsolutions.dev/jitaccess/internal/auth"
	"go.cloudsolutions.dev/jitaccess/internal/catalog"
	"go.cloudsolutions.dev/jitaccess/internal/catalog/project"
	"go.cloudsolutions.dev/jitaccess/internal/clients"
	"go.cloudsolutions.dev/jitaccess/internal/notify"
	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

// fakeJwtSigner signs with a local RSA key and serves the public key
// set from a test server.
type fakeJwtSigner struct {
	key     jwk.Key
	jwksURL string
}

func newFakeJwtSigner(t *testing.T) *fakeJwtSigner {
	t.Helper()

	rawKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(rawKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	publicKey, err := key.PublicKey()
	require.NoError(t, err)
	keySet := jwk.NewSet()
	require.NoError(t, keySet.AddKey(publicKey))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(keySet); err != nil {
			t.Errorf("failed to serve key set: %v", err)
		}
	}))
	t.Cleanup(server.Close)

	return &fakeJwtSigner{key: key, jwksURL: server.URL}
}

func (s *fakeJwtSigner) SignJwt(ctx context.Context, serviceAccount auth.UserID, payload map[string]any) (string, error) {
	token := jwt.New()
	for name, value := range payload {
		if err := token.Set(name, value); err != nil {
			return "", err
		}
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, s.key))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func (s *fakeJwtSigner) JwksURL(serviceAccount auth.UserID) string {
	return s.jwksURL
}

// fakeApplier records binding applications instead of calling the
// Resource Manager.
type fakeApplier struct {
	applied []appliedBinding
}

type appliedBinding struct {
	project   resource.ProjectID
	principal auth.UserID
	role      string
	reason    string
	options   clients.BindingOptions
}

func (f *fakeApplier) ApplyTemporaryBinding(
	ctx context.Context,
	projectID resource.ProjectID,
	principal auth.UserID,
	role string,
	start time.Time,
	end time.Time,
	reason string,
	options clients.BindingOptions,
) error {
	f.applied = append(f.applied, appliedBinding{
		project:   projectID,
		principal: principal,
		role:      role,
		reason:    reason,
		options:   options,
	})
	return nil
}

type fakeNotifier struct {
	canSend bool
	sent    []*notify.Notification
}

func (f *fakeNotifier) CanSend() bool { return f.canSend }

func (f *fakeNotifier) Send(ctx context.Context, notification *notify.Notification) error {
	f.sent = append(f.sent, notification)
	return nil
}

type activatorFixture struct {
	activator *project.Activator
	applier   *fakeApplier
	notifier  *fakeNotifier
}

func newActivatorFixture(t *testing.T, repository *fakeRepository) *activatorFixture {
	t.Helper()

	signer, err := catalog.NewTokenSigner(newFakeJwtSigner(t), catalog.TokenSignerOptions{
		ServiceAccount: auth.UserID{Email: "jitaccess@test-project.iam.gserviceaccount.com"},
		Audience:       "https://jitaccess.example.com",
	})
	require.NoError(t, err)

	justification, err := catalog.NewJustificationPolicy(`^b/\d+$`, "Bug number")
	require.NoError(t, err)

	applier := &fakeApplier{}
	notifier := &fakeNotifier{canSend: true}

	activator := project.NewActivator(
		project.NewCatalog(repository, &fakeSearcher{}, defaultOptions()),
		applier,
		signer,
		justification,
		notifier,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		project.ActivatorOptions{ApprovalBaseURL: "https://jitaccess.example.com"})

	return &activatorFixture{
		activator: activator,
		applier:   applier,
		notifier:  notifier,
	}
}

func jitEntitlement(projectID resource.ProjectID, role string) catalog.Entitlement {
	binding := resource.NewProjectRoleBinding(projectID, role)
	return catalog.Entitlement{
		ID:             binding,
		Name:           role,
		ActivationType: catalog.JIT,
		Status:         catalog.StatusAvailable,
	}
}

func TestActivateAppliesBindingsForEachRole(t *testing.T) {
	fixture := newActivatorFixture(t, &fakeRepository{
		availableFor: map[auth.UserID][]catalog.Entitlement{
			alice: {
				jitEntitlement("project-1", "roles/viewer"),
				jitEntitlement("project-1", "roles/editor"),
			},
		},
	})

	request, err := fixture.activator.CreateJitRequest(
		alice,
		[]resource.ProjectRoleBinding{
			resource.NewProjectRoleBinding("project-1", "roles/viewer"),
			resource.NewProjectRoleBinding("project-1", "roles/editor"),
		},
		"b/123",
		time.Now(),
		time.Hour)
	require.NoError(t, err)

	activation, err := fixture.activator.Activate(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, request, activation.Request)

	require.Len(t, fixture.applier.applied, 2)
	for _, applied := range fixture.applier.applied {
		assert.Equal(t, resource.ProjectID("project-1"), applied.project)
		assert.Equal(t, alice, applied.principal)
		assert.Equal(t, "Self-approved, justification: b/123", applied.reason)
		assert.True(t, applied.options.PurgeExistingTemporaryBindings)
		assert.False(t, applied.options.FailIfBindingExists)
	}
}

func TestActivateRejectsUnentitledUser(t *testing.T) {
	fixture := newActivatorFixture(t, &fakeRepository{})

	request, err := fixture.activator.CreateJitRequest(
		alice,
		[]resource.ProjectRoleBinding{resource.NewProjectRoleBinding("project-1", "roles/viewer")},
		"b/123",
		time.Now(),
		time.Hour)
	require.NoError(t, err)

	_, err = fixture.activator.Activate(context.Background(), request)
	require.Error(t, err)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Empty(t, fixture.applier.applied)
}

func TestActivateRejectsBadJustification(t *testing.T) {
	fixture := newActivatorFixture(t, &fakeRepository{
		availableFor: map[auth.UserID][]catalog.Entitlement{
			alice: {jitEntitlement("project-1", "roles/viewer")},
		},
	})

	request, err := fixture.activator.CreateJitRequest(
		alice,
		[]resource.ProjectRoleBinding{resource.NewProjectRoleBinding("project-1", "roles/viewer")},
		"because",
		time.Now(),
		time.Hour)
	require.NoError(t, err)

	_, err = fixture.activator.Activate(context.Background(), request)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Empty(t, fixture.applier.applied)
}

func mpaFixtureRepository() *fakeRepository {
	return &fakeRepository{
		availableFor: map[auth.UserID][]catalog.Entitlement{
			alice: {mpaEntitlement("project-1", "roles/owner")},
			bob:   {mpaEntitlement("project-1", "roles/owner")},
		},
	}
}

func createMpaRequest(t *testing.T, fixture *activatorFixture) (*catalog.ActivationRequest, *catalog.TokenWithExpiry) {
	t.Helper()

	request, token, err := fixture.activator.CreateMpaRequest(
		context.Background(),
		alice,
		[]resource.ProjectRoleBinding{resource.NewProjectRoleBinding("project-1", "roles/owner")},
		[]auth.UserID{bob},
		"b/123",
		time.Now(),
		time.Hour)
	require.NoError(t, err)
	return request, token
}

func TestCreateMpaRequestNotifiesReviewers(t *testing.T) {
	fixture := newActivatorFixture(t, mpaFixtureRepository())

	request, token := createMpaRequest(t, fixture)
	require.NotNil(t, token)

	require.Len(t, fixture.notifier.sent, 1)
	notification := fixture.notifier.sent[0]
	assert.Equal(t, notify.TypeActivationRequested, notification.Type)
	assert.Equal(t, request.Reviewers, notification.ToRecipients)
	assert.Equal(t, []auth.UserID{alice}, notification.CCRecipients)

	actionURL, ok := notification.Properties["action_url"].(string)
	require.True(t, ok)
	prefix := "https://jitaccess.example.com/?activation="
	require.True(t, strings.HasPrefix(actionURL, prefix))
	// The embedded token is obfuscated to survive link mangling.
	assert.NotContains(t, strings.TrimPrefix(actionURL, prefix), ".")
}

func TestCreateMpaRequestRequiresNotificationChannel(t *testing.T) {
	fixture := newActivatorFixture(t, mpaFixtureRepository())
	fixture.notifier.canSend = false

	_, _, err := fixture.activator.CreateMpaRequest(
		context.Background(),
		alice,
		[]resource.ProjectRoleBinding{resource.NewProjectRoleBinding("project-1", "roles/owner")},
		[]auth.UserID{bob},
		"b/123",
		time.Now(),
		time.Hour)
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestApproveAppliesBindingWithReplayGuard(t *testing.T) {
	fixture := newActivatorFixture(t, mpaFixtureRepository())
	request, token := createMpaRequest(t, fixture)

	activation, err := fixture.activator.Approve(context.Background(), bob, token.Token)
	require.NoError(t, err)
	assert.Equal(t, request.ID, activation.Request.ID)

	require.Len(t, fixture.applier.applied, 1)
	applied := fixture.applier.applied[0]
	assert.Equal(t, alice, applied.principal)
	assert.Equal(t, "roles/owner", applied.role)
	assert.Equal(t, "Approved by bob@example.com, justification: b/123", applied.reason)
	assert.True(t, applied.options.PurgeExistingTemporaryBindings)
	assert.True(t, applied.options.FailIfBindingExists)

	// Requested, then approved.
	require.Len(t, fixture.notifier.sent, 2)
	assert.Equal(t, notify.TypeActivationApproved, fixture.notifier.sent[1].Type)
}

func TestApproveRejectsSelfApproval(t *testing.T) {
	fixture := newActivatorFixture(t, mpaFixtureRepository())
	_, token := createMpaRequest(t, fixture)

	_, err := fixture.activator.Approve(context.Background(), alice, token.Token)
	require.Error(t, err)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Empty(t, fixture.applier.applied)
}

func TestApproveRejectsUninvitedReviewer(t *testing.T) {
	fixture := newActivatorFixture(t, mpaFixtureRepository())
	_, token := createMpaRequest(t, fixture)

	carol := auth.UserID{Email: "carol@example.com"}
	_, err := fixture.activator.Approve(context.Background(), carol, token.Token)
	require.Error(t, err)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Empty(t, fixture.applier.applied)
}

func TestApproveRejectsGarbageToken(t *testing.T) {
	fixture := newActivatorFixture(t, mpaFixtureRepository())

	_, err := fixture.activator.Approve(context.Background(), bob, "not-a-token")
	require.Error(t, err)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}
