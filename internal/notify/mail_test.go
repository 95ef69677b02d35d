package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	payloads map[string][]byte
}

func (f *fakeSecrets) AccessSecret(ctx context.Context, path string) ([]byte, error) {
	payload, ok := f.payloads[path]
	if !ok {
		return nil, errors.New("secret not found")
	}
	return payload, nil
}

func TestMailServiceCanSend(t *testing.T) {
	disabled, err := NewMailService(context.Background(), &fakeSecrets{}, MailServiceOptions{})
	require.NoError(t, err)
	assert.False(t, disabled.CanSend())

	enabled, err := NewMailService(context.Background(), &fakeSecrets{}, MailServiceOptions{
		Host:   "smtp.example.com:587",
		Sender: "jitaccess@example.com",
	})
	require.NoError(t, err)
	assert.True(t, enabled.CanSend())
}

func TestMailServiceResolvesPasswordFromSecret(t *testing.T) {
	secrets := &fakeSecrets{payloads: map[string][]byte{
		"projects/test-project/secrets/smtp/versions/latest": []byte("hunter2\n"),
	}}

	service, err := NewMailService(context.Background(), secrets, MailServiceOptions{
		Host:               "smtp.example.com:587",
		Username:           "jitaccess",
		PasswordSecretPath: "projects/test-project/secrets/smtp/versions/latest",
	})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", service.password)

	_, err = NewMailService(context.Background(), secrets, MailServiceOptions{
		Host:               "smtp.example.com:587",
		Username:           "jitaccess",
		PasswordSecretPath: "projects/test-project/secrets/missing/versions/latest",
	})
	assert.Error(t, err)
}

func TestMailServiceRendersTemplates(t *testing.T) {
	service, err := NewMailService(context.Background(), &fakeSecrets{}, MailServiceOptions{})
	require.NoError(t, err)

	properties := map[string]any{
		"beneficiary":    "alice@example.com",
		"project":        "project-1",
		"role":           "roles/owner",
		"justification":  "b/123",
		"start":          "Fri, 01 Mar 2024 12:00:00 UTC",
		"end":            "Fri, 01 Mar 2024 14:00:00 UTC",
		"action_url":     "https://jitaccess.example.com/?activation=abc",
		"request_expiry": "Fri, 01 Mar 2024 14:00:00 UTC",
		"approver":       "bob@example.com",
	}

	requested, err := service.render(&Notification{
		Type:       TypeActivationRequested,
		Properties: properties,
	})
	require.NoError(t, err)
	assert.Contains(t, string(requested), "alice@example.com")
	assert.Contains(t, string(requested), "https://jitaccess.example.com/?activation=abc")

	approved, err := service.render(&Notification{
		Type:       TypeActivationApproved,
		Properties: properties,
	})
	require.NoError(t, err)
	assert.Contains(t, string(approved), "bob@example.com")

	_, err = service.render(&Notification{Type: TypeActivationSelfApproved})
	assert.Error(t, err)
}
