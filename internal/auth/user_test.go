package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.cloudsolutions.dev/jitaccess/internal/auth"
)

func TestPrincipalIdentifiers(t *testing.T) {
	user := auth.UserID{Email: "alice@example.com"}
	assert.Equal(t, "user:alice@example.com", user.PrincipalIdentifier())
	assert.Equal(t, "alice@example.com", user.String())

	group := auth.GroupID{Email: "devops@example.com"}
	assert.Equal(t, "group:devops@example.com", group.PrincipalIdentifier())
}

func TestUserFromPrincipalIdentifier(t *testing.T) {
	user, ok := auth.UserFromPrincipalIdentifier("user:alice@example.com")
	assert.True(t, ok)
	assert.Equal(t, auth.UserID{Email: "alice@example.com"}, user)

	_, ok = auth.UserFromPrincipalIdentifier("group:devops@example.com")
	assert.False(t, ok)

	_, ok = auth.UserFromPrincipalIdentifier("serviceAccount:robot@test.iam.gserviceaccount.com")
	assert.False(t, ok)
}

func TestGroupFromPrincipalIdentifier(t *testing.T) {
	group, ok := auth.GroupFromPrincipalIdentifier("group:devops@example.com")
	assert.True(t, ok)
	assert.Equal(t, auth.GroupID{Email: "devops@example.com"}, group)

	_, ok = auth.GroupFromPrincipalIdentifier("user:alice@example.com")
	assert.False(t, ok)
}

func TestUserIDIsComparable(t *testing.T) {
	set := map[auth.UserID]struct{}{
		{Email: "alice@example.com"}: {},
	}
	_, found := set[auth.UserID{Email: "alice@example.com"}]
	assert.True(t, found)
}
