// Package auth holds the principal identifiers used throughout the
// catalog. A principal is a user or a group, addressed by its primary
// email address.
package auth

import "strings"

// Principal prefixes as they appear in IAM binding member lists.
const (
	UserPrefix  = "user:"
	GroupPrefix = "group:"
)

// UserID identifies a user by their primary email address. Two UserIDs
// are equal iff their emails are equal, which makes the type usable as
// a map key for principal sets.
type UserID struct {
	Email string
}

func (u UserID) String() string {
	return u.Email
}

// PrincipalIdentifier returns the user in IAM member notation, for
// example "user:alice@example.com".
func (u UserID) PrincipalIdentifier() string {
	return UserPrefix + u.Email
}

// GroupID identifies a group by its email address.
type GroupID struct {
	Email string
}

func (g GroupID) String() string {
	return g.Email
}

func (g GroupID) PrincipalIdentifier() string {
	return GroupPrefix + g.Email
}

// UserFromPrincipalIdentifier parses "user:<email>" notation. The second
// return value reports whether the input was a user principal.
func UserFromPrincipalIdentifier(principal string) (UserID, bool) {
	if email, ok := strings.CutPrefix(principal, UserPrefix); ok {
		return UserID{Email: email}, true
	}
	return UserID{}, false
}

// GroupFromPrincipalIdentifier parses "group:<email>" notation.
func GroupFromPrincipalIdentifier(principal string) (GroupID, bool) {
	if email, ok := strings.CutPrefix(principal, GroupPrefix); ok {
		return GroupID{Email: email}, true
	}
	return GroupID{}, false
}
