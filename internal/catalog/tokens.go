package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
	"go.cloudsolutions.dev/jitaccess/internal/auth"
	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

// JwtSigner signs a JWT payload with a service account's Google-managed
// key. Implemented by the IAM Credentials client.
type JwtSigner interface {
	SignJwt(ctx context.Context, serviceAccount auth.UserID, payload map[string]any) (string, error)

	// JwksURL returns the published location of the service account's
	// public key set.
	JwksURL(serviceAccount auth.UserID) string
}

// TokenWithExpiry is a signed approval token and its validity window.
type TokenWithExpiry struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenSignerOptions configure the signing service account and the
// audience embedded in approval tokens.
type TokenSignerOptions struct {
	// ServiceAccount signs tokens and acts as issuer.
	ServiceAccount auth.UserID

	// Audience scopes tokens to this deployment, typically the
	// activation URL prefix.
	Audience string

	// MaxTokenLifetime bounds how long a token stays valid, regardless
	// of the activation window it conveys. Zero means no bound.
	MaxTokenLifetime time.Duration
}

// TokenSigner converts MPA activation requests into signed,
// audience-scoped JWTs and verifies inbound approval tokens. Requests
// survive only inside tokens; there is no server-side request store.
type TokenSigner struct {
	signer  JwtSigner
	keys    *jwk.Cache
	options TokenSignerOptions
}

func NewTokenSigner(signer JwtSigner, options TokenSignerOptions) (*TokenSigner, error) {
	cache := jwk.NewCache(context.Background(), jwk.WithRefreshWindow(time.Hour))
	if err := cache.Register(signer.JwksURL(options.ServiceAccount)); err != nil {
		return nil, fmt.Errorf("failed to register service account JWKS URL: %w", err)
	}

	return &TokenSigner{
		signer:  signer,
		keys:    cache,
		options: options,
	}, nil
}

// SignMpaRequest encodes an MPA request as a signed JWT. The token
// expires when the requested activation window ends, capped by the
// configured maximum token lifetime; until then it can be presented
// for approval any number of times, the downstream binding apply is
// responsible for replay idempotency.
func (s *TokenSigner) SignMpaRequest(ctx context.Context, request *ActivationRequest) (*TokenWithExpiry, error) {
	if request.Type != MPA {
		return nil, apierror.InvalidArgument("only approval requests can be signed").Err()
	}

	issuedAt := time.Now().UTC().Truncate(time.Second)
	expiresAt := request.EndTime.UTC().Truncate(time.Second)
	if s.options.MaxTokenLifetime > 0 {
		if latest := issuedAt.Add(s.options.MaxTokenLifetime); latest.Before(expiresAt) {
			expiresAt = latest
		}
	}

	reviewers := make([]string, 0, len(request.Reviewers))
	for _, reviewer := range request.Reviewers {
		reviewers = append(reviewers, reviewer.Email)
	}

	payload := map[string]any{
		"aud":           s.options.Audience,
		"iss":           s.options.ServiceAccount.Email,
		"iat":           issuedAt.Unix(),
		"exp":           expiresAt.Unix(),
		"jti":           request.ID,
		"beneficiary":   request.RequestingUser.Email,
		"reviewers":     reviewers,
		"justification": request.Justification,
		"resource":      request.Entitlements[0].FullResourceName,
		"role":          request.Entitlements[0].Role,
		"start":         request.StartTime.Unix(),
		"end":           request.EndTime.Unix(),
	}

	token, err := s.signer.SignJwt(ctx, s.options.ServiceAccount, payload)
	if err != nil {
		return nil, err
	}

	return &TokenWithExpiry{
		Token:     token,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyMpaRequest validates an approval token's signature against the
// service account's JWKS, checks audience, issuer, and expiry, and
// reconstructs the activation request it conveys. Any mismatch fails
// with InvalidToken.
func (s *TokenSigner) VerifyMpaRequest(ctx context.Context, token string) (*ActivationRequest, error) {
	keySet, err := s.keys.Get(ctx, s.signer.JwksURL(s.options.ServiceAccount))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch service account key set: %w", err)
	}

	parsed, err := jwt.Parse(
		[]byte(token),
		jwt.WithKeySet(keySet),
		jwt.WithAudience(s.options.Audience),
		jwt.WithIssuer(s.options.ServiceAccount.Email),
		jwt.WithValidate(true))
	if err != nil {
		return nil, apierror.InvalidToken(fmt.Sprintf("token verification failed: %v", err)).Err()
	}

	return requestFromToken(parsed)
}

func requestFromToken(token jwt.Token) (*ActivationRequest, error) {
	stringClaim := func(name string) (string, error) {
		value, ok := token.Get(name)
		if !ok {
			return "", apierror.InvalidToken(fmt.Sprintf("token lacks the '%s' claim", name)).Err()
		}
		text, ok := value.(string)
		if !ok || text == "" {
			return "", apierror.InvalidToken(fmt.Sprintf("the '%s' claim is malformed", name)).Err()
		}
		return text, nil
	}

	epochClaim := func(name string) (time.Time, error) {
		value, ok := token.Get(name)
		if !ok {
			return time.Time{}, apierror.InvalidToken(fmt.Sprintf("token lacks the '%s' claim", name)).Err()
		}
		epoch, ok := value.(float64)
		if !ok {
			return time.Time{}, apierror.InvalidToken(fmt.Sprintf("the '%s' claim is malformed", name)).Err()
		}
		return time.Unix(int64(epoch), 0).UTC(), nil
	}

	beneficiary, err := stringClaim("beneficiary")
	if err != nil {
		return nil, err
	}
	justification, err := stringClaim("justification")
	if err != nil {
		return nil, err
	}
	fullResourceName, err := stringClaim("resource")
	if err != nil {
		return nil, err
	}
	role, err := stringClaim("role")
	if err != nil {
		return nil, err
	}
	start, err := epochClaim("start")
	if err != nil {
		return nil, err
	}
	end, err := epochClaim("end")
	if err != nil {
		return nil, err
	}

	rawReviewers, ok := token.Get("reviewers")
	if !ok {
		return nil, apierror.InvalidToken("token lacks the 'reviewers' claim").Err()
	}
	reviewerList, ok := rawReviewers.([]any)
	if !ok || len(reviewerList) == 0 {
		return nil, apierror.InvalidToken("the 'reviewers' claim is malformed").Err()
	}
	reviewers := make([]auth.UserID, 0, len(reviewerList))
	for _, reviewer := range reviewerList {
		email, ok := reviewer.(string)
		if !ok || email == "" {
			return nil, apierror.InvalidToken("the 'reviewers' claim is malformed").Err()
		}
		reviewers = append(reviewers, auth.UserID{Email: email})
	}

	binding, err := resource.ProjectRoleBindingFromRoleBinding(resource.RoleBinding{
		FullResourceName: fullResourceName,
		Role:             role,
	})
	if err != nil {
		return nil, apierror.InvalidToken("the 'resource' claim is not a project").Err()
	}

	return &ActivationRequest{
		ID:             token.JwtID(),
		Type:           MPA,
		RequestingUser: auth.UserID{Email: beneficiary},
		Entitlements:   []resource.ProjectRoleBinding{binding},
		Reviewers:      reviewers,
		Justification:  justification,
		StartTime:      start,
		EndTime:        end,
	}, nil
}

// ObfuscateToken substitutes characters that attract attention in query
// strings. This is not encryption; it merely avoids tokens being
// recognized and truncated or expanded by intermediaries.
func ObfuscateToken(token string) string {
	return strings.ReplaceAll(token, ".", "~")
}

// DeobfuscateToken is the inverse of ObfuscateToken.
func DeobfuscateToken(token string) string {
	return strings.ReplaceAll(token, "~", ".")
}
