package oauthserver

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/oauthkit/oauthserver/model"
	"github.com/oauthkit/oauthserver/oautherrors"
)

// Built-in grant type names.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
)

// GrantType is a token-issuing state machine. Handle receives the
// normalized request and the already-authenticated client and returns the
// token the model persisted.
type GrantType interface {
	Handle(ctx context.Context, req *Request, client *model.Client) (*model.Token, error)
}

// GrantOptions carries the configuration the token handler resolves per
// request (lifetimes already narrowed by any per-client override).
type GrantOptions struct {
	// Model is the persistence collaborator. Each grant constructor
	// asserts the capability interface it needs.
	Model model.BaseModel

	// AccessTokenLifetime is the access token validity in seconds.
	AccessTokenLifetime int

	// RefreshTokenLifetime is the refresh token validity in seconds.
	RefreshTokenLifetime int

	// AlwaysIssueNewRefreshToken controls refresh token rotation.
	AlwaysIssueNewRefreshToken bool
}

// GrantFactory builds a GrantType from resolved options. Factories return
// InvalidArgument when the options are unusable, which surfaces as a 500
// rather than a protocol error.
type GrantFactory func(opts GrantOptions) (GrantType, error)

// grantBase holds the behavior every grant type shares: token minting
// with model-generator override, expiry computation and scope delegation.
type grantBase struct {
	model                      model.BaseModel
	accessTokenLifetime        int
	refreshTokenLifetime       int
	alwaysIssueNewRefreshToken bool
}

func newGrantBase(opts GrantOptions) (grantBase, error) {
	if opts.Model == nil {
		return grantBase{}, oautherrors.InvalidArgument("Missing parameter: `model`")
	}
	if opts.AccessTokenLifetime <= 0 {
		return grantBase{}, oautherrors.InvalidArgument("Missing parameter: `accessTokenLifetime`")
	}
	return grantBase{
		model:                      opts.Model,
		accessTokenLifetime:        opts.AccessTokenLifetime,
		refreshTokenLifetime:       opts.RefreshTokenLifetime,
		alwaysIssueNewRefreshToken: opts.AlwaysIssueNewRefreshToken,
	}, nil
}

// generateAccessToken defers to the model's generator when it has one.
// The model result is used verbatim; the random fallback only applies
// when the model implements no generator at all.
func (g *grantBase) generateAccessToken(ctx context.Context, client *model.Client, user model.User, scope []string) (string, error) {
	if gen, ok := g.model.(model.AccessTokenGenerator); ok {
		token, err := gen.GenerateAccessToken(ctx, client, user, scope)
		if err != nil {
			return "", oautherrors.Wrap(err)
		}
		return token, nil
	}
	return generateRandomToken()
}

func (g *grantBase) generateRefreshToken(ctx context.Context, client *model.Client, user model.User, scope []string) (string, error) {
	if gen, ok := g.model.(model.RefreshTokenGenerator); ok {
		token, err := gen.GenerateRefreshToken(ctx, client, user, scope)
		if err != nil {
			return "", oautherrors.Wrap(err)
		}
		return token, nil
	}
	return generateRandomToken()
}

func (g *grantBase) accessTokenExpiresAt() time.Time {
	return time.Now().Add(time.Duration(g.accessTokenLifetime) * time.Second)
}

func (g *grantBase) refreshTokenExpiresAt() time.Time {
	return time.Now().Add(time.Duration(g.refreshTokenLifetime) * time.Second)
}

// requestScope reads and parses the scope parameter of a token request.
// An absent parameter means no requested scope.
func (g *grantBase) requestScope(req *Request) ([]string, error) {
	raw := req.Body.Get("scope")
	if raw == "" {
		return nil, nil
	}
	return ParseScope(raw)
}

// validateScope delegates scope negotiation to the model when it
// implements ScopeValidator, otherwise passes the requested scope through
// unchanged. A nil result from the model rejects the request.
func (g *grantBase) validateScope(ctx context.Context, user model.User, client *model.Client, scope []string) ([]string, error) {
	validator, ok := g.model.(model.ScopeValidator)
	if !ok {
		return scope, nil
	}
	validated, err := validator.ValidateScope(ctx, user, client, scope)
	if err != nil {
		return nil, oautherrors.Wrap(err)
	}
	if validated == nil {
		return nil, oautherrors.InvalidScope("Invalid scope: Requested scope is invalid")
	}
	return validated, nil
}

// saveToken persists the token through the model and enforces the data
// contract on the result.
func (g *grantBase) saveToken(ctx context.Context, token *model.Token, client *model.Client, user model.User) (*model.Token, error) {
	saved, err := g.model.SaveToken(ctx, token, client, user)
	if err != nil {
		return nil, oautherrors.Wrap(err)
	}
	if saved == nil {
		return nil, oautherrors.ServerError("Server error: `SaveToken()` did not return a `token` object")
	}
	if saved.AccessToken == "" {
		return nil, oautherrors.ServerError("Server error: `SaveToken()` did not return an `accessToken` value")
	}
	if saved.Client == nil {
		saved.Client = client
	}
	if saved.User == nil {
		saved.User = user
	}
	return saved, nil
}

// generateRandomToken is the fallback token generator: the hex-encoded
// SHA-256 digest of 256 random bytes.
func generateRandomToken() (string, error) {
	buf := make([]byte, 256)
	if _, err := rand.Read(buf); err != nil {
		return "", oautherrors.Wrap(fmt.Errorf("reading random bytes: %w", err))
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}
