package oauthserver

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/oauthkit/oauthserver/model"
	"github.com/oauthkit/oauthserver/oautherrors"
)

// AuthorizationCodeGrant exchanges a single-use authorization code,
// optionally bound by a PKCE challenge, for an access and refresh token
// pair.
type AuthorizationCodeGrant struct {
	grantBase
	model model.AuthorizationCodeModel
}

// NewAuthorizationCodeGrant is the GrantFactory for the
// authorization_code grant.
func NewAuthorizationCodeGrant(opts GrantOptions) (GrantType, error) {
	base, err := newGrantBase(opts)
	if err != nil {
		return nil, err
	}
	if _, ok := opts.Model.(interface {
		GetAuthorizationCode(ctx context.Context, code string) (*model.AuthorizationCode, error)
	}); !ok {
		return nil, oautherrors.InvalidArgument("Invalid argument: model does not implement `GetAuthorizationCode()`")
	}
	if _, ok := opts.Model.(interface {
		RevokeAuthorizationCode(ctx context.Context, code *model.AuthorizationCode) (bool, error)
	}); !ok {
		return nil, oautherrors.InvalidArgument("Invalid argument: model does not implement `RevokeAuthorizationCode()`")
	}
	return &AuthorizationCodeGrant{
		grantBase: base,
		model:     opts.Model.(model.AuthorizationCodeModel),
	}, nil
}

// Handle implements GrantType.
func (g *AuthorizationCodeGrant) Handle(ctx context.Context, req *Request, client *model.Client) (*model.Token, error) {
	if req == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `request`")
	}
	if client == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `client`")
	}

	code, err := g.getAuthorizationCode(ctx, req, client)
	if err != nil {
		return nil, err
	}
	if err := g.validateRedirectURI(req, code); err != nil {
		return nil, err
	}
	if err := g.validateCodeVerifier(req, code); err != nil {
		return nil, err
	}
	if err := g.revokeAuthorizationCode(ctx, code); err != nil {
		return nil, err
	}
	return g.issueToken(ctx, client, code)
}

func (g *AuthorizationCodeGrant) getAuthorizationCode(ctx context.Context, req *Request, client *model.Client) (*model.AuthorizationCode, error) {
	raw := req.Body.Get("code")
	if raw == "" {
		return nil, oautherrors.InvalidRequest("Missing parameter: `code`")
	}
	if !isVSCHAR(raw) {
		return nil, oautherrors.InvalidRequest("Invalid parameter: `code`")
	}

	code, err := g.model.GetAuthorizationCode(ctx, raw)
	if err != nil {
		return nil, oautherrors.Wrap(err)
	}
	if code == nil {
		return nil, oautherrors.InvalidGrant("Invalid grant: authorization code is invalid")
	}
	if code.Client == nil {
		return nil, oautherrors.ServerError("Server error: `GetAuthorizationCode()` did not return a `client` object")
	}
	if code.ExpiresAt.IsZero() {
		return nil, oautherrors.ServerError("Server error: `GetAuthorizationCode()` did not return an `expiresAt` value")
	}
	if code.User == nil {
		return nil, oautherrors.ServerError("Server error: `GetAuthorizationCode()` did not return a `user` object")
	}

	// A code issued to a different client is indistinguishable from an
	// unknown code in the response, so a guessing client learns nothing.
	if code.Client.ID != client.ID {
		return nil, oautherrors.InvalidGrant("Invalid grant: authorization code is invalid")
	}
	if code.ExpiresAt.Before(time.Now()) {
		return nil, oautherrors.InvalidGrant("Invalid grant: authorization code has expired")
	}
	if code.RedirectURI != "" && !isAbsoluteURI(code.RedirectURI) {
		return nil, oautherrors.InvalidGrant("Invalid grant: `redirect_uri` is not a valid URI")
	}
	return code, nil
}

// validateRedirectURI requires the token request to repeat the redirect
// URI the code was issued for, when the code records one.
func (g *AuthorizationCodeGrant) validateRedirectURI(req *Request, code *model.AuthorizationCode) error {
	if code.RedirectURI == "" {
		return nil
	}
	redirectURI := req.param("redirect_uri")
	if !isAbsoluteURI(redirectURI) {
		return oautherrors.InvalidRequest("Invalid request: `redirect_uri` is not a valid URI")
	}
	if redirectURI != code.RedirectURI {
		return oautherrors.InvalidRequest("Invalid request: `redirect_uri` is invalid")
	}
	return nil
}

// validateCodeVerifier enforces RFC 7636 at exchange time. A code stored
// with a challenge demands a verifier hashing to it; a verifier against a
// challenge-less code is rejected too, so a downgraded exchange cannot
// slip through.
func (g *AuthorizationCodeGrant) validateCodeVerifier(req *Request, code *model.AuthorizationCode) error {
	verifier := req.Body.Get("code_verifier")

	if code.CodeChallenge == "" {
		if verifier != "" {
			return oautherrors.InvalidGrant("Invalid grant: code verifier is invalid")
		}
		return nil
	}

	if verifier == "" || !CodeChallengeMatchesFormat(verifier) {
		return oautherrors.InvalidGrant("Invalid grant: code verifier is invalid")
	}

	method := code.CodeChallengeMethod
	if method == "" {
		method = CodeChallengeMethodPlain
	}
	hash := ChallengeFromVerifier(method, verifier)
	if hash == "" {
		return oautherrors.ServerError("Server error: `GetAuthorizationCode()` did not return a valid `codeChallengeMethod` value")
	}
	if subtle.ConstantTimeCompare([]byte(hash), []byte(code.CodeChallenge)) != 1 {
		return oautherrors.InvalidGrant("Invalid grant: code verifier is invalid")
	}
	return nil
}

func (g *AuthorizationCodeGrant) revokeAuthorizationCode(ctx context.Context, code *model.AuthorizationCode) error {
	revoked, err := g.model.RevokeAuthorizationCode(ctx, code)
	if err != nil {
		return oautherrors.Wrap(err)
	}
	if !revoked {
		return oautherrors.InvalidGrant("Invalid grant: authorization code is invalid")
	}
	return nil
}

func (g *AuthorizationCodeGrant) issueToken(ctx context.Context, client *model.Client, code *model.AuthorizationCode) (*model.Token, error) {
	scope, err := g.validateScope(ctx, code.User, client, code.Scope)
	if err != nil {
		return nil, err
	}
	accessToken, err := g.generateAccessToken(ctx, client, code.User, scope)
	if err != nil {
		return nil, err
	}
	refreshToken, err := g.generateRefreshToken(ctx, client, code.User, scope)
	if err != nil {
		return nil, err
	}

	token := &model.Token{
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  g.accessTokenExpiresAt(),
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: g.refreshTokenExpiresAt(),
		Scope:                 scope,
		AuthorizationCode:     code.Code,
	}
	return g.saveToken(ctx, token, client, code.User)
}
