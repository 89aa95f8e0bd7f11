package oauthserver

import (
	"context"
	"time"

	"github.com/oauthkit/oauthserver/model"
	"github.com/oauthkit/oauthserver/oautherrors"
)

// RefreshTokenGrant exchanges a refresh token for a fresh access token.
// With rotation enabled (the default) the presented refresh token is
// revoked and a new one issued alongside the access token; with rotation
// disabled the old refresh token stays valid and no new one is minted.
type RefreshTokenGrant struct {
	grantBase
	model model.RefreshTokenModel
}

// NewRefreshTokenGrant is the GrantFactory for the refresh_token grant.
func NewRefreshTokenGrant(opts GrantOptions) (GrantType, error) {
	base, err := newGrantBase(opts)
	if err != nil {
		return nil, err
	}
	if _, ok := opts.Model.(interface {
		GetRefreshToken(ctx context.Context, refreshToken string) (*model.Token, error)
	}); !ok {
		return nil, oautherrors.InvalidArgument("Invalid argument: model does not implement `GetRefreshToken()`")
	}
	if _, ok := opts.Model.(interface {
		RevokeToken(ctx context.Context, token *model.Token) (bool, error)
	}); !ok {
		return nil, oautherrors.InvalidArgument("Invalid argument: model does not implement `RevokeToken()`")
	}
	return &RefreshTokenGrant{
		grantBase: base,
		model:     opts.Model.(model.RefreshTokenModel),
	}, nil
}

// Handle implements GrantType.
func (g *RefreshTokenGrant) Handle(ctx context.Context, req *Request, client *model.Client) (*model.Token, error) {
	if req == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `request`")
	}
	if client == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `client`")
	}

	old, err := g.getRefreshToken(ctx, req, client)
	if err != nil {
		return nil, err
	}
	if err := g.revokeToken(ctx, old); err != nil {
		return nil, err
	}
	return g.issueToken(ctx, client, old)
}

func (g *RefreshTokenGrant) getRefreshToken(ctx context.Context, req *Request, client *model.Client) (*model.Token, error) {
	raw := req.Body.Get("refresh_token")
	if raw == "" {
		return nil, oautherrors.InvalidRequest("Missing parameter: `refresh_token`")
	}
	if !isVSCHAR(raw) {
		return nil, oautherrors.InvalidRequest("Invalid parameter: `refresh_token`")
	}

	token, err := g.model.GetRefreshToken(ctx, raw)
	if err != nil {
		return nil, oautherrors.Wrap(err)
	}
	if token == nil {
		return nil, oautherrors.InvalidGrant("Invalid grant: refresh token is invalid")
	}
	if token.Client == nil {
		return nil, oautherrors.ServerError("Server error: `GetRefreshToken()` did not return a `client` object")
	}
	if token.User == nil {
		return nil, oautherrors.ServerError("Server error: `GetRefreshToken()` did not return a `user` object")
	}
	if token.Client.ID != client.ID {
		return nil, oautherrors.InvalidGrant("Invalid grant: refresh token was issued to another client")
	}
	// A zero expiry means the refresh token never expires.
	if !token.RefreshTokenExpiresAt.IsZero() && token.RefreshTokenExpiresAt.Before(time.Now()) {
		return nil, oautherrors.InvalidGrant("Invalid grant: refresh token has expired")
	}
	return token, nil
}

// revokeToken invalidates the consumed refresh token, but only under
// rotation. Without rotation the same refresh token remains usable.
func (g *RefreshTokenGrant) revokeToken(ctx context.Context, token *model.Token) error {
	if !g.alwaysIssueNewRefreshToken {
		return nil
	}
	revoked, err := g.model.RevokeToken(ctx, token)
	if err != nil {
		return oautherrors.Wrap(err)
	}
	if !revoked {
		return oautherrors.InvalidGrant("Invalid grant: refresh token is invalid or could not be revoked")
	}
	return nil
}

func (g *RefreshTokenGrant) issueToken(ctx context.Context, client *model.Client, old *model.Token) (*model.Token, error) {
	accessToken, err := g.generateAccessToken(ctx, client, old.User, old.Scope)
	if err != nil {
		return nil, err
	}

	token := &model.Token{
		AccessToken:          accessToken,
		AccessTokenExpiresAt: g.accessTokenExpiresAt(),
		Scope:                old.Scope,
	}
	if g.alwaysIssueNewRefreshToken {
		refreshToken, err := g.generateRefreshToken(ctx, client, old.User, old.Scope)
		if err != nil {
			return nil, err
		}
		token.RefreshToken = refreshToken
		token.RefreshTokenExpiresAt = g.refreshTokenExpiresAt()
	}
	return g.saveToken(ctx, token, client, old.User)
}
