package oauthserver

import (
	"context"

	"github.com/oauthkit/oauthserver/model"
	"github.com/oauthkit/oauthserver/oautherrors"
)

// PasswordGrant exchanges resource-owner credentials for an access and
// refresh token pair.
type PasswordGrant struct {
	grantBase
	model model.PasswordModel
}

// NewPasswordGrant is the GrantFactory for the password grant.
func NewPasswordGrant(opts GrantOptions) (GrantType, error) {
	base, err := newGrantBase(opts)
	if err != nil {
		return nil, err
	}
	m, ok := opts.Model.(model.PasswordModel)
	if !ok {
		return nil, oautherrors.InvalidArgument("Invalid argument: model does not implement `GetUser()`")
	}
	return &PasswordGrant{grantBase: base, model: m}, nil
}

// Handle implements GrantType.
func (g *PasswordGrant) Handle(ctx context.Context, req *Request, client *model.Client) (*model.Token, error) {
	if req == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `request`")
	}
	if client == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `client`")
	}

	requested, err := g.requestScope(req)
	if err != nil {
		return nil, err
	}

	user, err := g.getUser(ctx, req)
	if err != nil {
		return nil, err
	}

	scope, err := g.validateScope(ctx, user, client, requested)
	if err != nil {
		return nil, err
	}
	accessToken, err := g.generateAccessToken(ctx, client, user, scope)
	if err != nil {
		return nil, err
	}
	refreshToken, err := g.generateRefreshToken(ctx, client, user, scope)
	if err != nil {
		return nil, err
	}

	token := &model.Token{
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  g.accessTokenExpiresAt(),
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: g.refreshTokenExpiresAt(),
		Scope:                 scope,
	}
	return g.saveToken(ctx, token, client, user)
}

func (g *PasswordGrant) getUser(ctx context.Context, req *Request) (model.User, error) {
	username := req.Body.Get("username")
	password := req.Body.Get("password")
	if username == "" {
		return nil, oautherrors.InvalidRequest("Missing parameter: `username`")
	}
	if password == "" {
		return nil, oautherrors.InvalidRequest("Missing parameter: `password`")
	}
	if !isVSCHAR(username) {
		return nil, oautherrors.InvalidRequest("Invalid parameter: `username`")
	}
	if !isVSCHAR(password) {
		return nil, oautherrors.InvalidRequest("Invalid parameter: `password`")
	}

	user, err := g.model.GetUser(ctx, username, password)
	if err != nil {
		return nil, oautherrors.Wrap(err)
	}
	if user == nil {
		return nil, oautherrors.InvalidGrant("Invalid grant: user credentials are invalid")
	}
	return user, nil
}
