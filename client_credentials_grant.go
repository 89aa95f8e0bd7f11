package oauthserver

import (
	"context"

	"github.com/oauthkit/oauthserver/model"
	"github.com/oauthkit/oauthserver/oautherrors"
)

// ClientCredentialsGrant issues an access token directly to an
// authenticated client. No refresh token is issued; a client can always
// re-authenticate instead.
type ClientCredentialsGrant struct {
	grantBase
	model model.ClientCredentialsModel
}

// NewClientCredentialsGrant is the GrantFactory for the
// client_credentials grant.
func NewClientCredentialsGrant(opts GrantOptions) (GrantType, error) {
	base, err := newGrantBase(opts)
	if err != nil {
		return nil, err
	}
	m, ok := opts.Model.(model.ClientCredentialsModel)
	if !ok {
		return nil, oautherrors.InvalidArgument("Invalid argument: model does not implement `GetUserFromClient()`")
	}
	return &ClientCredentialsGrant{grantBase: base, model: m}, nil
}

// Handle implements GrantType.
func (g *ClientCredentialsGrant) Handle(ctx context.Context, req *Request, client *model.Client) (*model.Token, error) {
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

	user, err := g.model.GetUserFromClient(ctx, client)
	if err != nil {
		return nil, oautherrors.Wrap(err)
	}
	if user == nil {
		return nil, oautherrors.InvalidGrant("Invalid grant: user credentials are invalid")
	}

	scope, err := g.validateScope(ctx, user, client, requested)
	if err != nil {
		return nil, err
	}
	accessToken, err := g.generateAccessToken(ctx, client, user, scope)
	if err != nil {
		return nil, err
	}

	token := &model.Token{
		AccessToken:          accessToken,
		AccessTokenExpiresAt: g.accessTokenExpiresAt(),
		Scope:                scope,
	}
	return g.saveToken(ctx, token, client, user)
}
