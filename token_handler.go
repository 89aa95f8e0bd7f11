package oauthserver

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/oauthkit/oauthserver/model"
	"github.com/oauthkit/oauthserver/oautherrors"
)

// Defaults applied by the handlers when the corresponding option is zero.
const (
	// DefaultAccessTokenLifetime is one hour, in seconds.
	DefaultAccessTokenLifetime = 3600

	// DefaultRefreshTokenLifetime is two weeks, in seconds.
	DefaultRefreshTokenLifetime = 1209600

	// DefaultAuthorizationCodeLifetime is five minutes, in seconds.
	DefaultAuthorizationCodeLifetime = 300

	// DefaultRealm is the realm advertised in WWW-Authenticate challenges.
	DefaultRealm = "Service"
)

// reservedTokenAttributes are the response fields extended token
// attributes may never shadow.
var reservedTokenAttributes = map[string]bool{
	"access_token":  true,
	"token_type":    true,
	"expires_in":    true,
	"refresh_token": true,
	"scope":         true,
}

// builtinGrantTypes maps the RFC 6749 grant type names to their
// factories.
var builtinGrantTypes = map[string]GrantFactory{
	GrantTypeAuthorizationCode: NewAuthorizationCodeGrant,
	GrantTypeClientCredentials: NewClientCredentialsGrant,
	GrantTypePassword:          NewPasswordGrant,
	GrantTypeRefreshToken:      NewRefreshTokenGrant,
}

// TokenHandlerOptions configures a TokenHandler.
type TokenHandlerOptions struct {
	// Model is the persistence collaborator (required).
	Model model.BaseModel

	// AccessTokenLifetime in seconds. Zero means
	// DefaultAccessTokenLifetime. Per-client lifetimes on the Client
	// record override it per request.
	AccessTokenLifetime int

	// RefreshTokenLifetime in seconds. Zero means
	// DefaultRefreshTokenLifetime.
	RefreshTokenLifetime int

	// DisableRefreshTokenRotation keeps a presented refresh token valid
	// instead of revoking it and issuing a replacement.
	DisableRefreshTokenRotation bool

	// RequireClientAuthentication disables client authentication for the
	// grant types explicitly mapped to false. Unlisted grant types always
	// authenticate.
	RequireClientAuthentication map[string]bool

	// ExtendedGrantTypes registers extension grants by name. Names
	// matching a built-in grant replace it.
	ExtendedGrantTypes map[string]GrantFactory

	// AllowExtendedTokenAttributes forwards Token.Extra entries onto the
	// token response.
	AllowExtendedTokenAttributes bool

	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// TokenHandler drives the token endpoint: it authenticates the client,
// dispatches to the requested grant type and shapes the RFC 6750 bearer
// token response.
type TokenHandler struct {
	model                        model.BaseModel
	accessTokenLifetime          int
	refreshTokenLifetime         int
	alwaysIssueNewRefreshToken   bool
	requireClientAuthentication  map[string]bool
	allowExtendedTokenAttributes bool
	grantTypes                   map[string]GrantFactory
	logger                       *slog.Logger
}

// NewTokenHandler validates the options and returns a ready handler.
func NewTokenHandler(opts TokenHandlerOptions) (*TokenHandler, error) {
	if opts.Model == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `model`")
	}
	if opts.AccessTokenLifetime == 0 {
		opts.AccessTokenLifetime = DefaultAccessTokenLifetime
	}
	if opts.RefreshTokenLifetime == 0 {
		opts.RefreshTokenLifetime = DefaultRefreshTokenLifetime
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	grantTypes := make(map[string]GrantFactory, len(builtinGrantTypes)+len(opts.ExtendedGrantTypes))
	for name, factory := range builtinGrantTypes {
		grantTypes[name] = factory
	}
	for name, factory := range opts.ExtendedGrantTypes {
		if factory == nil {
			return nil, oautherrors.InvalidArgument("Invalid argument: extended grant type `" + name + "` has no factory")
		}
		if !isNCHAR(name) && !isAbsoluteURI(name) {
			return nil, oautherrors.InvalidArgument("Invalid argument: invalid extended grant type `" + name + "`")
		}
		grantTypes[name] = factory
	}

	return &TokenHandler{
		model:                        opts.Model,
		accessTokenLifetime:          opts.AccessTokenLifetime,
		refreshTokenLifetime:         opts.RefreshTokenLifetime,
		alwaysIssueNewRefreshToken:   !opts.DisableRefreshTokenRotation,
		requireClientAuthentication:  opts.RequireClientAuthentication,
		allowExtendedTokenAttributes: opts.AllowExtendedTokenAttributes,
		grantTypes:                   grantTypes,
		logger:                       opts.Logger,
	}, nil
}

// Handle processes a token request. On success the response carries the
// bearer token body; on failure it carries the RFC 6749 error body. The
// issued token (or the error) is also returned to the caller.
func (h *TokenHandler) Handle(ctx context.Context, req *Request, res *Response) (*model.Token, error) {
	if req == nil || res == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `request`")
	}

	token, err := h.handle(ctx, req)
	if err != nil {
		oerr := oautherrors.Wrap(err)
		h.logger.Debug("token request failed",
			"error", oerr.Name,
			"description", oerr.Description,
			"grant_type", req.Body.Get("grant_type"),
		)
		writeErrorResponse(res, oerr)
		return nil, oerr
	}

	h.writeTokenResponse(res, token)
	return token, nil
}

func (h *TokenHandler) handle(ctx context.Context, req *Request) (*model.Token, error) {
	if req.Method != http.MethodPost {
		return nil, oautherrors.InvalidRequest("Invalid request: method must be POST")
	}
	if !req.IsForm() {
		return nil, oautherrors.InvalidRequest("Invalid request: content must be application/x-www-form-urlencoded")
	}

	client, err := h.getClient(ctx, req)
	if err != nil {
		return nil, err
	}

	grantType := req.Body.Get("grant_type")
	if grantType == "" {
		return nil, oautherrors.InvalidRequest("Missing parameter: `grant_type`")
	}
	if !isNCHAR(grantType) && !isAbsoluteURI(grantType) {
		return nil, oautherrors.InvalidRequest("Invalid parameter: `grant_type`")
	}
	factory, ok := h.grantTypes[grantType]
	if !ok {
		return nil, oautherrors.UnsupportedGrantType("Unsupported grant type: `grant_type` is invalid")
	}
	if !slices.Contains(client.Grants, grantType) {
		return nil, oautherrors.UnauthorizedClient("Unauthorized client: `grant_type` is invalid")
	}

	accessTokenLifetime := h.accessTokenLifetime
	if client.AccessTokenLifetime > 0 {
		accessTokenLifetime = client.AccessTokenLifetime
	}
	refreshTokenLifetime := h.refreshTokenLifetime
	if client.RefreshTokenLifetime > 0 {
		refreshTokenLifetime = client.RefreshTokenLifetime
	}

	grant, err := factory(GrantOptions{
		Model:                      h.model,
		AccessTokenLifetime:        accessTokenLifetime,
		RefreshTokenLifetime:       refreshTokenLifetime,
		AlwaysIssueNewRefreshToken: h.alwaysIssueNewRefreshToken,
	})
	if err != nil {
		return nil, err
	}

	token, err := grant.Handle(ctx, req, client)
	if err != nil {
		return nil, err
	}
	if token.Client == nil {
		token.Client = client
	}
	return token, nil
}

// getClient resolves and authenticates the requesting client. Credentials
// are taken from the Authorization header first, then from a
// client_id/client_secret body pair; a bare client_id is accepted only
// for PKCE exchanges and grant types with authentication disabled.
func (h *TokenHandler) getClient(ctx context.Context, req *Request) (*model.Client, error) {
	clientID, clientSecret, err := h.getClientCredentials(req)
	if err != nil {
		return nil, err
	}

	grantType := req.Body.Get("grant_type")
	codeVerifier := req.Body.Get("code_verifier")

	if clientID == "" {
		return nil, oautherrors.InvalidRequest("Missing parameter: `client_id`")
	}
	if clientSecret == "" && !IsPKCERequest(grantType, codeVerifier) && h.isClientAuthenticationRequired(grantType) {
		return nil, oautherrors.InvalidRequest("Missing parameter: `client_secret`")
	}
	if !isVSCHAR(clientID) {
		return nil, oautherrors.InvalidRequest("Invalid parameter: `client_id`")
	}
	if clientSecret != "" && !isVSCHAR(clientSecret) {
		return nil, oautherrors.InvalidRequest("Invalid parameter: `client_secret`")
	}

	client, err := h.model.GetClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, oautherrors.Wrap(err)
	}
	if client == nil {
		oerr := oautherrors.InvalidClient("Invalid client: client is invalid")
		// RFC 6749 5.2: header-authenticated clients get a 401 with a
		// matching challenge.
		if req.Header("Authorization") != "" {
			oerr = oerr.WithStatus(http.StatusUnauthorized).
				WithHeader("WWW-Authenticate", `Basic realm="`+DefaultRealm+`"`)
		}
		return nil, oerr
	}
	if len(client.Grants) == 0 {
		return nil, oautherrors.ServerError("Server error: missing client `grants`")
	}
	return client, nil
}

func (h *TokenHandler) getClientCredentials(req *Request) (clientID, clientSecret string, err error) {
	if user, pass, ok := req.BasicAuth(); ok {
		return user, pass, nil
	}
	if id, secret := req.Body.Get("client_id"), req.Body.Get("client_secret"); id != "" && secret != "" {
		return id, secret, nil
	}

	grantType := req.Body.Get("grant_type")
	codeVerifier := req.Body.Get("code_verifier")
	if IsPKCERequest(grantType, codeVerifier) || !h.isClientAuthenticationRequired(grantType) {
		if id := req.Body.Get("client_id"); id != "" {
			return id, "", nil
		}
	}

	return "", "", oautherrors.InvalidClient("Invalid client: cannot retrieve client credentials")
}

func (h *TokenHandler) isClientAuthenticationRequired(grantType string) bool {
	if required, ok := h.requireClientAuthentication[grantType]; ok {
		return required
	}
	return true
}

// writeTokenResponse shapes the RFC 6750 bearer response: 200 with
// cache-defeating headers and the flat token body.
func (h *TokenHandler) writeTokenResponse(res *Response, token *model.Token) {
	body := map[string]any{
		"access_token": token.AccessToken,
		"token_type":   "Bearer",
		"expires_in":   int(time.Until(token.AccessTokenExpiresAt).Seconds()),
	}
	if token.RefreshToken != "" {
		body["refresh_token"] = token.RefreshToken
	}
	if len(token.Scope) > 0 {
		body["scope"] = strings.Join(token.Scope, " ")
	}
	if h.allowExtendedTokenAttributes {
		for key, value := range token.Extra {
			if !reservedTokenAttributes[key] {
				body[key] = value
			}
		}
	}

	res.Status = http.StatusOK
	res.Headers.Set("Cache-Control", "no-store")
	res.Headers.Set("Pragma", "no-cache")
	res.Body = body
}

// writeErrorResponse shapes the RFC 6749 5.2 error body and applies any
// headers the error mandates.
func writeErrorResponse(res *Response, oerr *oautherrors.Error) {
	res.Status = oerr.Status
	for name, value := range oerr.Headers {
		res.Headers.Set(name, value)
	}
	body := map[string]any{
		"error": oerr.Name,
	}
	if oerr.Description != "" {
		body["error_description"] = oerr.Description
	}
	res.Body = body
}
