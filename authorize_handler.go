package oauthserver

import (
	"context"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/oauthkit/oauthserver/model"
	"github.com/oauthkit/oauthserver/oautherrors"
)

// Authenticator resolves the resource owner behind an authorize request.
// AuthenticateHandler satisfies it; applications with session-based login
// supply their own.
type Authenticator interface {
	Authenticate(ctx context.Context, req *Request, res *Response) (model.User, error)
}

// AuthorizeHandlerOptions configures an AuthorizeHandler.
type AuthorizeHandlerOptions struct {
	// Model is the persistence collaborator (required).
	Model model.AuthorizeModel

	// AuthorizationCodeLifetime in seconds. Zero means
	// DefaultAuthorizationCodeLifetime.
	AuthorizationCodeLifetime int

	// AllowEmptyState permits authorize requests without a state
	// parameter.
	AllowEmptyState bool

	// Authenticator resolves the resource owner. When nil, the handler
	// builds a bearer-token AuthenticateHandler from Model, which must
	// then also implement model.AuthenticateModel.
	Authenticator Authenticator

	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// AuthorizeHandler drives the authorization endpoint for the
// authorization-code flow: it validates the client and redirect URI,
// resolves the resource owner, captures PKCE parameters and delivers the
// code (or the error) on the redirect URI.
type AuthorizeHandler struct {
	model                     model.AuthorizeModel
	authenticator             Authenticator
	authorizationCodeLifetime int
	allowEmptyState           bool
	logger                    *slog.Logger
}

// NewAuthorizeHandler validates the options and returns a ready handler.
func NewAuthorizeHandler(opts AuthorizeHandlerOptions) (*AuthorizeHandler, error) {
	if opts.Model == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `model`")
	}
	if opts.AuthorizationCodeLifetime == 0 {
		opts.AuthorizationCodeLifetime = DefaultAuthorizationCodeLifetime
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Authenticator == nil {
		am, ok := opts.Model.(model.AuthenticateModel)
		if !ok {
			return nil, oautherrors.InvalidArgument("Invalid argument: model does not implement `GetAccessToken()`")
		}
		authenticate, err := NewAuthenticateHandler(AuthenticateHandlerOptions{
			Model:  am,
			Logger: opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Authenticator = authenticate
	}

	return &AuthorizeHandler{
		model:                     opts.Model,
		authenticator:             opts.Authenticator,
		authorizationCodeLifetime: opts.AuthorizationCodeLifetime,
		allowEmptyState:           opts.AllowEmptyState,
		logger:                    opts.Logger,
	}, nil
}

// Handle processes an authorize request. Once the redirect URI is
// established, failures are delivered as an error redirect on the
// response and still returned to the caller; earlier failures return
// without touching the response.
func (h *AuthorizeHandler) Handle(ctx context.Context, req *Request, res *Response) (*model.AuthorizationCode, error) {
	if req == nil || res == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `request`")
	}

	client, err := h.getClient(ctx, req)
	if err != nil {
		return nil, oautherrors.Wrap(err)
	}
	user, err := h.getUser(ctx, req, res)
	if err != nil {
		return nil, oautherrors.Wrap(err)
	}

	redirectURI := req.param("redirect_uri")
	if redirectURI == "" {
		redirectURI = client.RedirectURIs[0]
	}

	code, err := h.issueCode(ctx, req, client, user, redirectURI)
	if err != nil {
		oerr := oautherrors.Wrap(err)
		h.logger.Debug("authorize request failed",
			"error", oerr.Name,
			"client_id", client.ID,
		)
		res.Redirect(buildErrorRedirect(redirectURI, oerr, h.getState(req)))
		return nil, oerr
	}

	res.Redirect(buildSuccessRedirect(redirectURI, code.Code, h.getState(req)))
	return code, nil
}

func (h *AuthorizeHandler) issueCode(ctx context.Context, req *Request, client *model.Client, user model.User, redirectURI string) (*model.AuthorizationCode, error) {
	state := h.getState(req)
	if state == "" && !h.allowEmptyState {
		return nil, oautherrors.InvalidRequest("Missing parameter: `state`")
	}
	if state != "" && !isVSCHAR(state) {
		return nil, oautherrors.InvalidRequest("Invalid parameter: `state`")
	}

	if req.Query.Get("allowed") == "false" || req.Body.Get("allowed") == "false" {
		return nil, oautherrors.AccessDenied("Access denied: user denied access to application")
	}

	scope, err := h.getScope(ctx, req, client, user)
	if err != nil {
		return nil, err
	}

	responseType := req.param("response_type")
	if responseType == "" {
		return nil, oautherrors.InvalidRequest("Missing parameter: `response_type`")
	}
	if responseType != "code" {
		return nil, oautherrors.UnsupportedResponseType("Unsupported response type: `response_type` is not supported")
	}

	codeChallenge, codeChallengeMethod, err := h.getCodeChallenge(req)
	if err != nil {
		return nil, err
	}

	value, err := h.generateAuthorizationCode(ctx, client, user, scope)
	if err != nil {
		return nil, err
	}

	code := &model.AuthorizationCode{
		Code:                value,
		ExpiresAt:           time.Now().Add(time.Duration(h.authorizationCodeLifetime) * time.Second),
		RedirectURI:         redirectURI,
		Scope:               scope,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
	}
	saved, err := h.model.SaveAuthorizationCode(ctx, code, client, user)
	if err != nil {
		return nil, oautherrors.Wrap(err)
	}
	if saved == nil || saved.Code == "" {
		return nil, oautherrors.ServerError("Server error: `SaveAuthorizationCode()` did not return a `code` object")
	}
	return saved, nil
}

// getClient validates the client and its registration before any
// redirect may happen, so errors here never leak onto an attacker-chosen
// URI.
func (h *AuthorizeHandler) getClient(ctx context.Context, req *Request) (*model.Client, error) {
	clientID := req.param("client_id")
	if clientID == "" {
		return nil, oautherrors.InvalidRequest("Missing parameter: `client_id`")
	}
	if !isVSCHAR(clientID) {
		return nil, oautherrors.InvalidRequest("Invalid parameter: `client_id`")
	}
	redirectURI := req.param("redirect_uri")
	if redirectURI != "" && !isAbsoluteURI(redirectURI) {
		return nil, oautherrors.InvalidRequest("Invalid request: `redirect_uri` is not a valid URI")
	}

	client, err := h.model.GetClient(ctx, clientID, "")
	if err != nil {
		return nil, oautherrors.Wrap(err)
	}
	if client == nil {
		return nil, oautherrors.InvalidClient("Invalid client: client credentials are invalid")
	}
	if len(client.Grants) == 0 {
		return nil, oautherrors.InvalidClient("Invalid client: missing client `grants`")
	}
	if !slices.Contains(client.Grants, GrantTypeAuthorizationCode) {
		return nil, oautherrors.UnauthorizedClient("Unauthorized client: `grant_type` is invalid")
	}
	if len(client.RedirectURIs) == 0 {
		return nil, oautherrors.InvalidClient("Invalid client: missing client `redirectUri`")
	}
	if redirectURI != "" {
		valid, err := h.validateRedirectURI(ctx, client, redirectURI)
		if err != nil {
			return nil, oautherrors.Wrap(err)
		}
		if !valid {
			return nil, oautherrors.InvalidClient("Invalid client: `redirect_uri` does not match client value")
		}
	}
	return client, nil
}

func (h *AuthorizeHandler) validateRedirectURI(ctx context.Context, client *model.Client, redirectURI string) (bool, error) {
	if validator, ok := h.model.(model.RedirectURIValidator); ok {
		return validator.ValidateRedirectURI(ctx, client, redirectURI)
	}
	return slices.Contains(client.RedirectURIs, redirectURI), nil
}

func (h *AuthorizeHandler) getUser(ctx context.Context, req *Request, res *Response) (model.User, error) {
	user, err := h.authenticator.Authenticate(ctx, req, res)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, oautherrors.ServerError("Server error: `Authenticate()` did not return a `user` object")
	}
	return user, nil
}

func (h *AuthorizeHandler) getState(req *Request) string {
	return req.param("state")
}

func (h *AuthorizeHandler) getScope(ctx context.Context, req *Request, client *model.Client, user model.User) ([]string, error) {
	raw := req.param("scope")
	var requested []string
	if raw != "" {
		parsed, err := ParseScope(raw)
		if err != nil {
			return nil, err
		}
		requested = parsed
	}
	validator, ok := h.model.(model.ScopeValidator)
	if !ok {
		return requested, nil
	}
	validated, err := validator.ValidateScope(ctx, user, client, requested)
	if err != nil {
		return nil, oautherrors.Wrap(err)
	}
	if validated == nil {
		return nil, oautherrors.InvalidScope("Invalid scope: Requested scope is invalid")
	}
	return validated, nil
}

func (h *AuthorizeHandler) getCodeChallenge(req *Request) (challenge, method string, err error) {
	challenge = req.param("code_challenge")
	method = req.param("code_challenge_method")
	if method != "" && !IsValidCodeChallengeMethod(method) {
		return "", "", oautherrors.InvalidRequest("Invalid request: transform algorithm '" + method + "' not supported")
	}
	if challenge == "" {
		return "", "", nil
	}
	if !CodeChallengeMatchesFormat(challenge) {
		return "", "", oautherrors.InvalidRequest("Invalid parameter: `code_challenge`")
	}
	if method == "" {
		method = CodeChallengeMethodPlain
	}
	return challenge, method, nil
}

func (h *AuthorizeHandler) generateAuthorizationCode(ctx context.Context, client *model.Client, user model.User, scope []string) (string, error) {
	if gen, ok := h.model.(model.AuthorizationCodeGenerator); ok {
		code, err := gen.GenerateAuthorizationCode(ctx, client, user, scope)
		if err != nil {
			return "", oautherrors.Wrap(err)
		}
		return code, nil
	}
	return generateRandomToken()
}

func buildSuccessRedirect(redirectURI, code, state string) string {
	return appendQuery(redirectURI, func(q url.Values) {
		q.Set("code", code)
		if state != "" {
			q.Set("state", state)
		}
	})
}

func buildErrorRedirect(redirectURI string, oerr *oautherrors.Error, state string) string {
	return appendQuery(redirectURI, func(q url.Values) {
		q.Set("error", oerr.Name)
		if oerr.Description != "" {
			q.Set("error_description", oerr.Description)
		}
		if state != "" {
			q.Set("state", state)
		}
	})
}

func appendQuery(rawURL string, set func(url.Values)) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// The URI was validated against the client registration before
		// any redirect is built.
		return rawURL
	}
	q := u.Query()
	set(q)
	u.RawQuery = q.Encode()
	return u.String()
}
