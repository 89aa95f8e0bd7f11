package oauthserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/oauthkit/oauthserver/model"
	"github.com/oauthkit/oauthserver/oautherrors"
)

// bearerTokenPattern extracts the token from an RFC 6750 Authorization
// header.
var bearerTokenPattern = regexp.MustCompile(`^\s*Bearer\s+(\S+)\s*$`)

// AuthenticateHandlerOptions configures an AuthenticateHandler.
type AuthenticateHandlerOptions struct {
	// Model is the persistence collaborator (required).
	Model model.AuthenticateModel

	// Scope is the scope the protected resource requires. When set, the
	// model must implement model.ScopeVerifier.
	Scope []string

	// Realm names the protection space in WWW-Authenticate challenges.
	// Defaults to DefaultRealm.
	Realm string

	// AllowBearerTokensInQueryString accepts the access_token query
	// parameter. Off by default: query strings end up in logs.
	AllowBearerTokensInQueryString bool

	// AddAcceptedScopesHeader exposes the required scope as
	// X-Accepted-OAuth-Scopes on successful responses.
	AddAcceptedScopesHeader bool

	// AddAuthorizedScopesHeader exposes the token's scope as
	// X-OAuth-Scopes on successful responses.
	AddAuthorizedScopesHeader bool

	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// AuthenticateHandler guards protected resources: it extracts the bearer
// token from the request, validates it against the model and optionally
// verifies the required scope.
type AuthenticateHandler struct {
	model                          model.AuthenticateModel
	scope                          []string
	realm                          string
	allowBearerTokensInQueryString bool
	addAcceptedScopesHeader        bool
	addAuthorizedScopesHeader      bool
	logger                         *slog.Logger
}

// NewAuthenticateHandler validates the options and returns a ready
// handler.
func NewAuthenticateHandler(opts AuthenticateHandlerOptions) (*AuthenticateHandler, error) {
	if opts.Model == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `model`")
	}
	if len(opts.Scope) > 0 {
		if _, ok := opts.Model.(model.ScopeVerifier); !ok {
			return nil, oautherrors.InvalidArgument("Invalid argument: model does not implement `VerifyScope()`")
		}
	}
	if opts.Realm == "" {
		opts.Realm = DefaultRealm
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &AuthenticateHandler{
		model:                          opts.Model,
		scope:                          opts.Scope,
		realm:                          opts.Realm,
		allowBearerTokensInQueryString: opts.AllowBearerTokensInQueryString,
		addAcceptedScopesHeader:        opts.AddAcceptedScopesHeader,
		addAuthorizedScopesHeader:      opts.AddAuthorizedScopesHeader,
		logger:                         opts.Logger,
	}, nil
}

// Handle authenticates a protected-resource request. Failures set the
// RFC 6750 WWW-Authenticate challenge on the response; successes
// optionally expose the scope headers.
func (h *AuthenticateHandler) Handle(ctx context.Context, req *Request, res *Response) (*model.Token, error) {
	if req == nil || res == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `request`")
	}

	token, err := h.handle(ctx, req)
	if err != nil {
		oerr := oautherrors.Wrap(err)
		h.setChallenge(res, oerr)
		h.logger.Debug("bearer authentication failed", "error", oerr.Name)
		return nil, oerr
	}

	if h.addAcceptedScopesHeader && len(h.scope) > 0 {
		res.Headers.Set("X-Accepted-OAuth-Scopes", strings.Join(h.scope, " "))
	}
	if h.addAuthorizedScopesHeader {
		res.Headers.Set("X-OAuth-Scopes", strings.Join(token.Scope, " "))
	}
	return token, nil
}

// Authenticate implements the Authenticator interface consumed by the
// authorize handler.
func (h *AuthenticateHandler) Authenticate(ctx context.Context, req *Request, res *Response) (model.User, error) {
	token, err := h.Handle(ctx, req, res)
	if err != nil {
		return nil, err
	}
	return token.User, nil
}

func (h *AuthenticateHandler) handle(ctx context.Context, req *Request) (*model.Token, error) {
	raw, err := h.getTokenFromRequest(req)
	if err != nil {
		return nil, err
	}
	token, err := h.getAccessToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	if err := h.verifyScope(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// getTokenFromRequest resolves the bearer token, enforcing the RFC 6750
// rule that exactly one transmission method is used.
func (h *AuthenticateHandler) getTokenFromRequest(req *Request) (string, error) {
	header := req.Header("Authorization")
	query := req.Query.Get("access_token")
	body := req.Body.Get("access_token")

	sources := 0
	for _, present := range []bool{header != "", query != "", body != ""} {
		if present {
			sources++
		}
	}
	if sources > 1 {
		return "", oautherrors.InvalidRequest("Invalid request: only one authentication method is allowed")
	}

	switch {
	case header != "":
		m := bearerTokenPattern.FindStringSubmatch(header)
		if m == nil {
			return "", oautherrors.InvalidRequest("Invalid request: malformed authorization header")
		}
		return m[1], nil
	case query != "":
		if !h.allowBearerTokensInQueryString {
			return "", oautherrors.InvalidRequest("Invalid request: do not send bearer tokens in query URLs")
		}
		return query, nil
	case body != "":
		if req.Method == http.MethodGet {
			return "", oautherrors.InvalidRequest("Invalid request: token may not be passed in the body when using the GET verb")
		}
		if !req.IsForm() {
			return "", oautherrors.InvalidRequest("Invalid request: content must be application/x-www-form-urlencoded")
		}
		return body, nil
	default:
		return "", oautherrors.UnauthorizedRequest("Unauthorized request: no authentication given")
	}
}

func (h *AuthenticateHandler) getAccessToken(ctx context.Context, raw string) (*model.Token, error) {
	token, err := h.model.GetAccessToken(ctx, raw)
	if err != nil {
		return nil, oautherrors.Wrap(err)
	}
	if token == nil {
		return nil, oautherrors.InvalidToken("Invalid token: access token is invalid")
	}
	if token.User == nil {
		return nil, oautherrors.ServerError("Server error: `GetAccessToken()` did not return a `user` object")
	}
	if token.AccessTokenExpiresAt.IsZero() {
		return nil, oautherrors.ServerError("Server error: `accessTokenExpiresAt` must be set")
	}
	if token.AccessTokenExpiresAt.Before(time.Now()) {
		return nil, oautherrors.InvalidToken("Invalid token: access token has expired")
	}
	return token, nil
}

func (h *AuthenticateHandler) verifyScope(ctx context.Context, token *model.Token) error {
	if len(h.scope) == 0 {
		return nil
	}
	verifier := h.model.(model.ScopeVerifier)
	ok, err := verifier.VerifyScope(ctx, token, h.scope)
	if err != nil {
		return oautherrors.Wrap(err)
	}
	if !ok {
		return oautherrors.InsufficientScope("Insufficient scope: authorized scope is insufficient")
	}
	return nil
}

// setChallenge writes the RFC 6750 3 challenge. A request with no
// credentials gets the bare realm; other protocol failures append their
// error code. Model failures advertise nothing.
func (h *AuthenticateHandler) setChallenge(res *Response, oerr *oautherrors.Error) {
	switch oerr.Kind {
	case oautherrors.KindUnauthorizedRequest:
		res.Headers.Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", h.realm))
	case oautherrors.KindInvalidRequest, oautherrors.KindInvalidToken, oautherrors.KindInsufficientScope:
		res.Headers.Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q,error=%q", h.realm, oerr.Name))
	}
	res.Status = oerr.Status
}
