package oauthserver

import (
	"context"
	"log/slog"

	"github.com/oauthkit/oauthserver/instrumentation"
	"github.com/oauthkit/oauthserver/model"
	"github.com/oauthkit/oauthserver/oautherrors"
	"github.com/oauthkit/oauthserver/security"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Config bundles the settings of all three handlers. The zero value of
// every field is a safe default.
type Config struct {
	// AccessTokenLifetime in seconds (default 3600).
	AccessTokenLifetime int

	// RefreshTokenLifetime in seconds (default 1209600).
	RefreshTokenLifetime int

	// AuthorizationCodeLifetime in seconds (default 300).
	AuthorizationCodeLifetime int

	// DisableRefreshTokenRotation keeps presented refresh tokens valid
	// instead of rotating them.
	DisableRefreshTokenRotation bool

	// AllowEmptyState permits authorize requests without a state
	// parameter.
	AllowEmptyState bool

	// AllowExtendedTokenAttributes forwards Token.Extra onto token
	// responses.
	AllowExtendedTokenAttributes bool

	// AllowBearerTokensInQueryString accepts access_token as a query
	// parameter on protected resources.
	AllowBearerTokensInQueryString bool

	// AddAcceptedScopesHeader and AddAuthorizedScopesHeader control the
	// X-Accepted-OAuth-Scopes / X-OAuth-Scopes response headers.
	AddAcceptedScopesHeader   bool
	AddAuthorizedScopesHeader bool

	// Realm names the protection space (default "Service").
	Realm string

	// Scope is the scope required by Authenticate.
	Scope []string

	// RequireClientAuthentication disables client authentication for
	// grant types explicitly mapped to false.
	RequireClientAuthentication map[string]bool

	// ExtendedGrantTypes registers extension grants by name; a name
	// matching a built-in grant replaces it.
	ExtendedGrantTypes map[string]GrantFactory

	// Authenticator overrides how the authorize endpoint resolves the
	// resource owner.
	Authenticator Authenticator

	// Auditor records security-relevant events. Nil disables auditing.
	Auditor *security.Auditor

	// RateLimiter throttles token requests per client id. Nil disables
	// throttling.
	RateLimiter *security.RateLimiter

	// Instrumentation provides meters and tracers. Nil disables
	// telemetry.
	Instrumentation *instrumentation.Instrumentation
}

// Server bundles the token, authorize and authenticate handlers behind
// one configuration. Each entry point requires the model to satisfy the
// corresponding capability interface; entry points whose interface the
// model does not implement fail with InvalidArgument when called.
type Server struct {
	token        *TokenHandler
	authorize    *AuthorizeHandler
	authenticate *AuthenticateHandler

	auditor *security.Auditor
	limiter *security.RateLimiter
	instr   *instrumentation.Instrumentation
	logger  *slog.Logger
}

// NewServer wires the handlers the given model supports. m is typically a
// single value implementing several of the model capability interfaces;
// cfg and logger may be nil.
func NewServer(m any, cfg *Config, logger *slog.Logger) (*Server, error) {
	if m == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `model`")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	instr := cfg.Instrumentation
	if instr == nil {
		// Noop providers: telemetry calls stay valid and free.
		disabled, err := instrumentation.New(instrumentation.Config{})
		if err != nil {
			return nil, oautherrors.Wrap(err)
		}
		instr = disabled
	}

	s := &Server{
		auditor: cfg.Auditor,
		limiter: cfg.RateLimiter,
		instr:   instr,
		logger:  logger,
	}

	if bm, ok := m.(model.BaseModel); ok {
		handler, err := NewTokenHandler(TokenHandlerOptions{
			Model:                        bm,
			AccessTokenLifetime:          cfg.AccessTokenLifetime,
			RefreshTokenLifetime:         cfg.RefreshTokenLifetime,
			DisableRefreshTokenRotation:  cfg.DisableRefreshTokenRotation,
			RequireClientAuthentication:  cfg.RequireClientAuthentication,
			ExtendedGrantTypes:           cfg.ExtendedGrantTypes,
			AllowExtendedTokenAttributes: cfg.AllowExtendedTokenAttributes,
			Logger:                       logger,
		})
		if err != nil {
			return nil, err
		}
		s.token = handler
	}

	if am, ok := m.(model.AuthenticateModel); ok {
		handler, err := NewAuthenticateHandler(AuthenticateHandlerOptions{
			Model:                          am,
			Scope:                          cfg.Scope,
			Realm:                          cfg.Realm,
			AllowBearerTokensInQueryString: cfg.AllowBearerTokensInQueryString,
			AddAcceptedScopesHeader:        cfg.AddAcceptedScopesHeader,
			AddAuthorizedScopesHeader:      cfg.AddAuthorizedScopesHeader,
			Logger:                         logger,
		})
		if err != nil {
			return nil, err
		}
		s.authenticate = handler
	}

	if azm, ok := m.(model.AuthorizeModel); ok {
		authenticator := cfg.Authenticator
		if authenticator == nil && s.authenticate != nil {
			authenticator = s.authenticate
		}
		handler, err := NewAuthorizeHandler(AuthorizeHandlerOptions{
			Model:                     azm,
			AuthorizationCodeLifetime: cfg.AuthorizationCodeLifetime,
			AllowEmptyState:           cfg.AllowEmptyState,
			Authenticator:             authenticator,
			Logger:                    logger,
		})
		if err != nil {
			return nil, err
		}
		s.authorize = handler
	}

	return s, nil
}

// Token processes a token request.
func (s *Server) Token(ctx context.Context, req *Request, res *Response) (*model.Token, error) {
	if s.token == nil {
		return nil, oautherrors.InvalidArgument("Invalid argument: model does not implement `GetClient()` and `SaveToken()`")
	}
	if req == nil || res == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `request`")
	}

	ctx, span := s.startSpan(ctx, "oauth.token")
	defer span.End()

	if err := s.allow(ctx, req); err != nil {
		oerr := oautherrors.Wrap(err)
		writeErrorResponse(res, oerr)
		s.countTokenError(ctx, oerr)
		return nil, oerr
	}

	token, err := s.token.Handle(ctx, req, res)
	grantType := req.Body.Get("grant_type")
	if err != nil {
		oerr := oautherrors.Wrap(err)
		span.SetStatus(codes.Error, oerr.Name)
		s.countTokenError(ctx, oerr)
		s.auditor.TokenDenied(req.Body.Get("client_id"), grantType, oerr.Name)
		return nil, oerr
	}

	s.instr.Metrics().TokensIssued.Add(ctx, 1,
		metric.WithAttributes(attribute.String("grant_type", grantType)))
	clientID := ""
	if token.Client != nil {
		clientID = token.Client.ID
	}
	s.auditor.TokenIssued(clientID, grantType, token.Scope)
	return token, nil
}

// Authorize processes an authorization request.
func (s *Server) Authorize(ctx context.Context, req *Request, res *Response) (*model.AuthorizationCode, error) {
	if s.authorize == nil {
		return nil, oautherrors.InvalidArgument("Invalid argument: model does not implement `SaveAuthorizationCode()`")
	}
	if req == nil || res == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `request`")
	}

	ctx, span := s.startSpan(ctx, "oauth.authorize")
	defer span.End()

	code, err := s.authorize.Handle(ctx, req, res)
	if err != nil {
		oerr := oautherrors.Wrap(err)
		span.SetStatus(codes.Error, oerr.Name)
		s.instr.Metrics().AuthorizeErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("error", oerr.Name)))
		s.auditor.AuthorizationDenied(req.param("client_id"), oerr.Name)
		return nil, oerr
	}

	s.instr.Metrics().AuthorizationCodesIssued.Add(ctx, 1)
	s.auditor.AuthorizationCodeIssued(req.param("client_id"))
	return code, nil
}

// Authenticate validates the bearer token on a protected-resource
// request.
func (s *Server) Authenticate(ctx context.Context, req *Request, res *Response) (*model.Token, error) {
	if s.authenticate == nil {
		return nil, oautherrors.InvalidArgument("Invalid argument: model does not implement `GetAccessToken()`")
	}
	if req == nil || res == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `request`")
	}

	ctx, span := s.startSpan(ctx, "oauth.authenticate")
	defer span.End()

	token, err := s.authenticate.Handle(ctx, req, res)
	outcome := "success"
	if err != nil {
		oerr := oautherrors.Wrap(err)
		span.SetStatus(codes.Error, oerr.Name)
		outcome = oerr.Name
		s.auditor.BearerRejected(oerr.Name)
	}
	s.instr.Metrics().BearerAuthentications.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
	if err != nil {
		return nil, oautherrors.Wrap(err)
	}
	return token, nil
}

// allow consults the rate limiter, keyed by the client id the request
// claims. Unidentified requests share one bucket.
func (s *Server) allow(ctx context.Context, req *Request) error {
	if s.limiter == nil {
		return nil
	}
	key := req.Body.Get("client_id")
	if key == "" {
		if user, _, ok := req.BasicAuth(); ok {
			key = user
		}
	}
	if s.limiter.Allow(key) {
		return nil
	}
	s.instr.Metrics().RateLimitExceeded.Add(ctx, 1)
	s.auditor.RateLimited(key)
	return oautherrors.RateLimited("Rate limit exceeded: too many token requests")
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.instr.Tracer().Start(ctx, name)
}

func (s *Server) countTokenError(ctx context.Context, oerr *oautherrors.Error) {
	s.instr.Metrics().TokenRequestErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("error", oerr.Name)))
}
