// Package model defines the records the OAuth 2.0 handlers exchange with
// the persistence layer, and the capability interfaces a model
// implementation satisfies to enable individual flows.
//
// The protocol core never owns storage. Everything it needs to look up or
// persist goes through a caller-supplied model; each handler and grant type
// states its requirements as an interface, and optional behavior (custom
// token generators, scope validation, redirect URI matching) is discovered
// at runtime by type assertion.
package model

import (
	"context"
	"time"
)

// User is an opaque resource-owner value supplied by the model. The
// protocol core only ever checks it for presence (non-nil) and threads it
// back into model calls.
type User = any

// Client is a registered OAuth 2.0 client application.
type Client struct {
	// ID is the client identifier.
	ID string

	// Secret is the client secret. Model implementations normally keep
	// only a hash and leave this empty on returned records.
	Secret string

	// Grants lists the grant types the client may use, e.g.
	// "authorization_code" or "refresh_token". A client with no grants
	// cannot obtain tokens.
	Grants []string

	// RedirectURIs lists the registered redirect URIs. The first entry is
	// the default when an authorize request names none.
	RedirectURIs []string

	// AccessTokenLifetime overrides the handler default, in seconds.
	// Zero means "use the handler default".
	AccessTokenLifetime int

	// RefreshTokenLifetime overrides the handler default, in seconds.
	// Zero means "use the handler default".
	RefreshTokenLifetime int

	// Public marks clients that cannot keep a secret (native or browser
	// apps). The flag is carried for model implementations to branch on;
	// the protocol core itself does not restrict PKCE to public clients.
	Public bool
}

// AuthorizationCode is a single-use grant minted by the authorize handler
// and exchanged at the token endpoint.
type AuthorizationCode struct {
	Code        string
	ExpiresAt   time.Time
	RedirectURI string
	Scope       []string
	Client      *Client
	User        User

	// CodeChallenge and CodeChallengeMethod are set when the authorize
	// request carried PKCE parameters. An empty method with a non-empty
	// challenge means "plain".
	CodeChallenge       string
	CodeChallengeMethod string
}

// Token is an issued access token, optionally paired with a refresh token.
type Token struct {
	AccessToken          string
	AccessTokenExpiresAt time.Time

	// RefreshToken is empty when the grant did not issue one.
	RefreshToken          string
	RefreshTokenExpiresAt time.Time

	Scope  []string
	Client *Client
	User   User

	// AuthorizationCode records the code a token was exchanged for, for
	// audit purposes. Only the authorization-code grant sets it.
	AuthorizationCode string

	// Extra holds additional attributes the model wants on the token
	// response. The token handler only forwards them when extended token
	// attributes are enabled, and never lets them shadow the reserved
	// response fields.
	Extra map[string]any
}

// BaseModel is the minimum contract every token-issuing flow needs.
type BaseModel interface {
	// GetClient returns the client matching the given credentials, or
	// (nil, nil) when there is no match. clientSecret is empty when the
	// flow does not authenticate the client (PKCE, or authentication
	// disabled for the grant type).
	GetClient(ctx context.Context, clientID, clientSecret string) (*Client, error)

	// SaveToken persists a freshly minted token and returns the stored
	// record. The returned token is what the handler serializes, so the
	// model may enrich it.
	SaveToken(ctx context.Context, token *Token, client *Client, user User) (*Token, error)
}

// AuthorizationCodeModel enables the authorization_code grant.
type AuthorizationCodeModel interface {
	BaseModel

	// GetAuthorizationCode returns the stored code, or (nil, nil) when
	// unknown.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// RevokeAuthorizationCode invalidates a code after use. Returning
	// false fails the exchange.
	RevokeAuthorizationCode(ctx context.Context, code *AuthorizationCode) (bool, error)
}

// ClientCredentialsModel enables the client_credentials grant.
type ClientCredentialsModel interface {
	BaseModel

	// GetUserFromClient returns the service account associated with the
	// client, or (nil, nil) when the client has none.
	GetUserFromClient(ctx context.Context, client *Client) (User, error)
}

// PasswordModel enables the password grant.
type PasswordModel interface {
	BaseModel

	// GetUser returns the resource owner matching the credentials, or
	// (nil, nil) on mismatch.
	GetUser(ctx context.Context, username, password string) (User, error)
}

// RefreshTokenModel enables the refresh_token grant.
type RefreshTokenModel interface {
	BaseModel

	// GetRefreshToken returns the token record holding the given refresh
	// token, or (nil, nil) when unknown.
	GetRefreshToken(ctx context.Context, refreshToken string) (*Token, error)

	// RevokeToken invalidates a consumed refresh token. Returning false
	// fails the refresh.
	RevokeToken(ctx context.Context, token *Token) (bool, error)
}

// AuthorizeModel is what the authorize handler requires.
type AuthorizeModel interface {
	GetClient(ctx context.Context, clientID, clientSecret string) (*Client, error)

	// SaveAuthorizationCode persists a freshly minted code and returns
	// the stored record.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode, client *Client, user User) (*AuthorizationCode, error)
}

// AuthenticateModel is what the authenticate handler requires.
type AuthenticateModel interface {
	// GetAccessToken returns the token record for a bearer token, or
	// (nil, nil) when unknown.
	GetAccessToken(ctx context.Context, accessToken string) (*Token, error)
}

// AccessTokenGenerator lets a model mint its own access tokens (for
// example JWTs). When implemented, its result is used verbatim and the
// built-in random generator is never consulted.
type AccessTokenGenerator interface {
	GenerateAccessToken(ctx context.Context, client *Client, user User, scope []string) (string, error)
}

// RefreshTokenGenerator lets a model mint its own refresh tokens.
type RefreshTokenGenerator interface {
	GenerateRefreshToken(ctx context.Context, client *Client, user User, scope []string) (string, error)
}

// AuthorizationCodeGenerator lets a model mint its own authorization
// codes.
type AuthorizationCodeGenerator interface {
	GenerateAuthorizationCode(ctx context.Context, client *Client, user User, scope []string) (string, error)
}

// ScopeValidator lets a model restrict or rewrite requested scopes.
// Returning a nil slice rejects the request with invalid_scope; returning
// an empty non-nil slice grants an empty scope. Models that do not
// implement it accept every syntactically valid scope unchanged.
type ScopeValidator interface {
	ValidateScope(ctx context.Context, user User, client *Client, scope []string) ([]string, error)
}

// RedirectURIValidator lets a model replace the default exact-match check
// of authorize-request redirect URIs against the client registration.
type RedirectURIValidator interface {
	ValidateRedirectURI(ctx context.Context, client *Client, redirectURI string) (bool, error)
}

// ScopeVerifier is required by the authenticate handler when it is
// configured with a required scope.
type ScopeVerifier interface {
	// VerifyScope reports whether the token's authorized scope covers the
	// required scope.
	VerifyScope(ctx context.Context, token *Token, scope []string) (bool, error)
}
