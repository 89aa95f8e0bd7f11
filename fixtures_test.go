package oauthserver

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/oauthkit/oauthserver/model"
)

// Stub models composed per test. Each stub only carries the methods of
// the capability it fakes, so the factories' capability assertions are
// exercised for real.

type stubBase struct {
	getClientFn func(ctx context.Context, clientID, clientSecret string) (*model.Client, error)
	saveTokenFn func(ctx context.Context, token *model.Token, client *model.Client, user model.User) (*model.Token, error)
}

func (m *stubBase) GetClient(ctx context.Context, clientID, clientSecret string) (*model.Client, error) {
	if m.getClientFn != nil {
		return m.getClientFn(ctx, clientID, clientSecret)
	}
	return testClient(), nil
}

func (m *stubBase) SaveToken(ctx context.Context, token *model.Token, client *model.Client, user model.User) (*model.Token, error) {
	if m.saveTokenFn != nil {
		return m.saveTokenFn(ctx, token, client, user)
	}
	saved := *token
	saved.Client = client
	saved.User = user
	return &saved, nil
}

type stubAuthCodeModel struct {
	stubBase
	getCodeFn    func(ctx context.Context, code string) (*model.AuthorizationCode, error)
	revokeCodeFn func(ctx context.Context, code *model.AuthorizationCode) (bool, error)
}

func (m *stubAuthCodeModel) GetAuthorizationCode(ctx context.Context, code string) (*model.AuthorizationCode, error) {
	return m.getCodeFn(ctx, code)
}

func (m *stubAuthCodeModel) RevokeAuthorizationCode(ctx context.Context, code *model.AuthorizationCode) (bool, error) {
	if m.revokeCodeFn != nil {
		return m.revokeCodeFn(ctx, code)
	}
	return true, nil
}

type stubPasswordModel struct {
	stubBase
	getUserFn func(ctx context.Context, username, password string) (model.User, error)
}

func (m *stubPasswordModel) GetUser(ctx context.Context, username, password string) (model.User, error) {
	return m.getUserFn(ctx, username, password)
}

type stubClientCredentialsModel struct {
	stubBase
	getUserFromClientFn func(ctx context.Context, client *model.Client) (model.User, error)
}

func (m *stubClientCredentialsModel) GetUserFromClient(ctx context.Context, client *model.Client) (model.User, error) {
	return m.getUserFromClientFn(ctx, client)
}

type stubRefreshModel struct {
	stubBase
	getRefreshFn func(ctx context.Context, refreshToken string) (*model.Token, error)
	revokeFn     func(ctx context.Context, token *model.Token) (bool, error)
}

func (m *stubRefreshModel) GetRefreshToken(ctx context.Context, refreshToken string) (*model.Token, error) {
	return m.getRefreshFn(ctx, refreshToken)
}

func (m *stubRefreshModel) RevokeToken(ctx context.Context, token *model.Token) (bool, error) {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, token)
	}
	return true, nil
}

// stubScopedPasswordModel adds ValidateScope on top of the password
// capability.
type stubScopedPasswordModel struct {
	stubPasswordModel
	validateScopeFn func(ctx context.Context, user model.User, client *model.Client, scope []string) ([]string, error)
}

func (m *stubScopedPasswordModel) ValidateScope(ctx context.Context, user model.User, client *model.Client, scope []string) ([]string, error) {
	return m.validateScopeFn(ctx, user, client, scope)
}

// stubGeneratingPasswordModel adds custom token generators on top of the
// password capability.
type stubGeneratingPasswordModel struct {
	stubPasswordModel
	accessTokenFn  func(ctx context.Context, client *model.Client, user model.User, scope []string) (string, error)
	refreshTokenFn func(ctx context.Context, client *model.Client, user model.User, scope []string) (string, error)
}

func (m *stubGeneratingPasswordModel) GenerateAccessToken(ctx context.Context, client *model.Client, user model.User, scope []string) (string, error) {
	return m.accessTokenFn(ctx, client, user, scope)
}

func (m *stubGeneratingPasswordModel) GenerateRefreshToken(ctx context.Context, client *model.Client, user model.User, scope []string) (string, error) {
	return m.refreshTokenFn(ctx, client, user, scope)
}

type stubAuthorizeModel struct {
	getClientFn func(ctx context.Context, clientID, clientSecret string) (*model.Client, error)
	saveCodeFn  func(ctx context.Context, code *model.AuthorizationCode, client *model.Client, user model.User) (*model.AuthorizationCode, error)
}

func (m *stubAuthorizeModel) GetClient(ctx context.Context, clientID, clientSecret string) (*model.Client, error) {
	if m.getClientFn != nil {
		return m.getClientFn(ctx, clientID, clientSecret)
	}
	return testClient(), nil
}

func (m *stubAuthorizeModel) SaveAuthorizationCode(ctx context.Context, code *model.AuthorizationCode, client *model.Client, user model.User) (*model.AuthorizationCode, error) {
	if m.saveCodeFn != nil {
		return m.saveCodeFn(ctx, code, client, user)
	}
	saved := *code
	saved.Client = client
	saved.User = user
	return &saved, nil
}

type stubAuthenticateModel struct {
	getAccessTokenFn func(ctx context.Context, accessToken string) (*model.Token, error)
}

func (m *stubAuthenticateModel) GetAccessToken(ctx context.Context, accessToken string) (*model.Token, error) {
	return m.getAccessTokenFn(ctx, accessToken)
}

// stubScopedAuthenticateModel adds VerifyScope for resource servers with
// a required scope.
type stubScopedAuthenticateModel struct {
	stubAuthenticateModel
	verifyScopeFn func(ctx context.Context, token *model.Token, scope []string) (bool, error)
}

func (m *stubScopedAuthenticateModel) VerifyScope(ctx context.Context, token *model.Token, scope []string) (bool, error) {
	return m.verifyScopeFn(ctx, token, scope)
}

// stubAuthenticator resolves every authorize request to a fixed user.
type stubAuthenticator struct {
	user model.User
	err  error
}

func (a *stubAuthenticator) Authenticate(ctx context.Context, req *Request, res *Response) (model.User, error) {
	return a.user, a.err
}

func testClient() *model.Client {
	return &model.Client{
		ID:           "client-1",
		Grants:       []string{"authorization_code", "client_credentials", "password", "refresh_token"},
		RedirectURIs: []string{"https://app.example.com/callback"},
	}
}

func testUser() model.User {
	return map[string]any{"id": "user-1"}
}

// newFormRequest builds a POST token-endpoint request with the given
// form body.
func newFormRequest(body url.Values) *Request {
	headers := http.Header{}
	headers.Set("Content-Type", "application/x-www-form-urlencoded")
	return &Request{
		Method:  http.MethodPost,
		Headers: headers,
		Query:   url.Values{},
		Body:    body,
	}
}

// newAuthorizeRequest builds a GET authorize-endpoint request with the
// given query parameters.
func newAuthorizeRequest(query url.Values) *Request {
	return &Request{
		Method:  http.MethodGet,
		Headers: http.Header{},
		Query:   query,
		Body:    url.Values{},
	}
}

func testGrantOptions(m model.BaseModel) GrantOptions {
	return GrantOptions{
		Model:                      m,
		AccessTokenLifetime:        3600,
		RefreshTokenLifetime:       1209600,
		AlwaysIssueNewRefreshToken: true,
	}
}

func validAuthorizationCode() *model.AuthorizationCode {
	return &model.AuthorizationCode{
		Code:        "authcode-1",
		ExpiresAt:   time.Now().Add(5 * time.Minute),
		RedirectURI: "https://app.example.com/callback",
		Scope:       []string{"read"},
		Client:      testClient(),
		User:        testUser(),
	}
}
