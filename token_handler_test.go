package oauthserver

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/oauthkit/oauthserver/internal/testutil"
	"github.com/oauthkit/oauthserver/model"
	"github.com/oauthkit/oauthserver/model/memory"
	"github.com/oauthkit/oauthserver/oautherrors"
)

// newMemoryStore returns a store with the demo client and user the
// handler tests exchange tokens for.
func newMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New(nil)
	t.Cleanup(store.Stop)

	_, err := store.RegisterClient(&model.Client{
		ID:           "client-1",
		Grants:       []string{"authorization_code", "client_credentials", "password", "refresh_token"},
		RedirectURIs: []string{"https://app.example.com/callback"},
	}, "s3cret")
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, store.RegisterUser("alice", "wonderland", testUser()))
	store.SetClientUser("client-1", testUser())
	return store
}

func newTokenHandler(t *testing.T, opts TokenHandlerOptions) *TokenHandler {
	t.Helper()
	handler, err := NewTokenHandler(opts)
	testutil.AssertNoError(t, err)
	return handler
}

func passwordTokenRequest(scope string) *Request {
	body := url.Values{
		"grant_type":    {"password"},
		"client_id":     {"client-1"},
		"client_secret": {"s3cret"},
		"username":      {"alice"},
		"password":      {"wonderland"},
	}
	if scope != "" {
		body.Set("scope", scope)
	}
	return newFormRequest(body)
}

func TestTokenHandlerRequiresModel(t *testing.T) {
	_, err := NewTokenHandler(TokenHandlerOptions{})
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, oautherrors.IsKind(err, oautherrors.KindInvalidArgument), "error kind")
}

func TestTokenHandlerPasswordGrantEndToEnd(t *testing.T) {
	handler := newTokenHandler(t, TokenHandlerOptions{Model: newMemoryStore(t)})

	res := NewResponse()
	token, err := handler.Handle(context.Background(), passwordTokenRequest("read write"), res)
	testutil.AssertNoError(t, err)
	testutil.AssertNotNil(t, token)

	testutil.AssertEqual(t, res.Status, http.StatusOK)
	testutil.AssertEqual(t, res.Headers.Get("Cache-Control"), "no-store")
	testutil.AssertEqual(t, res.Headers.Get("Pragma"), "no-cache")
	testutil.AssertEqual(t, res.Body["token_type"], "Bearer")
	testutil.AssertEqual(t, res.Body["scope"], "read write")
	testutil.AssertEqual(t, res.Body["access_token"], token.AccessToken)
	testutil.AssertEqual(t, res.Body["refresh_token"], token.RefreshToken)

	expiresIn, ok := res.Body["expires_in"].(int)
	testutil.AssertTrue(t, ok, "expires_in is numeric")
	testutil.AssertTrue(t, expiresIn > 3590 && expiresIn <= 3600, "expires_in close to the default lifetime")
}

func TestTokenHandlerRefreshAfterPassword(t *testing.T) {
	store := newMemoryStore(t)
	handler := newTokenHandler(t, TokenHandlerOptions{Model: store})

	first, err := handler.Handle(context.Background(), passwordTokenRequest("read"), NewResponse())
	testutil.AssertNoError(t, err)

	refreshReq := newFormRequest(url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"client-1"},
		"client_secret": {"s3cret"},
		"refresh_token": {first.RefreshToken},
	})
	second, err := handler.Handle(context.Background(), refreshReq, NewResponse())
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, second.RefreshToken != first.RefreshToken, "refresh token rotated")

	// The consumed refresh token is gone.
	_, err = handler.Handle(context.Background(), refreshReq, NewResponse())
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, oautherrors.IsKind(err, oautherrors.KindInvalidGrant), "replayed refresh token rejected")
}

func TestTokenHandlerRequestShape(t *testing.T) {
	handler := newTokenHandler(t, TokenHandlerOptions{Model: newMemoryStore(t)})

	t.Run("method must be POST", func(t *testing.T) {
		req := passwordTokenRequest("")
		req.Method = http.MethodGet
		res := NewResponse()
		_, err := handler.Handle(context.Background(), req, res)
		testutil.AssertError(t, err)
		testutil.AssertStringContains(t, err.Error(), "method must be POST")
		testutil.AssertEqual(t, res.Status, http.StatusBadRequest)
		testutil.AssertEqual(t, res.Body["error"], "invalid_request")
	})

	t.Run("body must be form encoded", func(t *testing.T) {
		req := passwordTokenRequest("")
		req.Headers.Set("Content-Type", "application/json")
		_, err := handler.Handle(context.Background(), req, NewResponse())
		testutil.AssertError(t, err)
		testutil.AssertStringContains(t, err.Error(), "application/x-www-form-urlencoded")
	})
}

func TestTokenHandlerGrantTypeDispatch(t *testing.T) {
	handler := newTokenHandler(t, TokenHandlerOptions{Model: newMemoryStore(t)})

	tests := []struct {
		name      string
		grantType string
		wantKind  oautherrors.Kind
		wantErr   string
	}{
		{"missing grant_type", "", oautherrors.KindInvalidRequest, "Missing parameter: `grant_type`"},
		{"malformed grant_type", "bad grant!", oautherrors.KindInvalidRequest, "Invalid parameter: `grant_type`"},
		{"unknown grant_type", "implicit", oautherrors.KindUnsupportedGrantType, "Unsupported grant type: `grant_type` is invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := url.Values{
				"client_id":     {"client-1"},
				"client_secret": {"s3cret"},
			}
			if tt.grantType != "" {
				body.Set("grant_type", tt.grantType)
			}
			_, err := handler.Handle(context.Background(), newFormRequest(body), NewResponse())
			testutil.AssertError(t, err)
			testutil.AssertTrue(t, oautherrors.IsKind(err, tt.wantKind), "error kind")
			testutil.AssertStringContains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("client not allowed the grant type", func(t *testing.T) {
		store := memory.New(nil)
		t.Cleanup(store.Stop)
		_, err := store.RegisterClient(&model.Client{
			ID:     "cc-only",
			Grants: []string{"client_credentials"},
		}, "s3cret")
		testutil.AssertNoError(t, err)

		h := newTokenHandler(t, TokenHandlerOptions{Model: store})
		body := url.Values{
			"grant_type":    {"password"},
			"client_id":     {"cc-only"},
			"client_secret": {"s3cret"},
			"username":      {"alice"},
			"password":      {"wonderland"},
		}
		_, err = h.Handle(context.Background(), newFormRequest(body), NewResponse())
		testutil.AssertError(t, err)
		testutil.AssertTrue(t, oautherrors.IsKind(err, oautherrors.KindUnauthorizedClient), "error kind")
		testutil.AssertStringContains(t, err.Error(), "Unauthorized client: `grant_type` is invalid")
	})
}

func TestTokenHandlerClientAuthentication(t *testing.T) {
	store := newMemoryStore(t)
	handler := newTokenHandler(t, TokenHandlerOptions{Model: store})

	t.Run("basic auth accepted", func(t *testing.T) {
		req := newFormRequest(url.Values{
			"grant_type": {"password"},
			"username":   {"alice"},
			"password":   {"wonderland"},
		})
		creds := base64.StdEncoding.EncodeToString([]byte("client-1:s3cret"))
		req.Headers.Set("Authorization", "Basic "+creds)

		_, err := handler.Handle(context.Background(), req, NewResponse())
		testutil.AssertNoError(t, err)
	})

	t.Run("missing credentials entirely", func(t *testing.T) {
		req := newFormRequest(url.Values{"grant_type": {"password"}})
		res := NewResponse()
		_, err := handler.Handle(context.Background(), req, res)
		testutil.AssertError(t, err)
		testutil.AssertTrue(t, oautherrors.IsKind(err, oautherrors.KindInvalidClient), "error kind")
		testutil.AssertEqual(t, res.Status, http.StatusBadRequest)
	})

	t.Run("missing client_secret", func(t *testing.T) {
		req := newFormRequest(url.Values{
			"grant_type": {"password"},
			"client_id":  {"client-1"},
		})
		_, err := handler.Handle(context.Background(), req, NewResponse())
		testutil.AssertError(t, err)
		// Without a secret and outside PKCE the credential pair is
		// incomplete before the parameter checks run.
		testutil.AssertTrue(t, oautherrors.IsKind(err, oautherrors.KindInvalidClient), "error kind")
	})

	t.Run("wrong secret over basic auth gets a 401 challenge", func(t *testing.T) {
		req := newFormRequest(url.Values{
			"grant_type": {"password"},
			"username":   {"alice"},
			"password":   {"wonderland"},
		})
		creds := base64.StdEncoding.EncodeToString([]byte("client-1:wrong"))
		req.Headers.Set("Authorization", "Basic "+creds)

		res := NewResponse()
		_, err := handler.Handle(context.Background(), req, res)
		testutil.AssertError(t, err)
		testutil.AssertEqual(t, res.Status, http.StatusUnauthorized)
		testutil.AssertEqual(t, res.Headers.Get("WWW-Authenticate"), `Basic realm="Service"`)
		testutil.AssertEqual(t, res.Body["error"], "invalid_client")
	})

	t.Run("wrong secret in body stays 400", func(t *testing.T) {
		req := newFormRequest(url.Values{
			"grant_type":    {"password"},
			"client_id":     {"client-1"},
			"client_secret": {"wrong"},
			"username":      {"alice"},
			"password":      {"wonderland"},
		})
		res := NewResponse()
		_, err := handler.Handle(context.Background(), req, res)
		testutil.AssertError(t, err)
		testutil.AssertEqual(t, res.Status, http.StatusBadRequest)
		testutil.AssertEqual(t, res.Headers.Get("WWW-Authenticate"), "")
	})

	t.Run("authentication disabled for a grant type", func(t *testing.T) {
		h := newTokenHandler(t, TokenHandlerOptions{
			Model: store,
			RequireClientAuthentication: map[string]bool{
				"password": false,
			},
		})
		req := newFormRequest(url.Values{
			"grant_type": {"password"},
			"client_id":  {"client-1"},
			"username":   {"alice"},
			"password":   {"wonderland"},
		})
		_, err := h.Handle(context.Background(), req, NewResponse())
		testutil.AssertNoError(t, err)
	})
}

func TestTokenHandlerPKCEExchangeWithoutSecret(t *testing.T) {
	store := memory.New(nil)
	t.Cleanup(store.Stop)

	client := &model.Client{
		ID:           "public-app",
		Grants:       []string{"authorization_code"},
		RedirectURIs: []string{"https://app.example.com/callback"},
		Public:       true,
	}
	_, err := store.RegisterClient(client, "")
	testutil.AssertNoError(t, err)

	challenge, verifier := testutil.GeneratePKCEPair()
	_, err = store.SaveAuthorizationCode(context.Background(), &model.AuthorizationCode{
		Code:                "pkce-code",
		ExpiresAt:           time.Now().Add(5 * time.Minute),
		RedirectURI:         "https://app.example.com/callback",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}, client, testUser())
	testutil.AssertNoError(t, err)

	handler := newTokenHandler(t, TokenHandlerOptions{Model: store})

	req := newFormRequest(url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {"public-app"},
		"code":          {"pkce-code"},
		"redirect_uri":  {"https://app.example.com/callback"},
		"code_verifier": {verifier},
	})
	token, err := handler.Handle(context.Background(), req, NewResponse())
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, token.AccessToken != "", "access token minted")
}

func TestTokenHandlerExtensionGrants(t *testing.T) {
	store := memory.New(nil)
	t.Cleanup(store.Stop)
	_, err := store.RegisterClient(&model.Client{
		ID:     "client-1",
		Grants: []string{"urn:example:jwt-bearer", "password"},
	}, "s3cret")
	testutil.AssertNoError(t, err)

	extension := func(opts GrantOptions) (GrantType, error) {
		return grantFunc(func(ctx context.Context, req *Request, client *model.Client) (*model.Token, error) {
			return &model.Token{
				AccessToken:          "extension-token",
				AccessTokenExpiresAt: time.Now().Add(time.Hour),
				Client:               client,
				User:                 testUser(),
			}, nil
		}), nil
	}

	handler := newTokenHandler(t, TokenHandlerOptions{
		Model: store,
		ExtendedGrantTypes: map[string]GrantFactory{
			"urn:example:jwt-bearer": extension,
		},
	})

	req := newFormRequest(url.Values{
		"grant_type":    {"urn:example:jwt-bearer"},
		"client_id":     {"client-1"},
		"client_secret": {"s3cret"},
	})
	token, err := handler.Handle(context.Background(), req, NewResponse())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, token.AccessToken, "extension-token")
}

// grantFunc adapts a function to the GrantType interface for extension
// grant tests.
type grantFunc func(ctx context.Context, req *Request, client *model.Client) (*model.Token, error)

func (f grantFunc) Handle(ctx context.Context, req *Request, client *model.Client) (*model.Token, error) {
	return f(ctx, req, client)
}

func TestTokenHandlerExtendedTokenAttributes(t *testing.T) {
	stored := func() *stubPasswordModel {
		m := aliceModel()
		m.saveTokenFn = func(ctx context.Context, token *model.Token, client *model.Client, user model.User) (*model.Token, error) {
			saved := *token
			saved.Client = client
			saved.User = user
			saved.Extra = map[string]any{
				"id_token":     "extra-value",
				"access_token": "shadow-attempt",
			}
			return &saved, nil
		}
		return m
	}

	body := url.Values{
		"grant_type":    {"password"},
		"client_id":     {"client-1"},
		"client_secret": {"s3cret"},
		"username":      {"alice"},
		"password":      {"wonderland"},
	}

	t.Run("disabled by default", func(t *testing.T) {
		handler := newTokenHandler(t, TokenHandlerOptions{Model: stored()})
		res := NewResponse()
		_, err := handler.Handle(context.Background(), newFormRequest(body), res)
		testutil.AssertNoError(t, err)
		_, present := res.Body["id_token"]
		testutil.AssertFalse(t, present, "extra attributes withheld by default")
	})

	t.Run("enabled forwards non-reserved keys", func(t *testing.T) {
		handler := newTokenHandler(t, TokenHandlerOptions{
			Model:                        stored(),
			AllowExtendedTokenAttributes: true,
		})
		res := NewResponse()
		token, err := handler.Handle(context.Background(), newFormRequest(body), res)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, res.Body["id_token"], "extra-value")
		// The reserved key keeps the real token value.
		testutil.AssertEqual(t, res.Body["access_token"], token.AccessToken)
	})
}

func TestTokenHandlerPerClientLifetimeOverride(t *testing.T) {
	store := memory.New(nil)
	t.Cleanup(store.Stop)
	_, err := store.RegisterClient(&model.Client{
		ID:                  "short-lived",
		Grants:              []string{"password"},
		AccessTokenLifetime: 60,
	}, "s3cret")
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, store.RegisterUser("alice", "wonderland", testUser()))

	handler := newTokenHandler(t, TokenHandlerOptions{Model: store})

	req := newFormRequest(url.Values{
		"grant_type":    {"password"},
		"client_id":     {"short-lived"},
		"client_secret": {"s3cret"},
		"username":      {"alice"},
		"password":      {"wonderland"},
	})
	token, err := handler.Handle(context.Background(), req, NewResponse())
	testutil.AssertNoError(t, err)
	testutil.AssertTimeEqual(t, token.AccessTokenExpiresAt, time.Now().Add(time.Minute), 5*time.Second)
}
