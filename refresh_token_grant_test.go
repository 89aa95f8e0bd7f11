package oauthserver

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/oauthkit/oauthserver/internal/testutil"
	"github.com/oauthkit/oauthserver/model"
	"github.com/oauthkit/oauthserver/oautherrors"
)

func storedRefreshToken() *model.Token {
	return &model.Token{
		AccessToken:           "old-access",
		AccessTokenExpiresAt:  time.Now().Add(-time.Minute),
		RefreshToken:          "refresh-1",
		RefreshTokenExpiresAt: time.Now().Add(24 * time.Hour),
		Scope:                 []string{"read", "write"},
		Client:                testClient(),
		User:                  testUser(),
	}
}

func refreshModelReturning(stored *model.Token) *stubRefreshModel {
	return &stubRefreshModel{
		getRefreshFn: func(ctx context.Context, raw string) (*model.Token, error) {
			if stored != nil && raw == stored.RefreshToken {
				return stored, nil
			}
			return nil, nil
		},
	}
}

func TestRefreshTokenGrantFactoryRequiresCapabilities(t *testing.T) {
	_, err := NewRefreshTokenGrant(testGrantOptions(&stubBase{}))
	testutil.AssertError(t, err)
	testutil.AssertStringContains(t, err.Error(), "GetRefreshToken()")
}

func TestRefreshTokenGrantRotation(t *testing.T) {
	stored := storedRefreshToken()
	var revoked bool
	m := refreshModelReturning(stored)
	m.revokeFn = func(ctx context.Context, token *model.Token) (bool, error) {
		revoked = true
		return true, nil
	}

	grant, err := NewRefreshTokenGrant(testGrantOptions(m))
	testutil.AssertNoError(t, err)

	req := newFormRequest(url.Values{"refresh_token": {"refresh-1"}})
	token, err := grant.Handle(context.Background(), req, testClient())
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, revoked, "old refresh token revoked")
	testutil.AssertTrue(t, token.RefreshToken != "", "new refresh token issued")
	testutil.AssertTrue(t, token.RefreshToken != "refresh-1", "refresh token rotated")
	testutil.AssertEqual(t, len(token.Scope), 2)
}

func TestRefreshTokenGrantWithoutRotation(t *testing.T) {
	stored := storedRefreshToken()
	m := refreshModelReturning(stored)
	m.revokeFn = func(ctx context.Context, token *model.Token) (bool, error) {
		t.Error("RevokeToken must not be called when rotation is off")
		return true, nil
	}

	opts := testGrantOptions(m)
	opts.AlwaysIssueNewRefreshToken = false
	grant, err := NewRefreshTokenGrant(opts)
	testutil.AssertNoError(t, err)

	req := newFormRequest(url.Values{"refresh_token": {"refresh-1"}})
	token, err := grant.Handle(context.Background(), req, testClient())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, token.RefreshToken, "")
	testutil.AssertTrue(t, token.RefreshTokenExpiresAt.IsZero(), "no refresh expiry without a refresh token")
}

func TestRefreshTokenGrantValidation(t *testing.T) {
	expired := storedRefreshToken()
	expired.RefreshTokenExpiresAt = time.Now().Add(-time.Minute)

	otherClient := storedRefreshToken()
	otherClient.Client = &model.Client{ID: "someone-else"}

	noClient := storedRefreshToken()
	noClient.Client = nil

	noUser := storedRefreshToken()
	noUser.User = nil

	tests := []struct {
		name     string
		body     url.Values
		stored   *model.Token
		wantKind oautherrors.Kind
		wantErr  string
	}{
		{
			name:     "missing refresh_token",
			body:     url.Values{},
			stored:   storedRefreshToken(),
			wantKind: oautherrors.KindInvalidRequest,
			wantErr:  "Missing parameter: `refresh_token`",
		},
		{
			name:     "malformed refresh_token",
			body:     url.Values{"refresh_token": {"bad\ntoken"}},
			stored:   storedRefreshToken(),
			wantKind: oautherrors.KindInvalidRequest,
			wantErr:  "Invalid parameter: `refresh_token`",
		},
		{
			name:     "unknown refresh_token",
			body:     url.Values{"refresh_token": {"unknown"}},
			stored:   nil,
			wantKind: oautherrors.KindInvalidGrant,
			wantErr:  "Invalid grant: refresh token is invalid",
		},
		{
			name:     "issued to another client",
			body:     url.Values{"refresh_token": {"refresh-1"}},
			stored:   otherClient,
			wantKind: oautherrors.KindInvalidGrant,
			wantErr:  "Invalid grant: refresh token was issued to another client",
		},
		{
			name:     "expired refresh token",
			body:     url.Values{"refresh_token": {"refresh-1"}},
			stored:   expired,
			wantKind: oautherrors.KindInvalidGrant,
			wantErr:  "Invalid grant: refresh token has expired",
		},
		{
			name:     "stored token without client",
			body:     url.Values{"refresh_token": {"refresh-1"}},
			stored:   noClient,
			wantKind: oautherrors.KindServerError,
			wantErr:  "did not return a `client` object",
		},
		{
			name:     "stored token without user",
			body:     url.Values{"refresh_token": {"refresh-1"}},
			stored:   noUser,
			wantKind: oautherrors.KindServerError,
			wantErr:  "did not return a `user` object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant, err := NewRefreshTokenGrant(testGrantOptions(refreshModelReturning(tt.stored)))
			testutil.AssertNoError(t, err)

			_, err = grant.Handle(context.Background(), newFormRequest(tt.body), testClient())
			testutil.AssertError(t, err)
			testutil.AssertTrue(t, oautherrors.IsKind(err, tt.wantKind), "error kind")
			testutil.AssertStringContains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRefreshTokenGrantNeverExpiringToken(t *testing.T) {
	stored := storedRefreshToken()
	stored.RefreshTokenExpiresAt = time.Time{}

	grant, err := NewRefreshTokenGrant(testGrantOptions(refreshModelReturning(stored)))
	testutil.AssertNoError(t, err)

	req := newFormRequest(url.Values{"refresh_token": {"refresh-1"}})
	_, err = grant.Handle(context.Background(), req, testClient())
	testutil.AssertNoError(t, err)
}

func TestRefreshTokenGrantRevocationFailureFailsRefresh(t *testing.T) {
	stored := storedRefreshToken()
	m := refreshModelReturning(stored)
	m.revokeFn = func(ctx context.Context, token *model.Token) (bool, error) {
		return false, nil
	}

	grant, err := NewRefreshTokenGrant(testGrantOptions(m))
	testutil.AssertNoError(t, err)

	req := newFormRequest(url.Values{"refresh_token": {"refresh-1"}})
	_, err = grant.Handle(context.Background(), req, testClient())
	testutil.AssertError(t, err)
	testutil.AssertStringContains(t, err.Error(), "Invalid grant: refresh token is invalid or could not be revoked")
}
