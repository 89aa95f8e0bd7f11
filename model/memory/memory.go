// Package memory provides an in-memory model implementation. It backs
// the test suites and small single-process deployments; anything
// multi-instance should use a shared backend such as model/valkey.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/oauthkit/oauthserver/model"
)

const defaultCleanupInterval = 5 * time.Minute

// userRecord pairs a password hash with the opaque user value handed
// back to the protocol core.
type userRecord struct {
	passwordHash []byte
	user         model.User
}

// Store is a thread-safe in-memory model. It implements every capability
// interface the handlers probe for except the custom token generators,
// so the built-in random generator applies.
type Store struct {
	mu            sync.RWMutex
	clients       map[string]*model.Client
	clientSecrets map[string][]byte
	clientUsers   map[string]model.User
	users         map[string]userRecord
	accessTokens  map[string]*model.Token
	refreshTokens map[string]*model.Token
	codes         map[string]*model.AuthorizationCode

	logger      *slog.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// Compile-time capability checks.
var (
	_ model.BaseModel              = (*Store)(nil)
	_ model.AuthorizationCodeModel = (*Store)(nil)
	_ model.ClientCredentialsModel = (*Store)(nil)
	_ model.PasswordModel          = (*Store)(nil)
	_ model.RefreshTokenModel      = (*Store)(nil)
	_ model.AuthorizeModel         = (*Store)(nil)
	_ model.AuthenticateModel      = (*Store)(nil)
	_ model.ScopeVerifier          = (*Store)(nil)
)

// New creates an empty store and starts its expiry sweeper. Call Stop
// when done.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		clients:       make(map[string]*model.Client),
		clientSecrets: make(map[string][]byte),
		clientUsers:   make(map[string]model.User),
		users:         make(map[string]userRecord),
		accessTokens:  make(map[string]*model.Token),
		refreshTokens: make(map[string]*model.Token),
		codes:         make(map[string]*model.AuthorizationCode),
		logger:        logger,
		stopCleanup:   make(chan struct{}),
	}
	go s.cleanupLoop(defaultCleanupInterval)
	return s
}

// Stop terminates the expiry sweeper.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// RegisterClient stores a client. A missing ID is generated; a non-empty
// secret is kept only as a bcrypt hash.
func (s *Store) RegisterClient(client *model.Client, secret string) (*model.Client, error) {
	if client.ID == "" {
		client.ID = uuid.NewString()
	}

	clone := *client
	clone.Secret = ""

	s.mu.Lock()
	defer s.mu.Unlock()

	if secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		s.clientSecrets[clone.ID] = hash
	}
	s.clients[clone.ID] = &clone
	return &clone, nil
}

// RegisterUser stores a resource owner for the password grant. user is
// the opaque value returned to the protocol core.
func (s *Store) RegisterUser(username, password string, user model.User) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = userRecord{passwordHash: hash, user: user}
	return nil
}

// SetClientUser associates a service account with a client for the
// client_credentials grant.
func (s *Store) SetClientUser(clientID string, user model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientUsers[clientID] = user
}

// GetClient implements model.BaseModel. An empty secret skips secret
// verification: the handler only omits the secret for flows that do not
// authenticate the client.
func (s *Store) GetClient(ctx context.Context, clientID, clientSecret string) (*model.Client, error) {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	hash := s.clientSecrets[clientID]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if clientSecret != "" {
		if hash == nil {
			return nil, nil
		}
		if bcrypt.CompareHashAndPassword(hash, []byte(clientSecret)) != nil {
			return nil, nil
		}
	}
	clone := *client
	return &clone, nil
}

// SaveToken implements model.BaseModel.
func (s *Store) SaveToken(ctx context.Context, token *model.Token, client *model.Client, user model.User) (*model.Token, error) {
	clone := *token
	clone.Client = client
	clone.User = user

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[clone.AccessToken] = &clone
	if clone.RefreshToken != "" {
		s.refreshTokens[clone.RefreshToken] = &clone
	}
	return &clone, nil
}

// GetAccessToken implements model.AuthenticateModel.
func (s *Store) GetAccessToken(ctx context.Context, accessToken string) (*model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.accessTokens[accessToken]
	if !ok {
		return nil, nil
	}
	return token, nil
}

// GetRefreshToken implements model.RefreshTokenModel.
func (s *Store) GetRefreshToken(ctx context.Context, refreshToken string) (*model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.refreshTokens[refreshToken]
	if !ok {
		return nil, nil
	}
	return token, nil
}

// RevokeToken implements model.RefreshTokenModel.
func (s *Store) RevokeToken(ctx context.Context, token *model.Token) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refreshTokens[token.RefreshToken]; !ok {
		return false, nil
	}
	delete(s.refreshTokens, token.RefreshToken)
	return true, nil
}

// SaveAuthorizationCode implements model.AuthorizeModel.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *model.AuthorizationCode, client *model.Client, user model.User) (*model.AuthorizationCode, error) {
	clone := *code
	clone.Client = client
	clone.User = user

	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[clone.Code] = &clone
	return &clone, nil
}

// GetAuthorizationCode implements model.AuthorizationCodeModel.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*model.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.codes[code]
	if !ok {
		return nil, nil
	}
	return record, nil
}

// RevokeAuthorizationCode implements model.AuthorizationCodeModel.
func (s *Store) RevokeAuthorizationCode(ctx context.Context, code *model.AuthorizationCode) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code.Code]; !ok {
		return false, nil
	}
	delete(s.codes, code.Code)
	return true, nil
}

// GetUser implements model.PasswordModel.
func (s *Store) GetUser(ctx context.Context, username, password string) (model.User, error) {
	s.mu.RLock()
	record, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword(record.passwordHash, []byte(password)) != nil {
		return nil, nil
	}
	return record.user, nil
}

// GetUserFromClient implements model.ClientCredentialsModel.
func (s *Store) GetUserFromClient(ctx context.Context, client *model.Client) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.clientUsers[client.ID]
	if !ok {
		return nil, nil
	}
	return user, nil
}

// VerifyScope implements model.ScopeVerifier: every required scope must
// appear in the token's authorized scope.
func (s *Store) VerifyScope(ctx context.Context, token *model.Token, scope []string) (bool, error) {
	authorized := make(map[string]bool, len(token.Scope))
	for _, sc := range token.Scope {
		authorized[sc] = true
	}
	for _, required := range scope {
		if !authorized[required] {
			return false, nil
		}
	}
	return true, nil
}

// Counts returns the number of live access tokens, refresh tokens and
// authorization codes, for tests and diagnostics.
func (s *Store) Counts() (accessTokens, refreshTokens, codes int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accessTokens), len(s.refreshTokens), len(s.codes)
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.removeExpired(time.Now())
		}
	}
}

// removeExpired drops expired codes and tokens. Refresh tokens with a
// zero expiry are kept until their access token entry is also expired.
func (s *Store) removeExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for code, record := range s.codes {
		if record.ExpiresAt.Before(now) {
			delete(s.codes, code)
			removed++
		}
	}
	for key, token := range s.accessTokens {
		if !token.AccessTokenExpiresAt.IsZero() && token.AccessTokenExpiresAt.Before(now) {
			delete(s.accessTokens, key)
			removed++
		}
	}
	for key, token := range s.refreshTokens {
		if !token.RefreshTokenExpiresAt.IsZero() && token.RefreshTokenExpiresAt.Before(now) {
			delete(s.refreshTokens, key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("expired records removed", "count", removed)
	}
}
