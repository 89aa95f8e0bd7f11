// Package valkey provides a Valkey-backed model implementation for
// multi-instance deployments. Records are stored as JSON under a
// configurable key prefix, with TTLs derived from the record expiry.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/oauthkit/oauthserver/model"
)

const (
	// DefaultKeyPrefix namespaces every key this store writes.
	DefaultKeyPrefix = "oauth:"

	connectionVerifyTimeout = 5 * time.Second
)

// Config holds the connection settings for the Valkey backend.
type Config struct {
	// Address is the Valkey server address, e.g. "localhost:6379"
	// (required).
	Address string

	// Password is the optional Valkey AUTH password.
	Password string

	// KeyPrefix namespaces all keys (default "oauth:").
	KeyPrefix string

	// TLS enables encrypted connections when set.
	TLS *tls.Config

	// Logger is the structured logger (default slog.Default()).
	Logger *slog.Logger
}

// Store is a Valkey-backed model implementation. It covers the same
// capability interfaces as the memory store; expiry is enforced by key
// TTLs, so no sweeper is needed.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
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

// New connects to Valkey and verifies the connection.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := valkeygo.NewClient(valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	return &Store{client: client, prefix: prefix, logger: logger}, nil
}

// NewWithClient wraps an existing Valkey client, for callers that manage
// the connection themselves.
func NewWithClient(client valkeygo.Client, keyPrefix string, logger *slog.Logger) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, prefix: keyPrefix, logger: logger}
}

// Close releases the underlying connection.
func (s *Store) Close() {
	s.client.Close()
}

// Stored record shapes. User values round-trip through JSON, so custom
// user types come back as generic maps; deployments that need typed
// users should wrap the store.

type clientRecord struct {
	Client     *model.Client `json:"client"`
	SecretHash []byte        `json:"secret_hash,omitempty"`
	User       model.User    `json:"user,omitempty"`
}

type userEntry struct {
	PasswordHash []byte     `json:"password_hash"`
	User         model.User `json:"user"`
}

func (s *Store) clientKey(id string) string  { return s.prefix + "client:" + id }
func (s *Store) userKey(name string) string  { return s.prefix + "user:" + name }
func (s *Store) accessKey(tok string) string { return s.prefix + "token:access:" + tok }
func (s *Store) refreshKey(t string) string  { return s.prefix + "token:refresh:" + t }
func (s *Store) codeKey(code string) string  { return s.prefix + "code:" + code }

// RegisterClient stores a client record, hashing any secret. user, when
// non-nil, is the service account for the client_credentials grant.
func (s *Store) RegisterClient(ctx context.Context, client *model.Client, secret string, user model.User) error {
	record := clientRecord{User: user}
	clone := *client
	clone.Secret = ""
	record.Client = &clone

	if secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		record.SecretHash = hash
	}
	return s.setJSON(ctx, s.clientKey(clone.ID), record, 0)
}

// RegisterUser stores a resource owner for the password grant.
func (s *Store) RegisterUser(ctx context.Context, username, password string, user model.User) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.setJSON(ctx, s.userKey(username), userEntry{PasswordHash: hash, User: user}, 0)
}

// GetClient implements model.BaseModel.
func (s *Store) GetClient(ctx context.Context, clientID, clientSecret string) (*model.Client, error) {
	var record clientRecord
	found, err := s.getJSON(ctx, s.clientKey(clientID), &record)
	if err != nil || !found {
		return nil, err
	}
	if clientSecret != "" {
		if record.SecretHash == nil {
			return nil, nil
		}
		if bcrypt.CompareHashAndPassword(record.SecretHash, []byte(clientSecret)) != nil {
			return nil, nil
		}
	}
	return record.Client, nil
}

// SaveToken implements model.BaseModel.
func (s *Store) SaveToken(ctx context.Context, token *model.Token, client *model.Client, user model.User) (*model.Token, error) {
	clone := *token
	clone.Client = client
	clone.User = user

	if err := s.setJSON(ctx, s.accessKey(clone.AccessToken), &clone, ttlUntil(clone.AccessTokenExpiresAt)); err != nil {
		return nil, err
	}
	if clone.RefreshToken != "" {
		if err := s.setJSON(ctx, s.refreshKey(clone.RefreshToken), &clone, ttlUntil(clone.RefreshTokenExpiresAt)); err != nil {
			return nil, err
		}
	}
	return &clone, nil
}

// GetAccessToken implements model.AuthenticateModel.
func (s *Store) GetAccessToken(ctx context.Context, accessToken string) (*model.Token, error) {
	var token model.Token
	found, err := s.getJSON(ctx, s.accessKey(accessToken), &token)
	if err != nil || !found {
		return nil, err
	}
	return &token, nil
}

// GetRefreshToken implements model.RefreshTokenModel.
func (s *Store) GetRefreshToken(ctx context.Context, refreshToken string) (*model.Token, error) {
	var token model.Token
	found, err := s.getJSON(ctx, s.refreshKey(refreshToken), &token)
	if err != nil || !found {
		return nil, err
	}
	return &token, nil
}

// RevokeToken implements model.RefreshTokenModel.
func (s *Store) RevokeToken(ctx context.Context, token *model.Token) (bool, error) {
	deleted, err := s.client.Do(ctx, s.client.B().Del().Key(s.refreshKey(token.RefreshToken)).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return deleted > 0, nil
}

// SaveAuthorizationCode implements model.AuthorizeModel.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *model.AuthorizationCode, client *model.Client, user model.User) (*model.AuthorizationCode, error) {
	clone := *code
	clone.Client = client
	clone.User = user

	if err := s.setJSON(ctx, s.codeKey(clone.Code), &clone, ttlUntil(clone.ExpiresAt)); err != nil {
		return nil, err
	}
	return &clone, nil
}

// GetAuthorizationCode implements model.AuthorizationCodeModel.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*model.AuthorizationCode, error) {
	var record model.AuthorizationCode
	found, err := s.getJSON(ctx, s.codeKey(code), &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

// RevokeAuthorizationCode implements model.AuthorizationCodeModel.
func (s *Store) RevokeAuthorizationCode(ctx context.Context, code *model.AuthorizationCode) (bool, error) {
	deleted, err := s.client.Do(ctx, s.client.B().Del().Key(s.codeKey(code.Code)).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to revoke authorization code: %w", err)
	}
	return deleted > 0, nil
}

// GetUser implements model.PasswordModel.
func (s *Store) GetUser(ctx context.Context, username, password string) (model.User, error) {
	var entry userEntry
	found, err := s.getJSON(ctx, s.userKey(username), &entry)
	if err != nil || !found {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword(entry.PasswordHash, []byte(password)) != nil {
		return nil, nil
	}
	return entry.User, nil
}

// GetUserFromClient implements model.ClientCredentialsModel.
func (s *Store) GetUserFromClient(ctx context.Context, client *model.Client) (model.User, error) {
	var record clientRecord
	found, err := s.getJSON(ctx, s.clientKey(client.ID), &record)
	if err != nil || !found {
		return nil, err
	}
	return record.User, nil
}

// VerifyScope implements model.ScopeVerifier.
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

func (s *Store) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	var cmd valkeygo.Completed
	if ttl > 0 {
		cmd = s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(key).Value(string(data)).Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

// getJSON loads and decodes a record; found is false when the key does
// not exist.
func (s *Store) getJSON(ctx context.Context, key string, dst any) (found bool, err error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load record: %w", err)
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return true, nil
}

// ttlUntil converts an absolute expiry into a TTL, with a floor of one
// second so an already-computed expiry still lands in the store.
func ttlUntil(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	ttl := time.Until(expiresAt)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}
