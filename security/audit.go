// Package security provides the security side-channels around the OAuth
// handlers: audit logging with PII protection and per-identifier rate
// limiting.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"
)

// Auditor records security-relevant events through a structured logger.
// User identifiers are hashed before logging; token material is never
// logged. All methods are safe on a nil receiver, which disables
// auditing.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event is a single audit record.
type Event struct {
	Type      string
	ClientID  string
	UserID    string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent writes an audit event with hashed PII.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"client_id", event.ClientID,
		"user_id_hash", hashForLogging(event.UserID),
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// TokenIssued records a successful token response.
func (a *Auditor) TokenIssued(clientID, grantType string, scope []string) {
	a.LogEvent(Event{
		Type:     "token_issued",
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      strings.Join(scope, " "),
		},
	})
}

// TokenDenied records a failed token request.
func (a *Auditor) TokenDenied(clientID, grantType, reason string) {
	a.LogEvent(Event{
		Type:     "token_denied",
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"reason":     reason,
		},
	})
}

// AuthorizationCodeIssued records a successful authorize redirect.
func (a *Auditor) AuthorizationCodeIssued(clientID string) {
	a.LogEvent(Event{
		Type:     "authorization_code_issued",
		ClientID: clientID,
	})
}

// AuthorizationDenied records a failed authorize request.
func (a *Auditor) AuthorizationDenied(clientID, reason string) {
	a.LogEvent(Event{
		Type:     "authorization_denied",
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// BearerRejected records a rejected protected-resource request.
func (a *Auditor) BearerRejected(reason string) {
	a.LogEvent(Event{
		Type: "bearer_rejected",
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// RateLimited records a request rejected by the rate limiter.
func (a *Auditor) RateLimited(identifier string) {
	a.LogEvent(Event{
		Type:     "rate_limit_exceeded",
		ClientID: identifier,
	})
}

// hashForLogging returns a short stable hash of an identifier so log
// lines correlate without exposing the raw value.
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:8])
}
