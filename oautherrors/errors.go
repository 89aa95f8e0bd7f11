// Package oautherrors defines the error vocabulary shared by the OAuth 2.0
// protocol handlers, grant types and model implementations.
//
// Every protocol failure is a single *Error value carrying a machine-readable
// Kind, the RFC 6749/6750 error name used on the wire, the HTTP status the
// embedding transport should respond with, and a human-readable description.
// Model implementations may return *Error directly to control the response;
// any other error they return is treated as fatal and converted to a
// ServerError via Wrap.
package oautherrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of protocol failure.
type Kind int

const (
	// KindNone is the zero Kind and never appears on a constructed Error.
	KindNone Kind = iota

	// KindInvalidRequest covers malformed or incomplete requests (RFC 6749 5.2).
	KindInvalidRequest

	// KindInvalidClient covers failed client authentication.
	KindInvalidClient

	// KindInvalidGrant covers invalid, expired or revoked grants and
	// resource-owner credentials.
	KindInvalidGrant

	// KindInvalidScope covers malformed or rejected scope values.
	KindInvalidScope

	// KindInvalidToken covers invalid or expired bearer tokens (RFC 6750).
	KindInvalidToken

	// KindUnauthorizedClient covers clients not allowed to use a grant type.
	KindUnauthorizedClient

	// KindUnsupportedGrantType covers grant types the server does not handle.
	KindUnsupportedGrantType

	// KindUnsupportedResponseType covers authorize requests with a
	// response_type other than "code".
	KindUnsupportedResponseType

	// KindAccessDenied covers the resource owner refusing authorization.
	KindAccessDenied

	// KindUnauthorizedRequest covers protected-resource requests that carry
	// no credentials at all (RFC 6750 3.1: no error code on the wire).
	KindUnauthorizedRequest

	// KindInsufficientScope covers tokens that lack a scope the resource
	// requires.
	KindInsufficientScope

	// KindServerError covers model failures and data-contract violations.
	KindServerError

	// KindInvalidArgument covers misuse of the library API by the embedding
	// application. It is returned from constructors, never from request flows.
	KindInvalidArgument

	// KindRateLimited covers requests rejected by a configured rate limiter.
	KindRateLimited
)

// Error is the single error type produced by the protocol state machines.
type Error struct {
	// Kind classifies the failure for programmatic matching.
	Kind Kind

	// Name is the RFC error code sent as the "error" response field.
	Name string

	// Status is the HTTP status code the transport should use.
	Status int

	// Description is sent as the "error_description" response field.
	Description string

	// Headers holds response headers the failure requires, such as
	// WWW-Authenticate on 401 responses.
	Headers map[string]string

	// Inner is the underlying cause, if any.
	Inner error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Name
	}
	return e.Description
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Inner
}

// WithStatus returns a copy of e with the HTTP status replaced.
func (e *Error) WithStatus(status int) *Error {
	clone := *e
	clone.Status = status
	return &clone
}

// WithHeader returns a copy of e with a response header added.
func (e *Error) WithHeader(name, value string) *Error {
	clone := *e
	clone.Headers = make(map[string]string, len(e.Headers)+1)
	for k, v := range e.Headers {
		clone.Headers[k] = v
	}
	clone.Headers[name] = value
	return &clone
}

// WithInner returns a copy of e wrapping the given cause.
func (e *Error) WithInner(err error) *Error {
	clone := *e
	clone.Inner = err
	return &clone
}

// InvalidRequest reports a malformed request (HTTP 400).
func InvalidRequest(description string) *Error {
	return &Error{Kind: KindInvalidRequest, Name: "invalid_request", Status: http.StatusBadRequest, Description: description}
}

// InvalidClient reports failed client authentication (HTTP 400 by default;
// the token handler upgrades it to 401 with a WWW-Authenticate header when
// the client presented an Authorization header).
func InvalidClient(description string) *Error {
	return &Error{Kind: KindInvalidClient, Name: "invalid_client", Status: http.StatusBadRequest, Description: description}
}

// InvalidGrant reports an invalid or expired grant (HTTP 400).
func InvalidGrant(description string) *Error {
	return &Error{Kind: KindInvalidGrant, Name: "invalid_grant", Status: http.StatusBadRequest, Description: description}
}

// InvalidScope reports a malformed or rejected scope (HTTP 400).
func InvalidScope(description string) *Error {
	return &Error{Kind: KindInvalidScope, Name: "invalid_scope", Status: http.StatusBadRequest, Description: description}
}

// InvalidToken reports an invalid or expired bearer token (HTTP 401).
func InvalidToken(description string) *Error {
	return &Error{Kind: KindInvalidToken, Name: "invalid_token", Status: http.StatusUnauthorized, Description: description}
}

// UnauthorizedClient reports a client not allowed to use the requested
// grant type (HTTP 400).
func UnauthorizedClient(description string) *Error {
	return &Error{Kind: KindUnauthorizedClient, Name: "unauthorized_client", Status: http.StatusBadRequest, Description: description}
}

// UnsupportedGrantType reports an unknown grant type (HTTP 400).
func UnsupportedGrantType(description string) *Error {
	return &Error{Kind: KindUnsupportedGrantType, Name: "unsupported_grant_type", Status: http.StatusBadRequest, Description: description}
}

// UnsupportedResponseType reports a response_type other than "code"
// (HTTP 400).
func UnsupportedResponseType(description string) *Error {
	return &Error{Kind: KindUnsupportedResponseType, Name: "unsupported_response_type", Status: http.StatusBadRequest, Description: description}
}

// AccessDenied reports that the resource owner refused the request
// (HTTP 400).
func AccessDenied(description string) *Error {
	return &Error{Kind: KindAccessDenied, Name: "access_denied", Status: http.StatusBadRequest, Description: description}
}

// UnauthorizedRequest reports a protected-resource request without any
// credentials (HTTP 401). Per RFC 6750 3.1 it carries no error code, so
// the "error" response field stays empty.
func UnauthorizedRequest(description string) *Error {
	return &Error{Kind: KindUnauthorizedRequest, Name: "unauthorized_request", Status: http.StatusUnauthorized, Description: description}
}

// InsufficientScope reports a bearer token missing a required scope
// (HTTP 403).
func InsufficientScope(description string) *Error {
	return &Error{Kind: KindInsufficientScope, Name: "insufficient_scope", Status: http.StatusForbidden, Description: description}
}

// ServerError reports a model failure or data-contract violation
// (HTTP 503).
func ServerError(description string) *Error {
	return &Error{Kind: KindServerError, Name: "server_error", Status: http.StatusServiceUnavailable, Description: description}
}

// InvalidArgument reports misuse of the library API (HTTP 500). Request
// flows never produce it.
func InvalidArgument(description string) *Error {
	return &Error{Kind: KindInvalidArgument, Name: "invalid_argument", Status: http.StatusInternalServerError, Description: description}
}

// RateLimited reports a request rejected by a rate limiter (HTTP 429).
func RateLimited(description string) *Error {
	return &Error{Kind: KindRateLimited, Name: "rate_limit_exceeded", Status: http.StatusTooManyRequests, Description: description}
}

// Wrap passes taxonomy errors through unchanged and converts anything else
// into a fatal ServerError preserving the cause.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	wrapped := ServerError(fmt.Sprintf("Server error: %s", err.Error()))
	wrapped.Inner = err
	return wrapped
}

// IsKind reports whether err is (or wraps) a taxonomy error of the given
// kind.
func IsKind(err error, kind Kind) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind == kind
	}
	return false
}
