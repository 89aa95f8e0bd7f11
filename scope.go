package oauthserver

import (
	"strings"

	"github.com/oauthkit/oauthserver/oautherrors"
)

// ParseScope splits a scope parameter into its tokens, preserving order.
// Callers only invoke it when the parameter is present; a request without
// a scope parameter simply has no requested scope.
//
// Whitespace-only input and any character outside the RFC 6749 scope
// grammar (printable ASCII minus space, double quote and backslash) fail
// with invalid_scope.
func ParseScope(scope string) ([]string, error) {
	trimmed := strings.TrimSpace(scope)
	if trimmed == "" {
		return nil, oautherrors.InvalidScope("Invalid parameter: `scope`")
	}
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if isScopeSeparator(c) || isNQSCHAR(c) {
			continue
		}
		return nil, oautherrors.InvalidScope("Invalid parameter: `scope`")
	}
	return strings.Fields(trimmed), nil
}

func isScopeSeparator(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
