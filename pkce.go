package oauthserver

import (
	"crypto/sha256"
	"encoding/base64"
)

// Code challenge methods from RFC 7636.
const (
	CodeChallengeMethodPlain = "plain"
	CodeChallengeMethodS256  = "S256"
)

// IsPKCERequest reports whether a token request is a PKCE code exchange:
// the authorization_code grant with a code_verifier present. PKCE
// exchanges may authenticate with a bare client_id.
func IsPKCERequest(grantType, codeVerifier string) bool {
	return grantType == "authorization_code" && codeVerifier != ""
}

// IsValidCodeChallengeMethod reports whether method is a registered
// transform.
func IsValidCodeChallengeMethod(method string) bool {
	return method == CodeChallengeMethodPlain || method == CodeChallengeMethodS256
}

// CodeChallengeMatchesFormat reports whether s satisfies the RFC 7636
// grammar for verifiers and challenges: 43 to 128 characters from the
// unreserved set [A-Za-z0-9-._~].
func CodeChallengeMatchesFormat(s string) bool {
	if len(s) < 43 || len(s) > 128 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~':
		default:
			return false
		}
	}
	return true
}

// ChallengeFromVerifier computes the code challenge a verifier must hash
// to under the given method. The plain method passes the verifier through
// unchanged, including an empty one; an unknown method yields "".
func ChallengeFromVerifier(method, verifier string) string {
	switch method {
	case CodeChallengeMethodPlain:
		return verifier
	case CodeChallengeMethodS256:
		if verifier == "" {
			return ""
		}
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:])
	default:
		return ""
	}
}
