package oauthserver

import "net/url"

// Character-class checks from the RFC 6749 appendix A grammar. All of them
// reject the empty string.

// isVSCHAR reports whether s consists of printable ASCII (0x20-0x7E).
// Codes, tokens, client credentials and state values use this class.
func isVSCHAR(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7E {
			return false
		}
	}
	return true
}

// isNQSCHAR reports whether c is allowed inside a scope token:
// 0x21, 0x23-0x5B and 0x5D-0x7E (printable ASCII minus space, double
// quote and backslash).
func isNQSCHAR(c byte) bool {
	return c == 0x21 || (c >= 0x23 && c <= 0x5B) || (c >= 0x5D && c <= 0x7E)
}

// isNCHAR reports whether s is a name of letters, digits, "-", "." and
// "_". Registered grant-type names use this class.
func isNCHAR(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_':
		default:
			return false
		}
	}
	return true
}

// isAbsoluteURI reports whether s parses as an absolute URI. Extension
// grant types and redirect URIs use this check.
func isAbsoluteURI(s string) bool {
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Scheme != ""
}
