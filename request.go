package oauthserver

import (
	"encoding/base64"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/oauthkit/oauthserver/oautherrors"
)

// Request is the transport-neutral request the handlers operate on. An
// empty parameter value is treated the same as an absent one throughout.
type Request struct {
	// Method is the HTTP method, e.g. "POST".
	Method string

	// Headers holds the request headers with case-insensitive access.
	Headers http.Header

	// Query holds the URL query parameters.
	Query url.Values

	// Body holds the parsed form body.
	Body url.Values
}

// NewRequest normalizes a *net/http.Request, parsing a form-encoded body
// when present. The original request body is consumed.
func NewRequest(r *http.Request) (*Request, error) {
	if r == nil {
		return nil, oautherrors.InvalidArgument("Missing parameter: `request`")
	}

	query := r.URL.Query()

	body := url.Values{}
	if r.Body != nil && hasFormContentType(r.Header.Get("Content-Type")) {
		if err := r.ParseForm(); err != nil {
			return nil, oautherrors.InvalidRequest("Invalid request: malformed request body")
		}
		body = r.PostForm
	}

	return &Request{
		Method:  r.Method,
		Headers: r.Header.Clone(),
		Query:   query,
		Body:    body,
	}, nil
}

// Header returns the first value of the named header.
func (r *Request) Header(name string) string {
	return r.Headers.Get(name)
}

// IsForm reports whether the request declares a form-encoded body.
func (r *Request) IsForm() bool {
	return hasFormContentType(r.Headers.Get("Content-Type"))
}

// BasicAuth decodes Basic client credentials from the Authorization
// header, mirroring net/http.Request.BasicAuth.
func (r *Request) BasicAuth() (username, password string, ok bool) {
	auth := r.Headers.Get("Authorization")
	const prefix = "Basic "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", false
	}
	return username, password, true
}

// param returns the named parameter from the body, falling back to the
// query string, matching how token and authorize requests may carry
// parameters in either location.
func (r *Request) param(name string) string {
	if v := r.Body.Get(name); v != "" {
		return v
	}
	return r.Query.Get(name)
}

func hasFormContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/x-www-form-urlencoded"
}
