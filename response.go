package oauthserver

import "net/http"

// Response is the transport-neutral result a handler produces. The
// embedding application copies Status and Headers onto its HTTP response
// and serializes Body as JSON (the token and error bodies are flat
// string/number maps).
type Response struct {
	Status  int
	Headers http.Header
	Body    map[string]any
}

// NewResponse returns an empty 200 response.
func NewResponse() *Response {
	return &Response{
		Status:  http.StatusOK,
		Headers: http.Header{},
	}
}

// Redirect turns the response into a 302 redirect to the given location.
func (r *Response) Redirect(location string) {
	r.Headers.Set("Location", location)
	r.Status = http.StatusFound
}

// IsRedirect reports whether the response carries a Location header.
func (r *Response) IsRedirect() bool {
	return r.Headers.Get("Location") != ""
}
