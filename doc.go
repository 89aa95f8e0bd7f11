// Package oauthserver implements the server-side protocol logic of
// OAuth 2.0 (RFC 6749) with bearer tokens (RFC 6750) and PKCE (RFC 7636).
//
// The package is transport-neutral: handlers consume a normalized Request
// and write into a Response, and the embedding application bridges those to
// its HTTP stack (NewRequest adapts a *net/http.Request directly). All
// persistence and identity decisions are delegated to a caller-supplied
// model; see the model package for the capability interfaces each flow
// requires.
//
// Three handlers cover the protocol surface:
//
//   - TokenHandler drives the token endpoint: it authenticates the client,
//     dispatches to the grant type named by the request
//     (authorization_code, client_credentials, password, refresh_token, or
//     a registered extension grant) and shapes the bearer token response.
//   - AuthorizeHandler drives the authorization endpoint for the
//     authorization-code flow, including PKCE parameter capture and error
//     delivery via redirect.
//   - AuthenticateHandler guards protected resources by resolving and
//     validating bearer tokens.
//
// Server bundles the three behind a single Config for the common case.
package oauthserver
