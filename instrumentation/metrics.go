package instrumentation

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments the handlers record into.
type Metrics struct {
	// TokensIssued counts successful token responses, by grant_type.
	TokensIssued metric.Int64Counter

	// TokenRequestErrors counts failed token requests, by error code.
	TokenRequestErrors metric.Int64Counter

	// AuthorizationCodesIssued counts successful authorize redirects.
	AuthorizationCodesIssued metric.Int64Counter

	// AuthorizeErrors counts failed authorize requests, by error code.
	AuthorizeErrors metric.Int64Counter

	// BearerAuthentications counts protected-resource checks, by outcome.
	BearerAuthentications metric.Int64Counter

	// RateLimitExceeded counts requests rejected by the rate limiter.
	RateLimitExceeded metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.TokensIssued, err = meter.Int64Counter(
		"oauth.tokens.issued",
		metric.WithDescription("Number of access tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.TokenRequestErrors, err = meter.Int64Counter(
		"oauth.token.errors",
		metric.WithDescription("Number of failed token requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.errors counter: %w", err)
	}

	m.AuthorizationCodesIssued, err = meter.Int64Counter(
		"oauth.authorization_codes.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization_codes.issued counter: %w", err)
	}

	m.AuthorizeErrors, err = meter.Int64Counter(
		"oauth.authorize.errors",
		metric.WithDescription("Number of failed authorize requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorize.errors counter: %w", err)
	}

	m.BearerAuthentications, err = meter.Int64Counter(
		"oauth.bearer.authentications",
		metric.WithDescription("Number of bearer token checks on protected resources"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bearer.authentications counter: %w", err)
	}

	m.RateLimitExceeded, err = meter.Int64Counter(
		"oauth.ratelimit.exceeded",
		metric.WithDescription("Number of requests rejected by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	return m, nil
}
