// Package instrumentation provides the OpenTelemetry wiring for the
// OAuth handlers. When disabled (the default zero Config) it hands out
// no-op providers, so the handlers can record telemetry unconditionally.
package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName identifies this library in telemetry resources.
	DefaultServiceName = "oauthserver"

	// DefaultServiceVersion is used when the caller provides none.
	DefaultServiceVersion = "unknown"

	scopeName = "github.com/oauthkit/oauthserver"
)

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName names the service in the telemetry resource.
	ServiceName string

	// ServiceVersion is the version reported alongside the service name.
	ServiceVersion string

	// Enabled activates telemetry. When false, no-op providers are used
	// and every instrument call has zero overhead.
	Enabled bool

	// MeterProvider and TracerProvider override the globals registered
	// with the otel package. Only consulted when Enabled.
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider

	// Resource allows custom resource attributes. When nil a default
	// resource with service name and version is built.
	Resource *resource.Resource
}

// Instrumentation provides the meters and tracers the handlers use.
type Instrumentation struct {
	config Config

	resource       *resource.Resource
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	tracer  trace.Tracer
	metrics *Metrics
}

// New creates an instrumentation instance.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		inst.meterProvider = config.MeterProvider
		if inst.meterProvider == nil {
			inst.meterProvider = otel.GetMeterProvider()
		}
		inst.tracerProvider = config.TracerProvider
		if inst.tracerProvider == nil {
			inst.tracerProvider = otel.GetTracerProvider()
		}
	} else {
		inst.meterProvider = metricnoop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	inst.tracer = inst.tracerProvider.Tracer(scopeName)

	metrics, err := newMetrics(inst.meterProvider.Meter(scopeName))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	inst.metrics = metrics

	return inst, nil
}

// Tracer returns the tracer for the handler spans.
func (i *Instrumentation) Tracer() trace.Tracer {
	return i.tracer
}

// Metrics returns the pre-built metric instruments.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// Resource returns the telemetry resource describing this instance.
func (i *Instrumentation) Resource() *resource.Resource {
	return i.resource
}

// Enabled reports whether real providers are in use.
func (i *Instrumentation) Enabled() bool {
	return i.config.Enabled
}
