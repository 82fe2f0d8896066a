package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures [InitProvider].
type ProviderConfig struct {
	// ServiceName defaults to "domainscribe".
	ServiceName    string
	ServiceVersion string

	// Registerer receives the Prometheus collector. Nil means
	// [prometheus.DefaultRegisterer], which is what the control server's
	// /metrics endpoint serves.
	Registerer prometheus.Registerer

	// TraceExporter receives finished spans. Nil records spans without
	// exporting them; trace and span ids still reach the logs.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs global meter and tracer providers. Metrics are
// bridged to Prometheus. The returned function flushes and stops both
// providers; call it once on shutdown.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "domainscribe"
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	exp, err := promexporter.New(promexporter.WithRegisterer(cfg.Registerer))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		// Spans first so a final batch still has a live meter behind it.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
