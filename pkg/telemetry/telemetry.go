// Package telemetry provides OpenTelemetry integration for the simulator
// and recording services: evacuation pauses become spans, exported over
// OTLP.
//
// Configuration comes from the standard environment variables:
//
//	OTEL_ENABLED                - enable/disable tracing (default: false)
//	OTEL_SERVICE_NAME           - service name (default: card-refine)
//	OTEL_SERVICE_VERSION        - service version (default: unknown)
//	OTEL_EXPORTER_OTLP_ENDPOINT - OTLP collector endpoint
//	OTEL_EXPORTER_OTLP_PROTOCOL - grpc or http/protobuf (default: grpc)
//	OTEL_EXPORTER_OTLP_HEADERS  - headers, "k1=v1,k2=v2"
//	OTEL_EXPORTER_OTLP_INSECURE - use an insecure connection
//	OTEL_TRACES_SAMPLER         - sampler type (default: always_on)
//	OTEL_TRACES_SAMPLER_ARG     - sampler argument (e.g. ratio)
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	apitrace "go.opentelemetry.io/otel/trace"
)

var (
	globalConfig *Config
	configOnce   sync.Once
)

// ShutdownFunc shuts down the TracerProvider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(_ context.Context) error {
	return nil
}

// Init initializes OpenTelemetry and sets the global TracerProvider. With
// OTEL_ENABLED unset it returns a no-op shutdown and leaves the default
// no-op provider in place. The environment is read once, on first use;
// each call with tracing enabled builds and installs a new provider.
func Init(ctx context.Context) (ShutdownFunc, error) {
	cfg := loadConfig()

	if !cfg.Enabled {
		return noopShutdown, nil
	}

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(exporter),
		trace.WithSampler(createSampler(cfg)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return tp.Shutdown(ctx)
	}, nil
}

// Enabled returns whether OpenTelemetry tracing is enabled.
func Enabled() bool {
	return loadConfig().Enabled
}

// GetConfig returns the current telemetry configuration.
func GetConfig() *Config {
	return loadConfig()
}

func loadConfig() *Config {
	configOnce.Do(func() {
		globalConfig = LoadFromEnv()
	})
	return globalConfig
}

// StartPauseSpan opens a span for one evacuation pause, attributed with
// the pause sequence number.
func StartPauseSpan(ctx context.Context, pauseSeq uint64) (context.Context, apitrace.Span) {
	return otel.Tracer("card-refine/pause").Start(ctx, "evacuation-pause",
		apitrace.WithAttributes(attribute.Int64("gc.pause_seq", int64(pauseSeq))))
}
