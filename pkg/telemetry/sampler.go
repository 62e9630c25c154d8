package telemetry

import (
	"strconv"

	"go.opentelemetry.io/otel/sdk/trace"
)

// createSampler creates a trace sampler based on configuration,
// defaulting to full sampling.
func createSampler(cfg *Config) trace.Sampler {
	switch cfg.Sampler {
	case "always_on":
		return trace.AlwaysSample()
	case "always_off":
		return trace.NeverSample()
	case "traceidratio":
		return trace.TraceIDRatioBased(parseRatio(cfg.SamplerArg))
	case "parentbased_always_on":
		return trace.ParentBased(trace.AlwaysSample())
	case "parentbased_always_off":
		return trace.ParentBased(trace.NeverSample())
	case "parentbased_traceidratio":
		return trace.ParentBased(trace.TraceIDRatioBased(parseRatio(cfg.SamplerArg)))
	default:
		return trace.AlwaysSample()
	}
}

// parseRatio parses a sampling ratio, clamping to [0, 1] and defaulting to
// full sampling.
func parseRatio(s string) float64 {
	if s == "" {
		return 1.0
	}
	ratio, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 1.0
	}
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1.0
	}
	return ratio
}
