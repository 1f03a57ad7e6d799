package telemetry

import (
	"strconv"
	"strings"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// createSampler maps OTEL_TRACES_SAMPLER names onto SDK samplers.
// Unknown or empty names sample everything.
func createSampler(cfg *Config) sdktrace.Sampler {
	name, parentBased := strings.CutPrefix(cfg.Sampler, "parentbased_")

	var s sdktrace.Sampler
	switch name {
	case "always_off":
		s = sdktrace.NeverSample()
	case "traceidratio":
		s = sdktrace.TraceIDRatioBased(parseRatio(cfg.SamplerArg))
	default:
		s = sdktrace.AlwaysSample()
	}

	if parentBased {
		return sdktrace.ParentBased(s)
	}
	return s
}

// parseRatio parses a ratio clamped to [0, 1]; bad input means 1.
func parseRatio(s string) float64 {
	ratio, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 1.0
	}
	return min(max(ratio, 0), 1)
}
