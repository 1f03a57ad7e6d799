package telemetry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg := loadFrom(envMap(nil))

	assert.False(t, cfg.Enabled)
	assert.Equal(t, DefaultServiceName, cfg.ServiceName)
	assert.Equal(t, "unknown", cfg.ServiceVersion)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Empty(t, cfg.Headers)
}

func TestLoadFrom_CustomValues(t *testing.T) {
	cfg := loadFrom(envMap(map[string]string{
		"OTEL_ENABLED":                "TRUE",
		"OTEL_SERVICE_NAME":           "corr-test",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "http://collector:4318",
		"OTEL_EXPORTER_OTLP_PROTOCOL": "HTTP/PROTOBUF",
		"OTEL_EXPORTER_OTLP_HEADERS":  "Authorization=Bearer a=b, x-tenant = ops",
		"OTEL_TRACES_SAMPLER":         "parentbased_traceidratio",
		"OTEL_TRACES_SAMPLER_ARG":     "0.25",
		"OTEL_RESOURCE_ATTRIBUTES":    "deployment.environment=prod",
	}))

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "corr-test", cfg.ServiceName)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, map[string]string{
		"Authorization": "Bearer a=b",
		"x-tenant":      "ops",
	}, cfg.Headers)
	assert.Equal(t, "parentbased_traceidratio", cfg.Sampler)
	assert.Equal(t, "prod", cfg.ResourceAttrs["deployment.environment"])
}

func TestParseKeyValuePairs(t *testing.T) {
	tests := []struct {
		input    string
		expected map[string]string
	}{
		{"", map[string]string{}},
		{"a=1", map[string]string{"a": "1"}},
		{"a=1,,b=2", map[string]string{"a": "1", "b": "2"}},
		{"=x,novalue,c=", map[string]string{"c": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseKeyValuePairs(tt.input))
		})
	}
}

func TestSplitEndpoint(t *testing.T) {
	host, plain := splitEndpoint("http://otel:4317")
	assert.Equal(t, "otel:4317", host)
	assert.True(t, plain)

	host, plain = splitEndpoint("https://otel:4317")
	assert.Equal(t, "otel:4317", host)
	assert.False(t, plain)

	host, plain = splitEndpoint("otel:4317")
	assert.Equal(t, "otel:4317", host)
	assert.False(t, plain)
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		sampler string
		arg     string
		want    string
	}{
		{"", "", "AlwaysOnSampler"},
		{"always_on", "", "AlwaysOnSampler"},
		{"always_off", "", "AlwaysOffSampler"},
		{"traceidratio", "0.5", "TraceIDRatioBased{0.5}"},
		{"parentbased_always_off", "", "ParentBased{root:AlwaysOffSampler"},
	}

	for _, tt := range tests {
		t.Run(tt.sampler, func(t *testing.T) {
			s := createSampler(&Config{Sampler: tt.sampler, SamplerArg: tt.arg})
			require.NotNil(t, s)
			assert.Contains(t, s.Description(), tt.want)
		})
	}
}

func TestParseRatio(t *testing.T) {
	tests := map[string]float64{
		"":        1.0,
		"0.5":     0.5,
		"0":       0,
		"invalid": 1.0,
		"-0.5":    0,
		"1.5":     1.0,
	}
	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			assert.Equal(t, want, parseRatio(input))
		})
	}
}

func TestBuildResource(t *testing.T) {
	res, err := buildResource(context.Background(), &Config{
		ServiceName:    "dump-correlator",
		ServiceVersion: "1.2.3",
		ResourceAttrs:  map[string]string{"team": "sre"},
	})
	require.NoError(t, err)

	attrs := res.Set()
	v, ok := attrs.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "dump-correlator", v.AsString())
	v, ok = attrs.Value(attribute.Key("team"))
	require.True(t, ok)
	assert.Equal(t, "sre", v.AsString())
}

func TestInit_Disabled(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	resetGlobalConfig()
	defer resetGlobalConfig()

	ctx := context.Background()
	shutdown, err := Init(ctx)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, Enabled())
	assert.NotNil(t, Tracer())
}

func resetGlobalConfig() {
	globalConfig = nil
	configOnce = sync.Once{}
}
