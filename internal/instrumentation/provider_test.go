package instrumentation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider
}

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{ServiceName: "test-service", Enabled: false})
	require.NoError(t, err)

	assert.False(t, provider.Enabled())
	assert.NotNil(t, provider.Metrics(), "metrics must be usable even when disabled")
	assert.NotNil(t, provider.Tracer("test"))
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProvider_Exporters(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "prometheus metrics without tracing",
			config: Config{MetricsExporter: ExporterPrometheus, TracingExporter: ExporterNone},
		},
		{
			name:   "empty exporters fall back to prometheus without tracing",
			config: Config{},
		},
		{
			name:    "otlp metrics without endpoint",
			config:  Config{MetricsExporter: ExporterOTLP, TracingExporter: ExporterNone},
			wantErr: true,
		},
		{
			name:   "stdout metrics and traces",
			config: Config{MetricsExporter: ExporterStdout, TracingExporter: ExporterStdout, TraceSamplingRate: 1},
		},
		{
			name:    "invalid metrics exporter",
			config:  Config{MetricsExporter: "invalid", TracingExporter: ExporterNone},
			wantErr: true,
		},
		{
			name:    "invalid tracing exporter",
			config:  Config{MetricsExporter: ExporterPrometheus, TracingExporter: "invalid"},
			wantErr: true,
		},
		{
			name:    "otlp tracing without endpoint",
			config:  Config{MetricsExporter: ExporterPrometheus, TracingExporter: ExporterOTLP},
			wantErr: true,
		},
		{
			name:    "sampling rate out of range",
			config:  Config{MetricsExporter: ExporterPrometheus, TracingExporter: ExporterNone, TraceSamplingRate: 2},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			tt.config.ServiceName = "test-service"
			tt.config.ServiceVersion = "1.0.0"
			tt.config.Enabled = true

			provider, err := NewProvider(ctx, tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer func() { _ = provider.Shutdown(ctx) }()

			assert.True(t, provider.Enabled())
			assert.NotNil(t, provider.Metrics())
		})
	}
}

func TestNewProvider_SamplesOnlyWithExporter(t *testing.T) {
	ctx := context.Background()

	off, err := NewProvider(ctx, Config{ServiceName: "test-service", Enabled: true, TracingExporter: ExporterNone, TraceSamplingRate: 1})
	require.NoError(t, err)
	defer func() { _ = off.Shutdown(ctx) }()
	_, span := off.Tracer("test").Start(ctx, "op")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()

	on, err := NewProvider(ctx, Config{ServiceName: "test-service", Enabled: true, TracingExporter: ExporterStdout, TraceSamplingRate: 1})
	require.NoError(t, err)
	defer func() { _ = on.Shutdown(ctx) }()
	_, span = on.Tracer("test").Start(ctx, "op")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()
}
