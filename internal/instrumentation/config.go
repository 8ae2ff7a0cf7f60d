package instrumentation

import (
	"errors"
	"fmt"
)

// Config selects exporters and resource attributes for a Provider. It is
// filled from the application config; nothing here reads the environment.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// InstanceID becomes service.instance.id. Empty means the hostname.
	InstanceID string

	// Enabled false yields a Provider with no-op metrics and tracing.
	Enabled bool

	MetricsExporter string // prometheus, otlp or stdout
	TracingExporter string // otlp, stdout or none

	// OTLPEndpoint is host:port. OTLPInsecure switches off TLS.
	OTLPEndpoint string
	OTLPInsecure bool

	TraceSamplingRate float64

	// DetailedLabels adds workspace ids to tool metrics.
	DetailedLabels bool

	Audit AuditLoggingConfig
}

// AuditLoggingConfig controls the audit event stream.
type AuditLoggingConfig struct {
	Enabled bool
	// IncludePII logs raw workspace user ids instead of hashes.
	IncludePII bool
}

// Validate reports every problem at once. Empty exporter names are
// treated as their defaults.
func (c Config) Validate() error {
	var errs []error
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate %v outside [0, 1]", c.TraceSamplingRate))
	}
	switch c.MetricsExporter {
	case "", ExporterPrometheus, ExporterOTLP, ExporterStdout:
	default:
		errs = append(errs, fmt.Errorf("unsupported metrics exporter %q", c.MetricsExporter))
	}
	switch c.TracingExporter {
	case "", ExporterNone, ExporterOTLP, ExporterStdout:
	default:
		errs = append(errs, fmt.Errorf("unsupported tracing exporter %q", c.TracingExporter))
	}
	if c.OTLPEndpoint == "" && (c.MetricsExporter == ExporterOTLP || c.TracingExporter == ExporterOTLP) {
		errs = append(errs, errors.New("otlp exporter needs an endpoint"))
	}
	return errors.Join(errs...)
}
