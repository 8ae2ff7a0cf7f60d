package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/noted/internal/config"
	"github.com/teemow/noted/internal/credential"
	"github.com/teemow/noted/internal/instrumentation"
	"github.com/teemow/noted/internal/logging"
	"github.com/teemow/noted/internal/server"
)

const (
	transportHTTP  = "http"
	transportStdio = "stdio"
)

type serveFlags struct {
	transport   string
	httpAddr    string
	baseURL     string
	databaseURL string
	redisURL    string
	metricsAddr string
	metrics     bool
	metricsExp  string
	tracingExp  string
	enableMCP   bool
	readOnly    bool
	debug       bool
	jsonLogs    bool
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the noted HTTP API",
		Long: `Start the HTTP API used by the browser extension.

Configuration is read from the --config file and the environment; the flags
below override both.

Transports:
  - http: the extension API. With --enable-mcp the note tools are also
    served over streamable HTTP at /mcp.
  - stdio: the note tools only, over MCP stdio, for local AI assistants.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg, f.transport)
		},
	}

	cmd.Flags().StringVar(&f.transport, "transport", transportHTTP, "Transport type: http or stdio")
	cmd.Flags().StringVar(&f.httpAddr, "http-addr", config.DefaultHTTPAddr, "HTTP listen address. Can also use HTTP_ADDR env var.")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "Public base URL. Must be HTTPS unless it is a loopback address. Can also use BASE_URL env var.")
	cmd.Flags().StringVar(&f.databaseURL, "database-url", config.DefaultDatabaseURL, "Credential store: sqlite:///path, postgres://... or memory://. Can also use DATABASE_URL env var.")
	cmd.Flags().StringVar(&f.redisURL, "redis-url", "", "Redis URL for shared login state and hierarchy locks. Can also use REDIS_URL env var.")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", config.DefaultMetricsAddr, "Metrics server listen address. Can also use METRICS_ADDR env var.")
	cmd.Flags().BoolVar(&f.metrics, "metrics", true, "Serve Prometheus metrics on --metrics-addr. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&f.metricsExp, "metrics-exporter", config.Default().Telemetry.MetricsExporter, "Metrics exporter: prometheus, otlp or stdout. Can also use METRICS_EXPORTER env var.")
	cmd.Flags().StringVar(&f.tracingExp, "tracing-exporter", config.Default().Telemetry.TracingExporter, "Tracing exporter: otlp, stdout or none. Can also use TRACING_EXPORTER env var.")
	cmd.Flags().BoolVar(&f.enableMCP, "enable-mcp", false, "Serve MCP tools at /mcp (http transport). Can also use ENABLE_MCP env var.")
	cmd.Flags().BoolVar(&f.readOnly, "read-only", false, "Register only MCP tools that do not write. Can also use MCP_READ_ONLY env var.")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Enable debug logging. Can also use DEBUG env var.")
	cmd.Flags().BoolVar(&f.jsonLogs, "log-json", false, "Log JSON instead of text. Can also use LOG_JSON env var.")

	return cmd
}

// apply copies explicitly set flags over cfg.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("http-addr") {
		cfg.HTTP.Addr = f.httpAddr
	}
	if changed("base-url") {
		cfg.HTTP.BaseURL = f.baseURL
	}
	if changed("database-url") {
		cfg.Storage.DatabaseURL = f.databaseURL
	}
	if changed("redis-url") {
		cfg.Redis.URL = f.redisURL
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if changed("metrics") {
		cfg.Metrics.Enabled = f.metrics
	}
	if changed("metrics-exporter") {
		cfg.Telemetry.MetricsExporter = f.metricsExp
	}
	if changed("tracing-exporter") {
		cfg.Telemetry.TracingExporter = f.tracingExp
	}
	if changed("enable-mcp") {
		cfg.HTTP.EnableMCP = f.enableMCP
	}
	if changed("read-only") {
		cfg.HTTP.MCPReadOnly = f.readOnly
	}
	if changed("debug") {
		cfg.Logging.Debug = f.debug
	}
	if changed("log-json") {
		cfg.Logging.JSON = f.jsonLogs
	}
}

// instrumentationConfig maps the telemetry section onto the provider config.
func instrumentationConfig(t config.TelemetryConfig, version string) instrumentation.Config {
	return instrumentation.Config{
		ServiceName:       t.ServiceName,
		ServiceVersion:    version,
		InstanceID:        t.InstanceID,
		Enabled:           t.Enabled,
		MetricsExporter:   t.MetricsExporter,
		TracingExporter:   t.TracingExporter,
		OTLPEndpoint:      t.OTLPEndpoint,
		OTLPInsecure:      t.OTLPInsecure,
		TraceSamplingRate: t.SamplingRate,
		DetailedLabels:    t.DetailedLabels,
		Audit: instrumentation.AuditLoggingConfig{
			Enabled:    t.Audit,
			IncludePII: t.AuditIncludePII,
		},
	}
}

func runServe(cfg *config.Config, transport string) error {
	if transport != transportHTTP && transport != transportStdio {
		return fmt.Errorf("unsupported transport type: %s (supported: http, stdio)", transport)
	}

	// stdout belongs to the MCP protocol under stdio, so logs always go to stderr.
	logger := logging.NewLogger(os.Stderr, cfg.Logging.JSON, cfg.Logging.Debug)
	slog.SetDefault(logger)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	instrConfig := instrumentationConfig(cfg.Telemetry, version)
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	opts := stackOptions{
		Logger:   logger,
		MCP:      transport == transportStdio,
		MountMCP: transport == transportHTTP && cfg.HTTP.EnableMCP,
	}
	if provider.Enabled() {
		opts.Metrics = provider.Metrics()
		opts.Audit = instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.Audit)
	}

	st, err := buildStack(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to release resources", logging.Err(err))
		}
	}()

	go credential.RunExpiry(ctx, st.creds, expiryInterval, cfg.Storage.ExpireAfter, logger)

	if transport == transportStdio {
		return runStdioServer(st.mcp)
	}

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider.Enabled() && instrConfig.MetricsExporter == instrumentation.ExporterPrometheus {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	return serveHTTP(ctx, st, metricsServer, cfg, logger)
}

// serveHTTP runs the API (and metrics server) until ctx is cancelled or a
// listener fails, then shuts both down.
func serveHTTP(ctx context.Context, st *stack, metricsServer *server.MetricsServer, cfg *config.Config, logger *slog.Logger) error {
	errCh := make(chan error, 2)
	go func() {
		if err := st.server.Start(cfg.HTTP.Addr, cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed", logging.Err(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancel()

	var errs []error
	if err := st.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	return errors.Join(append([]error{runErr}, errs...)...)
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	if err := mcpserver.ServeStdio(mcpSrv); err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}
