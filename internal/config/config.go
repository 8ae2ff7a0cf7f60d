// Package config loads noted's runtime configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables. Command-line flags are applied on top by cmd.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultNotionAPIBaseURL = "https://api.notion.com/v1"
	DefaultNotionAuthURL    = "https://api.notion.com/v1/oauth/authorize"
	DefaultNotionTokenURL   = "https://api.notion.com/v1/oauth/token"
	DefaultDashboardTitle   = "Noted Dashboard"
	DefaultDatabaseURL      = "sqlite:///tmp/noted-tokens.db"
	DefaultHTTPAddr         = ":8000"
	DefaultMetricsAddr      = ":9090"
	DefaultOpenAIBaseURL    = "https://api.openai.com/v1"
	DefaultOpenAIModel      = "gpt-3.5-turbo"
	DefaultServiceName      = "noted"
	DefaultSamplingRate     = 0.1
)

// Config is the complete runtime configuration.
type Config struct {
	Notion     NotionConfig     `yaml:"notion"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	HTTP       HTTPConfig       `yaml:"http"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// NotionConfig configures the OAuth integration and the workspace API client.
type NotionConfig struct {
	ClientID       string        `yaml:"client_id" validate:"required"`
	ClientSecret   string        `yaml:"client_secret" validate:"required"`
	RedirectURI    string        `yaml:"redirect_uri" validate:"required,url"`
	AuthURL        string        `yaml:"auth_url" validate:"required,url"`
	TokenURL       string        `yaml:"token_url" validate:"required,url"`
	APIBaseURL     string        `yaml:"api_base_url" validate:"required,url"`
	DashboardTitle string        `yaml:"dashboard_title" validate:"required"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
}

// StorageConfig configures the credential store.
type StorageConfig struct {
	// DatabaseURL selects the backend: memory://, sqlite://path or postgres://...
	DatabaseURL string `yaml:"database_url" validate:"required"`

	// EncryptionKey is a base64 encoded 32 byte AES key. Empty disables
	// encryption at rest.
	EncryptionKey string `yaml:"encryption_key" validate:"omitempty,base64"`

	// ExpireAfter is used by the background expiry loop; zero disables it.
	ExpireAfter time.Duration `yaml:"expire_after" validate:"gte=0"`
}

// RedisConfig configures the optional shared state backend for pending
// logins and hierarchy locks. An empty URL keeps both in process.
type RedisConfig struct {
	URL       string `yaml:"url" validate:"omitempty,url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr           string  `yaml:"addr" validate:"required"`
	BaseURL        string  `yaml:"base_url" validate:"omitempty,url"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int     `yaml:"rate_limit_burst" validate:"gte=0"`
	TrustProxy     bool    `yaml:"trust_proxy"`
	EnableMCP      bool    `yaml:"enable_mcp"`
	TLSCertFile    string  `yaml:"tls_cert_file"`
	TLSKeyFile     string  `yaml:"tls_key_file"`

	// AllowedOrigins are CORS origins accepted besides browser extensions.
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,url"`

	// MCPReadOnly registers only the MCP tools that do not write.
	MCPReadOnly bool `yaml:"mcp_read_only"`
}

// MetricsConfig configures the dedicated metrics server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// SummarizerConfig configures the text-generation API.
type SummarizerConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Model   string        `yaml:"model" validate:"required"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	JSON  bool `yaml:"json"`
	Debug bool `yaml:"debug"`
}

// TelemetryConfig drives the OpenTelemetry provider and the audit log.
// Metrics.Enabled only controls the Prometheus scrape server.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name" validate:"required"`
	// InstanceID defaults to the hostname when empty.
	InstanceID string `yaml:"instance_id"`

	MetricsExporter string `yaml:"metrics_exporter" validate:"oneof=prometheus otlp stdout"`
	TracingExporter string `yaml:"tracing_exporter" validate:"oneof=otlp stdout none"`
	// OTLPEndpoint is host:port without a scheme.
	OTLPEndpoint string  `yaml:"otlp_endpoint" validate:"required_if=MetricsExporter otlp,required_if=TracingExporter otlp"`
	OTLPInsecure bool    `yaml:"otlp_insecure"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`

	// DetailedLabels adds workspace ids to tool metrics.
	DetailedLabels bool `yaml:"detailed_labels"`

	Audit           bool `yaml:"audit"`
	AuditIncludePII bool `yaml:"audit_include_pii"`
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Notion: NotionConfig{
			AuthURL:        DefaultNotionAuthURL,
			TokenURL:       DefaultNotionTokenURL,
			APIBaseURL:     DefaultNotionAPIBaseURL,
			DashboardTitle: DefaultDashboardTitle,
			Timeout:        30 * time.Second,
		},
		Storage: StorageConfig{
			DatabaseURL: DefaultDatabaseURL,
		},
		Redis: RedisConfig{
			KeyPrefix: "noted:",
		},
		HTTP: HTTPConfig{
			Addr:           DefaultHTTPAddr,
			RateLimitRPS:   5,
			RateLimitBurst: 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    DefaultMetricsAddr,
		},
		Summarizer: SummarizerConfig{
			BaseURL: DefaultOpenAIBaseURL,
			Model:   DefaultOpenAIModel,
			Timeout: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:         true,
			ServiceName:     DefaultServiceName,
			MetricsExporter: "prometheus",
			TracingExporter: "none",
			SamplingRate:    DefaultSamplingRate,
			Audit:           true,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (if non-empty)
// and the environment. It does not validate; call Validate once flags have
// been applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Notion.ClientID = getenv("NOTION_CLIENT_ID", c.Notion.ClientID)
	c.Notion.ClientSecret = getenv("NOTION_CLIENT_SECRET", c.Notion.ClientSecret)
	c.Notion.RedirectURI = getenv("NOTION_REDIRECT_URI", c.Notion.RedirectURI)
	c.Notion.APIBaseURL = getenv("NOTION_API_BASE_URL", c.Notion.APIBaseURL)
	c.Notion.DashboardTitle = getenv("NOTED_DASHBOARD_TITLE", c.Notion.DashboardTitle)
	c.Notion.Timeout = getenvDuration("NOTION_TIMEOUT", c.Notion.Timeout)

	c.Storage.DatabaseURL = getenv("DATABASE_URL", c.Storage.DatabaseURL)
	c.Storage.EncryptionKey = getenv("TOKEN_ENCRYPTION_KEY", c.Storage.EncryptionKey)
	c.Storage.ExpireAfter = getenvDuration("TOKEN_EXPIRE_AFTER", c.Storage.ExpireAfter)

	c.Redis.URL = getenv("REDIS_URL", c.Redis.URL)
	c.Redis.KeyPrefix = getenv("REDIS_KEY_PREFIX", c.Redis.KeyPrefix)

	c.HTTP.Addr = getenv("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.BaseURL = getenv("BASE_URL", c.HTTP.BaseURL)
	c.HTTP.RateLimitRPS = getenvFloat("RATE_LIMIT_RPS", c.HTTP.RateLimitRPS)
	c.HTTP.RateLimitBurst = getenvInt("RATE_LIMIT_BURST", c.HTTP.RateLimitBurst)
	c.HTTP.TrustProxy = getenvBool("TRUST_PROXY", c.HTTP.TrustProxy)
	c.HTTP.EnableMCP = getenvBool("ENABLE_MCP", c.HTTP.EnableMCP)
	c.HTTP.TLSCertFile = getenv("TLS_CERT_FILE", c.HTTP.TLSCertFile)
	c.HTTP.TLSKeyFile = getenv("TLS_KEY_FILE", c.HTTP.TLSKeyFile)
	c.HTTP.MCPReadOnly = getenvBool("MCP_READ_ONLY", c.HTTP.MCPReadOnly)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.HTTP.AllowedOrigins = splitList(origins)
	}

	c.Metrics.Enabled = getenvBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Addr = getenv("METRICS_ADDR", c.Metrics.Addr)

	c.Summarizer.BaseURL = getenv("OPENAI_BASE_URL", c.Summarizer.BaseURL)
	c.Summarizer.Model = getenv("OPENAI_MODEL", c.Summarizer.Model)

	c.Logging.JSON = getenvBool("LOG_JSON", c.Logging.JSON)
	c.Logging.Debug = getenvBool("DEBUG", c.Logging.Debug)

	c.Telemetry.Enabled = getenvBool("INSTRUMENTATION_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.ServiceName = getenv("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Telemetry.InstanceID = getenv("OTEL_SERVICE_INSTANCE_ID", c.Telemetry.InstanceID)
	c.Telemetry.MetricsExporter = getenv("METRICS_EXPORTER", c.Telemetry.MetricsExporter)
	c.Telemetry.TracingExporter = getenv("TRACING_EXPORTER", c.Telemetry.TracingExporter)
	c.Telemetry.OTLPEndpoint = getenv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.OTLPInsecure = getenvBool("OTEL_EXPORTER_OTLP_INSECURE", c.Telemetry.OTLPInsecure)
	c.Telemetry.SamplingRate = getenvFloat("OTEL_TRACES_SAMPLER_ARG", c.Telemetry.SamplingRate)
	c.Telemetry.DetailedLabels = getenvBool("METRICS_DETAILED_LABELS", c.Telemetry.DetailedLabels)
	c.Telemetry.Audit = getenvBool("AUDIT_LOGGING_ENABLED", c.Telemetry.Audit)
	c.Telemetry.AuditIncludePII = getenvBool("AUDIT_LOGGING_INCLUDE_PII", c.Telemetry.AuditIncludePII)
}

// splitList parses a comma separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration required to serve traffic.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid configuration: %s failed %q", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if (c.HTTP.TLSCertFile == "") != (c.HTTP.TLSKeyFile == "") {
		return fmt.Errorf("invalid configuration: tls_cert_file and tls_key_file must be set together")
	}
	return nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
