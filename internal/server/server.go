package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/noted/internal/instrumentation"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultWriteTimeout      = 120 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	maxBodyBytes             = 2 << 20
)

// Config configures the HTTP server.
type Config struct {
	// BaseURL is the public URL of the server. It must be HTTPS unless the
	// host is a loopback address. Empty skips the check.
	BaseURL string

	// RateLimitRPS of zero disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
	TrustProxy     bool

	// AllowedOrigins are CORS origins accepted besides browser extensions.
	AllowedOrigins []string

	// MCPHandler, when set, is mounted at /mcp.
	MCPHandler http.Handler

	Version string
	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// Server is the public HTTP API.
type Server struct {
	sc           *ServerContext
	cfg          Config
	health       *HealthChecker
	limiter      *RateLimiter
	validate     *validator.Validate
	metrics      *instrumentation.Metrics
	logger       *slog.Logger
	httpsBaseURL bool
	handler      http.Handler

	mu         sync.Mutex
	httpServer *http.Server
}

// New builds the route table and middleware chain.
func New(sc *ServerContext, cfg Config) (*Server, error) {
	if sc == nil {
		return nil, errors.New("server context is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		sc:       sc,
		cfg:      cfg,
		health:   NewHealthChecker(sc, cfg.Version),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}

	if cfg.BaseURL != "" {
		if err := validateHTTPSRequirement(cfg.BaseURL); err != nil {
			return nil, err
		}
		u, _ := url.Parse(cfg.BaseURL)
		s.httpsBaseURL = u.Scheme == "https"
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.TrustProxy)
	}

	mux := http.NewServeMux()
	s.health.RegisterHealthEndpoints(mux)
	s.routes(mux)

	var h http.Handler = s.withMetrics(mux)
	h = s.withSecurityHeaders(h)
	h = s.withCORS(h)
	h = s.withRequestID(h)
	s.handler = otelhttp.NewHandler(h, "noted",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "HTTP " + r.Method
		}),
	)
	return s, nil
}

// Handler is the complete middleware-wrapped API.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Health exposes the probe state, e.g. to mark the server not ready
// during shutdown.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// Start listens on addr and blocks until Shutdown. certFile and keyFile
// enable TLS when both are set.
func (s *Server) Start(addr, certFile, keyFile string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ln, certFile, keyFile)
}

// Serve blocks serving on ln. It returns nil after a graceful Shutdown.
func (s *Server) Serve(ln net.Listener, certFile, keyFile string) error {
	srv := &http.Server{
		Handler:           http.MaxBytesHandler(s.handler, maxBodyBytes),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.sc.Context() },
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("starting http server", "addr", ln.Addr().String(), "tls", certFile != "")

	var err error
	if certFile != "" && keyFile != "" {
		err = srv.ServeTLS(ln, certFile, keyFile)
	} else {
		err = srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown marks the server not ready, drains connections and stops the
// rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	if s.limiter != nil {
		s.limiter.Stop()
	}

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// validateHTTPSRequirement rejects plain HTTP base URLs unless the host is
// a loopback address.
func validateHTTPSRequirement(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid base URL %q: missing host", baseURL)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host == "localhost" {
			return nil
		}
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			return nil
		}
		return fmt.Errorf("HTTPS is required for public base URLs (got: %s); use HTTPS or localhost for development", baseURL)
	default:
		return fmt.Errorf("invalid URL scheme: %s; must be http (localhost only) or https", u.Scheme)
	}
}
