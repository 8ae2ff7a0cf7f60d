package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/noted/internal/auth"
	"github.com/teemow/noted/internal/config"
	"github.com/teemow/noted/internal/credential"
	"github.com/teemow/noted/internal/hierarchy"
	"github.com/teemow/noted/internal/instrumentation"
	"github.com/teemow/noted/internal/notion"
	"github.com/teemow/noted/internal/publish"
	"github.com/teemow/noted/internal/resources"
	"github.com/teemow/noted/internal/server"
	"github.com/teemow/noted/internal/summarize"
	"github.com/teemow/noted/internal/tools/notes_tools"
)

const (
	stateSweepInterval = time.Minute
	expiryInterval     = time.Hour
	redisPingTimeout   = 5 * time.Second
)

// stackOptions carries what buildStack needs besides the config.
type stackOptions struct {
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Logger  *slog.Logger

	// MCP registers the note tools on an MCP server.
	MCP bool
	// MountMCP additionally serves the tools over streamable HTTP at /mcp.
	MountMCP bool
}

// stack is the wired application behind serve.
type stack struct {
	sc     *server.ServerContext
	server *server.Server
	mcp    *mcpserver.MCPServer
	creds  credential.Store

	closers []func() error
}

// buildStack wires storage, the Notion client, the login broker, the
// publisher and the HTTP server from cfg. Close releases everything it
// opened, in reverse order.
func buildStack(ctx context.Context, cfg *config.Config, opts stackOptions) (_ *stack, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st := &stack{}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	key, err := credential.DecodeKey(cfg.Storage.EncryptionKey)
	if err != nil {
		return nil, err
	}
	credOpts := []credential.Option{credential.WithLogger(logger), credential.WithMetrics(opts.Metrics)}
	if key != nil {
		credOpts = append(credOpts, credential.WithEncryptionKey(key))
	} else {
		logger.Warn("TOKEN_ENCRYPTION_KEY is not set; access tokens are stored unencrypted")
	}
	creds, err := credential.Open(ctx, cfg.Storage.DatabaseURL, credOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	st.creds = creds
	st.closers = append(st.closers, creds.Close)
	logger.Info("credential store ready", "backend", credential.BackendFor(cfg.Storage.DatabaseURL), "encrypted", key != nil)

	var (
		states auth.StateStore
		locker hierarchy.Locker
	)
	if cfg.Redis.URL != "" {
		client, err := openRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, client.Close)
		states, locker = redisBackends(client, cfg.Redis.KeyPrefix)
		logger.Info("using redis for login state and hierarchy locks")
	} else {
		mem := auth.NewMemoryStateStore(stateSweepInterval, logger)
		st.closers = append(st.closers, mem.Close)
		states = mem
		locker = hierarchy.NewMemoryLocker()
	}

	client := notion.NewClient(
		notion.WithBaseURL(cfg.Notion.APIBaseURL),
		notion.WithTimeout(cfg.Notion.Timeout),
		notion.WithMetrics(opts.Metrics),
		notion.WithLogger(logger),
	)

	broker := auth.NewBroker(auth.Config{
		ClientID:     cfg.Notion.ClientID,
		ClientSecret: cfg.Notion.ClientSecret,
		RedirectURI:  cfg.Notion.RedirectURI,
		AuthURL:      cfg.Notion.AuthURL,
		TokenURL:     cfg.Notion.TokenURL,
	}, states, creds, client,
		auth.WithMetrics(opts.Metrics),
		auth.WithLogger(logger),
	)

	resolver := hierarchy.NewResolver(client,
		hierarchy.WithLocker(locker),
		hierarchy.WithDashboardTitle(cfg.Notion.DashboardTitle),
		hierarchy.WithMetrics(opts.Metrics),
		hierarchy.WithLogger(logger),
	)

	publisher := publish.NewCoordinator(creds, resolver, client,
		publish.WithMetrics(opts.Metrics),
		publish.WithLogger(logger),
	)

	summarizer := newSummarizer(cfg.Summarizer, opts.Metrics, logger)

	sc, err := server.NewServerContext(ctx, server.Services{
		Broker:      broker,
		Publisher:   publisher,
		Summarizer:  summarizer,
		Credentials: creds,
		Metrics:     opts.Metrics,
		Audit:       opts.Audit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create server context: %w", err)
	}
	st.sc = sc
	st.closers = append(st.closers, sc.Shutdown)

	srvCfg := server.Config{
		BaseURL:        cfg.HTTP.BaseURL,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		TrustProxy:     cfg.HTTP.TrustProxy,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Version:        version,
		Metrics:        opts.Metrics,
		Logger:         logger,
	}

	if opts.MCP || opts.MountMCP {
		st.mcp = mcpserver.NewMCPServer("noted", version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithResourceCapabilities(false, false),
		)
		if err := notes_tools.RegisterNoteTools(st.mcp, sc, cfg.HTTP.MCPReadOnly); err != nil {
			return nil, fmt.Errorf("failed to register note tools: %w", err)
		}
		if err := resources.RegisterResources(st.mcp, sc); err != nil {
			return nil, fmt.Errorf("failed to register resources: %w", err)
		}
		if opts.MountMCP {
			srvCfg.MCPHandler = mcpserver.NewStreamableHTTPServer(st.mcp,
				mcpserver.WithEndpointPath("/mcp"),
			)
		}
	}

	st.server, err = server.New(sc, srvCfg)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func newSummarizer(cfg config.SummarizerConfig, metrics *instrumentation.Metrics, logger *slog.Logger) *summarize.Client {
	return summarize.NewClient(
		summarize.WithBaseURL(cfg.BaseURL),
		summarize.WithModel(cfg.Model),
		summarize.WithHTTPClient(&http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
		summarize.WithMetrics(metrics),
		summarize.WithLogger(logger),
	)
}

// redisBackends shares one client and key prefix between login state
// ("<prefix>login:...") and hierarchy locks ("<prefix>lock:...").
func redisBackends(client redis.UniversalClient, prefix string) (auth.StateStore, hierarchy.Locker) {
	return auth.NewRedisStateStore(client, prefix),
		hierarchy.NewRedisLocker(client, prefix, hierarchy.DefaultLockTTL)
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Close releases resources in reverse order of acquisition.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
