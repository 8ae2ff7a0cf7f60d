package server

import (
	"context"
	"errors"
	"sync"

	"github.com/teemow/noted/internal/auth"
	"github.com/teemow/noted/internal/credential"
	"github.com/teemow/noted/internal/instrumentation"
	"github.com/teemow/noted/internal/publish"
	"github.com/teemow/noted/internal/summarize"
)

// Publisher saves notes.
type Publisher interface {
	Publish(ctx context.Context, req publish.Request) (*publish.Result, error)
}

// Summarizer condenses article text.
type Summarizer interface {
	Summarize(ctx context.Context, apiKey, content string) (string, error)
	SummarizeAndCategorize(ctx context.Context, apiKey, title, content string) (summarize.Result, error)
}

// Services are the dependencies of a ServerContext. Summarizer, Metrics and
// Audit are optional.
type Services struct {
	Broker      *auth.Broker
	Publisher   Publisher
	Summarizer  Summarizer
	Credentials credential.Store
	Metrics     *instrumentation.Metrics
	Audit       *instrumentation.AuditLogger
}

// ServerContext holds the context for the HTTP and MCP servers
type ServerContext struct {
	ctx         context.Context
	cancel      context.CancelFunc
	broker      *auth.Broker
	publisher   Publisher
	summarizer  Summarizer
	credentials credential.Store
	metrics     *instrumentation.Metrics
	audit       *instrumentation.AuditLogger
	mu          sync.RWMutex
	shutdown    bool
}

// NewServerContext creates a new server context
func NewServerContext(ctx context.Context, svc Services) (*ServerContext, error) {
	switch {
	case svc.Broker == nil:
		return nil, errors.New("server context: broker is required")
	case svc.Publisher == nil:
		return nil, errors.New("server context: publisher is required")
	case svc.Credentials == nil:
		return nil, errors.New("server context: credential store is required")
	}

	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:         shutdownCtx,
		cancel:      cancel,
		broker:      svc.Broker,
		publisher:   svc.Publisher,
		summarizer:  svc.Summarizer,
		credentials: svc.Credentials,
		metrics:     svc.Metrics,
		audit:       svc.Audit,
	}, nil
}

// Context returns the server context. It is cancelled by Shutdown.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

func (sc *ServerContext) Broker() *auth.Broker {
	return sc.broker
}

func (sc *ServerContext) Publisher() Publisher {
	return sc.publisher
}

// Summarizer returns nil when summarization is not configured.
func (sc *ServerContext) Summarizer() Summarizer {
	return sc.summarizer
}

func (sc *ServerContext) Credentials() credential.Store {
	return sc.credentials
}

// Metrics returns the metrics recorder. May be nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the tool audit logger. May be nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.audit
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the server context. It is safe to call more than once.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
