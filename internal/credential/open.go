package credential

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/teemow/noted/internal/instrumentation"
)

// Backend names used in metrics and logs.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// BackendFor reports which backend Open would choose for dsn.
//
//	memory://                         in-process map
//	postgres://..., postgresql://...  PostgreSQL
//	sqlite:///path/to.db, file path   SQLite
func BackendFor(dsn string) string {
	switch {
	case dsn == "memory://" || dsn == "memory":
		return BackendMemory
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return BackendPostgres
	default:
		return BackendSQLite
	}
}

func sqlitePath(dsn string) string {
	return strings.TrimPrefix(dsn, "sqlite://")
}

// Open returns the Store selected by dsn. With WithMetrics, every operation
// is counted and timed.
func Open(ctx context.Context, dsn string, opts ...Option) (Store, error) {
	o := buildOptions(opts)
	backend := BackendFor(dsn)

	var (
		store Store
		err   error
	)
	switch backend {
	case BackendMemory:
		store = NewMemoryStore(opts...)
	case BackendPostgres:
		store, err = OpenPostgres(ctx, dsn, opts...)
	default:
		store, err = OpenSQLite(ctx, sqlitePath(dsn), opts...)
	}
	if err != nil {
		return nil, err
	}

	if o.metrics != nil {
		store = &instrumentedStore{next: store, backend: backend, metrics: o.metrics}
	}
	return store, nil
}

// RunExpiry calls Expire every interval until ctx is done.
func RunExpiry(ctx context.Context, store Store, interval, olderThan time.Duration, logger *slog.Logger) {
	if interval <= 0 || olderThan <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Expire(ctx, olderThan)
			if err != nil {
				logger.Warn("credential expiry failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired stale credentials", "count", n)
			}
		}
	}
}

type instrumentedStore struct {
	next    Store
	backend string
	metrics *instrumentation.Metrics
}

func (s *instrumentedStore) record(ctx context.Context, op string, start time.Time, err error) {
	status := instrumentation.StatusSuccess
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = instrumentation.StatusError
	}
	s.metrics.RecordCredentialOperation(ctx, s.backend, op, status, time.Since(start))
}

func (s *instrumentedStore) Store(ctx context.Context, userID, accessToken, workspaceID string) error {
	start := time.Now()
	err := s.next.Store(ctx, userID, accessToken, workspaceID)
	s.record(ctx, instrumentation.OperationStore, start, err)
	return err
}

func (s *instrumentedStore) Get(ctx context.Context, userID string) (*Credential, error) {
	start := time.Now()
	c, err := s.next.Get(ctx, userID)
	s.record(ctx, instrumentation.OperationGet, start, err)
	return c, err
}

func (s *instrumentedStore) Delete(ctx context.Context, userID string) error {
	start := time.Now()
	err := s.next.Delete(ctx, userID)
	s.record(ctx, instrumentation.OperationDelete, start, err)
	return err
}

func (s *instrumentedStore) List(ctx context.Context) ([]Summary, error) {
	start := time.Now()
	out, err := s.next.List(ctx)
	s.record(ctx, instrumentation.OperationList, start, err)
	return out, err
}

func (s *instrumentedStore) Expire(ctx context.Context, olderThan time.Duration) (int, error) {
	start := time.Now()
	n, err := s.next.Expire(ctx, olderThan)
	s.record(ctx, instrumentation.OperationExpire, start, err)
	return n, err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
