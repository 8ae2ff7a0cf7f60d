package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
    user_id TEXT PRIMARY KEY,
    access_token TEXT NOT NULL,
    workspace_id TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_credentials_updated_at ON credentials(updated_at)`,
}

const upsertQuery = `INSERT INTO credentials (user_id, access_token, workspace_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    access_token = excluded.access_token,
    workspace_id = excluded.workspace_id,
    updated_at = excluded.updated_at`

// SQLStore persists credentials in SQLite or PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	enc     *Encryptor
	now     func() time.Time
	logger  *slog.Logger
}

// OpenSQLite opens (creating if needed) a SQLite database at path.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Op: "open", Err: fmt.Errorf("failed to create data directory: %w", err)}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	// A single writer connection serializes upserts.
	db.SetMaxOpenConns(1)

	return newSQLStore(ctx, db, dialectSQLite, opts)
}

// OpenPostgres connects to PostgreSQL through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, databaseURL string, opts ...Option) (*SQLStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)

	return newSQLStore(ctx, db, dialectPostgres, opts)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, opts []Option) (*SQLStore, error) {
	o := buildOptions(opts)
	enc, err := NewEncryptor(o.key)
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Err: err}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, &StorageError{Op: "migrate", Err: err}
		}
	}

	o.logger.Debug("credential store ready", "backend", d.String(), "encrypted", enc.Enabled())
	return &SQLStore{db: db, dialect: d, enc: enc, now: o.now, logger: o.logger}, nil
}

// rebind rewrites ? placeholders to $N for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Store(ctx context.Context, userID, accessToken, workspaceID string) error {
	if err := validateStore(userID, accessToken); err != nil {
		return err
	}

	sealed, err := s.enc.Seal(accessToken)
	if err != nil {
		return &StorageError{Op: "store", Err: err}
	}

	now := s.now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, s.rebind(upsertQuery), userID, sealed, workspaceID, now, now); err != nil {
		return &StorageError{Op: "store", Err: err}
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, userID string) (*Credential, error) {
	var (
		c                Credential
		sealed           string
		created, updated int64
	)
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT user_id, access_token, workspace_id, created_at, updated_at FROM credentials WHERE user_id = ?`),
		userID)
	if err := row.Scan(&c.UserID, &sealed, &c.WorkspaceID, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "get", Err: err}
	}

	token, err := s.enc.Open(sealed)
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	c.AccessToken = token
	c.CreatedAt = time.UnixMilli(created)
	c.UpdatedAt = time.UnixMilli(updated)
	return &c, nil
}

func (s *SQLStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM credentials WHERE user_id = ?`), userID); err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, workspace_id, created_at FROM credentials ORDER BY created_at, user_id`)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum     Summary
			created int64
		)
		if err := rows.Scan(&sum.UserID, &sum.WorkspaceID, &created); err != nil {
			return nil, &StorageError{Op: "list", Err: err}
		}
		sum.CreatedAt = time.UnixMilli(created)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return out, nil
}

func (s *SQLStore) Expire(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM credentials WHERE updated_at < ?`), cutoff)
	if err != nil {
		return 0, &StorageError{Op: "expire", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "expire", Err: err}
	}
	if n > 0 {
		s.logger.Info("expired credentials", "count", n, "backend", s.dialect.String())
	}
	return int(n), nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
