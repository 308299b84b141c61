package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore implements the job, article, entitlement, subscription, task queue
// and billing event stores on top of database/sql
type SQLStore struct {
	db     *sql.DB
	driver string
	sb     sq.StatementBuilderType
}

var (
	_ JobRepository          = (*SQLStore)(nil)
	_ ArticleRepository      = (*SQLStore)(nil)
	_ EntitlementRepository  = (*SQLStore)(nil)
	_ SubscriptionRepository = (*SQLStore)(nil)
	_ TaskQueue              = (*SQLStore)(nil)
	_ BillingEventLog        = (*SQLStore)(nil)
)

// NewSQLStore opens the database and creates the schema
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	var placeholder sq.PlaceholderFormat
	switch driver {
	case DriverSQLite:
		placeholder = sq.Question
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_timeout=5000&_txlock=immediate"
		}
	case DriverPostgres:
		placeholder = sq.Dollar
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLStore{
		db:     db,
		driver: driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		source_path TEXT NOT NULL UNIQUE,
		file_name TEXT NOT NULL,
		size BIGINT NOT NULL DEFAULT 0,
		content_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		result_id TEXT,
		error_message TEXT,
		error_detail TEXT,
		queued_at BIGINT,
		processing_started_at BIGINT,
		processing_completed_at BIGINT,
		error_at BIGINT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_owner_id ON jobs(owner_id);

	CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL UNIQUE,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		slug TEXT NOT NULL,
		meta_description TEXT NOT NULL DEFAULT '',
		keywords TEXT NOT NULL DEFAULT '[]',
		markdown TEXT NOT NULL,
		html TEXT NOT NULL,
		schema_org TEXT,
		open_graph TEXT,
		metadata TEXT,
		created_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_articles_owner_id ON articles(owner_id);

	CREATE TABLE IF NOT EXISTS entitlements (
		owner_id TEXT PRIMARY KEY,
		tier TEXT NOT NULL,
		monthly INTEGER NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		lifetime_used INTEGER NOT NULL DEFAULT 0,
		reset_at BIGINT,
		subscription_status TEXT NOT NULL DEFAULT 'free',
		subscription_id TEXT,
		customer_id TEXT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		customer_id TEXT,
		status TEXT NOT NULL,
		tier TEXT NOT NULL,
		current_period_start BIGINT NOT NULL,
		current_period_end BIGINT NOT NULL,
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subscriptions_owner_id ON subscriptions(owner_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		source_path TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		available_at BIGINT NOT NULL,
		leased_until BIGINT,
		last_error TEXT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status_available ON tasks(status, available_at);

	CREATE TABLE IF NOT EXISTS dead_letter_tasks (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		source_path TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		failure_reason TEXT NOT NULL,
		failed_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS billing_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		deliveries INTEGER NOT NULL DEFAULT 1,
		received_at BIGINT NOT NULL,
		processed_at BIGINT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// exec runs a built statement on the database or an open transaction
func (s *SQLStore) exec(ctx context.Context, runner execer, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return runner.ExecContext(ctx, query, args...)
}

// queryRow runs a built single-row select
func (s *SQLStore) queryRow(ctx context.Context, runner querier, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return runner.QueryRowContext(ctx, query, args...), nil
}

// query runs a built multi-row select
func (s *SQLStore) query(ctx context.Context, runner querier, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return runner.QueryContext(ctx, query, args...)
}

// execAffecting runs a statement and maps zero affected rows to ErrNotFound
func (s *SQLStore) execAffecting(ctx context.Context, b sq.Sqlizer) error {
	res, err := s.exec(ctx, s.db, b)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func unixOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func stringOrNull(v string) any {
	if v == "" {
		return nil
	}
	return v
}
